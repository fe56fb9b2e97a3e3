package layout

import (
	"fmt"
	"regexp"
	"strings"
)

// ImageLabel marks regions that carry picture content instead of text.
const ImageLabel = "image"

// Degenerate boxes are widened to this fraction of the page so they remain
// clickable in the overlay.
const minVisibleSize = 0.005

// Region pairs one layout box with the text snippet believed to belong to it.
type Region struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Snippet string `json:"snippet"`
	Box     Box    `json:"box"`
}

// Style holds CSS percentage offsets for positioning a region over the page
// image.
type Style struct {
	Left   string `json:"left"`
	Top    string `json:"top"`
	Width  string `json:"width"`
	Height string `json:"height"`
}

var blockSplit = regexp.MustCompile(`\n{2,}`)

// Reconstruct derives the inspectable regions of a page by zipping its cleaned
// text blocks against the layout items in encounter order. Items labeled
// "image" never consume a text block. The mapping is positional, assuming the
// model emits text in the same order as its markers; when that assumption
// fails the snippets are wrong but the result is still well-formed. Pure
// function of its input.
func Reconstruct(page Page) []Region {
	if !page.HasLayout() {
		return nil
	}

	blocks := SplitBlocks(page.Text)

	var regions []Region
	cursor := 0
	for _, item := range page.Layout.Items {
		snippet := ""
		if !strings.EqualFold(item.Label, ImageLabel) && cursor < len(blocks) {
			snippet = blocks[cursor]
			cursor++
		}
		for _, box := range item.Boxes {
			regions = append(regions, Region{
				Key:     fmt.Sprintf("%s-%d", item.ID, box.Index),
				Label:   item.Label,
				Snippet: snippet,
				Box:     box,
			})
		}
	}
	return regions
}

// SplitBlocks partitions cleaned text into blocks on blank-line boundaries,
// discarding empty blocks.
func SplitBlocks(text string) []string {
	var blocks []string
	for _, block := range blockSplit.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// Style projects the box's normalized coordinates to CSS percentage offsets,
// enforcing a minimum visible size for degenerate boxes.
func (r Region) Style() Style {
	x1 := r.Box.Normalized[0]
	y1 := r.Box.Normalized[1]
	w := r.Box.Normalized[2] - x1
	h := r.Box.Normalized[3] - y1
	if w < minVisibleSize {
		w = minVisibleSize
	}
	if h < minVisibleSize {
		h = minVisibleSize
	}
	return Style{
		Left:   pct(x1),
		Top:    pct(y1),
		Width:  pct(w),
		Height: pct(h),
	}
}

func pct(v float64) string {
	return fmt.Sprintf("%.4f%%", v*100)
}
