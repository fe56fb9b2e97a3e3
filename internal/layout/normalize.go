package layout

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// The model emits grounding markers inline with the text: a reference pair
// carrying the region label followed by a detection pair carrying one or more
// coordinate quadruples.
var (
	markerPair   = regexp.MustCompile(`(?s)<\|ref\|>(.*?)<\|/ref\|>\s*<\|det\|>(.*?)<\|/det\|>`)
	strayMarker  = regexp.MustCompile(`<\|.*?\|>`)
	excessBlanks = regexp.MustCompile(`\n{3,}`)
)

// Sentinels the model appends that never belong in user-visible text.
var sentinelReplacer = strings.NewReplacer(
	"<｜end▁of▁sentence｜>", "",
	"<|end_of_text|>", "",
)

// Coordinates arrive either as fractions in [0,1] or on the model's 0..999
// integer grid.
const coordGrid = 999.0

var fullWidthReplacer = strings.NewReplacer(
	"，", ",",
	"。", ".",
	"；", ",",
	"：", ":",
	"【", "[",
	"】", "]",
	"（", "(",
	"）", ")",
	"、", ",",
	"％", "%",
	"－", "-",
)

// Normalize parses the raw model output for one page into a Page with cleaned
// text and a layout of labeled boxes. Output without markers yields an empty
// layout, which is a valid result rather than an error.
func Normalize(raw string, width, height, pageIndex int) Page {
	page := Page{
		PageIndex: pageIndex,
		RawText:   raw,
		Text:      CleanText(raw),
		Layout: &Layout{
			Width:  width,
			Height: height,
		},
	}

	matches := markerPair.FindAllStringSubmatch(raw, -1)
	for idx, match := range matches {
		label := strings.TrimSpace(match[1])
		coords := parseCoords(match[2])

		var boxes []Box
		for boxIdx, quad := range coords {
			box, ok := buildBox(quad, boxIdx, width, height)
			if !ok {
				continue
			}
			boxes = append(boxes, box)
		}
		if len(boxes) == 0 {
			continue
		}

		page.Layout.Items = append(page.Layout.Items, Item{
			ID:    fmt.Sprintf("%s-%d", label, idx),
			Label: label,
			Boxes: boxes,
		})
	}

	return page
}

// CleanText strips all marker pairs and stray singleton tags from the raw
// output, leaving only the document text.
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := markerPair.ReplaceAllString(raw, "")
	cleaned = sentinelReplacer.Replace(cleaned)
	cleaned = strayMarker.ReplaceAllString(cleaned, "")
	cleaned = excessBlanks.ReplaceAllString(cleaned, "\n\n")
	cleaned = norm.NFC.String(cleaned)
	return strings.TrimSpace(cleaned)
}

// buildBox converts one coordinate quadruple into a Box. Fractional inputs are
// taken as already normalized, larger values as 0..999 grid positions.
func buildBox(quad [4]float64, index, width, height int) (Box, bool) {
	fractions := quad
	if quad[0] > 1 || quad[1] > 1 || quad[2] > 1 || quad[3] > 1 {
		for i := range fractions {
			fractions[i] = clamp(quad[i], 0, coordGrid) / coordGrid
		}
	}
	for i := range fractions {
		fractions[i] = clamp(fractions[i], 0, 1)
	}
	if fractions[2] < fractions[0] || fractions[3] < fractions[1] {
		return Box{}, false
	}

	box := Box{Index: index}
	for i, f := range fractions {
		box.Normalized[i] = round6(f)
	}

	if width > 0 && height > 0 {
		x1 := int(fractions[0] * float64(width))
		y1 := int(fractions[1] * float64(height))
		x2 := int(fractions[2] * float64(width))
		y2 := int(fractions[3] * float64(height))
		// Keep degenerate boxes at least one pixel wide so they stay visible.
		if x2 <= x1 {
			x2 = x1 + 1
		}
		if y2 <= y1 {
			y2 = y1 + 1
		}
		box.Absolute = [4]int{x1, y1, x2, y2}
	}
	return box, true
}

// parseCoords extracts coordinate quadruples from the detection payload. The
// payload is JSON-ish: a single quadruple, a list of quadruples, or a list of
// corner pairs, possibly with full-width punctuation. Malformed payloads yield
// no boxes.
func parseCoords(raw string) [][4]float64 {
	cleaned := fullWidthReplacer.Replace(raw)
	cleaned = strayMarker.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end < start {
		return nil
	}
	cleaned = cleaned[start : end+1]

	var data any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil
	}
	items, ok := data.([]any)
	if !ok {
		return nil
	}
	return coerceQuads(items)
}

func coerceQuads(items []any) [][4]float64 {
	if quad, ok := asQuad(items); ok {
		return [][4]float64{quad}
	}

	var quads [][4]float64
	for _, item := range items {
		inner, ok := item.([]any)
		if !ok {
			continue
		}
		if quad, ok := asQuad(inner); ok {
			quads = append(quads, quad)
			continue
		}
		// Corner-pair form: [[x1,y1],[x2,y2]]
		if len(inner) >= 2 {
			first, ok1 := inner[0].([]any)
			second, ok2 := inner[1].([]any)
			if ok1 && ok2 && len(first) >= 2 && len(second) >= 2 {
				x1, okA := asFloat(first[0])
				y1, okB := asFloat(first[1])
				x2, okC := asFloat(second[0])
				y2, okD := asFloat(second[1])
				if okA && okB && okC && okD {
					quads = append(quads, [4]float64{x1, y1, x2, y2})
				}
			}
		}
	}
	return quads
}

func asQuad(items []any) ([4]float64, bool) {
	if len(items) != 4 {
		return [4]float64{}, false
	}
	var quad [4]float64
	for i := range quad {
		v, ok := asFloat(items[i])
		if !ok {
			return [4]float64{}, false
		}
		quad[i] = v
	}
	return quad, true
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
