// Package layout turns raw annotated model output into structured pages and
// reconstructs inspectable regions from them.
package layout

// Box is one detected rectangle, in both normalized and pixel coordinates.
type Box struct {
	Index      int        `json:"index"`
	Normalized [4]float64 `json:"normalized"`
	Absolute   [4]int     `json:"absolute"`
}

// Item groups the boxes of one region occurrence under its semantic label.
// Repeated labels produce repeated items, in the order they appear in the raw
// model output.
type Item struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Boxes []Box  `json:"boxes"`
}

// Layout holds the detected regions of a rendered page.
type Layout struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Items  []Item `json:"items"`
}

// Page is the normalized result of running the model on one page image.
type Page struct {
	PageIndex  int     `json:"pageIndex"`
	Text       string  `json:"text"`
	RawText    string  `json:"rawText"`
	Layout     *Layout `json:"layout,omitempty"`
	ImageData  string  `json:"imageData,omitempty"`
	DurationMs float64 `json:"durationMs,omitempty"`
}

// HasLayout reports whether the page carries any detected regions.
func (p *Page) HasLayout() bool {
	return p.Layout != nil && len(p.Layout.Items) > 0
}
