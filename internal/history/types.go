// Package history persists completed OCR runs on disk and serves the
// "load previous result" flows.
package history

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/layout"
)

// Result is the full outcome of one inference run.
type Result struct {
	Mode       string        `json:"mode"`
	Prompt     string        `json:"prompt"`
	Text       string        `json:"text"`
	RawText    string        `json:"rawText"`
	DurationMs float64       `json:"durationMs"`
	FileName   string        `json:"fileName"`
	FileSize   int64         `json:"fileSize"`
	Pages      []layout.Page `json:"pages"`
	HistoryID  string        `json:"historyId,omitempty"`
	IsPDF      bool          `json:"isPdf"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Entry is the summary record shown in history listings.
type Entry struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	CreatedAt time.Time `json:"createdAt"`
	Mode      string    `json:"mode"`
	Pages     int       `json:"pages"`
	IsPDF     bool      `json:"isPdf"`
}

// NotFoundError reports an unknown history id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("history entry not found: %s", e.ID)
}
