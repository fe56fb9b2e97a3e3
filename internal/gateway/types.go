// Package gateway serializes OCR requests against the shared model and turns
// uploads into normalized inference results.
package gateway

import (
	"github.com/MeKo-Tech/ocrstudio/internal/history"
)

// Request is one OCR invocation as received from a client.
type Request struct {
	Data        []byte
	FileName    string
	ContentType string
	Mode        string
	Prompt      string
	TaskID      string

	// SkipHistory suppresses persistence, used when replaying a stored run.
	SkipHistory bool
}

// ValidationError reports an upload rejected before any work is scheduled. No
// GPU lock is taken and no progress task is touched for these.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// HistoryStore is the slice of the history store the gateway writes to.
type HistoryStore interface {
	Save(result *history.Result) (string, error)
}
