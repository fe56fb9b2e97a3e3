// Package task tracks the progress of in-flight inference requests and fans
// updates out to subscribers.
package task

// Stage identifies a phase of the inference lifecycle.
type Stage string

const (
	StagePending        Stage = "pending"
	StageUpload         Stage = "upload"
	StagePreprocessing  Stage = "preprocessing"
	StageInference      Stage = "inference"
	StagePostprocessing Stage = "postprocessing"
	StageComplete       Stage = "complete"
	StageError          Stage = "error"
)

// Terminal reports whether no further updates can follow this stage.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// State is a snapshot of a task's progress.
type State struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Pending returns the initial state of a freshly created task.
func Pending() State {
	return State{
		Stage:   StagePending,
		Percent: 0,
		Message: "waiting to start",
		Current: 0,
		Total:   100,
	}
}
