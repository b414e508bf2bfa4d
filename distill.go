package distill

// RunStatus indicates the state of a pipeline run.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// ProgressEvent carries a progress update emitted as a pipeline run moves
// through its stages. Progress is in the range [0, 1].
type ProgressEvent struct {
	Stage    string  `json:"stage"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

// ProgressCallback receives progress events. Callbacks must be fast and
// must not block; they are invoked synchronously between stages.
type ProgressCallback func(event ProgressEvent)
