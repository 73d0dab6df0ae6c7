package simulation

// State is a smoker's position in its cycle.
type State string

const (
	StateIdle     State = "idle"
	StateClaiming State = "claiming"
	StateSmoking  State = "smoking"
)

// Status is what a display reads for one smoker.
type Status struct {
	ID          string  `json:"id"`
	Ingredient  string  `json:"ingredient"`
	State       State   `json:"state"`
	Smoking     bool    `json:"smoking"`
	Smoked      int64   `json:"smoked"`
	Progress    float64 `json:"progress"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	RemainingMs int64   `json:"remaining_ms,omitempty"`
}

// CycleObserver is told about every smoking cycle. Both calls happen while
// the smoker still holds the table, so implementations must not block.
type CycleObserver interface {
	SmokingStarted(st Status)
	// SmokingFinished receives a non-nil err when the cycle was interrupted.
	SmokingFinished(st Status, err error)
}
