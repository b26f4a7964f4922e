package transfer

import "fmt"

type State string

const (
	StatePending   State = "pending"
	StateSplitting State = "splitting"
	StateStoring   State = "storing"
	StateFetching  State = "fetching"
	StateCommitted State = "committed"
	StateAssembled State = "assembled"
	StateAborted   State = "aborted"
)

// Status reports how far a transfer for a given (owner, name) has
// progressed. Parts is zero until the part count is known.
type Status struct {
	State State
	Parts int
	Done  int
}

func statusKey(owner, name string) string {
	return fmt.Sprintf("%s/%s", owner, name)
}

// Status returns the last recorded state of a transfer.
func (e *Engine) Status(owner, name string) (Status, bool) {
	status, ok := e.statuses.Get(statusKey(owner, name))
	if !ok {
		return Status{}, false
	}

	return *status, true
}

func (e *Engine) setStatus(owner, name string, state State, parts, done int) {
	e.statuses.Set(statusKey(owner, name), Status{State: state, Parts: parts, Done: done})
}
