package session

// State is the lifecycle position of an edit session.
//
//	Loading -> Ready -> {Editing <-> Ready} -> Submitting -> {Committed | Failed}
//
// Failed immediately falls back to Editing with the in-memory values intact.
type State int

const (
	StateLoading State = iota
	StateReady
	StateEditing
	StateSubmitting
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) editable() bool {
	return s == StateReady || s == StateEditing
}
