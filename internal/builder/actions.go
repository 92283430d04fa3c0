package builder

import (
	"fmt"

	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
)

// Op names one builder operation in a replayed action list.
type Op string

const (
	OpSearch   Op = "search"
	OpSelect   Op = "select"
	OpCommit   Op = "commit"
	OpRemove   Op = "remove"
	OpQuantity Op = "set_quantity"
	OpRate     Op = "set_rate"
	OpSize     Op = "set_size"
	OpAddLine  Op = "add_line"
)

// Action is a serialisable builder call. Value carries the raw operator text
// for search and the set_* operations; Index addresses a displayed line.
type Action struct {
	Op    Op                 `json:"op" binding:"required"`
	Value string             `json:"value,omitempty"`
	Index int                `json:"index,omitempty"`
	Line  *lineitem.LineItem `json:"line,omitempty"`
}

// ActionError reports which action in a replay failed.
type ActionError struct {
	Step int
	Op   Op
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s): %v", e.Step, e.Op, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Replay applies actions in order and stops at the first failure. Selecting a
// suggestion uses Value as the catalog description.
func (b *Builder) Replay(actions []Action) error {
	for i, a := range actions {
		if err := b.apply(a); err != nil {
			return &ActionError{Step: i, Op: a.Op, Err: err}
		}
	}
	return nil
}

func (b *Builder) apply(a Action) error {
	switch a.Op {
	case OpSearch:
		b.Search(a.Value)
		return nil
	case OpSelect:
		it, ok := b.lookup(a.Value)
		if !ok {
			return &ValidationError{Field: "item_description", Message: fmt.Sprintf("%q is not in the catalog", a.Value)}
		}
		b.SelectSuggestion(it)
		return nil
	case OpCommit:
		return b.CommitEntry()
	case OpRemove:
		return b.RemoveLine(a.Index)
	case OpQuantity:
		return b.SetQuantity(a.Index, a.Value)
	case OpRate:
		return b.SetRate(a.Index, a.Value)
	case OpSize:
		return b.SetSize(a.Index, a.Value)
	case OpAddLine:
		if a.Line == nil {
			return &ValidationError{Field: "line", Message: "line is required"}
		}
		return b.AddLine(*a.Line)
	default:
		return fmt.Errorf("unknown builder op %q", a.Op)
	}
}
