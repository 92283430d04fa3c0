// Package builder accumulates an order's line items from catalog searches and
// typed entries, keeping the running total and the encoded form in step.
//
// A Builder is not safe for concurrent use; the owning edit session
// serialises access.
package builder

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
)

// SizePolicy decides whether an empty size is accepted by SetSize.
type SizePolicy int

const (
	SizeOptional SizePolicy = iota
	SizeRequired
)

// ErrLineNotFound is returned for an index outside the current lines.
var ErrLineNotFound = errors.New("line not found")

// ValidationError is a field-level rejection of operator input. The builder
// is left unchanged when one is returned.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// Snapshot is what consumers see after each mutation. Total and Encoded are
// always computed from the same Lines.
type Snapshot struct {
	Lines   []lineitem.LineItem `json:"lines"`
	Total   decimal.Decimal     `json:"total"`
	Encoded []string            `json:"items_ordered"`
}

// Listener receives a snapshot after every successful line mutation.
type Listener func(Snapshot)

type Option func(*Builder)

func WithListener(l Listener) Option {
	return func(b *Builder) { b.listener = l }
}

func WithSizePolicy(p SizePolicy) Option {
	return func(b *Builder) { b.sizePolicy = p }
}

// WithLines seeds the displayed lines, typically decoded from a stored order.
// They are taken as is and no snapshot is emitted.
func WithLines(lines []lineitem.LineItem) Option {
	return func(b *Builder) { b.lines = lineitem.Clone(lines) }
}

// Builder holds the catalog snapshot, the search state, the staged
// selections and the displayed lines.
type Builder struct {
	catalog     []inventory.Item
	term        string
	suggestions []inventory.Item
	staged      []lineitem.LineItem
	lines       []lineitem.LineItem

	sizePolicy SizePolicy
	listener   Listener
}

// New returns a builder over catalog with no lines.
func New(catalog []inventory.Item, opts ...Option) *Builder {
	b := &Builder{catalog: catalog}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Search sets the typed term and returns catalog items whose description
// contains it, ignoring case. A blank term yields no suggestions.
func (b *Builder) Search(term string) []inventory.Item {
	b.term = term
	b.suggestions = nil
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}
	for _, it := range b.catalog {
		if strings.Contains(strings.ToLower(it.Description), needle) {
			b.suggestions = append(b.suggestions, it)
		}
	}
	return b.suggestions
}

// SelectSuggestion stages a catalog item at quantity 1 and the catalog rate.
// Staging the same description twice is a no-op.
func (b *Builder) SelectSuggestion(item inventory.Item) {
	b.term = item.Description
	b.suggestions = nil
	for _, s := range b.staged {
		if s.Description == item.Description {
			return
		}
	}
	b.staged = append(b.staged, fromCatalog(item))
}

// CommitEntry appends the staged selections, or a free-text line when the
// term names nothing in the catalog. A term that exactly names a catalog item
// with nothing staged stages that item first. A free-text commit leaves the
// staged selections for the next catalog commit.
func (b *Builder) CommitEntry() error {
	term := strings.TrimSpace(b.term)
	if term == "" {
		return &ValidationError{Field: "item_description", Message: "Item description cannot be empty", Err: lineitem.ErrEmptyDescription}
	}

	match, ok := b.lookup(term)
	if !ok {
		li := lineitem.LineItem{Kind: lineitem.KindFreeText, Description: term, Quantity: 1, UnitRate: decimal.Zero}
		if err := li.Validate(); err != nil {
			return fieldError("item_description", err)
		}
		b.lines = append(b.lines, li)
	} else {
		if len(b.staged) == 0 {
			b.staged = append(b.staged, fromCatalog(match))
		}
		b.lines = append(b.lines, b.staged...)
		b.staged = nil
	}

	b.term = ""
	b.suggestions = nil
	b.emit()
	return nil
}

// AddLine appends a fully formed line.
func (b *Builder) AddLine(li lineitem.LineItem) error {
	if err := li.Validate(); err != nil {
		return fieldError("line", err)
	}
	b.lines = append(b.lines, li)
	b.emit()
	return nil
}

// ReplaceLines swaps in a whole line list, rejecting it if any line is invalid.
func (b *Builder) ReplaceLines(lines []lineitem.LineItem) error {
	for i, li := range lines {
		if err := li.Validate(); err != nil {
			return fieldError("lines["+strconv.Itoa(i)+"]", err)
		}
	}
	b.lines = lineitem.Clone(lines)
	b.emit()
	return nil
}

// RemoveLine deletes the line at i. Inventory is only touched on save.
func (b *Builder) RemoveLine(i int) error {
	if i < 0 || i >= len(b.lines) {
		return ErrLineNotFound
	}
	b.lines = append(b.lines[:i], b.lines[i+1:]...)
	b.emit()
	return nil
}

// SetQuantity parses raw as a positive integer quantity for line i.
func (b *Builder) SetQuantity(i int, raw string) error {
	if i < 0 || i >= len(b.lines) {
		return ErrLineNotFound
	}
	q, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || q < 1 {
		return &ValidationError{Field: "quantity", Message: "Quantity must be positive", Err: lineitem.ErrInvalidQuantity}
	}
	b.lines[i].Quantity = q
	b.emit()
	return nil
}

// SetRate parses raw as a positive decimal unit rate for line i.
func (b *Builder) SetRate(i int, raw string) error {
	if i < 0 || i >= len(b.lines) {
		return ErrLineNotFound
	}
	r, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !r.IsPositive() {
		return &ValidationError{Field: "rate", Message: "Rate must be positive", Err: lineitem.ErrInvalidRate}
	}
	b.lines[i].UnitRate = r
	b.emit()
	return nil
}

// SetSize sets the opaque size text of line i.
func (b *Builder) SetSize(i int, raw string) error {
	if i < 0 || i >= len(b.lines) {
		return ErrLineNotFound
	}
	size := strings.TrimSpace(raw)
	if size == "" && b.sizePolicy == SizeRequired {
		return &ValidationError{Field: "item_size", Message: "Size is required"}
	}
	candidate := b.lines[i]
	candidate.Size = size
	if err := candidate.Validate(); err != nil {
		return fieldError("item_size", err)
	}
	b.lines[i] = candidate
	b.emit()
	return nil
}

func (b *Builder) Term() string { return b.term }
func (b *Builder) Suggestions() []inventory.Item { return b.suggestions }
func (b *Builder) Staged() []lineitem.LineItem { return lineitem.Clone(b.staged) }
func (b *Builder) Lines() []lineitem.LineItem { return lineitem.Clone(b.lines) }
func (b *Builder) Total() decimal.Decimal { return lineitem.Total(b.lines) }
func (b *Builder) Policy() SizePolicy { return b.sizePolicy }
func (b *Builder) SetCatalog(catalog []inventory.Item) { b.catalog = catalog }

// Snapshot computes the total and encoded lines in one pass.
func (b *Builder) Snapshot() Snapshot {
	lines := lineitem.Clone(b.lines)
	total := decimal.Zero
	encoded := make([]string, 0, len(lines))
	for _, li := range lines {
		total = total.Add(li.LineTotal())
		encoded = append(encoded, lineitem.Encode(li))
	}
	return Snapshot{Lines: lines, Total: total, Encoded: encoded}
}

func (b *Builder) emit() {
	if b.listener != nil {
		b.listener(b.Snapshot())
	}
}

func (b *Builder) lookup(term string) (inventory.Item, bool) {
	for _, it := range b.catalog {
		if strings.EqualFold(it.Description, term) {
			return it, true
		}
	}
	return inventory.Item{}, false
}

func fromCatalog(item inventory.Item) lineitem.LineItem {
	return lineitem.LineItem{
		Kind:        lineitem.KindCatalog,
		Description: item.Description,
		Size:        item.Size,
		Quantity:    1,
		UnitRate:    item.Rate,
	}
}

func fieldError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}
