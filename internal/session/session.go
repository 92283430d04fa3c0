// Package session implements the bill edit lifecycle: load an order, edit its
// lines and fields, then reconcile inventory and persist the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-rental-billing/internal/builder"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/metrics"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
	"github.com/imrishuroy/go-rental-billing/internal/reconcile"
)

var (
	ErrSaveInProgress = errors.New("a save is already in progress for this bill")
	ErrNotEditable    = errors.New("bill is not editable in its current state")
	ErrUnsavedChanges = errors.New("bill has unsaved changes")
	ErrNotReturnable  = errors.New("only billed orders can be returned")
)

// OrderStore is the order persistence the session needs.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Update(ctx context.Context, orderID string, order orders.Order) error
	UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error
}

// Catalog supplies search suggestions.
type Catalog interface {
	FetchCatalog(ctx context.Context) ([]inventory.Item, error)
}

// Deps are the collaborators of a session. Retries, Metrics and Log are
// optional.
type Deps struct {
	Orders     OrderStore
	Catalog    Catalog
	Adjuster   reconcile.Adjuster
	Retries    *reconcile.RetryQueue
	Metrics    metrics.Recorder
	Log        *logger.Logger
	SizePolicy builder.SizePolicy
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	return d
}

// HoldsStock reports whether an order with status has taken its lines out of
// inventory. Bookings only reserve, and returned bills have given stock back.
func HoldsStock(status string) bool {
	return status == orders.StatusBilled || status == orders.StatusSale
}

// Fields are the scalar order fields an operator may edit.
type Fields struct {
	CustomerName      string          `json:"customer_name"`
	CustomerMobile    string          `json:"customer_mobile_number"`
	BookingDate       string          `json:"booking_date"`
	ReturnDate        string          `json:"return_date"`
	AdvanceAmount     decimal.Decimal `json:"advance_amount"`
	AdvanceAmountPaid decimal.Decimal `json:"advance_amount_paid"`
	Discount          decimal.Decimal `json:"discount"`
	PaymentMode       string          `json:"payment_mode"`
	Comments          string          `json:"comments"`
}

// SaveResult describes what a save or return did to inventory.
type SaveResult struct {
	Order   orders.Order       `json:"bill"`
	Applied reconcile.Deltas   `json:"applied"`
	Queued  []reconcile.Retry  `json:"queued,omitempty"`
	Failed  []reconcile.Result `json:"-"`
	// Untracked lists descriptions with no inventory entry, such as free-text
	// lines. Their deltas are skipped rather than retried.
	Untracked []string `json:"untracked,omitempty"`
}

// InventoryErr combines the adjustments that were neither applied nor queued.
func (r SaveResult) InventoryErr() error {
	return reconcile.Report{Results: r.Failed}.Err()
}

// Session owns one order for the duration of an edit. It is safe for
// concurrent use; mutations are rejected while a save is in flight.
type Session struct {
	deps Deps

	mu            sync.Mutex
	state         State
	id            string
	original      orders.Order
	originalLines []lineitem.LineItem
	current       orders.Order
	b             *builder.Builder
	// settled holds deltas already applied (or queued) against inventory by
	// attempts that did not commit, so a retried save does not repeat them.
	settled   reconcile.Deltas
	malformed []lineitem.MalformedRecord
	lastErr   error
}

// Open loads orderID and decodes its lines. Malformed stored lines are
// dropped and logged. A catalog failure only disables suggestions.
func Open(ctx context.Context, deps Deps, orderID string) (*Session, error) {
	deps = deps.withDefaults()
	s := &Session{deps: deps, state: StateLoading, id: orderID, settled: reconcile.Deltas{}}
	ctx = deps.Log.WithOrderID(ctx, orderID)

	order, err := deps.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch bill %s: %w", orderID, err)
	}

	lines, bad := lineitem.DecodeAll(order.ItemsOrdered)
	for _, m := range bad {
		deps.Log.Warn(deps.Log.WithFields(ctx, map[string]any{
			"index": m.Index,
			"raw":   m.Raw,
			"error": m.Err.Error(),
		}), "dropping malformed line item")
	}

	var catalog []inventory.Item
	if deps.Catalog != nil {
		catalog, err = deps.Catalog.FetchCatalog(ctx)
		if err != nil {
			deps.Log.Error(ctx, "fetch catalog", err)
			catalog = nil
		}
	}

	s.original = *order
	s.original.ItemsOrdered = lineitem.EncodeAll(lines)
	s.original.TotalAmount = lineitem.Total(lines)
	s.originalLines = lines
	s.current = s.original
	s.malformed = bad
	s.b = builder.New(catalog,
		builder.WithLines(lines),
		builder.WithSizePolicy(deps.SizePolicy),
		builder.WithListener(s.onLines),
	)
	s.state = StateReady
	return s, nil
}

// onLines runs inside a builder mutation, with s.mu held.
func (s *Session) onLines(snap builder.Snapshot) {
	s.current.TotalAmount = snap.Total
	s.current.ItemsOrdered = snap.Encoded
}

func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return ErrSaveInProgress
	}
	if !s.state.editable() {
		return ErrNotEditable
	}
	if err := fn(); err != nil {
		return err
	}
	if s.dirty() {
		s.state = StateEditing
	} else {
		s.state = StateReady
	}
	return nil
}

func (s *Session) dirty() bool {
	return !s.original.SameAs(s.current)
}

func (s *Session) Search(term string) []inventory.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Search(term)
}

func (s *Session) SelectSuggestion(item inventory.Item) error {
	return s.mutate(func() error {
		s.b.SelectSuggestion(item)
		return nil
	})
}

func (s *Session) CommitEntry() error {
	return s.mutate(s.b.CommitEntry)
}

func (s *Session) AddLine(li lineitem.LineItem) error {
	return s.mutate(func() error { return s.b.AddLine(li) })
}

func (s *Session) RemoveLine(i int) error {
	return s.mutate(func() error { return s.b.RemoveLine(i) })
}

func (s *Session) SetQuantity(i int, raw string) error {
	return s.mutate(func() error { return s.b.SetQuantity(i, raw) })
}

func (s *Session) SetRate(i int, raw string) error {
	return s.mutate(func() error { return s.b.SetRate(i, raw) })
}

func (s *Session) SetSize(i int, raw string) error {
	return s.mutate(func() error { return s.b.SetSize(i, raw) })
}

// ReplaceLines swaps in a complete edited line list.
func (s *Session) ReplaceLines(lines []lineitem.LineItem) error {
	return s.mutate(func() error { return s.b.ReplaceLines(lines) })
}

// Replay applies builder actions as one mutation.
func (s *Session) Replay(actions []builder.Action) error {
	return s.mutate(func() error { return s.b.Replay(actions) })
}

// SetFields replaces the editable scalar fields.
func (s *Session) SetFields(f Fields) error {
	return s.mutate(func() error {
		s.current.CustomerName = f.CustomerName
		s.current.CustomerMobile = f.CustomerMobile
		s.current.BookingDate = f.BookingDate
		s.current.ReturnDate = f.ReturnDate
		s.current.AdvanceAmount = f.AdvanceAmount
		s.current.AdvanceAmountPaid = f.AdvanceAmountPaid
		s.current.Discount = f.Discount
		s.current.PaymentMode = f.PaymentMode
		s.current.Comments = f.Comments
		return nil
	})
}

// Save reconciles inventory against the last committed lines and then
// persists the order. Every inventory delta settles before the order update
// is sent. If the update fails the session returns to Editing and a later
// Save only sends deltas that have not settled yet.
func (s *Session) Save(ctx context.Context) (SaveResult, error) {
	start := time.Now()
	ctx = s.deps.Log.WithOrderID(ctx, s.id)

	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return SaveResult{}, ErrSaveInProgress
	}
	if !s.state.editable() {
		s.mu.Unlock()
		return SaveResult{}, ErrNotEditable
	}
	lines := s.b.Lines()
	for i, li := range lines {
		if err := li.ValidateForSubmit(); err != nil {
			s.mu.Unlock()
			return SaveResult{}, &builder.ValidationError{Field: "lines[" + strconv.Itoa(i) + "]", Message: err.Error(), Err: err}
		}
	}
	snap := s.b.Snapshot()
	next := s.current
	next.TotalAmount = snap.Total
	next.ItemsOrdered = snap.Encoded
	pending := reconcile.Deltas{}
	if HoldsStock(s.original.Status) {
		pending = reconcile.Diff(s.originalLines, lines).Minus(s.settled)
	}
	s.state = StateSubmitting
	s.mu.Unlock()

	res, settledNow := settle(ctx, s.deps, s.id, pending)
	err := s.deps.Orders.Update(ctx, s.id, next)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled.Add(settledNow)
	if err != nil {
		s.fail(err)
		s.deps.Metrics.ObserveSave(ctx, metrics.OutcomeFailed, time.Since(start))
		s.deps.Log.Error(ctx, "update bill", err)
		return res, fmt.Errorf("update bill %s: %w", s.id, err)
	}

	s.original = next
	s.originalLines = lines
	s.current = next
	s.settled = reconcile.Deltas{}
	s.lastErr = nil
	s.state = StateCommitted
	res.Order = next
	s.deps.Metrics.ObserveSave(ctx, metrics.OutcomeCommitted, time.Since(start))
	s.deps.Log.Info(ctx, "bill saved")
	return res, nil
}

// Return puts every committed line back into inventory and marks the bill
// Returned. It requires a Billed order with no unsaved edits.
func (s *Session) Return(ctx context.Context) (SaveResult, error) {
	ctx = s.deps.Log.WithOrderID(ctx, s.id)

	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return SaveResult{}, ErrSaveInProgress
	}
	if !s.state.editable() {
		s.mu.Unlock()
		return SaveResult{}, ErrNotEditable
	}
	if s.dirty() {
		s.mu.Unlock()
		return SaveResult{}, ErrUnsavedChanges
	}
	if s.original.Status != orders.StatusBilled {
		s.mu.Unlock()
		return SaveResult{}, fmt.Errorf("%w: status is %s", ErrNotReturnable, s.original.Status)
	}
	pending := reconcile.Diff(s.originalLines, nil).Minus(s.settled)
	s.state = StateSubmitting
	s.mu.Unlock()

	res, settledNow := settle(ctx, s.deps, s.id, pending)
	err := s.deps.Orders.UpdateStatus(ctx, s.id, orders.StatusBilled, orders.StatusReturned)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled.Add(settledNow)
	if err != nil {
		s.fail(err)
		s.deps.Log.Error(ctx, "mark bill returned", err)
		return res, fmt.Errorf("return bill %s: %w", s.id, err)
	}

	s.original.Status = orders.StatusReturned
	s.current.Status = orders.StatusReturned
	s.settled = reconcile.Deltas{}
	s.lastErr = nil
	s.state = StateCommitted
	res.Order = s.current
	s.deps.Metrics.ObserveBill(ctx, metrics.EventReturned)
	s.deps.Log.Info(ctx, "bill returned")
	return res, nil
}

// fail records a failed submit; the session drops back to Editing.
func (s *Session) fail(err error) {
	s.state = StateFailed
	s.lastErr = err
	s.state = StateEditing
}

// Settle applies pending inventory deltas for orderID outside an edit session,
// queueing failures on deps.Retries when it is set.
func Settle(ctx context.Context, deps Deps, orderID string, pending reconcile.Deltas) SaveResult {
	res, _ := settle(ctx, deps.withDefaults(), orderID, pending)
	return res
}

// settle applies pending and queues what failed. It returns the deltas that
// no longer need sending.
func settle(ctx context.Context, deps Deps, orderID string, pending reconcile.Deltas) (SaveResult, reconcile.Deltas) {
	res := SaveResult{Applied: reconcile.Deltas{}}
	if len(pending) == 0 {
		return res, reconcile.Deltas{}
	}

	report := reconcile.Apply(ctx, deps.Adjuster, pending)
	settled := report.Applied()
	res.Applied = report.Applied()

	for _, f := range report.Failed() {
		fctx := deps.Log.WithFields(ctx, map[string]any{"item_description": f.Description, "delta": f.Delta})
		if errors.Is(f.Err, inventory.ErrNotFound) {
			res.Untracked = append(res.Untracked, f.Description)
			settled[f.Description] = f.Delta
			deps.Log.Debug(fctx, "no inventory entry; delta skipped")
			continue
		}
		if deps.Retries != nil {
			r, err := deps.Retries.Enqueue(ctx, orderID, f)
			if err == nil {
				res.Queued = append(res.Queued, r)
				settled[f.Description] = f.Delta
				deps.Log.Warn(fctx, "inventory adjustment queued for retry")
				continue
			}
			deps.Log.Error(fctx, "enqueue inventory adjustment", err)
		}
		deps.Log.Error(fctx, "inventory adjustment failed", f.Err)
		res.Failed = append(res.Failed, f)
	}

	deps.Metrics.ObserveAdjustments(ctx, metrics.OutcomeApplied, len(res.Applied))
	deps.Metrics.ObserveAdjustments(ctx, metrics.OutcomeQueued, len(res.Queued))
	deps.Metrics.ObserveAdjustments(ctx, metrics.OutcomeFailed, len(res.Failed))
	return res, settled
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Order returns the in-memory order, including unsaved edits.
func (s *Session) Order() orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Lines() []lineitem.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Lines()
}

func (s *Session) Snapshot() builder.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Snapshot()
}

// Malformed lists the stored lines dropped on load.
func (s *Session) Malformed() []lineitem.MalformedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformed
}

// LastErr is the error of the most recent failed submit, if any.
func (s *Session) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Settled returns a copy of the deltas applied by uncommitted attempts.
func (s *Session) Settled() reconcile.Deltas {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := reconcile.Deltas{}
	out.Add(s.settled)
	return out
}
