// Package billing coordinates the bill lifecycle: idempotent creation, edits
// through an edit session, returns, booking conversion and removal.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-rental-billing/internal/builder"
	"github.com/imrishuroy/go-rental-billing/internal/idempotency"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/metrics"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
	"github.com/imrishuroy/go-rental-billing/internal/reconcile"
	"github.com/imrishuroy/go-rental-billing/internal/session"
)

var (
	// ErrBusy is returned when another request is already working on the bill.
	ErrBusy = errors.New("bill is busy with another request")
	// ErrNotBooking is returned when converting an order that is not Booked.
	ErrNotBooking = errors.New("only bookings can be converted to bills")
)

// DuplicateError reports a create whose idempotency key was already used.
// Record is the stored entry; a DONE record carries the original response.
type DuplicateError struct {
	Record *idempotency.IdempotencyRecord
}

func (e *DuplicateError) Error() string {
	return "idempotency key " + e.Record.IdempotencyKey + " already used (" + e.Record.Status + ")"
}

func (e *DuplicateError) Unwrap() error { return orders.ErrDuplicateRequest }

// OrderStore is the order persistence used by the service.
type OrderStore interface {
	session.OrderStore
	Create(ctx context.Context, order orders.Order) (string, error)
	CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order orders.Order, ttlWindow time.Duration) (string, error)
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, status string) ([]orders.Order, error)
}

// InventoryStore is both the catalog and the stock adjuster.
type InventoryStore interface {
	session.Catalog
	reconcile.Adjuster
}

// Deps are the collaborators of a Service. Idempotency, Retries, Metrics and
// Log are optional.
type Deps struct {
	Orders         OrderStore
	Inventory      InventoryStore
	Idempotency    *idempotency.Store
	IdempotencyTTL time.Duration
	Retries        *reconcile.RetryQueue
	Metrics        metrics.Recorder
	Log            *logger.Logger
	SizePolicy     builder.SizePolicy
	// RentalDays is added to the booking date when no return date is given.
	RentalDays int
}

// NewBill is the input of Create. ItemsOrdered holds encoded line items.
type NewBill struct {
	CustomerName      string
	CustomerMobile    string
	BookingDate       string
	ReturnDate        string
	AdvanceAmount     decimal.Decimal
	AdvanceAmountPaid decimal.Decimal
	Discount          decimal.Decimal
	PaymentMode       string
	Status            string
	Comments          string
	ItemsOrdered      []string
}

// Edit is the input of Save: the edited scalar fields and the complete
// encoded line list.
type Edit struct {
	Fields       session.Fields
	ItemsOrdered []string
}

// Service is safe for concurrent use. Requests for the same bill are
// serialised; a second one fails fast with ErrBusy.
type Service struct {
	deps  Deps
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	inflight map[string]struct{}
	// retained keeps sessions whose save failed after inventory settled, so
	// the next edit of that bill does not apply the same deltas again.
	retained map[string]*session.Session
}

func NewService(deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.RentalDays < 1 {
		deps.RentalDays = 1
	}
	return &Service{
		deps:     deps,
		now:      time.Now,
		newID:    uuid.NewString,
		inflight: map[string]struct{}{},
		retained: map[string]*session.Session{},
	}
}

func (s *Service) sessionDeps() session.Deps {
	return session.Deps{
		Orders:     s.deps.Orders,
		Catalog:    s.deps.Inventory,
		Adjuster:   s.deps.Inventory,
		Retries:    s.deps.Retries,
		Metrics:    s.deps.Metrics,
		Log:        s.deps.Log,
		SizePolicy: s.deps.SizePolicy,
	}
}

func (s *Service) acquire(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[orderID]; busy {
		return ErrBusy
	}
	s.inflight[orderID] = struct{}{}
	return nil
}

func (s *Service) release(orderID string) {
	s.mu.Lock()
	delete(s.inflight, orderID)
	s.mu.Unlock()
}

// Create stores a new bill and takes its lines out of inventory. With a
// non-empty idempotencyKey the order and the key are written in one
// transaction, and a repeated key yields a *DuplicateError instead of a
// second bill.
func (s *Service) Create(ctx context.Context, idempotencyKey string, in NewBill) (session.SaveResult, error) {
	lines, err := decodeForSubmit(in.ItemsOrdered)
	if err != nil {
		return session.SaveResult{}, err
	}
	order, err := s.newOrder(in, lines)
	if err != nil {
		return session.SaveResult{}, err
	}
	ctx = s.deps.Log.WithOrderID(ctx, order.OrderID)

	if idempotencyKey != "" && s.deps.Idempotency != nil {
		ctx = s.deps.Log.WithField(ctx, "idempotency_key", idempotencyKey)
		rec := s.deps.Idempotency.NewRecord(idempotencyKey, order.OrderID, idempotency.StatusInProgress)
		_, err = s.deps.Orders.CreateWithIdempotencyTransaction(ctx, s.deps.Idempotency.TableName(), rec, order, s.deps.IdempotencyTTL)
		if errors.Is(err, orders.ErrDuplicateRequest) {
			stored, getErr := s.deps.Idempotency.Get(ctx, idempotencyKey)
			if getErr != nil {
				return session.SaveResult{}, fmt.Errorf("idempotency lookup: %w", getErr)
			}
			if stored == nil {
				return session.SaveResult{}, fmt.Errorf("transaction cancelled without idempotency record: %w", err)
			}
			s.deps.Metrics.ObserveBill(ctx, metrics.EventDuplicate)
			s.deps.Log.Info(ctx, "duplicate create request")
			return session.SaveResult{}, &DuplicateError{Record: stored}
		}
	} else {
		_, err = s.deps.Orders.Create(ctx, order)
	}
	if err != nil {
		s.deps.Log.Error(ctx, "create bill", err)
		return session.SaveResult{}, fmt.Errorf("create bill: %w", err)
	}

	res := session.SaveResult{Applied: reconcile.Deltas{}}
	if session.HoldsStock(order.Status) {
		res = session.Settle(ctx, s.sessionDeps(), order.OrderID, reconcile.Diff(nil, lines))
	}
	res.Order = order
	s.deps.Metrics.ObserveBill(ctx, metrics.EventCreated)
	s.deps.Log.Info(ctx, "bill created")

	if idempotencyKey != "" && s.deps.Idempotency != nil {
		body, err := json.Marshal(res)
		if err == nil {
			err = s.deps.Idempotency.MarkDone(ctx, idempotencyKey, string(body), http.StatusCreated)
		}
		if err != nil {
			s.deps.Log.Error(ctx, "mark idempotency done", err)
		}
	}
	return res, nil
}

func (s *Service) newOrder(in NewBill, lines []lineitem.LineItem) (orders.Order, error) {
	status := in.Status
	if status == "" {
		status = orders.StatusBilled
	}
	switch status {
	case orders.StatusBilled, orders.StatusBooked, orders.StatusSale:
	default:
		return orders.Order{}, &builder.ValidationError{Field: "status", Message: "status must be Billed, Booked or Sale"}
	}

	o := orders.Order{
		OrderID:           s.newID(),
		CustomerName:      strings.TrimSpace(in.CustomerName),
		CustomerMobile:    strings.TrimSpace(in.CustomerMobile),
		AdvanceAmount:     in.AdvanceAmount,
		AdvanceAmountPaid: in.AdvanceAmountPaid,
		Discount:          in.Discount,
		PaymentMode:       in.PaymentMode,
		Status:            status,
		Comments:          in.Comments,
		ItemsOrdered:      lineitem.EncodeAll(lines),
		TotalAmount:       lineitem.Total(lines),
	}
	if status == orders.StatusSale {
		o.AdvanceAmount = decimal.Zero
		o.AdvanceAmountPaid = decimal.Zero
		return o, nil
	}

	booking := s.now()
	if in.BookingDate != "" {
		d, err := time.Parse(orders.DateLayout, in.BookingDate)
		if err != nil {
			return orders.Order{}, &builder.ValidationError{Field: "booking_date", Message: "booking date must be YYYY-MM-DD", Err: err}
		}
		booking = d
	}
	ret := booking.AddDate(0, 0, s.deps.RentalDays)
	if in.ReturnDate != "" {
		d, err := time.Parse(orders.DateLayout, in.ReturnDate)
		if err != nil {
			return orders.Order{}, &builder.ValidationError{Field: "return_date", Message: "return date must be YYYY-MM-DD", Err: err}
		}
		ret = d
	}
	if ret.Before(booking) {
		return orders.Order{}, &builder.ValidationError{Field: "return_date", Message: "return date is before the booking date"}
	}
	o.BookingDate = booking.Format(orders.DateLayout)
	o.ReturnDate = ret.Format(orders.DateLayout)
	return o, nil
}

// Save opens (or resumes) the edit session for orderID, applies the edit and
// saves it.
func (s *Service) Save(ctx context.Context, orderID string, edit Edit) (session.SaveResult, error) {
	lines, err := decodeForSubmit(edit.ItemsOrdered)
	if err != nil {
		return session.SaveResult{}, err
	}
	if err := s.acquire(orderID); err != nil {
		return session.SaveResult{}, err
	}
	defer s.release(orderID)

	sess, err := s.sessionFor(ctx, orderID)
	if err != nil {
		return session.SaveResult{}, err
	}
	if err := sess.SetFields(edit.Fields); err != nil {
		return session.SaveResult{}, err
	}
	if err := sess.ReplaceLines(lines); err != nil {
		return session.SaveResult{}, err
	}

	res, err := sess.Save(ctx)
	s.keep(orderID, sess)
	return res, err
}

// Return puts a Billed order's stock back and marks it Returned.
func (s *Service) Return(ctx context.Context, orderID string) (session.SaveResult, error) {
	if err := s.acquire(orderID); err != nil {
		return session.SaveResult{}, err
	}
	defer s.release(orderID)

	sess, err := s.sessionFor(ctx, orderID)
	if err != nil {
		return session.SaveResult{}, err
	}
	res, err := sess.Return(ctx)
	s.keep(orderID, sess)
	return res, err
}

// ConvertBooking turns a Booked order into a Billed one and takes its lines
// out of inventory.
func (s *Service) ConvertBooking(ctx context.Context, orderID string) (session.SaveResult, error) {
	if err := s.acquire(orderID); err != nil {
		return session.SaveResult{}, err
	}
	defer s.release(orderID)
	ctx = s.deps.Log.WithOrderID(ctx, orderID)

	order, err := s.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return session.SaveResult{}, fmt.Errorf("fetch bill %s: %w", orderID, err)
	}
	if order.Status != orders.StatusBooked {
		return session.SaveResult{}, fmt.Errorf("%w: status is %s", ErrNotBooking, order.Status)
	}
	if err := s.deps.Orders.UpdateStatus(ctx, orderID, orders.StatusBooked, orders.StatusBilled); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			return session.SaveResult{}, fmt.Errorf("%w: %v", ErrNotBooking, err)
		}
		return session.SaveResult{}, fmt.Errorf("convert booking %s: %w", orderID, err)
	}

	lines, bad := lineitem.DecodeAll(order.ItemsOrdered)
	for _, m := range bad {
		s.deps.Log.Warn(s.deps.Log.WithField(ctx, "index", m.Index), "skipping malformed line item")
	}
	res := session.Settle(ctx, s.sessionDeps(), orderID, reconcile.Diff(nil, lines))
	order.Status = orders.StatusBilled
	res.Order = *order
	s.dropRetained(orderID)
	s.deps.Metrics.ObserveBill(ctx, metrics.EventBilled)
	s.deps.Log.Info(ctx, "booking converted to bill")
	return res, nil
}

// Delete removes the order record. Inventory is left as it is.
func (s *Service) Delete(ctx context.Context, orderID string) error {
	if err := s.acquire(orderID); err != nil {
		return err
	}
	defer s.release(orderID)
	ctx = s.deps.Log.WithOrderID(ctx, orderID)

	if err := s.deps.Orders.Delete(ctx, orderID); err != nil {
		return fmt.Errorf("delete bill %s: %w", orderID, err)
	}
	s.dropRetained(orderID)
	s.deps.Metrics.ObserveBill(ctx, metrics.EventDeleted)
	s.deps.Log.Info(ctx, "bill deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	return s.deps.Orders.Get(ctx, orderID)
}

func (s *Service) List(ctx context.Context, status string) ([]orders.Order, error) {
	return s.deps.Orders.List(ctx, status)
}

// Catalog returns the current inventory items.
func (s *Service) Catalog(ctx context.Context) ([]inventory.Item, error) {
	return s.deps.Inventory.FetchCatalog(ctx)
}

// Preview replays builder actions over the live catalog without touching
// any order.
func (s *Service) Preview(ctx context.Context, actions []builder.Action) (builder.Snapshot, error) {
	catalog, err := s.deps.Inventory.FetchCatalog(ctx)
	if err != nil {
		return builder.Snapshot{}, fmt.Errorf("fetch catalog: %w", err)
	}
	b := builder.New(catalog, builder.WithSizePolicy(s.deps.SizePolicy))
	if err := b.Replay(actions); err != nil {
		return builder.Snapshot{}, err
	}
	return b.Snapshot(), nil
}

// Retained reports whether a failed edit of orderID is being kept.
func (s *Service) Retained(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.retained[orderID]
	return ok
}

func (s *Service) sessionFor(ctx context.Context, orderID string) (*session.Session, error) {
	s.mu.Lock()
	sess := s.retained[orderID]
	s.mu.Unlock()
	if sess != nil {
		return sess, nil
	}
	return session.Open(ctx, s.sessionDeps(), orderID)
}

// keep retains sess while it carries settled deltas and forgets it otherwise.
func (s *Service) keep(orderID string, sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sess.Settled()) > 0 {
		s.retained[orderID] = sess
		return
	}
	delete(s.retained, orderID)
}

func (s *Service) dropRetained(orderID string) {
	s.mu.Lock()
	delete(s.retained, orderID)
	s.mu.Unlock()
}

// decodeForSubmit decodes encoded lines and checks each is complete.
func decodeForSubmit(encoded []string) ([]lineitem.LineItem, error) {
	lines := make([]lineitem.LineItem, 0, len(encoded))
	for i, raw := range encoded {
		field := "items_ordered[" + strconv.Itoa(i) + "]"
		li, err := lineitem.Decode(raw)
		if err != nil {
			return nil, &builder.ValidationError{Field: field, Message: err.Error(), Err: err}
		}
		if err := li.ValidateForSubmit(); err != nil {
			return nil, &builder.ValidationError{Field: field, Message: err.Error(), Err: err}
		}
		lines = append(lines, li)
	}
	return lines, nil
}
