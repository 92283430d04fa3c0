package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-rental-billing/internal/aws/awstest"
	"github.com/imrishuroy/go-rental-billing/internal/builder"
	"github.com/imrishuroy/go-rental-billing/internal/idempotency"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
	"github.com/imrishuroy/go-rental-billing/internal/reconcile"
	"github.com/imrishuroy/go-rental-billing/internal/session"
)

// flakyOrders fails the next failUpdates calls to Update.
type flakyOrders struct {
	*orders.Store
	failUpdates int
}

func (f *flakyOrders) Update(ctx context.Context, id string, o orders.Order) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return errors.New("throttled")
	}
	return f.Store.Update(ctx, id, o)
}

type fixture struct {
	db     *awstest.Dynamo
	orders *flakyOrders
	inv    *inventory.Store
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := awstest.NewDynamo(map[string]string{
		"orders":      "order_id",
		"inventory":   "item_description",
		"idempotency": "idempotency_key",
	})
	f := &fixture{db: db, orders: &flakyOrders{Store: orders.NewStore(db, "orders")}, inv: inventory.NewStore(db, "inventory")}
	for _, it := range []inventory.Item{
		{Description: "Sherwani", Size: "40", Rate: decimal.NewFromInt(500), Quantity: 5},
		{Description: "Turban", Rate: decimal.NewFromInt(100), Quantity: 5},
	} {
		require.NoError(t, f.inv.Add(context.Background(), it))
	}

	f.svc = NewService(Deps{
		Orders:         f.orders,
		Inventory:      f.inv,
		Idempotency:    idempotency.NewStore(db, "idempotency", time.Hour),
		IdempotencyTTL: time.Hour,
	})
	f.svc.now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }
	n := 0
	f.svc.newID = func() string {
		n++
		return fmt.Sprintf("bill-%d", n)
	}
	return f
}

func (f *fixture) stock(t *testing.T, desc string) string {
	t.Helper()
	n, ok := f.db.Item("inventory", desc)["item_quantity"].(*types.AttributeValueMemberN)
	require.True(t, ok, "no stock for %s", desc)
	return n.Value
}

func newBill(status string) NewBill {
	return NewBill{
		CustomerName:   "Ravi",
		CustomerMobile: "9876543210",
		PaymentMode:    "cash",
		Status:         status,
		AdvanceAmount:  decimal.NewFromInt(200),
		ItemsOrdered: []string{
			"item_description: Sherwani item_size: 40 quantity: 2 rate: 1000",
			"item_description: Turban item_size:  quantity: 1 rate: 100",
		},
	}
}

func TestCreate_ConsumesStockAndDefaultsDates(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Create(context.Background(), "key-1", newBill(""))
	require.NoError(t, err)
	assert.Equal(t, "bill-1", res.Order.OrderID)
	assert.Equal(t, orders.StatusBilled, res.Order.Status)
	assert.Equal(t, "2024-03-10", res.Order.BookingDate)
	assert.Equal(t, "2024-03-11", res.Order.ReturnDate)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, reconcile.Deltas{"Sherwani": -2, "Turban": -1}, res.Applied)

	assert.Equal(t, "3", f.stock(t, "Sherwani"))
	assert.Equal(t, "4", f.stock(t, "Turban"))

	rec, err := f.svc.deps.Idempotency.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, 201, rec.ResponseStatus)
	assert.Contains(t, rec.ResponseBody, `"bill_id":"bill-1"`)
}

func TestCreate_DuplicateKeyReplays(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "key-1", newBill(orders.StatusBilled))
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), "key-1", newBill(orders.StatusBilled))
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.ErrorIs(t, err, orders.ErrDuplicateRequest)
	assert.Equal(t, idempotency.StatusDone, dup.Record.Status)
	assert.Equal(t, "bill-1", dup.Record.ResourceID)

	assert.Equal(t, 1, f.db.Len("orders"))
	assert.Equal(t, "3", f.stock(t, "Sherwani"))
}

func TestCreate_SaleHasNoDatesOrAdvance(t *testing.T) {
	f := newFixture(t)
	in := newBill(orders.StatusSale)
	in.BookingDate = "2024-01-01"

	res, err := f.svc.Create(context.Background(), "", in)
	require.NoError(t, err)
	assert.Empty(t, res.Order.BookingDate)
	assert.Empty(t, res.Order.ReturnDate)
	assert.True(t, res.Order.AdvanceAmount.IsZero())
	assert.Equal(t, "3", f.stock(t, "Sherwani"))
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)

	bad := newBill("")
	bad.ItemsOrdered = append(bad.ItemsOrdered, "Sherwani x2")
	_, err := f.svc.Create(context.Background(), "", bad)
	var ve *builder.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items_ordered[2]", ve.Field)

	backwards := newBill("")
	backwards.BookingDate = "2024-03-10"
	backwards.ReturnDate = "2024-03-09"
	_, err = f.svc.Create(context.Background(), "", backwards)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "return_date", ve.Field)

	_, err = f.svc.Create(context.Background(), "", newBill("Returned"))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)

	assert.Equal(t, 0, f.db.Len("orders"))
	assert.Equal(t, "5", f.stock(t, "Sherwani"))
}

func TestConvertBooking(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), "", newBill(orders.StatusBooked))
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, "5", f.stock(t, "Sherwani"))

	conv, err := f.svc.ConvertBooking(context.Background(), "bill-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusBilled, conv.Order.Status)
	assert.Equal(t, "3", f.stock(t, "Sherwani"))

	_, err = f.svc.ConvertBooking(context.Background(), "bill-1")
	assert.ErrorIs(t, err, ErrNotBooking)
	assert.Equal(t, "3", f.stock(t, "Sherwani"))
}

func TestSave_RetainsFailedSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "", newBill(orders.StatusBilled))
	require.NoError(t, err)

	edit := Edit{
		Fields: session.Fields{CustomerName: "Ravi K", PaymentMode: "cash"},
		ItemsOrdered: []string{
			"item_description: Sherwani item_size: 40 quantity: 3 rate: 1500",
		},
	}
	f.orders.failUpdates = 1
	_, err = f.svc.Save(context.Background(), "bill-1", edit)
	require.Error(t, err)
	assert.True(t, f.svc.Retained("bill-1"))
	assert.Equal(t, "2", f.stock(t, "Sherwani"))
	assert.Equal(t, "5", f.stock(t, "Turban"))

	res, err := f.svc.Save(context.Background(), "bill-1", edit)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.False(t, f.svc.Retained("bill-1"))
	assert.Equal(t, "2", f.stock(t, "Sherwani"))

	stored, err := f.svc.Get(context.Background(), "bill-1")
	require.NoError(t, err)
	assert.Equal(t, "Ravi K", stored.CustomerName)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(1500)))
}

func TestSave_BusyBill(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.acquire("bill-1"))
	_, err := f.svc.Save(context.Background(), "bill-1", Edit{})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.svc.Return(context.Background(), "bill-1")
	assert.ErrorIs(t, err, ErrBusy)
	f.svc.release("bill-1")
}

func TestReturnAndDelete(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "", newBill(orders.StatusBilled))
	require.NoError(t, err)

	res, err := f.svc.Return(context.Background(), "bill-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReturned, res.Order.Status)
	assert.Equal(t, "5", f.stock(t, "Sherwani"))
	assert.Equal(t, "5", f.stock(t, "Turban"))

	_, err = f.svc.Return(context.Background(), "bill-1")
	assert.ErrorIs(t, err, session.ErrNotReturnable)

	list, err := f.svc.List(context.Background(), orders.StatusReturned)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.svc.Delete(context.Background(), "bill-1"))
	_, err = f.svc.Get(context.Background(), "bill-1")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), "bill-1"), orders.ErrNotFound)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	snap, err := f.svc.Preview(context.Background(), []builder.Action{
		{Op: builder.OpSearch, Value: "sherwani"},
		{Op: builder.OpCommit},
		{Op: builder.OpQuantity, Index: 0, Value: "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item_description: Sherwani item_size: 40 quantity: 2 rate: 1000"}, snap.Encoded)
	assert.Equal(t, "5", f.stock(t, "Sherwani"))

	_, err = f.svc.Preview(context.Background(), []builder.Action{{Op: builder.OpCommit}})
	var ae *builder.ActionError
	assert.ErrorAs(t, err, &ae)
}
