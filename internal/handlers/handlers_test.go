package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-rental-billing/internal/aws/awstest"
	"github.com/imrishuroy/go-rental-billing/internal/billing"
	"github.com/imrishuroy/go-rental-billing/internal/idempotency"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
	"github.com/imrishuroy/go-rental-billing/internal/users"
	"github.com/imrishuroy/go-rental-billing/internal/viewstate"
)

// failingOrders fails the next failUpdates order updates.
type failingOrders struct {
	*orders.Store
	failUpdates int
}

func (f *failingOrders) Update(ctx context.Context, id string, o orders.Order) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return errors.New("provisioned throughput exceeded")
	}
	return f.Store.Update(ctx, id, o)
}

type testServer struct {
	t      *testing.T
	r      *gin.Engine
	db     *awstest.Dynamo
	orders *failingOrders
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := awstest.NewDynamo(map[string]string{
		"orders":      "order_id",
		"inventory":   "item_description",
		"idempotency": "idempotency_key",
		"users":       "username",
	})
	inv := inventory.NewStore(db, "inventory")
	ordersStore := &failingOrders{Store: orders.NewStore(db, "orders")}
	svc := billing.NewService(billing.Deps{
		Orders:         ordersStore,
		Inventory:      inv,
		Idempotency:    idempotency.NewStore(db, "idempotency", time.Hour),
		IdempotencyTTL: time.Hour,
	})

	r := gin.New()
	RegisterRoutes(r, HandlerConfig{
		Bills:     svc,
		Inventory: inv,
		Users:     users.NewStore(db, "users"),
		Views:     viewstate.NewMemoryStore(),
	})
	s := &testServer{t: t, r: r, db: db, orders: ordersStore}

	w := s.do(http.MethodPost, "/inventory", `{"items":[
		{"item_description":"Sherwani","item_size":"40","rate":"500","item_quantity":5},
		{"item_description":"Turban","rate":"100","item_quantity":5}
	]}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("seed inventory: %d %s", w.Code, w.Body.String())
	}
	return s
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func (s *testServer) stock(desc string) string {
	s.t.Helper()
	n, ok := s.db.Item("inventory", desc)["item_quantity"].(*types.AttributeValueMemberN)
	if !ok {
		s.t.Fatalf("no stock for %s", desc)
	}
	return n.Value
}

func (s *testServer) createBill(key, name, status string) string {
	s.t.Helper()
	body := `{
		"customer_name": "` + name + `",
		"customer_mobile_number": "9876543210",
		"payment_mode": "upi_cash",
		"status": "` + status + `",
		"booking_date": "2024-03-10",
		"return_date": "2024-03-12",
		"items_ordered": [
			"item_description: Sherwani item_size: 40 quantity: 2 rate: 1000",
			"item_description: Turban item_size:  quantity: 1 rate: 100"
		],
		"total_amount": "1100"
	}`
	w := s.do(http.MethodPost, "/bills", body, map[string]string{"Idempotency-Key": key})
	if w.Code != http.StatusCreated {
		s.t.Fatalf("create bill: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Bill orders.Order `json:"bill"`
	}
	decode(s.t, w, &resp)
	return resp.Bill.OrderID
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestCreateBill_IdempotentReplay(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/bills", `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", w.Code)
	}

	id := s.createBill("key-1", "Ravi", orders.StatusBilled)
	if s.stock("Sherwani") != "3" || s.stock("Turban") != "4" {
		t.Fatalf("stock not consumed: %s/%s", s.stock("Sherwani"), s.stock("Turban"))
	}

	again := s.createBill("key-1", "Ravi", orders.StatusBilled)
	if again != id {
		t.Fatalf("replay returned %s, want %s", again, id)
	}
	if s.stock("Sherwani") != "3" {
		t.Fatalf("replay consumed stock again: %s", s.stock("Sherwani"))
	}
	if n := s.db.Len("orders"); n != 1 {
		t.Fatalf("expected one order, got %d", n)
	}
}

func TestCreateBill_MissingKeyAndInvalid(t *testing.T) {
	s := newTestServer(t)
	valid := `{"customer_name":"Ravi","customer_mobile_number":"9876543210","payment_mode":"cash",
		"items_ordered":["item_description: Turban item_size:  quantity: 1 rate: 100"]}`

	if w := s.do(http.MethodPost, "/bills", valid, nil); w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "missing_idempotency_key") {
		t.Fatalf("expected missing_idempotency_key, got %d %s", w.Code, w.Body.String())
	}

	invalid := strings.Replace(valid, "9876543210", "12ab", 1)
	w := s.do(http.MethodPost, "/bills", invalid, map[string]string{"Idempotency-Key": "k"})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "CustomerMobile") {
		t.Fatalf("expected mobile validation error, got %d %s", w.Code, w.Body.String())
	}
}

func TestBillLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createBill("key-1", "Ravi", orders.StatusBilled)

	if w := s.do(http.MethodGet, "/bills/"+id, "", nil); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/bills/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	edit := `{"customer_name":"Ravi K","customer_mobile_number":"9876543210","payment_mode":"cash",
		"booking_date":"2024-03-10","return_date":"2024-03-12",
		"items_ordered":["item_description: Sherwani item_size: 40 quantity: 3 rate: 1500"]}`
	w := s.do(http.MethodPut, "/bills/"+id, edit, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", w.Code, w.Body.String())
	}
	if s.stock("Sherwani") != "2" || s.stock("Turban") != "5" {
		t.Fatalf("unexpected stock after edit: %s/%s", s.stock("Sherwani"), s.stock("Turban"))
	}

	bad := strings.Replace(edit, "quantity: 3", "quantity: 0", 1)
	if w := s.do(http.MethodPut, "/bills/"+id, bad, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d", w.Code)
	}

	if w := s.do(http.MethodPost, "/bills/"+id+"/return", "", nil); w.Code != http.StatusOK {
		t.Fatalf("return: %d %s", w.Code, w.Body.String())
	}
	if s.stock("Sherwani") != "5" {
		t.Fatalf("stock not returned: %s", s.stock("Sherwani"))
	}
	if w := s.do(http.MethodPost, "/bills/"+id+"/return", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second return, got %d", w.Code)
	}

	w = s.do(http.MethodGet, "/bills?status=Returned", "", nil)
	var list struct {
		Bills []orders.Order `json:"bills"`
	}
	decode(t, w, &list)
	if len(list.Bills) != 1 || list.Bills[0].CustomerName != "Ravi K" {
		t.Fatalf("unexpected returned list %+v", list.Bills)
	}
	if w := s.do(http.MethodGet, "/bills?status=Lost", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	if w := s.do(http.MethodDelete, "/bills/"+id, "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := s.do(http.MethodDelete, "/bills/"+id, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestEditBill_UpdateFailureReportsSettledStock(t *testing.T) {
	s := newTestServer(t)
	id := s.createBill("key-1", "Ravi", orders.StatusBilled)

	edit := `{"customer_name":"Ravi","customer_mobile_number":"9876543210","payment_mode":"cash",
		"booking_date":"2024-03-10","return_date":"2024-03-12",
		"items_ordered":["item_description: Sherwani item_size: 40 quantity: 3 rate: 1500"]}`
	s.orders.failUpdates = 1
	w := s.do(http.MethodPut, "/bills/"+id, edit, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", w.Code, w.Body.String())
	}
	var body struct {
		Error   string         `json:"error"`
		Applied map[string]int `json:"applied"`
		Failed  []struct {
			Description string `json:"item_description"`
		} `json:"failed"`
	}
	decode(t, w, &body)
	if body.Error != "bill_update_failed" {
		t.Fatalf("unexpected error code %q", body.Error)
	}
	if body.Applied["Sherwani"] != -1 || body.Applied["Turban"] != 1 || len(body.Failed) != 0 {
		t.Fatalf("unexpected settled deltas %+v", body)
	}
	if s.stock("Sherwani") != "2" {
		t.Fatalf("expected stock 2, got %s", s.stock("Sherwani"))
	}

	// the retry saves the bill without moving stock again
	w = s.do(http.MethodPut, "/bills/"+id, edit, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: %d %s", w.Code, w.Body.String())
	}
	if s.stock("Sherwani") != "2" || s.stock("Turban") != "5" {
		t.Fatalf("stock moved twice: %s/%s", s.stock("Sherwani"), s.stock("Turban"))
	}
}

func TestConvertBooking(t *testing.T) {
	s := newTestServer(t)
	id := s.createBill("key-b", "Meera", orders.StatusBooked)
	if s.stock("Sherwani") != "5" {
		t.Fatalf("booking consumed stock")
	}

	w := s.do(http.MethodPost, "/bills/"+id+"/bill", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("convert: %d %s", w.Code, w.Body.String())
	}
	if s.stock("Sherwani") != "3" {
		t.Fatalf("conversion did not consume stock: %s", s.stock("Sherwani"))
	}
	if w := s.do(http.MethodPost, "/bills/"+id+"/bill", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 converting a bill, got %d", w.Code)
	}
}

func TestSearchPersistsFilters(t *testing.T) {
	s := newTestServer(t)
	s.createBill("k1", "Ravi", orders.StatusBilled)
	s.createBill("k2", "Meera", orders.StatusBilled)

	type result struct {
		Filters viewstate.State `json:"filters"`
		Bills   []orders.Order  `json:"bills"`
	}

	var res result
	decode(t, s.do(http.MethodGet, "/bills/search?q=ravi", "", nil), &res)
	if len(res.Bills) != 1 || res.Bills[0].CustomerName != "Ravi" {
		t.Fatalf("unexpected search result %+v", res.Bills)
	}

	res = result{}
	decode(t, s.do(http.MethodGet, "/bills/search", "", nil), &res)
	if res.Filters.Query != "ravi" || len(res.Bills) != 1 {
		t.Fatalf("filters were not persisted: %+v", res)
	}

	res = result{}
	decode(t, s.do(http.MethodGet, "/bills/search?item=sherwani&from=2024-03-13", "", nil), &res)
	if len(res.Bills) != 0 {
		t.Fatalf("expected return-date filter to exclude all bills, got %d", len(res.Bills))
	}

	if w := s.do(http.MethodDelete, "/viewstate/bills", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("reset: %d", w.Code)
	}
	res = result{}
	decode(t, s.do(http.MethodGet, "/bills/search", "", nil), &res)
	if len(res.Bills) != 2 {
		t.Fatalf("expected both bills after reset, got %d", len(res.Bills))
	}

	if w := s.do(http.MethodGet, "/bills/search?from=13-03-2024", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", w.Code)
	}
}

func TestInventoryRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/inventory", `{"item_description":"Cape","rate":"75","item_quantity":2}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(http.MethodPost, "/inventory", `{"item_description":"Cape","rate":"75","item_quantity":2}`, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/inventory", `{"items":[{"item_description":"Hat","rate":"10","item_quantity":1},{"item_description":"Cape","rate":"75","item_quantity":2}]}`, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for bulk duplicate, got %d", w.Code)
	}
	if s.db.Item("inventory", "Hat") != nil {
		t.Fatalf("bulk insert was not atomic")
	}
	if w := s.do(http.MethodPost, "/inventory", `{"item_description":"Veil","rate":"0","item_quantity":1}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero rate, got %d", w.Code)
	}

	w = s.do(http.MethodPatch, "/inventory/quantity", `{"item_description":"Cape","quantity":-3}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", w.Code, w.Body.String())
	}
	var it inventory.Item
	decode(t, w, &it)
	if it.Quantity != -1 {
		t.Fatalf("expected quantity -1, got %d", it.Quantity)
	}
	if w := s.do(http.MethodPatch, "/inventory/quantity", `{"item_description":"Ghost","quantity":1}`, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 adjusting unknown item, got %d", w.Code)
	}

	if w := s.do(http.MethodPut, "/inventory/Cape", `{"item_description":"Cape","rate":"80","item_quantity":4}`, nil); w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(http.MethodPut, "/inventory/Cape", `{"item_description":"Hat","rate":"80","item_quantity":4}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched description, got %d", w.Code)
	}

	var list struct {
		Items []inventory.Item `json:"items"`
	}
	decode(t, s.do(http.MethodGet, "/inventory", "", nil), &list)
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(list.Items))
	}

	if w := s.do(http.MethodDelete, "/inventory/Cape", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/inventory/Cape", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestCreateUser(t *testing.T) {
	s := newTestServer(t)
	body := `{"username":"counter1","password":"long-enough-pass","role":"user"}`

	w := s.do(http.MethodPost, "/users", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "argon2id") || strings.Contains(w.Body.String(), "password") {
		t.Fatalf("response leaks the password hash: %s", w.Body.String())
	}
	if w := s.do(http.MethodPost, "/users", body, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate user, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/users", `{"username":"x1y","password":"long-enough-pass","role":"owner"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
}

func TestBuilderPreview(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/builder/preview", `{"actions":[
		{"op":"search","value":"turb"},
		{"op":"select","value":"Turban"},
		{"op":"commit"},
		{"op":"search","value":"Dupatta"},
		{"op":"commit"},
		{"op":"set_rate","index":1,"value":"40"}
	]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preview: %d %s", w.Code, w.Body.String())
	}
	var snap struct {
		Total   string   `json:"total"`
		Encoded []string `json:"items_ordered"`
	}
	decode(t, w, &snap)
	if snap.Total != "140" || len(snap.Encoded) != 2 {
		t.Fatalf("unexpected preview %+v", snap)
	}

	w = s.do(http.MethodPost, "/builder/preview", `{"actions":[{"op":"commit"}]}`, nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"step":0`) {
		t.Fatalf("expected step 0 validation error, got %d %s", w.Code, w.Body.String())
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/inventory", "", map[string]string{requestIDHeader: "req-42"})
	if got := w.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	w = s.do(http.MethodGet, "/inventory", "", nil)
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}
