package validation

import (
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
)

// BillRequest is the payload for POST /bills.
type BillRequest struct {
	CustomerName      string          `json:"customer_name" validate:"required,max=120,nodigits"`
	CustomerMobile    string          `json:"customer_mobile_number" validate:"required,mobile"`
	BookingDate       string          `json:"booking_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ReturnDate        string          `json:"return_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AdvanceAmount     decimal.Decimal `json:"advance_amount"`
	AdvanceAmountPaid decimal.Decimal `json:"advance_amount_paid"`
	Discount          decimal.Decimal `json:"discount"`
	PaymentMode       string          `json:"payment_mode" validate:"required,paymode"`
	Status            string          `json:"status,omitempty" validate:"omitempty,oneof=Billed Booked Sale"`
	Comments          string          `json:"comments,omitempty" validate:"max=500"`
	ItemsOrdered      []string        `json:"items_ordered" validate:"required,min=1,dive,encodeditem"`
	// TotalAmount is the total the client computed. When set it must equal
	// the sum of the encoded line totals.
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
}

// EditBillRequest is the payload for PUT /bills/:id.
type EditBillRequest struct {
	CustomerName      string          `json:"customer_name" validate:"required,max=120,nodigits"`
	CustomerMobile    string          `json:"customer_mobile_number" validate:"required,mobile"`
	BookingDate       string          `json:"booking_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ReturnDate        string          `json:"return_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AdvanceAmount     decimal.Decimal `json:"advance_amount"`
	AdvanceAmountPaid decimal.Decimal `json:"advance_amount_paid"`
	Discount          decimal.Decimal `json:"discount"`
	PaymentMode       string          `json:"payment_mode" validate:"required,paymode"`
	Comments          string          `json:"comments,omitempty" validate:"max=500"`
	ItemsOrdered      []string        `json:"items_ordered" validate:"required,min=1,dive,encodeditem"`
}

// InventoryRequest is one catalog entry for POST and PUT /inventory.
type InventoryRequest struct {
	Description string          `json:"item_description" validate:"required,max=120,nolabel"`
	ItemType    string          `json:"item_type,omitempty" validate:"max=40"`
	Size        string          `json:"item_size,omitempty" validate:"max=40,nolabel"`
	Rate        decimal.Decimal `json:"rate"`
	Quantity    int             `json:"item_quantity" validate:"min=0"`
}

// BulkInventoryRequest adds several catalog entries atomically.
type BulkInventoryRequest struct {
	Items []InventoryRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

// QuantityRequest is the payload for PATCH /inventory/quantity.
type QuantityRequest struct {
	Description string `json:"item_description" validate:"required"`
	Delta       int    `json:"quantity" validate:"ne=0"`
}

// UserRequest is the payload for POST /users.
type UserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
}

// SearchRequest carries the listing filters for GET /bills/search. Empty
// fields leave the stored filter untouched.
type SearchRequest struct {
	View        string `form:"view" validate:"omitempty,max=64"`
	Query       string `form:"q" validate:"max=120"`
	Description string `form:"item" validate:"max=120"`
	From        string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To          string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	Status      string `form:"status" validate:"omitempty,oneof=Billed Booked Sale Returned"`
	Reset       bool   `form:"reset"`
}

// Lines decodes the already validated encoded items.
func (r BillRequest) Lines() []lineitem.LineItem {
	lines, _ := lineitem.DecodeAll(r.ItemsOrdered)
	return lines
}
