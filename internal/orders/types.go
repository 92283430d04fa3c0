package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses
const (
	StatusBooked   = "Booked"
	StatusBilled   = "Billed"
	StatusSale     = "Sale"
	StatusReturned = "Returned"
)

// DateLayout is the calendar-date format used for booking and return dates.
const DateLayout = "2006-01-02"

// Order is a bill or booking. ItemsOrdered holds the encoded line items in
// entry order.
type Order struct {
	OrderID           string          `json:"bill_id"`
	CustomerName      string          `json:"customer_name"`
	CustomerMobile    string          `json:"customer_mobile_number"`
	BookingDate       string          `json:"booking_date,omitempty"`
	ReturnDate        string          `json:"return_date,omitempty"`
	AdvanceAmount     decimal.Decimal `json:"advance_amount"`
	AdvanceAmountPaid decimal.Decimal `json:"advance_amount_paid"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Discount          decimal.Decimal `json:"discount"`
	PaymentMode       string          `json:"payment_mode"`
	Status            string          `json:"status"`
	Comments          string          `json:"comments,omitempty"`
	ItemsOrdered      []string        `json:"items_ordered"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SameAs reports whether two orders carry the same user-visible content,
// ignoring timestamps.
func (o Order) SameAs(other Order) bool {
	if len(o.ItemsOrdered) != len(other.ItemsOrdered) {
		return false
	}
	for i := range o.ItemsOrdered {
		if o.ItemsOrdered[i] != other.ItemsOrdered[i] {
			return false
		}
	}
	return o.OrderID == other.OrderID &&
		o.CustomerName == other.CustomerName &&
		o.CustomerMobile == other.CustomerMobile &&
		o.BookingDate == other.BookingDate &&
		o.ReturnDate == other.ReturnDate &&
		o.AdvanceAmount.Equal(other.AdvanceAmount) &&
		o.AdvanceAmountPaid.Equal(other.AdvanceAmountPaid) &&
		o.TotalAmount.Equal(other.TotalAmount) &&
		o.Discount.Equal(other.Discount) &&
		o.PaymentMode == other.PaymentMode &&
		o.Status == other.Status &&
		o.Comments == other.Comments
}

// record is the item stored in the orders DynamoDB table. Amounts are kept as
// decimal text so they survive the round trip exactly.
type record struct {
	OrderID           string    `dynamodbav:"order_id"` // PK
	CustomerName      string    `dynamodbav:"customer_name"`
	CustomerMobile    string    `dynamodbav:"customer_mobile_number"`
	BookingDate       string    `dynamodbav:"booking_date,omitempty"`
	ReturnDate        string    `dynamodbav:"return_date,omitempty"`
	AdvanceAmount     string    `dynamodbav:"advance_amount"`
	AdvanceAmountPaid string    `dynamodbav:"advance_amount_paid"`
	TotalAmount       string    `dynamodbav:"total_amount"`
	Discount          string    `dynamodbav:"discount"`
	PaymentMode       string    `dynamodbav:"payment_mode"`
	Status            string    `dynamodbav:"status"` // Booked | Billed | Sale | Returned
	Comments          string    `dynamodbav:"comments,omitempty"`
	ItemsOrdered      []string  `dynamodbav:"items_ordered"`
	CreatedAt         time.Time `dynamodbav:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at"`
}

func toRecord(o Order) record {
	return record{
		OrderID:           o.OrderID,
		CustomerName:      o.CustomerName,
		CustomerMobile:    o.CustomerMobile,
		BookingDate:       o.BookingDate,
		ReturnDate:        o.ReturnDate,
		AdvanceAmount:     o.AdvanceAmount.String(),
		AdvanceAmountPaid: o.AdvanceAmountPaid.String(),
		TotalAmount:       o.TotalAmount.String(),
		Discount:          o.Discount.String(),
		PaymentMode:       o.PaymentMode,
		Status:            o.Status,
		Comments:          o.Comments,
		ItemsOrdered:      o.ItemsOrdered,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func fromRecord(r record) (Order, error) {
	var amounts [4]decimal.Decimal
	for i, s := range []string{r.AdvanceAmount, r.AdvanceAmountPaid, r.TotalAmount, r.Discount} {
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Order{}, err
		}
		amounts[i] = d
	}
	return Order{
		OrderID:           r.OrderID,
		CustomerName:      r.CustomerName,
		CustomerMobile:    r.CustomerMobile,
		BookingDate:       r.BookingDate,
		ReturnDate:        r.ReturnDate,
		AdvanceAmount:     amounts[0],
		AdvanceAmountPaid: amounts[1],
		TotalAmount:       amounts[2],
		Discount:          amounts[3],
		PaymentMode:       r.PaymentMode,
		Status:            r.Status,
		Comments:          r.Comments,
		ItemsOrdered:      r.ItemsOrdered,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}
