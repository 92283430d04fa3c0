package lineitem

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Kind tells where a line item came from.
type Kind string

const (
	KindCatalog  Kind = "catalog"   // picked from the inventory catalog
	KindFreeText Kind = "free_text" // typed by the operator, rate filled in later
)

// LineItem is one row of an order before it is encoded for persistence.
// Kind is not part of the wire format; decoded lines are always KindCatalog.
type LineItem struct {
	Kind        Kind            `json:"kind"`
	Description string          `json:"item_description"`
	Size        string          `json:"item_size"`
	Quantity    int             `json:"quantity"`
	UnitRate    decimal.Decimal `json:"rate"`
}

var (
	ErrEmptyDescription = errors.New("item description cannot be empty")
	ErrReservedLabel    = errors.New("item text contains a reserved field label")
	ErrControlChar      = errors.New("item text contains a line break or control character")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidRate      = errors.New("rate must be positive")
)

// LineTotal is quantity times unit rate, rounded to the scale the encoded
// form carries. A decoded line therefore totals exactly what was stored.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitRate.Mul(decimal.NewFromInt(int64(li.Quantity))).Round(totalScale)
}

// Validate checks the fields required for the item's kind. Free-text items may
// still carry a zero rate while the order is being edited.
func (li LineItem) Validate() error {
	if strings.TrimSpace(li.Description) == "" {
		return ErrEmptyDescription
	}
	if containsLabel(li.Description) || containsLabel(li.Size) {
		return ErrReservedLabel
	}
	if strings.ContainsFunc(li.Description, unicode.IsControl) || strings.ContainsFunc(li.Size, unicode.IsControl) {
		return ErrControlChar
	}
	if li.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if li.UnitRate.IsNegative() {
		return ErrInvalidRate
	}
	if li.Kind != KindFreeText && !li.UnitRate.IsPositive() {
		return ErrInvalidRate
	}
	return nil
}

// ValidateForSubmit is Validate plus a positive rate for every kind.
func (li LineItem) ValidateForSubmit() error {
	if err := li.Validate(); err != nil {
		return err
	}
	if !li.UnitRate.IsPositive() {
		return ErrInvalidRate
	}
	return nil
}

// Total sums the line totals.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Clone returns a copy that shares no backing array with items.
func Clone(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
