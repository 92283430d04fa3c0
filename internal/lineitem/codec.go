package lineitem

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Field labels of the encoded form, in wire order.
const (
	LabelDescription = "item_description:"
	LabelSize        = "item_size:"
	LabelQuantity    = "quantity:"
	LabelRate        = "rate:"
)

// totalScale bounds the digits written for a line total so that a unit rate
// recovered by division re-encodes to the same text.
const totalScale = 6

var encodedPattern = regexp.MustCompile(
	`^\s*item_description:\s*(.*?)\s+item_size:\s*(.*?)\s*quantity:\s*(\d+)\s*rate:\s*(\d+(?:\.\d+)?)\s*$`,
)

var (
	ErrMalformed    = errors.New("encoded line item does not match the expected shape")
	ErrZeroQuantity = errors.New("encoded line item has zero quantity")
)

// MalformedRecord is an encoded string that Decode rejected.
type MalformedRecord struct {
	Index int
	Raw   string
	Err   error
}

// Encode renders li in the persisted form. The rate field carries the line
// total, not the unit rate.
func Encode(li LineItem) string {
	return fmt.Sprintf("%s %s %s %s %s %d %s %s",
		LabelDescription, strings.TrimSpace(li.Description),
		LabelSize, strings.TrimSpace(li.Size),
		LabelQuantity, li.Quantity,
		LabelRate, li.LineTotal().String(),
	)
}

// EncodeAll encodes items in order.
func EncodeAll(items []LineItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, Encode(it))
	}
	return out
}

// Decode parses one encoded line item and recovers the unit rate by dividing
// the encoded total by the quantity.
func Decode(s string) (LineItem, error) {
	m := encodedPattern.FindStringSubmatch(s)
	if m == nil {
		return LineItem{}, ErrMalformed
	}
	desc := strings.TrimSpace(m[1])
	if desc == "" {
		return LineItem{}, ErrEmptyDescription
	}
	qty, err := strconv.Atoi(m[3])
	if err != nil {
		return LineItem{}, fmt.Errorf("%w: quantity %q", ErrMalformed, m[3])
	}
	if qty == 0 {
		return LineItem{}, ErrZeroQuantity
	}
	total, err := decimal.NewFromString(m[4])
	if err != nil {
		return LineItem{}, fmt.Errorf("%w: rate %q", ErrMalformed, m[4])
	}
	return LineItem{
		Kind:        KindCatalog,
		Description: desc,
		Size:        strings.TrimSpace(m[2]),
		Quantity:    qty,
		UnitRate:    total.Div(decimal.NewFromInt(int64(qty))),
	}, nil
}

// DecodeAll decodes every string it can. Rejected strings are returned
// separately so one bad record never hides the rest of an order.
func DecodeAll(encoded []string) ([]LineItem, []MalformedRecord) {
	items := make([]LineItem, 0, len(encoded))
	var bad []MalformedRecord
	for i, s := range encoded {
		li, err := Decode(s)
		if err != nil {
			bad = append(bad, MalformedRecord{Index: i, Raw: s, Err: err})
			continue
		}
		items = append(items, li)
	}
	return items, bad
}

var labelPattern = regexp.MustCompile(`item_description:|item_size:|quantity:|\brate:`)

func containsLabel(s string) bool {
	return labelPattern.MatchString(s)
}
