package validation

import (
	"regexp"
	"strings"
	"unicode"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
)

var (
	mobilePattern  = regexp.MustCompile(`^\d{10,11}$`)
	payModePattern = regexp.MustCompile(`^(upi|cash)(_(upi|cash))?$`)
	labelPattern   = regexp.MustCompile(`item_description:|item_size:|quantity:|\brate:`)
)

// New returns a configured validator with the billing tags and struct-level
// rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("nodigits", noDigits)
	_ = v.RegisterValidation("mobile", mobile)
	_ = v.RegisterValidation("paymode", payMode)
	_ = v.RegisterValidation("encodeditem", encodedItem)
	_ = v.RegisterValidation("nolabel", noLabel)

	v.RegisterStructValidation(billStructValidation, BillRequest{})
	v.RegisterStructValidation(editBillStructValidation, EditBillRequest{})
	v.RegisterStructValidation(inventoryStructValidation, InventoryRequest{})

	return v
}

func noDigits(fl validatorv10.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), unicode.IsDigit)
}

func mobile(fl validatorv10.FieldLevel) bool {
	return mobilePattern.MatchString(fl.Field().String())
}

// payMode accepts a single mode or a rent_deposit pair such as upi_cash.
func payMode(fl validatorv10.FieldLevel) bool {
	return payModePattern.MatchString(fl.Field().String())
}

func encodedItem(fl validatorv10.FieldLevel) bool {
	li, err := lineitem.Decode(fl.Field().String())
	if err != nil {
		return false
	}
	return li.ValidateForSubmit() == nil
}

// noLabel rejects text that would not survive encoding: field labels and
// control characters such as line breaks.
func noLabel(fl validatorv10.FieldLevel) bool {
	s := fl.Field().String()
	return !labelPattern.MatchString(s) && !strings.ContainsFunc(s, unicode.IsControl)
}

// billStructValidation checks amounts and that a claimed total matches the
// encoded items.
func billStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(BillRequest)
	checkAmounts(sl, req.AdvanceAmount, req.AdvanceAmountPaid, req.Discount)
	checkDates(sl, req.BookingDate, req.ReturnDate)

	if req.TotalAmount == nil {
		return
	}
	sum := lineitem.Total(req.Lines())
	if !sum.Equal(*req.TotalAmount) {
		sl.ReportError(req.TotalAmount, "total_amount", "TotalAmount", "amount_match_items", sum.String())
	}
}

func editBillStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(EditBillRequest)
	checkAmounts(sl, req.AdvanceAmount, req.AdvanceAmountPaid, req.Discount)
	checkDates(sl, req.BookingDate, req.ReturnDate)
}

func inventoryStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(InventoryRequest)
	if !req.Rate.IsPositive() {
		sl.ReportError(req.Rate, "rate", "Rate", "gt", "0")
	}
}

func checkAmounts(sl validatorv10.StructLevel, advance, paid, discount decimal.Decimal) {
	if advance.IsNegative() {
		sl.ReportError(advance, "advance_amount", "AdvanceAmount", "gte", "0")
	}
	if paid.IsNegative() {
		sl.ReportError(paid, "advance_amount_paid", "AdvanceAmountPaid", "gte", "0")
	}
	if discount.IsNegative() {
		sl.ReportError(discount, "discount", "Discount", "gte", "0")
	}
}

// checkDates relies on the YYYY-MM-DD layout sorting the same as the dates.
func checkDates(sl validatorv10.StructLevel, booking, ret string) {
	if booking != "" && ret != "" && ret < booking {
		sl.ReportError(ret, "return_date", "ReturnDate", "gtefield", "BookingDate")
	}
}
