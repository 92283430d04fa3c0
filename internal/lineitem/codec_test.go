package lineitem

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDecode_LiteralRecord(t *testing.T) {
	li, err := Decode("item_description: Tuxedo item_size: L quantity: 2 rate: 400.00")
	require.NoError(t, err)

	assert.Equal(t, "Tuxedo", li.Description)
	assert.Equal(t, "L", li.Size)
	assert.Equal(t, 2, li.Quantity)
	assert.True(t, li.UnitRate.Equal(dec("200")), "unit rate %s", li.UnitRate)
	assert.True(t, li.LineTotal().Equal(dec("400")), "line total %s", li.LineTotal())
}

func TestDecode_AcceptsRateWithoutSpace(t *testing.T) {
	li, err := Decode("item_description: Sherwani item_size: 42 quantity: 3 rate:750")
	require.NoError(t, err)
	assert.Equal(t, "42", li.Size)
	assert.True(t, li.UnitRate.Equal(dec("250")))
}

func TestDecode_EmptySize(t *testing.T) {
	li, err := Decode(Encode(LineItem{Kind: KindCatalog, Description: "Crown", Quantity: 1, UnitRate: dec("50")}))
	require.NoError(t, err)
	assert.Equal(t, "", li.Size)
	assert.Equal(t, "Crown", li.Description)
}

func TestDecode_ZeroQuantityIsMalformed(t *testing.T) {
	_, err := Decode("item_description: Cape item_size: M quantity: 0 rate: 100")
	require.ErrorIs(t, err, ErrZeroQuantity)

	items, bad := DecodeAll([]string{
		"item_description: Cape item_size: M quantity: 0 rate: 100",
		"item_description: Hat item_size: S quantity: 1 rate: 20",
	})
	require.Len(t, items, 1)
	assert.Equal(t, "Hat", items[0].Description)
	require.Len(t, bad, 1)
	assert.Equal(t, 0, bad[0].Index)
}

func TestDecodeAll_DropsMalformed(t *testing.T) {
	items, bad := DecodeAll([]string{
		"garbage",
		"item_description: Tuxedo item_size: L quantity: -1 rate: 10",
		"item_description:  item_size: L quantity: 1 rate: 10",
		"item_description: Gown item_size: M quantity: 2 rate: 90.50",
	})
	require.Len(t, items, 1)
	assert.Equal(t, "Gown", items[0].Description)
	assert.True(t, items[0].UnitRate.Equal(dec("45.25")))
	require.Len(t, bad, 3)
	assert.ErrorIs(t, bad[0].Err, ErrMalformed)
	assert.ErrorIs(t, bad[2].Err, ErrEmptyDescription)
}

func TestEncode_WritesLineTotal(t *testing.T) {
	got := Encode(LineItem{Kind: KindCatalog, Description: "Tuxedo", Size: "L", Quantity: 2, UnitRate: dec("200")})
	assert.Equal(t, "item_description: Tuxedo item_size: L quantity: 2 rate: 400", got)
}

func TestRoundTrip(t *testing.T) {
	cases := [][]LineItem{
		nil,
		{{Kind: KindCatalog, Description: "Tuxedo", Size: "L", Quantity: 2, UnitRate: dec("200")}},
		{
			{Kind: KindCatalog, Description: "Angel wings", Size: "", Quantity: 3, UnitRate: dec("33.33")},
			{Kind: KindCatalog, Description: "Pirate hat", Size: "38", Quantity: 1, UnitRate: dec("0.5")},
			{Kind: KindCatalog, Description: "Kurta set, silk", Size: "XL / 44", Quantity: 7, UnitRate: dec("123.4567")},
		},
		{{Kind: KindCatalog, Description: "Cape", Size: "M", Quantity: 3, UnitRate: dec("100").Div(dec("3"))}},
	}
	for _, items := range cases {
		got, bad := DecodeAll(EncodeAll(items))
		require.Empty(t, bad)
		require.Len(t, got, len(items))
		for i := range items {
			assert.Equal(t, items[i].Description, got[i].Description)
			assert.Equal(t, items[i].Size, got[i].Size)
			assert.Equal(t, items[i].Quantity, got[i].Quantity)
			assert.True(t, items[i].UnitRate.Equal(got[i].UnitRate), "rate %s != %s", items[i].UnitRate, got[i].UnitRate)
			assert.True(t, items[i].LineTotal().Equal(got[i].LineTotal()))
		}
	}
}

func TestValidate(t *testing.T) {
	ok := LineItem{Kind: KindCatalog, Description: "Tuxedo", Quantity: 1, UnitRate: dec("10")}
	require.NoError(t, ok.Validate())

	free := LineItem{Kind: KindFreeText, Description: "Custom turban", Quantity: 1}
	require.NoError(t, free.Validate())
	require.ErrorIs(t, free.ValidateForSubmit(), ErrInvalidRate)

	bad := ok
	bad.Quantity = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidQuantity)

	bad = ok
	bad.UnitRate = decimal.Zero
	require.ErrorIs(t, bad.Validate(), ErrInvalidRate)

	bad = ok
	bad.Description = "Suit quantity: 3"
	require.ErrorIs(t, bad.Validate(), ErrReservedLabel)

	corporate := ok
	corporate.Description = "Corporate: grey suit"
	require.NoError(t, corporate.Validate())

	for _, text := range []string{"Red\nCape", "Cape\t", "Veil\r"} {
		bad = ok
		bad.Description = text
		require.ErrorIs(t, bad.Validate(), ErrControlChar, "%q", text)
		require.ErrorIs(t, bad.ValidateForSubmit(), ErrControlChar, "%q", text)
	}
	bad = ok
	bad.Size = "4\n2"
	require.ErrorIs(t, bad.Validate(), ErrControlChar)
}

func TestDecode_UnevenQuantityTotalsExactly(t *testing.T) {
	li, err := Decode("item_description: Cape item_size: M quantity: 3 rate: 100")
	require.NoError(t, err)

	assert.True(t, li.LineTotal().Equal(dec("100")), "line total %s", li.LineTotal())
	assert.True(t, Total([]LineItem{li, li}).Equal(dec("200")), "total %s", Total([]LineItem{li, li}))
	assert.Equal(t, "item_description: Cape item_size: M quantity: 3 rate: 100", Encode(li))
}

func TestTotal(t *testing.T) {
	items := []LineItem{
		{Description: "a", Quantity: 2, UnitRate: dec("10.50")},
		{Description: "b", Quantity: 1, UnitRate: dec("4")},
	}
	assert.True(t, Total(items).Equal(dec("25")))
	assert.True(t, Total(nil).IsZero())
}
