package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one catalog entry. Description is the key that order lines and
// reconciliation deltas refer to.
type Item struct {
	Description string          `json:"item_description"`
	ItemType    string          `json:"item_type,omitempty"`
	Size        string          `json:"item_size"`
	Rate        decimal.Decimal `json:"rate"`
	Quantity    int             `json:"item_quantity"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// record is the shape persisted in the inventory DynamoDB table.
type record struct {
	Description string    `dynamodbav:"item_description"` // PK
	ItemType    string    `dynamodbav:"item_type,omitempty"`
	Size        string    `dynamodbav:"item_size"`
	Rate        string    `dynamodbav:"rate"` // decimal text, exact
	Quantity    int       `dynamodbav:"item_quantity"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

func toRecord(it Item) record {
	return record{
		Description: it.Description,
		ItemType:    it.ItemType,
		Size:        it.Size,
		Rate:        it.Rate.String(),
		Quantity:    it.Quantity,
		UpdatedAt:   it.UpdatedAt,
	}
}

func fromRecord(r record) (Item, error) {
	rate, err := decimal.NewFromString(r.Rate)
	if err != nil {
		return Item{}, err
	}
	return Item{
		Description: r.Description,
		ItemType:    r.ItemType,
		Size:        r.Size,
		Rate:        rate,
		Quantity:    r.Quantity,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}
