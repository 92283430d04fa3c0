package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Retry is the queued form of a failed inventory delta. AdjustmentID makes
// redelivery safe: the worker applies each ID at most once.
type Retry struct {
	AdjustmentID string `json:"adjustment_id"`
	OrderID      string `json:"order_id"`
	Description  string `json:"item_description"`
	Delta        int    `json:"delta"`
	Reason       string `json:"reason,omitempty"`
}

// Sender publishes a message body with string attributes.
type Sender interface {
	SendMessage(ctx context.Context, body string, attributes map[string]string) error
}

// RetryQueue hands failed deltas to the adjustment worker.
type RetryQueue struct {
	sender Sender
}

func NewRetryQueue(sender Sender) *RetryQueue {
	return &RetryQueue{sender: sender}
}

// Enqueue publishes one failed result for orderID.
func (q *RetryQueue) Enqueue(ctx context.Context, orderID string, res Result) (Retry, error) {
	r := Retry{
		AdjustmentID: uuid.NewString(),
		OrderID:      orderID,
		Description:  res.Description,
		Delta:        res.Delta,
	}
	if res.Err != nil {
		r.Reason = res.Err.Error()
	}
	body, err := json.Marshal(r)
	if err != nil {
		return Retry{}, fmt.Errorf("marshal retry: %w", err)
	}
	attrs := map[string]string{
		"adjustment_id": r.AdjustmentID,
		"order_id":      orderID,
		"delta":         strconv.Itoa(r.Delta),
	}
	if err := q.sender.SendMessage(ctx, string(body), attrs); err != nil {
		return Retry{}, err
	}
	return r, nil
}
