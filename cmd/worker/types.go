package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-rental-billing/internal/reconcile"
)

// idempotencyPrefix namespaces adjustment IDs in the shared idempotency table.
const idempotencyPrefix = "adjustment:"

var errInvalidMessage = errors.New("invalid adjustment message")

// decodeRetry parses the body the API publishes for a failed inventory delta.
func decodeRetry(body string) (reconcile.Retry, error) {
	var msg reconcile.Retry
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return reconcile.Retry{}, fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	switch {
	case msg.AdjustmentID == "":
		return reconcile.Retry{}, fmt.Errorf("%w: missing adjustment_id", errInvalidMessage)
	case msg.Description == "":
		return reconcile.Retry{}, fmt.Errorf("%w: missing item_description", errInvalidMessage)
	case msg.Delta == 0:
		return reconcile.Retry{}, fmt.Errorf("%w: zero delta", errInvalidMessage)
	}
	return msg, nil
}
