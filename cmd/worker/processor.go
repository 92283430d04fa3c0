package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-rental-billing/internal/idempotency"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/metrics"
	"github.com/imrishuroy/go-rental-billing/internal/reconcile"
)

// Processor applies queued inventory adjustments, each at most once.
type Processor struct {
	idempStore *idempotency.Store
	adjuster   reconcile.Adjuster
	metrics    metrics.Recorder
	log        *logger.Logger
}

// NewProcessor creates a new worker processor. rec and logg may be nil.
func NewProcessor(idempStore *idempotency.Store, adjuster reconcile.Adjuster, rec metrics.Recorder, logg *logger.Logger) *Processor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Processor{idempStore: idempStore, adjuster: adjuster, metrics: rec, log: logg}
}

// Handle processes an SQS batch and reports the messages that should be
// redelivered. Malformed messages are reported too so they reach the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		mctx := p.log.WithField(ctx, "message_id", rec.MessageId)
		if err := p.processMessage(mctx, rec); err != nil {
			p.log.Error(mctx, "worker error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	msg, err := decodeRetry(rec.Body)
	if err != nil {
		return err
	}
	ctx = p.log.WithFields(p.log.WithOrderID(ctx, msg.OrderID), map[string]any{
		"adjustment_id":    msg.AdjustmentID,
		"item_description": msg.Description,
		"delta":            msg.Delta,
	})
	key := idempotencyPrefix + msg.AdjustmentID

	// Step 1: claim the adjustment; a DONE key is a duplicate delivery
	claimed, err := p.idempStore.Claim(ctx, key, msg.OrderID)
	if err != nil {
		return fmt.Errorf("claim adjustment: %w", err)
	}
	if !claimed {
		existing, err := p.idempStore.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("fetch adjustment record: %w", err)
		}
		if existing != nil && existing.Status == idempotency.StatusDone {
			p.log.Info(ctx, "adjustment already applied")
			return nil
		}
		return fmt.Errorf("adjustment %s is being applied by another worker", msg.AdjustmentID)
	}

	// Step 2: apply the delta
	err = p.adjuster.AdjustInventory(ctx, msg.Description, msg.Delta)
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		// retrying cannot create the item
		p.log.Warn(ctx, "inventory item gone; adjustment dropped")
		p.metrics.ObserveAdjustments(ctx, metrics.OutcomeFailed, 1)
		p.markDone(ctx, key, `{"skipped":"item_not_found"}`)
		return nil
	case err != nil:
		p.metrics.ObserveAdjustments(ctx, metrics.OutcomeFailed, 1)
		if mErr := p.idempStore.MarkFailed(ctx, key, err.Error()); mErr != nil {
			p.log.Error(ctx, "mark adjustment failed", mErr)
		}
		return fmt.Errorf("adjust inventory: %w", err)
	}

	// Step 3: record completion
	p.metrics.ObserveAdjustments(ctx, metrics.OutcomeApplied, 1)
	p.markDone(ctx, key, fmt.Sprintf(`{"applied":%d}`, msg.Delta))
	p.log.Info(ctx, "adjustment applied")
	return nil
}

// markDone is best effort: the delta is already applied, and a record left
// IN_PROGRESS still blocks a second application.
func (p *Processor) markDone(ctx context.Context, key, body string) {
	if err := p.idempStore.MarkDone(ctx, key, body, 200); err != nil {
		p.log.Error(ctx, "mark adjustment done", err)
	}
}
