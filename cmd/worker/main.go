package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-rental-billing/internal/aws"
	"github.com/imrishuroy/go-rental-billing/internal/config"
	"github.com/imrishuroy/go-rental-billing/internal/idempotency"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/metrics"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "rental-billing-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		logg.Fatal(ctx, "failed to init aws clients", err)
	}

	var rec metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.CloudWatch {
		cw := metrics.NewCloudWatch(clients.CloudWatch, cfg.Metrics.Namespace)
		cw.OnError = func(err error) { logg.Error(ctx, "publish metrics", err) }
		rec = cw
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Idempotency.TTL),
		inventory.NewStore(clients.DynamoDB, cfg.Tables.Inventory),
		rec,
		logg,
	)

	// If BILLING_RUN_LOCAL=true, process one simulated SQS message and exit.
	if cfg.App.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"adjustment_id":"local-adjustment-1","order_id":"local-bill-1","item_description":"Sherwani","delta":1}`
		}
		resp, err := p.Handle(ctx, events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logg.Fatal(logg.WithField(ctx, "failures", len(resp.BatchItemFailures)), "local handler failed", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
