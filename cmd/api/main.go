package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imrishuroy/go-rental-billing/internal/aws"
	"github.com/imrishuroy/go-rental-billing/internal/billing"
	"github.com/imrishuroy/go-rental-billing/internal/builder"
	"github.com/imrishuroy/go-rental-billing/internal/config"
	"github.com/imrishuroy/go-rental-billing/internal/handlers"
	"github.com/imrishuroy/go-rental-billing/internal/idempotency"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/metrics"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
	"github.com/imrishuroy/go-rental-billing/internal/reconcile"
	"github.com/imrishuroy/go-rental-billing/internal/users"
	"github.com/imrishuroy/go-rental-billing/internal/viewstate"
)

func setupRouter(cfg handlers.HandlerConfig, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "rental-billing-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	if cfg.App.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		logg.Fatal(ctx, "failed to init aws clients", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.Multi{metrics.NewBillingMetrics(reg)}
	if cfg.Metrics.CloudWatch {
		cw := metrics.NewCloudWatch(clients.CloudWatch, cfg.Metrics.Namespace)
		cw.OnError = func(err error) { logg.Error(ctx, "publish metrics", err) }
		rec = append(rec, cw)
	}

	var retries *reconcile.RetryQueue
	if cfg.Queue.AdjustmentQueueURL != "" {
		retries = reconcile.NewRetryQueue(aws.NewPublisher(clients.SQS, cfg.Queue.AdjustmentQueueURL))
	} else {
		logg.Warn(ctx, "no adjustment queue configured; failed inventory deltas are only reported")
	}

	var views viewstate.Store = viewstate.NewMemoryStore()
	if cfg.Redis.URL != "" {
		rs, err := viewstate.NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.ViewStateTTL)
		if err != nil {
			logg.Fatal(ctx, "failed to connect to redis", err)
		}
		views = rs
	}

	sizePolicy := builder.SizeOptional
	if cfg.Billing.SizeRequired {
		sizePolicy = builder.SizeRequired
	}

	inv := inventory.NewStore(clients.DynamoDB, cfg.Tables.Inventory)
	svc := billing.NewService(billing.Deps{
		Orders:         orders.NewStore(clients.DynamoDB, cfg.Tables.Orders),
		Inventory:      inv,
		Idempotency:    idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Idempotency.TTL),
		IdempotencyTTL: cfg.Idempotency.TTL,
		Retries:        retries,
		Metrics:        rec,
		Log:            logg,
		SizePolicy:     sizePolicy,
		RentalDays:     cfg.Billing.DefaultRentalDays,
	})

	r := setupRouter(handlers.HandlerConfig{
		Bills:     svc,
		Inventory: inv,
		Users:     users.NewStore(clients.DynamoDB, cfg.Tables.Users),
		Views:     views,
		Log:       logg,
	}, reg)

	// If BILLING_RUN_LOCAL=true, run a local HTTP server for development.
	if cfg.App.RunLocal {
		addr := ":" + cfg.App.Port
		ctx := logg.WithField(ctx, "addr", addr)
		logg.Info(ctx, "running local server")
		if err := r.Run(addr); err != nil {
			logg.Fatal(ctx, "failed to run local server", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
