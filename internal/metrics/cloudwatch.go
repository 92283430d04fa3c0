package metrics

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-rental-billing/internal/aws"
)

// CloudWatch publishes each observation with PutMetricData. It is meant for
// Lambda deployments where there is no scrape endpoint.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	// OnError, when set, receives publish failures.
	OnError func(error)
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace}
}

func (c *CloudWatch) ObserveAdjustments(ctx context.Context, outcome string, n int) {
	if n <= 0 {
		return
	}
	c.put(ctx, datum("InventoryAdjustments", "Outcome", outcome, float64(n), cwtypes.StandardUnitCount))
}

func (c *CloudWatch) ObserveSave(ctx context.Context, outcome string, d time.Duration) {
	c.put(ctx,
		datum("BillSaves", "Outcome", outcome, 1, cwtypes.StandardUnitCount),
		datum("BillSaveDuration", "Outcome", outcome, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds),
	)
}

func (c *CloudWatch) ObserveBill(ctx context.Context, event string) {
	c.put(ctx, datum("BillEvents", "Event", event, 1, cwtypes.StandardUnitCount))
}

func (c *CloudWatch) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	if c == nil || c.client == nil {
		return
	}
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(c.namespace),
		MetricData: data,
	})
	if err != nil && c.OnError != nil {
		c.OnError(err)
	}
}

func datum(name, dim, value string, v float64, unit cwtypes.StandardUnit) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: sdkaws.String(name),
		Dimensions: []cwtypes.Dimension{{Name: sdkaws.String(dim), Value: sdkaws.String(normalizeLabel(value))}},
		Value:      sdkaws.Float64(v),
		Unit:       unit,
		Timestamp:  sdkaws.Time(time.Now().UTC()),
	}
}
