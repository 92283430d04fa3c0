package awstest

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

// CloudWatch records every PutMetricData call.
type CloudWatch struct {
	mu    sync.Mutex
	Err   error
	Calls []*cloudwatch.PutMetricDataInput
}

func (c *CloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Calls = append(c.Calls, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Inputs returns a copy of the recorded inputs.
func (c *CloudWatch) Inputs() []*cloudwatch.PutMetricDataInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*cloudwatch.PutMetricDataInput(nil), c.Calls...)
}
