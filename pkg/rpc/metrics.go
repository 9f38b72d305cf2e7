package rpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc/codes"
)

const meterName = "github.com/juliaogris/dsjob/pkg/rpc"

// metrics holds the client call instruments.
type metrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)
	calls, err := meter.Int64Counter(
		"rpc.client.calls",
		metric.WithDescription("Number of job-control calls by command and status code"),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create calls counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"rpc.client.duration",
		metric.WithDescription("Job-control call latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create duration histogram: %w", err)
	}
	return &metrics{calls: calls, duration: duration}, nil
}

func (m *metrics) record(ctx context.Context, command string, code codes.Code, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("code", code.String()),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
