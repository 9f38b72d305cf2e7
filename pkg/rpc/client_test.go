package rpc_test

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/juliaogris/dsjob/pkg/job"
	"github.com/juliaogris/dsjob/pkg/rpc"
	"github.com/juliaogris/dsjob/pkg/rpc/rpctest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClientSimple(t *testing.T) {
	t.Parallel()
	server := rpctest.Start(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	client, err := rpc.NewClient(server.Address(), rpc.WithInsecure(), rpc.WithMeterProvider(mp))
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	ctx := context.Background()
	req := &job.SubmitJobRequest{
		SessionID: "s1",
		Name:      "session_s1",
		JobType:   job.JobType,
		WorldSize: 3,
		Files:     map[string][]byte{"a": {0, 1, 2, 255}},
		Options:   map[string]string{job.SessionIDKey: "s1"},
	}
	submitResp := &job.SubmitJobResponse{}
	require.NoError(t, client.Invoke(ctx, job.CommandSubmitJob, req, submitResp))
	require.Equal(t, "s1", submitResp.SessionID)

	got, ok := server.Submitted("s1")
	require.True(t, ok)
	require.Equal(t, 3, got.WorldSize)
	require.Equal(t, map[string][]byte{"a": {0, 1, 2, 255}}, got.Files)

	statusResp := &job.QueryJobStatusResponse{}
	err = client.Invoke(ctx, job.CommandQueryJobStatus, &job.QueryJobStatusRequest{SessionID: "s1"}, statusResp)
	require.NoError(t, err)
	require.Equal(t, job.StatusNew, statusResp.Status)

	err = client.Invoke(ctx, job.CommandQueryJobStatus, &job.QueryJobStatusRequest{SessionID: "missing"}, statusResp)
	require.Equal(t, codes.NotFound, status.Code(err))

	ids := server.RequestIDs()
	require.Len(t, ids, 3)
	for _, id := range ids {
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	}
	require.NotEqual(t, ids[0], ids[1])

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	calls := callCounts(t, rm)
	require.Equal(t, int64(1), calls[job.CommandSubmitJob+" OK"])
	require.Equal(t, int64(1), calls[job.CommandQueryJobStatus+" OK"])
	require.Equal(t, int64(1), calls[job.CommandQueryJobStatus+" NotFound"])
	require.NoError(t, mp.Shutdown(ctx))
}

func TestClientUnknownCommand(t *testing.T) {
	t.Parallel()
	server := rpctest.Start(t)
	client, err := rpc.NewClient(server.Address(), rpc.WithInsecure())
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	err = client.Invoke(context.Background(), "/eggroll.deepspeed.JobService/Unknown", &job.QueryJobRequest{}, &job.QueryJobResponse{})
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestClientUnavailable(t *testing.T) {
	t.Parallel()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := lis.Addr().String()
	require.NoError(t, lis.Close())
	client, err := rpc.NewClient(address, rpc.WithInsecure())
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	err = client.Invoke(context.Background(), job.CommandKillJob, &job.KillJobRequest{SessionID: "s1"}, &job.KillJobResponse{})
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestNewClientCredentials(t *testing.T) {
	t.Parallel()
	_, err := rpc.NewClient("localhost:0")
	require.ErrorIs(t, err, rpc.ErrCredentials)

	_, err = rpc.NewClient("localhost:0", rpc.WithInsecure(), rpc.WithTLS("a.crt", "a.key", ""))
	require.ErrorIs(t, err, rpc.ErrCredentials)
}

func TestClientClose(t *testing.T) {
	t.Parallel()
	client, err := rpc.NewClient("localhost:0", rpc.WithInsecure())
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Close(), rpc.ErrClientConn)
	require.NoError(t, (&rpc.Client{}).Close())
}

// callCounts returns the rpc.client.calls counter values keyed by
// "<command> <code>".
func callCounts(t *testing.T, rm metricdata.ResourceMetrics) map[string]int64 {
	t.Helper()
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "rpc.client.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				command, _ := dp.Attributes.Value(attribute.Key("command"))
				code, _ := dp.Attributes.Value(attribute.Key("code"))
				counts[command.AsString()+" "+code.AsString()] += dp.Value
			}
		}
	}
	return counts
}
