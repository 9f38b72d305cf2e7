package rpctest_test

import (
	"context"
	"testing"

	"github.com/juliaogris/dsjob/pkg/job"
	"github.com/juliaogris/dsjob/pkg/rpc"
	"github.com/juliaogris/dsjob/pkg/rpc/rpctest"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStartStopImmediately(t *testing.T) {
	t.Parallel()
	for range 10 {
		server := rpctest.Start(t)
		server.Stop()
	}
}

func TestSetStatuses(t *testing.T) {
	t.Parallel()
	server := rpctest.Start(t)
	server.AddSession("s1", 1)
	require.Error(t, server.SetStatuses("s1"))
	require.Error(t, server.SetStatuses("missing", job.StatusActive))
	require.NoError(t, server.SetStatuses("s1", job.StatusActive, job.StatusError))

	client, err := rpc.NewClient(server.Address(), rpc.WithInsecure())
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	h := job.NewHandle(client, job.WithSessionID("s1"))
	var got []job.SessionStatus
	for range 3 {
		resp, err := h.QueryStatus(context.Background())
		require.NoError(t, err)
		got = append(got, resp.Status)
	}
	require.Equal(t, []job.SessionStatus{job.StatusActive, job.StatusError, job.StatusError}, got)
}
