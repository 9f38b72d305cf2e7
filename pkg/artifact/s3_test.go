package artifact_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/juliaogris/dsjob/pkg/artifact"
	"github.com/stretchr/testify/require"
)

// fakeS3 records the method and path of every request and accepts them all.
type fakeS3 struct {
	mutex    sync.Mutex
	requests []string
	status   int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	status := f.status
	f.mutex.Unlock()
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(status)
}

func newS3Sink(t *testing.T, f *fakeS3) *artifact.S3Sink {
	t.Helper()
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	sink, err := artifact.NewS3Sink(artifact.S3Config{
		Endpoint: strings.TrimPrefix(ts.URL, "http://"),
		Bucket:   "artifacts",
		Region:   "us-east-1",
		Prefix:   "jobs",
	})
	require.NoError(t, err)
	return sink
}

func TestS3SinkKey(t *testing.T) {
	t.Parallel()
	sink := newS3Sink(t, &fakeS3{status: http.StatusOK})
	require.Equal(t, "jobs/s1/rank_4.zip", sink.Key("s1", 4))
}

func TestS3SinkPut(t *testing.T) {
	t.Parallel()
	f := &fakeS3{status: http.StatusOK}
	sink := newS3Sink(t, f)
	ctx := context.Background()
	require.NoError(t, sink.EnsureBucket(ctx))
	require.NoError(t, sink.Put(ctx, "s1", 2, []byte("content")))
	f.mutex.Lock()
	defer f.mutex.Unlock()
	require.Contains(t, f.requests, "HEAD /artifacts/")
	require.Contains(t, f.requests, "PUT /artifacts/jobs/s1/rank_2.zip")
}

func TestS3SinkPutError(t *testing.T) {
	t.Parallel()
	sink := newS3Sink(t, &fakeS3{status: http.StatusForbidden})
	err := sink.Put(context.Background(), "s1", 2, []byte("content"))
	require.ErrorIs(t, err, artifact.ErrStore)
}

func TestNewS3SinkBadEndpoint(t *testing.T) {
	t.Parallel()
	_, err := artifact.NewS3Sink(artifact.S3Config{Endpoint: "http://not a host"})
	require.ErrorIs(t, err, artifact.ErrStore)
}
