package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/juliaogris/dsjob/pkg/artifact"
	"github.com/stretchr/testify/require"
)

func TestDefaultRankPath(t *testing.T) {
	t.Parallel()
	require.Equal(t, "rank_0.zip", artifact.DefaultRankPath(0))
	require.Equal(t, "rank_12.zip", artifact.DefaultRankPath(12))
}

func TestFileSink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sink := &artifact.FileSink{RankToPath: func(rank int) string {
		return filepath.Join(dir, artifact.DefaultRankPath(rank))
	}}
	ctx := context.Background()
	content := []byte{0x50, 0x4b, 0x05, 0x06, 0x00}
	require.NoError(t, sink.Put(ctx, "s1", 3, content))
	b, err := os.ReadFile(filepath.Join(dir, "rank_3.zip"))
	require.NoError(t, err)
	require.Equal(t, content, b)

	// existing files are truncated
	require.NoError(t, sink.Put(ctx, "s1", 3, []byte("x")))
	b, err = os.ReadFile(filepath.Join(dir, "rank_3.zip"))
	require.NoError(t, err)
	require.Equal(t, "x", string(b))
}

func TestFileSinkError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sink := &artifact.FileSink{RankToPath: func(int) string {
		return filepath.Join(dir, "missing", "rank.zip")
	}}
	err := sink.Put(context.Background(), "s1", 0, []byte("x"))
	require.ErrorIs(t, err, artifact.ErrFile)
}
