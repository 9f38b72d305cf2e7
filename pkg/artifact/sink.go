// Package artifact stores the downloaded per-rank artifacts of a job.
//
// A [Sink] receives the compressed content of one rank at a time. The
// [FileSink] writes to local files, the [S3Sink] uploads to S3-compatible
// object storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Sentinel Errors returned by the artifact package.
var (
	ErrFile  = errors.New("artifact file error")
	ErrStore = errors.New("artifact store error")
)

// Sink stores the content of a single rank of a session.
type Sink interface {
	Put(ctx context.Context, sessionID string, rank int, content []byte) error
}

// DefaultRankPath returns rank_<rank>.zip.
func DefaultRankPath(rank int) string {
	return fmt.Sprintf("rank_%d.zip", rank)
}

// FileSink writes the content of each rank to the local file returned by
// RankToPath, truncating existing files.
type FileSink struct {
	RankToPath func(rank int) string
}

// Put writes content to the file for rank. The file is closed on all paths
// and a failing close is reported as an error.
func (s *FileSink) Put(_ context.Context, _ string, rank int, content []byte) (err error) { //nolint:nonamedreturns // deliberate close error
	rankToPath := s.RankToPath
	if rankToPath == nil {
		rankToPath = DefaultRankPath
	}
	path := rankToPath(rank)
	f, err := os.Create(path) //nolint:gosec // G304: Potential file inclusion via variable
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFile, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: cannot close %q: %w", ErrFile, path, cerr)
		}
	}()
	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("%w: cannot write %q: %w", ErrFile, path, err)
	}
	return nil
}
