package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/juliaogris/dsjob/pkg/job"
	"github.com/juliaogris/dsjob/pkg/rpc/rpctest"
	"github.com/stretchr/testify/require"
)

func TestMainSimple(t *testing.T) {
	server := rpctest.Start(t)
	t.Setenv("DSJOB_ADDRESS", server.Address())
	t.Setenv("DSJOB_INSECURE", "true")

	dir := t.TempDir()
	script := filepath.Join(dir, "train.py")
	require.NoError(t, os.WriteFile(script, []byte("print(1)"), 0o600))

	out, err := run(t, []string{"submit", "--session-id", "s1", "-n", "2", "-f", "train.py=" + script, "-e", "SEED=1", "--", "python", "train.py"})
	require.NoError(t, err)
	require.Equal(t, "s1\n", out)

	submitted, ok := server.Submitted("s1")
	require.True(t, ok)
	require.Equal(t, []string{"python", "train.py"}, submitted.CommandArguments)
	require.Equal(t, map[string]string{"SEED": "1"}, submitted.EnvironmentVariables)
	require.Equal(t, map[string][]byte{"train.py": []byte("print(1)")}, submitted.Files)
	require.Equal(t, "s1", submitted.Options[job.SessionIDKey])

	out, err = run(t, []string{"status", "s1"})
	require.NoError(t, err)
	require.Equal(t, "NEW\n", out)

	out, err = run(t, []string{"await", "s1", "--poll-interval", "0s"})
	require.NoError(t, err)
	require.Equal(t, "FINISHED\n", out)

	out, err = run(t, []string{"session", "s1"})
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	// these test cases are fragile, let's keep them to a minimum
	require.Regexp(t, `^ID\s+NAME\s+STATUS\s+WORLD\s+CREATED\s+UPDATED$`, lines[0])
	require.Regexp(t, `^s1\s+session_s1\s+FINISHED\s+2\s+`, lines[1])
	require.Contains(t, lines[2], "0@127.0.0.1:FINISHED 1@127.0.0.1:FINISHED")
	require.Equal(t, "", lines[3])

	outDir := t.TempDir()
	out, err = run(t, []string{"download", "s1", "--out-dir", outDir, "--ranks", "1"})
	require.NoError(t, err)
	require.Equal(t, "", out)
	b, err := os.ReadFile(filepath.Join(outDir, "rank_1.zip"))
	require.NoError(t, err)
	require.Equal(t, "s1 rank 1", string(b))
	_, err = os.Stat(filepath.Join(outDir, "rank_0.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)

	out, err = run(t, []string{"kill", "s1"})
	require.NoError(t, err)
	require.Equal(t, "", out)

	out, err = run(t, []string{"cleanup", "s1"})
	require.NoError(t, err)
	require.Equal(t, "", out)

	_, err = run(t, []string{"status", "s1"})
	require.Error(t, err)

	// cleanup of a missing session is not an error
	_, err = run(t, []string{"cleanup", "s1"})
	require.NoError(t, err)
}

func TestMainAwaitTimeout(t *testing.T) {
	server := rpctest.Start(t)
	server.AddSession("s1", 1, job.StatusActive)
	t.Setenv("DSJOB_ADDRESS", server.Address())
	t.Setenv("DSJOB_INSECURE", "true")

	out, err := run(t, []string{"await", "s1", "--timeout", "50ms", "--poll-interval", "10ms"})
	require.ErrorIs(t, err, errNotFinished)
	require.Equal(t, "ACTIVE\n", out)
}

func TestMainDownloadInvalid(t *testing.T) {
	server := rpctest.Start(t)
	server.AddSession("s1", 1)
	t.Setenv("DSJOB_ADDRESS", server.Address())
	t.Setenv("DSJOB_INSECURE", "true")

	_, err := run(t, []string{"download", "s1", "--compress-level", "10", "--out-dir", t.TempDir()})
	require.ErrorIs(t, err, job.ErrInvalidArgument)
	require.Equal(t, 0, server.Calls(job.CommandDownloadJob))
}

func TestMainNoCredentials(t *testing.T) {
	_, err := run(t, []string{"status", "s1", "--address", "localhost:0"})
	require.Error(t, err)
}

func run(t *testing.T, args []string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	var w io.Writer = buf
	opts := []kong.Option{
		kong.Exit(exitFatalFn(t)),
		kong.Bind(&w),
	}
	parser, err := kong.New(&app{}, opts...)
	if err != nil {
		return "", fmt.Errorf("kong.New: %w", err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return buf.String(), fmt.Errorf("kong.Parser.Parse: %w", err)
	}
	err = kctx.Run()
	if err != nil {
		return buf.String(), fmt.Errorf("kong.Context.Run: %w", err)
	}
	return buf.String(), nil
}

func exitFatalFn(t *testing.T) func(c int) {
	t.Helper()
	return func(_ int) {
		t.Helper()
		t.Fatalf("unexpected exit by arg parser")
	}
}
