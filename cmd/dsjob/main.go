// Dsjob is the client CLI for distributed training jobs managed by a remote
// job-control service.
//
// It communicates with the job-control service over gRPC. The CLI supports
// the following commands:
//
//   - submit: submits a new job and prints its session ID.
//   - status: prints the status of a job.
//   - session: prints the session details of a job.
//   - kill: kills a job.
//   - await: waits for a job to finish and prints its final status.
//   - download: downloads the per-rank artifacts of a job.
//   - cleanup: destroys the session of a job, ignoring errors.
//
// Each command requires the address of the job-control service and either
// the client's certificate and key for mTLS authentication or the --insecure
// flag. The server's CA certificate can also be provided if it's not
// available as part of the system's trust store.
//
// The CLI optionally uses environment variables for its configuration. The
// following environment variables are supported:
//
//   - DSJOB_ADDRESS: the address of the job-control service.
//   - DSJOB_CLIENT_CERT: the path to the client's certificate file.
//   - DSJOB_CLIENT_KEY: the path to the client's key file.
//   - DSJOB_SERVER_CA_CERT: the path to the server's CA certificate file.
//   - DSJOB_INSECURE: use a plain text connection.
//   - DSJOB_LOG_LEVEL: one of debug, info, warn, error.
//   - DSJOB_S3_ENDPOINT, DSJOB_S3_ACCESS_KEY, DSJOB_S3_SECRET_KEY,
//     DSJOB_S3_REGION, DSJOB_S3_USE_SSL: object storage for download --bucket.
//
// Example usage after environment setup:
//
//	dsjob submit -n 2 -f train.py=./train.py -- python train.py
//	dsjob await <session_id> --timeout 1h
//	dsjob download <session_id> --ranks 0,1 --out-dir ./out
//	dsjob cleanup <session_id>
//	dsjob [COMMAND] --help
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/juliaogris/dsjob/pkg/artifact"
	"github.com/juliaogris/dsjob/pkg/job"
	"github.com/juliaogris/dsjob/pkg/rpc"
)

const description = "Dsjob is a client CLI for distributed training jobs."

var errNotFinished = errors.New("job not finished")

type app struct {
	LogLevel string `help:"Log level." enum:"debug,info,warn,error" default:"warn" env:"DSJOB_LOG_LEVEL"`

	Submit   submitCmd   `cmd:"" help:"Submit a new job and print its session ID."`
	Status   statusCmd   `cmd:"" help:"Print the status of the job with given session ID."`
	Session  sessionCmd  `cmd:"" help:"Print the session details of the job with given session ID."`
	Kill     killCmd     `cmd:"" help:"Kill the job with given session ID."`
	Await    awaitCmd    `cmd:"" help:"Wait for the job with given session ID to finish and print its status."`
	Download downloadCmd `cmd:"" help:"Download the artifacts of the job with given session ID."`
	Cleanup  cleanupCmd  `cmd:"" help:"Destroy the session with given ID. Errors are ignored."`
}

func main() {
	var writer io.Writer = os.Stdout
	opts := []kong.Option{
		kong.Bind(&writer),
		kong.Description(description),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	}
	kctx := kong.Parse(&app{}, opts...)
	kctx.FatalIfErrorf(kctx.Run())
}

// AfterApply is called by [kong] after flag validation and configures the
// default slog logger.
func (a *app) AfterApply() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.LogLevel, err)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

type cmd struct {
	Address      string `required:"" short:"A" help:"Server address." env:"DSJOB_ADDRESS"`
	ClientCert   string `help:"Client Certificate file." env:"DSJOB_CLIENT_CERT"`
	ClientKey    string `help:"Client Private Key file." env:"DSJOB_CLIENT_KEY"`
	ServerCACert string `help:"Server CA certificate file." env:"DSJOB_SERVER_CA_CERT"`
	Insecure     bool   `help:"Use a plain text connection instead of mTLS." env:"DSJOB_INSECURE"`

	client *rpc.Client
	w      io.Writer // can be overridden for testing
}

type submitCmd struct {
	cmd
	SessionID                 string            `help:"Session ID, generated if empty." env:"DSJOB_SESSION_ID"`
	Name                      string            `help:"Job name, defaults to session_<session ID>."`
	WorldSize                 int               `short:"n" default:"1" help:"Number of worker processes."`
	Env                       map[string]string `short:"e" help:"Environment variable KEY=VALUE."`
	File                      map[string]string `short:"f" help:"File to send, NAME=PATH."`
	ZippedFile                map[string]string `short:"z" help:"Zip archive to send, NAME=PATH."`
	Option                    map[string]string `short:"o" help:"Job option KEY=VALUE."`
	Timeout                   int               `default:"300" help:"Seconds to wait for resources."`
	ResourceExhaustedStrategy string            `default:"waiting" help:"Strategy if resources are exhausted."`
	Args                      []string          `arg:"" optional:"" help:"Command arguments."`
}

type statusCmd struct {
	cmd
	SessionID string `arg:"" required:"" help:"Session ID."`
}

type sessionCmd struct {
	cmd
	SessionID  string `arg:"" required:"" help:"Session ID."`
	TimeFormat string `short:"t" help:"Time format." default:"2006-01-02T15:04:05Z07:00" env:"DSJOB_TIME_FORMAT"`
}

type killCmd struct {
	cmd
	SessionID string `arg:"" required:"" help:"Session ID."`
}

type awaitCmd struct {
	cmd
	SessionID    string        `arg:"" required:"" help:"Session ID."`
	Timeout      time.Duration `help:"Maximum time to wait, 0 waits forever." default:"0s"`
	PollInterval time.Duration `help:"Time between status queries." default:"1s"`
}

type downloadCmd struct {
	cmd
	SessionID     string `arg:"" required:"" help:"Session ID."`
	Ranks         []int  `help:"Ranks to download, all if empty."`
	ContentType   string `help:"Content to download." enum:"all,models,logs" default:"all"`
	CompressLevel int    `help:"Zip compression level 0-9." default:"1"`
	OutDir        string `short:"d" help:"Directory for rank_<rank>.zip files." default:"." type:"path"`

	Bucket      string `help:"Upload to this S3 bucket instead of writing files." env:"DSJOB_S3_BUCKET"`
	Prefix      string `help:"S3 object key prefix." env:"DSJOB_S3_PREFIX"`
	S3Endpoint  string `help:"S3 endpoint host:port." env:"DSJOB_S3_ENDPOINT"`
	S3AccessKey string `help:"S3 access key." env:"DSJOB_S3_ACCESS_KEY"`
	S3SecretKey string `help:"S3 secret key." env:"DSJOB_S3_SECRET_KEY"`
	S3Region    string `help:"S3 region." env:"DSJOB_S3_REGION"`
	S3UseSSL    bool   `help:"Use TLS for S3." env:"DSJOB_S3_USE_SSL"`
}

type cleanupCmd struct {
	cmd
	SessionID string `arg:"" required:"" help:"Session ID."`
}

// Run is called by [kong] when the CLI arguments contain the `submit` command.
func (c *submitCmd) Run() error {
	h := job.NewHandle(c.client, job.WithSessionID(c.SessionID))
	options := make(map[string]any, len(c.Option))
	for k, v := range c.Option {
		options[k] = v
	}
	opts := job.SubmitOptions{
		Name:                 c.Name,
		WorldSize:            c.WorldSize,
		CommandArguments:     c.Args,
		EnvironmentVariables: c.Env,
		Files:                c.File,
		ZippedFiles:          c.ZippedFile,
		ResourceOptions: job.ResourceOptions{
			TimeoutSeconds:            &c.Timeout,
			ResourceExhaustedStrategy: c.ResourceExhaustedStrategy,
		},
		Options: options,
	}
	if _, err := h.Submit(context.Background(), opts); err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	if _, err := fmt.Fprintln(c.w, h.SessionID()); err != nil {
		return fmt.Errorf("failed to write session ID %q: %w", h.SessionID(), err)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `status` command.
func (c *statusCmd) Run() error {
	h := job.NewHandle(c.client, job.WithSessionID(c.SessionID))
	resp, err := h.QueryStatus(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get job status: %w", err)
	}
	if _, err := fmt.Fprintln(c.w, resp.Status); err != nil {
		return fmt.Errorf("failed to write job status: %w", err)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `session` command.
func (c *sessionCmd) Run() error {
	h := job.NewHandle(c.client, job.WithSessionID(c.SessionID))
	resp, err := h.QuerySession(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get job session: %w", err)
	}
	return printSession(c.w, resp.Session, c.TimeFormat)
}

// Run is called by [kong] when the CLI arguments contain the `kill` command.
func (c *killCmd) Run() error {
	h := job.NewHandle(c.client, job.WithSessionID(c.SessionID))
	if _, err := h.Kill(context.Background()); err != nil {
		return fmt.Errorf("failed to kill job: %w", err)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `await` command.
// It fails with errNotFinished if the timeout elapses before the job has
// finished.
func (c *awaitCmd) Run() error {
	h := job.NewHandle(c.client, job.WithSessionID(c.SessionID))
	st, err := h.AwaitFinished(context.Background(), c.Timeout, c.PollInterval)
	if err != nil {
		return fmt.Errorf("failed to await job: %w", err)
	}
	if _, err := fmt.Fprintln(c.w, st); err != nil {
		return fmt.Errorf("failed to write job status: %w", err)
	}
	if !st.IsTerminal() {
		return fmt.Errorf("%w: %s after %v", errNotFinished, st, c.Timeout)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `download`
// command.
func (c *downloadCmd) Run() error {
	contentType, err := job.ParseContentType(c.ContentType)
	if err != nil {
		return err //nolint:wrapcheck // validated by kong enum
	}
	opts := job.DownloadOptions{
		Ranks:         c.Ranks,
		ContentType:   contentType,
		CompressLevel: &c.CompressLevel,
	}
	sink, err := c.sink()
	if err != nil {
		return err
	}
	h := job.NewHandle(c.client, job.WithSessionID(c.SessionID))
	if err := h.DownloadJobToSink(context.Background(), opts, sink); err != nil {
		return fmt.Errorf("failed to download job: %w", err)
	}
	return nil
}

func (c *downloadCmd) sink() (artifact.Sink, error) {
	if c.Bucket == "" {
		rankToPath := func(rank int) string {
			return filepath.Join(c.OutDir, artifact.DefaultRankPath(rank))
		}
		return &artifact.FileSink{RankToPath: rankToPath}, nil
	}
	s3, err := artifact.NewS3Sink(artifact.S3Config{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Bucket:    c.Bucket,
		Region:    c.S3Region,
		UseSSL:    c.S3UseSSL,
		Prefix:    c.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 sink: %w", err)
	}
	if err := s3.EnsureBucket(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create S3 sink: %w", err)
	}
	return s3, nil
}

// Run is called by [kong] when the CLI arguments contain the `cleanup`
// command. It never fails.
func (c *cleanupCmd) Run() error {
	h := job.NewHandle(c.client, job.WithSessionID(c.SessionID))
	h.Cleanup(context.Background())
	return nil
}

// AfterApply is called by [kong] immediately after flag validation and
// assignment and _before_ a command's Run method. It is useful for setting up
// common resources like gRPC connections.
//
// The pointer to the io.Writer is required to keep the io.Writer type when
// passing through an `any` parameter on the [kong.Bind] function.
func (c *cmd) AfterApply(w *io.Writer) error {
	c.w = cmp.Or(*w, io.Writer(os.Stdout))
	var opt rpc.Option
	if c.Insecure {
		opt = rpc.WithInsecure()
	} else {
		opt = rpc.WithTLS(c.ClientCert, c.ClientKey, c.ServerCACert)
	}
	client, err := rpc.NewClient(c.Address, opt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	c.client = client
	return nil
}

// AfterRun is called by [kong] immediately after a command's Run method
// completes. It is useful for cleaning up common resources like gRPC
// connections.
func (c *cmd) AfterRun() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("after run: %w", err)
	}
	return nil
}

// printSession writes the session and its processors to the provided writer
// in a tabular format.
func printSession(w io.Writer, s job.SessionDescriptor, layout string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, err := fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tWORLD\tCREATED\tUPDATED")
	if err != nil {
		return fmt.Errorf("cannot write session header: %w", err)
	}
	created := unixTimeString(s.Created, layout)
	updated := unixTimeString(s.Updated, layout)
	_, err = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Name, s.Status, len(s.Processors), created, updated)
	if err != nil {
		return fmt.Errorf("cannot write session content: %w", err)
	}
	if len(s.Processors) > 0 {
		ranks := make([]string, len(s.Processors))
		for i, p := range s.Processors {
			ranks[i] = fmt.Sprintf("%d@%s:%s", p.Rank, p.Node, p.Status)
		}
		if _, err := fmt.Fprintf(tw, "\t%s\n", strings.Join(ranks, " ")); err != nil {
			return fmt.Errorf("cannot write session processors: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("cannot flush session tab writer: %w", err)
	}
	return nil
}

// unixTimeString formats unix seconds according to the provided layout. Zero
// yields an empty string.
func unixTimeString(sec int64, layout string) string {
	if sec == 0 {
		return ""
	}
	return time.Unix(sec, 0).Local().Format(layout) //nolint:gosmopolitan // usage of time.Local in local client CLI makes timestamps more readable.
}
