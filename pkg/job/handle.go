// Package job provides a client handle for distributed training jobs managed
// by a remote job-control service.
//
// A [Handle] identifies one job by its session ID and provides methods to:
//   - Submit: Submits the job with its files and options.
//   - QueryStatus, QuerySession: Return the current status or full session.
//   - Kill: Kills the job.
//   - AwaitFinished: Polls the status until the job leaves NEW and ACTIVE.
//   - DownloadJob, DownloadJobTo: Retrieve per-rank artifacts.
//   - Cleanup: Destroys the session on a best-effort basis.
//
// ## Transport:
// Every operation builds a request, dispatches it through the injected
// [Caller] and returns the decoded response. Transport errors are passed
// through wrapped, so gRPC status codes remain accessible with status.FromError.
//
// ## Concurrency:
// A Handle holds no mutable state and may be used from multiple goroutines
// if its Caller may.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/juliaogris/dsjob/pkg/artifact"
)

// sessionIDLayout formats the timestamp of generated session IDs. The
// microseconds are appended separately as the layout only knows fractional
// seconds after a period.
const sessionIDLayout = "20060102-150405"

// Caller dispatches a request for the given command and decodes the reply
// into resp. It is implemented by rpc.Client.
type Caller interface {
	Invoke(ctx context.Context, command string, req, resp any) error
}

// DestroyFunc destroys the session with the given ID.
type DestroyFunc func(ctx context.Context, caller Caller, sessionID string) error

// Handle is a client handle for one job, identified by its session ID.
type Handle struct {
	sessionID string
	caller    Caller
	destroy   DestroyFunc
}

// Option is a functional option for the Handle.
type Option func(*Handle)

// WithSessionID sets the session ID of the Handle. An empty ID is ignored and
// a new one is generated.
func WithSessionID(id string) Option {
	return func(h *Handle) {
		if id != "" {
			h.sessionID = id
		}
	}
}

// WithDestroyer replaces the session destroy operation used by
// [Handle.Cleanup]. The default is [DestroySession].
func WithDestroyer(fn DestroyFunc) Option {
	return func(h *Handle) {
		h.destroy = fn
	}
}

// NewHandle creates a new Handle that dispatches all requests through caller.
// Without [WithSessionID] a session ID of the form
// deepspeed_session_<YYYYMMDD-HHMMSS-micro> is generated from the current UTC
// time.
func NewHandle(caller Caller, opts ...Option) *Handle {
	h := &Handle{
		caller:  caller,
		destroy: DestroySession,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.sessionID == "" {
		h.sessionID = NewSessionID(time.Now())
	}
	return h
}

// NewSessionID returns the default session ID for the given time.
func NewSessionID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("deepspeed_session_%s-%06d", t.Format(sessionIDLayout), t.Nanosecond()/int(time.Microsecond))
}

// SessionID returns the session ID of the job.
func (h *Handle) SessionID() string {
	return h.sessionID
}

// SubmitOptions holds the parameters of [Handle.Submit]. Zero values are
// replaced by defaults.
type SubmitOptions struct {
	Name                 string
	WorldSize            int
	CommandArguments     []string
	EnvironmentVariables map[string]string
	Files                map[string]string // logical name to local path
	ZippedFiles          map[string]string // logical name to local path
	ResourceOptions      ResourceOptions
	Options              map[string]any
}

// Submit submits the job. All files are read before the request is sent; an
// unreadable file fails with [ErrFileAccess] without any network call.
//
// The session ID is always stored in the options under [SessionIDKey],
// overwriting a caller supplied value for that key.
func (h *Handle) Submit(ctx context.Context, opts SubmitOptions) (*SubmitJobResponse, error) {
	req, err := h.submitRequest(opts)
	if err != nil {
		return nil, err
	}
	resp := &SubmitJobResponse{}
	if err := h.caller.Invoke(ctx, CommandSubmitJob, req, resp); err != nil {
		return nil, fmt.Errorf("cannot submit job %q: %w", h.sessionID, err)
	}
	return resp, nil
}

func (h *Handle) submitRequest(opts SubmitOptions) (*SubmitJobRequest, error) {
	name := opts.Name
	if name == "" {
		name = "session_" + h.sessionID
	}
	worldSize := opts.WorldSize
	if worldSize == 0 {
		worldSize = 1
	}
	if worldSize < 1 {
		return nil, fmt.Errorf("%w: world size must be at least 1, got %d", ErrInvalidArgument, worldSize)
	}
	resourceOptions := opts.ResourceOptions
	timeoutSeconds := DefaultTimeoutSeconds
	if resourceOptions.TimeoutSeconds != nil {
		timeoutSeconds = *resourceOptions.TimeoutSeconds
	}
	resourceOptions.TimeoutSeconds = &timeoutSeconds
	if resourceOptions.ResourceExhaustedStrategy == "" {
		resourceOptions.ResourceExhaustedStrategy = DefaultResourceExhaustedStrategy
	}
	files, err := readFiles(opts.Files)
	if err != nil {
		return nil, err
	}
	zippedFiles, err := readFiles(opts.ZippedFiles)
	if err != nil {
		return nil, err
	}
	args := opts.CommandArguments
	if args == nil {
		args = []string{}
	}
	env := maps.Clone(opts.EnvironmentVariables)
	if env == nil {
		env = map[string]string{}
	}
	return &SubmitJobRequest{
		SessionID:            h.sessionID,
		Name:                 name,
		JobType:              JobType,
		WorldSize:            worldSize,
		CommandArguments:     args,
		EnvironmentVariables: env,
		Files:                files,
		ZippedFiles:          zippedFiles,
		ResourceOptions:      resourceOptions,
		Options:              h.options(opts.Options),
	}, nil
}

// options converts the free-form options to their string wire form and sets
// the session ID last so that it takes precedence.
func (h *Handle) options(in map[string]any) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	out[SessionIDKey] = h.sessionID
	return out
}

// QueryStatus returns the current status of the job.
func (h *Handle) QueryStatus(ctx context.Context) (*QueryJobStatusResponse, error) {
	req := &QueryJobStatusRequest{SessionID: h.sessionID}
	resp := &QueryJobStatusResponse{}
	if err := h.caller.Invoke(ctx, CommandQueryJobStatus, req, resp); err != nil {
		return nil, fmt.Errorf("cannot query status of job %q: %w", h.sessionID, err)
	}
	return resp, nil
}

// QuerySession returns the full session descriptor of the job.
func (h *Handle) QuerySession(ctx context.Context) (*QueryJobResponse, error) {
	req := &QueryJobRequest{SessionID: h.sessionID}
	resp := &QueryJobResponse{}
	if err := h.caller.Invoke(ctx, CommandQueryJob, req, resp); err != nil {
		return nil, fmt.Errorf("cannot query job %q: %w", h.sessionID, err)
	}
	return resp, nil
}

// Kill kills the job. Killing a job that has already terminated is
// forwarded to the service unchanged.
func (h *Handle) Kill(ctx context.Context) (*KillJobResponse, error) {
	req := &KillJobRequest{SessionID: h.sessionID}
	resp := &KillJobResponse{}
	if err := h.caller.Invoke(ctx, CommandKillJob, req, resp); err != nil {
		return nil, fmt.Errorf("cannot kill job %q: %w", h.sessionID, err)
	}
	return resp, nil
}

// AwaitFinished polls the job status every pollInterval until the status is
// terminal or timeout has elapsed. A timeout of zero or less polls forever.
//
// The last observed status is returned in both cases, so callers must check
// [SessionStatus.IsTerminal] to tell a finished job from a timed out wait.
// The sleep after the last poll is not clamped to the deadline, so the wait
// may overrun the timeout by up to one poll interval.
//
// If ctx is cancelled while sleeping, the last observed status is returned
// together with the context error.
func (h *Handle) AwaitFinished(ctx context.Context, timeout, pollInterval time.Duration) (SessionStatus, error) {
	deadline := time.Now().Add(timeout)
	resp, err := h.QueryStatus(ctx)
	if err != nil {
		return "", err
	}
	for timeout <= 0 || time.Now().Before(deadline) {
		if resp.Status.IsTerminal() {
			break
		}
		if resp, err = h.QueryStatus(ctx); err != nil {
			return "", err
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return resp.Status, err
		}
	}
	return resp.Status, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("await finished: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await finished: %w", ctx.Err())
	}
}

// DownloadOptions holds the parameters of [Handle.DownloadJob].
type DownloadOptions struct {
	// Ranks to download. Empty lets the service decide, which is all ranks.
	Ranks       []int
	ContentType ContentType
	// CompressMethod defaults to "zip", the only supported method.
	CompressMethod string
	// CompressLevel must be in [0, 9]. Nil means DefaultCompressLevel.
	CompressLevel *int
}

// DownloadJob downloads the compressed artifacts of the job, one blob per
// rank. An unsupported compression method or level fails with
// [ErrInvalidArgument] before any request is sent.
func (h *Handle) DownloadJob(ctx context.Context, opts DownloadOptions) (*DownloadJobResponse, error) {
	level := DefaultCompressLevel
	if opts.CompressLevel != nil {
		level = *opts.CompressLevel
	}
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("%w: compress level must be in [0, 9], got %d", ErrInvalidArgument, level)
	}
	method := opts.CompressMethod
	if method == "" {
		method = DefaultCompressMethod
	}
	if method != "zip" {
		return nil, fmt.Errorf("%w: compress method must be \"zip\", got %q", ErrInvalidArgument, method)
	}
	ranks := opts.Ranks
	if ranks == nil {
		ranks = []int{}
	}
	req := &DownloadJobRequest{
		SessionID:      h.sessionID,
		Ranks:          ranks,
		CompressMethod: method,
		CompressLevel:  level,
		ContentType:    opts.ContentType.Wire(),
	}
	resp := &DownloadJobResponse{}
	if err := h.caller.Invoke(ctx, CommandDownloadJob, req, resp); err != nil {
		return nil, fmt.Errorf("cannot download job %q: %w", h.sessionID, err)
	}
	return resp, nil
}

// DownloadJobTo downloads the artifacts of the job and writes the content of
// each rank to the file returned by rankToPath. A nil rankToPath writes to
// rank_<rank>.zip in the working directory.
func (h *Handle) DownloadJobTo(ctx context.Context, opts DownloadOptions, rankToPath func(rank int) string) error {
	if rankToPath == nil {
		rankToPath = artifact.DefaultRankPath
	}
	return h.DownloadJobToSink(ctx, opts, &artifact.FileSink{RankToPath: rankToPath})
}

// DownloadJobToSink downloads the artifacts of the job and stores the content
// of each rank in sink.
//
// Contents are paired with ranks by position: the requested ranks if given,
// otherwise 0 to n-1 for n returned contents. The first failing write aborts
// the remaining writes.
func (h *Handle) DownloadJobToSink(ctx context.Context, opts DownloadOptions, sink artifact.Sink) error {
	resp, err := h.DownloadJob(ctx, opts)
	if err != nil {
		return err
	}
	contents := resp.ContainerContent
	ranks := opts.Ranks
	if len(ranks) == 0 {
		ranks = make([]int, len(contents))
		for i := range ranks {
			ranks[i] = i
		}
	}
	for i := range min(len(ranks), len(contents)) {
		if err := sink.Put(ctx, h.sessionID, ranks[i], contents[i].Content); err != nil {
			return fmt.Errorf("%w: rank %d: %w", ErrWrite, ranks[i], err)
		}
	}
	return nil
}

// Cleanup destroys the session on a best-effort basis. Errors are logged at
// debug level and never returned.
func (h *Handle) Cleanup(ctx context.Context) {
	if err := h.destroy(ctx, h.caller, h.sessionID); err != nil {
		slog.Debug("session cleanup failed", "session", h.sessionID, "error", err)
	}
}

// DestroySession destroys the session with the given ID through the session
// service.
func DestroySession(ctx context.Context, caller Caller, sessionID string) error {
	req := &DestroySessionRequest{SessionID: sessionID}
	if err := caller.Invoke(ctx, CommandDestroySession, req, &DestroySessionResponse{}); err != nil {
		return fmt.Errorf("cannot destroy session %q: %w", sessionID, err)
	}
	return nil
}
