// Package rpctest provides an in-process job-control service for tests.
//
// The [Server] speaks the same gRPC commands and [rpc.Codec] as the real
// service and keeps sessions in memory. Status queries walk through a
// scripted sequence of statuses per session, by default NEW, ACTIVE,
// FINISHED, so that polling clients observe progress.
package rpctest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/juliaogris/dsjob/pkg/job"
	"github.com/juliaogris/dsjob/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

// DefaultStatuses is the status sequence of a newly submitted session.
var DefaultStatuses = []job.SessionStatus{job.StatusNew, job.StatusActive, job.StatusFinished} //nolint:gochecknoglobals

// Server is an in-memory job-control service served over gRPC.
type Server struct {
	*grpc.Server
	address string

	mutex      sync.Mutex
	sessions   map[string]*session
	calls      map[string]int
	requestIDs []string
}

type session struct {
	request  job.SubmitJobRequest
	statuses []job.SessionStatus
	created  time.Time
	contents map[int][]byte
}

// Option is a functional option for the Server.
type Option func(*config)

type config struct {
	tlsConfig *tls.Config
}

// WithTLSConfig serves with the given TLS configuration instead of plain
// text, see rpc.ServerTLSConfig.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *config) {
		c.tlsConfig = tlsConfig
	}
}

// NewServer creates a new Server. It is not listening yet, see [Start].
func NewServer(opts ...Option) *Server {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	s := &Server{
		sessions: map[string]*session{},
		calls:    map[string]int{},
	}
	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(rpc.Codec{}),
		grpc.UnknownServiceHandler(s.handle),
	}
	if c.tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(c.tlsConfig)))
	}
	s.Server = grpc.NewServer(serverOpts...)
	return s
}

// Start creates a new Server listening on a random local port and serving in
// the background. The server is stopped when the test finishes.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := NewServer(opts...)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	s.address = lis.Addr().String()
	go func() {
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Errorf("cannot start test server %v", err)
		}
	}()
	t.Cleanup(s.Stop)
	return s
}

// Address returns the listening address of a Server created with [Start].
func (s *Server) Address() string {
	return s.address
}

// AddSession adds a session as if it had been submitted with a world size of
// worldSize. Without statuses the session walks through [DefaultStatuses].
func (s *Server) AddSession(id string, worldSize int, statuses ...job.SessionStatus) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions[id] = newSession(job.SubmitJobRequest{SessionID: id, Name: "session_" + id, WorldSize: worldSize}, statuses)
}

// SetStatuses replaces the remaining status sequence of a session. The last
// status is repeated once the sequence is exhausted, so at least one status
// is required.
func (s *Server) SetStatuses(id string, statuses ...job.SessionStatus) error {
	if len(statuses) == 0 {
		return errors.New("empty status sequence")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	sess.statuses = slices.Clone(statuses)
	return nil
}

// SetContent sets the download content of one rank of a session.
func (s *Server) SetContent(id string, rank int, content []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	sess.contents[rank] = slices.Clone(content)
	return nil
}

// Submitted returns the submit request received for a session.
func (s *Server) Submitted(id string) (job.SubmitJobRequest, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return job.SubmitJobRequest{}, false
	}
	return sess.request, true
}

// Calls returns the number of calls received for the given command.
func (s *Server) Calls(command string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calls[command]
}

// RequestIDs returns the request IDs of all calls received so far.
func (s *Server) RequestIDs() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return slices.Clone(s.requestIDs)
}

func newSession(req job.SubmitJobRequest, statuses []job.SessionStatus) *session {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	contents := map[int][]byte{}
	for rank := range max(req.WorldSize, 1) {
		contents[rank] = []byte(fmt.Sprintf("%s rank %d", req.SessionID, rank))
	}
	return &session{
		request:  req,
		statuses: slices.Clone(statuses),
		created:  time.Now(),
		contents: contents,
	}
}

// current returns the current status without advancing.
func (sess *session) current() job.SessionStatus {
	return sess.statuses[0]
}

// next returns the current status and advances the sequence, keeping the
// last status.
func (sess *session) next() job.SessionStatus {
	st := sess.statuses[0]
	if len(sess.statuses) > 1 {
		sess.statuses = sess.statuses[1:]
	}
	return st
}

// handle serves every command. It decodes the request type belonging to the
// method, dispatches it and sends the response.
func (s *Server) handle(_ any, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Errorf(codes.Internal, "no method in stream")
	}
	s.record(stream.Context(), method)
	var resp any
	var err error
	switch method {
	case job.CommandSubmitJob:
		req := &job.SubmitJobRequest{}
		if err := stream.RecvMsg(req); err != nil {
			return err //nolint:wrapcheck // status error
		}
		resp, err = s.submit(req)
	case job.CommandQueryJobStatus:
		req := &job.QueryJobStatusRequest{}
		if err := stream.RecvMsg(req); err != nil {
			return err //nolint:wrapcheck // status error
		}
		resp, err = s.queryStatus(req)
	case job.CommandQueryJob:
		req := &job.QueryJobRequest{}
		if err := stream.RecvMsg(req); err != nil {
			return err //nolint:wrapcheck // status error
		}
		resp, err = s.query(req)
	case job.CommandKillJob:
		req := &job.KillJobRequest{}
		if err := stream.RecvMsg(req); err != nil {
			return err //nolint:wrapcheck // status error
		}
		resp, err = s.kill(req)
	case job.CommandDownloadJob:
		req := &job.DownloadJobRequest{}
		if err := stream.RecvMsg(req); err != nil {
			return err //nolint:wrapcheck // status error
		}
		resp, err = s.download(req)
	case job.CommandDestroySession:
		req := &job.DestroySessionRequest{}
		if err := stream.RecvMsg(req); err != nil {
			return err //nolint:wrapcheck // status error
		}
		resp, err = s.destroy(req)
	default:
		return status.Errorf(codes.Unimplemented, "unknown command %q", method)
	}
	if err != nil {
		return err
	}
	return stream.SendMsg(resp) //nolint:wrapcheck // status error
}

func (s *Server) record(ctx context.Context, method string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calls[method]++
	if id := rpc.RequestID(ctx); id != "" {
		s.requestIDs = append(s.requestIDs, id)
	}
}

func (s *Server) submit(req *job.SubmitJobRequest) (*job.SubmitJobResponse, error) {
	if req.SessionID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "empty session id")
	}
	if req.WorldSize < 1 {
		return nil, status.Errorf(codes.InvalidArgument, "invalid world size %d", req.WorldSize)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.sessions[req.SessionID]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "session %q already exists", req.SessionID)
	}
	s.sessions[req.SessionID] = newSession(*req, nil)
	return &job.SubmitJobResponse{SessionID: req.SessionID}, nil
}

func (s *Server) queryStatus(req *job.QueryJobStatusRequest) (*job.QueryJobStatusResponse, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, err := s.get(req.SessionID)
	if err != nil {
		return nil, err
	}
	return &job.QueryJobStatusResponse{SessionID: req.SessionID, Status: sess.next()}, nil
}

func (s *Server) query(req *job.QueryJobRequest) (*job.QueryJobResponse, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, err := s.get(req.SessionID)
	if err != nil {
		return nil, err
	}
	st := sess.current()
	processors := make([]job.Processor, sess.request.WorldSize)
	for rank := range processors {
		processors[rank] = job.Processor{
			ID:     int64(rank + 1),
			Rank:   rank,
			Node:   "127.0.0.1",
			Status: string(st),
		}
	}
	return &job.QueryJobResponse{Session: job.SessionDescriptor{
		ID:         req.SessionID,
		Name:       sess.request.Name,
		Status:     st,
		Tag:        sess.request.JobType,
		Processors: processors,
		Created:    sess.created.Unix(),
		Updated:    time.Now().Unix(),
	}}, nil
}

func (s *Server) kill(req *job.KillJobRequest) (*job.KillJobResponse, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, err := s.get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if !sess.current().IsTerminal() {
		sess.statuses = []job.SessionStatus{job.StatusKilled}
	}
	return &job.KillJobResponse{SessionID: req.SessionID}, nil
}

func (s *Server) download(req *job.DownloadJobRequest) (*job.DownloadJobResponse, error) {
	if req.CompressMethod != "zip" {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported compress method %q", req.CompressMethod)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, err := s.get(req.SessionID)
	if err != nil {
		return nil, err
	}
	ranks := req.Ranks
	if len(ranks) == 0 {
		ranks = make([]int, sess.request.WorldSize)
		for i := range ranks {
			ranks[i] = i
		}
	}
	resp := &job.DownloadJobResponse{SessionID: req.SessionID}
	for _, rank := range ranks {
		content, ok := sess.contents[rank]
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "session %q has no rank %d", req.SessionID, rank)
		}
		resp.ContainerContent = append(resp.ContainerContent, job.ContainerContent{Rank: rank, Content: content})
	}
	return resp, nil
}

func (s *Server) destroy(req *job.DestroySessionRequest) (*job.DestroySessionResponse, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, err := s.get(req.SessionID); err != nil {
		return nil, err
	}
	delete(s.sessions, req.SessionID)
	return &job.DestroySessionResponse{}, nil
}

// get retrieves a session by ID. The caller must hold the mutex.
func (s *Server) get(id string) (*session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %q not found", id)
	}
	return sess, nil
}
