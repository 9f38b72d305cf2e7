package job

import (
	"errors"
	"fmt"
)

// Sentinel Errors returned by the job package.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFileAccess      = errors.New("file access error")
	ErrWrite           = errors.New("artifact write error")
)

// JobType is the job type sent with every submission.
const JobType = "deepspeed"

// SessionIDKey is the reserved option key carrying the session ID. It is
// always set by [Handle.Submit] and overwrites any caller supplied value.
const SessionIDKey = "eggroll.session.id"

// Defaults applied by [Handle.Submit] and [Handle.DownloadJob].
const (
	DefaultTimeoutSeconds            = 300
	DefaultResourceExhaustedStrategy = "waiting"
	DefaultCompressMethod            = "zip"
	DefaultCompressLevel             = 1
)

// Command identifiers of the job-control service.
const (
	CommandSubmitJob      = "/eggroll.deepspeed.JobService/SubmitJob"
	CommandQueryJobStatus = "/eggroll.deepspeed.JobService/QueryJobStatus"
	CommandQueryJob       = "/eggroll.deepspeed.JobService/QueryJob"
	CommandKillJob        = "/eggroll.deepspeed.JobService/KillJob"
	CommandDownloadJob    = "/eggroll.deepspeed.JobService/DownloadJob"
	CommandDestroySession = "/eggroll.session.SessionService/DestroySession"
)

// SessionStatus is the state of a session as reported by the service.
type SessionStatus string

// Session states. Only StatusNew and StatusActive are non-terminal.
const (
	StatusNew        SessionStatus = "NEW"
	StatusNewTimeout SessionStatus = "NEW_TIMEOUT"
	StatusActive     SessionStatus = "ACTIVE"
	StatusClosed     SessionStatus = "CLOSED"
	StatusKilled     SessionStatus = "KILLED"
	StatusError      SessionStatus = "ERROR"
	StatusFinished   SessionStatus = "FINISHED"
)

// IsTerminal reports whether the session has left the NEW and ACTIVE states.
// Unknown statuses are terminal.
func (s SessionStatus) IsTerminal() bool {
	return s != StatusNew && s != StatusActive
}

// ContentType selects the artifact category of a download.
type ContentType int

// Content types.
const (
	ContentAll ContentType = iota
	ContentModels
	ContentLogs
)

// Wire values of ContentType.
const (
	wireContentAll    = 0
	wireContentModels = 1
	wireContentLogs   = 2
)

// Wire returns the wire enumeration value of c. It panics for a value with no
// mapping, which can only happen if a ContentType is added without updating
// this method.
func (c ContentType) Wire() int32 {
	switch c {
	case ContentAll:
		return wireContentAll
	case ContentModels:
		return wireContentModels
	case ContentLogs:
		return wireContentLogs
	}
	panic(fmt.Sprintf("job: no wire value for content type %d", int(c)))
}

// String returns the lower case name of c as used on the command line.
func (c ContentType) String() string {
	switch c {
	case ContentAll:
		return "all"
	case ContentModels:
		return "models"
	case ContentLogs:
		return "logs"
	default:
		return fmt.Sprintf("ContentType(%d)", int(c))
	}
}

// ParseContentType parses the lower case name of a content type.
func ParseContentType(s string) (ContentType, error) {
	switch s {
	case "all", "":
		return ContentAll, nil
	case "models":
		return ContentModels, nil
	case "logs":
		return ContentLogs, nil
	}
	return 0, fmt.Errorf("%w: unknown content type %q", ErrInvalidArgument, s)
}
