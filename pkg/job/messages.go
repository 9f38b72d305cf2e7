package job

// The request and response types in this file are the payloads of the
// job-control commands. Field names follow the service's snake_case schema.
// int64 fields are tagged as strings so that they survive the double
// representation of the wire codec.

// ResourceOptions controls how the service provisions a submitted job.
// A nil TimeoutSeconds means DefaultTimeoutSeconds; an explicit 0 is sent
// unchanged.
type ResourceOptions struct {
	TimeoutSeconds            *int   `json:"timeout_seconds"`
	ResourceExhaustedStrategy string `json:"resource_exhausted_strategy"`
}

// SubmitJobRequest is the payload of CommandSubmitJob.
type SubmitJobRequest struct {
	SessionID            string            `json:"session_id"`
	Name                 string            `json:"name"`
	JobType              string            `json:"job_type"`
	WorldSize            int               `json:"world_size"`
	CommandArguments     []string          `json:"command_arguments"`
	EnvironmentVariables map[string]string `json:"environment_variables"`
	Files                map[string][]byte `json:"files"`
	ZippedFiles          map[string][]byte `json:"zipped_files"`
	ResourceOptions      ResourceOptions   `json:"resource_options"`
	Options              map[string]string `json:"options"`
}

// SubmitJobResponse acknowledges a submission.
type SubmitJobResponse struct {
	SessionID string `json:"session_id"`
}

// QueryJobStatusRequest is the payload of CommandQueryJobStatus.
type QueryJobStatusRequest struct {
	SessionID string `json:"session_id"`
}

// QueryJobStatusResponse carries the current status of a session.
type QueryJobStatusResponse struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
}

// QueryJobRequest is the payload of CommandQueryJob.
type QueryJobRequest struct {
	SessionID string `json:"session_id"`
}

// QueryJobResponse carries the full session descriptor.
type QueryJobResponse struct {
	Session SessionDescriptor `json:"session"`
}

// SessionDescriptor describes a session and its processors.
type SessionDescriptor struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     SessionStatus `json:"status"`
	Tag        string        `json:"tag,omitempty"`
	Processors []Processor   `json:"processors,omitempty"`
	Created    int64         `json:"created,string,omitempty"` // unix seconds
	Updated    int64         `json:"updated,string,omitempty"` // unix seconds
}

// Processor is one worker process of a session.
type Processor struct {
	ID     int64  `json:"id,string"`
	Rank   int    `json:"rank"`
	Node   string `json:"node"`
	Status string `json:"status"`
}

// KillJobRequest is the payload of CommandKillJob.
type KillJobRequest struct {
	SessionID string `json:"session_id"`
}

// KillJobResponse acknowledges a kill.
type KillJobResponse struct {
	SessionID string `json:"session_id"`
}

// DownloadJobRequest is the payload of CommandDownloadJob.
type DownloadJobRequest struct {
	SessionID      string `json:"session_id"`
	Ranks          []int  `json:"ranks"`
	CompressMethod string `json:"compress_method"`
	CompressLevel  int    `json:"compress_level"`
	ContentType    int32  `json:"content_type"`
}

// DownloadJobResponse carries one compressed blob per requested rank.
type DownloadJobResponse struct {
	SessionID        string             `json:"session_id"`
	ContainerContent []ContainerContent `json:"container_content"`
}

// ContainerContent is the compressed content of one rank.
type ContainerContent struct {
	Rank    int    `json:"rank"`
	Content []byte `json:"content"`
}

// DestroySessionRequest is the payload of CommandDestroySession.
type DestroySessionRequest struct {
	SessionID string `json:"session_id"`
}

// DestroySessionResponse acknowledges a session destroy.
type DestroySessionResponse struct{}
