package upload

import (
	"context"
	"io"
	"time"

	"ingestdesk/internal/apiclient"
	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
)

const (
	defaultProcessDelay   = 100 * time.Millisecond
	defaultPollInterval   = time.Second
	defaultReinitAttempts = 3
	defaultReinitDelay    = 100 * time.Millisecond
	requestIDPrefix       = "req_"
)

// Backend is the part of the API client the coordinator drives.
type Backend interface {
	Upload(ctx context.Context, requestID string, file apiclient.FilePart, progress apiclient.ProgressFunc) (*apiclient.UploadResponse, error)
	UploadMultiple(ctx context.Context, requestID string, files []apiclient.FilePart, progress apiclient.ProgressFunc) (*apiclient.UploadMultipleResponse, error)
	DeleteFile(ctx context.Context, serverName string) (string, error)
	Preview(ctx context.Context, serverName string) (*results.Preview, error)
	Chat(ctx context.Context, taskID, message string) (string, error)
	AnalyzeMultiple(ctx context.Context, files []string) (string, error)
	Results(ctx context.Context, taskID string) (*apiclient.TaskStatus, error)
}

// Emitter sends events over the realtime channel.
type Emitter interface {
	Emit(event string, data any) error
}

// File is a local file offered for upload. Open is called once per attempt.
type File struct {
	Name     string
	Size     int64
	MIMEType string
	Open     func() (io.ReadCloser, error)
}

// Options configures a Coordinator.
type Options struct {
	AllowedExtensions []string
	MaxFileSize       int64
	ProcessDelay      time.Duration
	PollInterval      time.Duration
	ReinitAttempts    int
	ReinitDelay       time.Duration
}

// Outcome describes a finished upload.
type Outcome struct {
	RequestID string
	TaskID    string
	Files     []state.UploadedFile
	Preview   *results.Preview
}

type processRequest struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename,omitempty"`
}

type subscribeRequest struct {
	TaskID string `json:"task_id"`
}
