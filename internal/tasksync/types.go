package tasksync

import (
	"context"
	"encoding/json"
	"strings"

	"ingestdesk/internal/results"
	"ingestdesk/internal/transport"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarted    Phase = "started"
	PhaseProcessing Phase = "processing"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// Server status strings.
const (
	StatusComplete = "Complete"
	StatusFailed   = "Failed"
)

// Lifecycle is the client-side view of the tracked task.
type Lifecycle struct {
	TaskID   string
	Phase    Phase
	Progress int
	Status   string
	Results  *results.Results
	Error    string
}

// Channel is the part of the transport the tracker needs.
type Channel interface {
	On(event string, h transport.Handler)
	Emit(event string, data any) error
}

type Downloader interface {
	Download(ctx context.Context, link, dest string) (int64, error)
}

// ReportWriter stores a bundle for a completed task and returns its path.
type ReportWriter interface {
	Write(taskID string, res *results.Results) (string, error)
}

type taskStarted struct {
	TaskID string `json:"task_id"`
}

// ProgressEvent is the payload of a progress event.
type ProgressEvent struct {
	TaskID   string          `json:"task_id"`
	Progress float64         `json:"progress"`
	Status   string          `json:"status"`
	Results  json.RawMessage `json:"results,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (e ProgressEvent) terminal() bool {
	return e.Status == StatusComplete || e.Status == StatusFailed
}

func (e ProgressEvent) failed() bool {
	return e.Status == StatusFailed || e.Error != ""
}

// hasResults reports whether the payload is a non-empty object.
func (e ProgressEvent) hasResults() bool {
	var fields map[string]json.RawMessage
	raw := strings.TrimSpace(string(e.Results))
	if raw == "" || raw == "null" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		// a JSON-encoded string still counts; Normalize unwraps it
		return strings.HasPrefix(raw, `"`) && len(raw) > 2
	}
	return len(fields) > 0
}

type serverError struct {
	Message string `json:"message"`
}

type exportComplete struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}
