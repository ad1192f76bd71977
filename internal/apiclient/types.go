package apiclient

import (
	"encoding/json"
	"io"
)

// FilePart is one file of a multipart upload.
type FilePart struct {
	Name string
	Size int64
	Body io.Reader
}

// ProgressFunc receives the number of file bytes sent so far and the total.
type ProgressFunc func(sent, total int64)

type UploadResponse struct {
	Success  bool            `json:"success"`
	Filename string          `json:"filename"`
	TaskID   string          `json:"task_id"`
	Columns  []string        `json:"columns"`
	Preview  json.RawMessage `json:"preview"`
	Error    string          `json:"error"`
}

type UploadMultipleResponse struct {
	Success   bool     `json:"success"`
	TaskIDs   []string `json:"task_ids"`
	Filenames []string `json:"filenames"`
	Error     string   `json:"error"`
}

type previewResponse struct {
	Columns []string        `json:"columns"`
	Rows    json.RawMessage `json:"rows"`
	Error   string          `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type chatRequest struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

type analyzeRequest struct {
	Files []string `json:"files"`
}

type analyzeResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Error   string `json:"error"`
}

// TaskStatus is the polled state of a task.
type TaskStatus struct {
	Status   string          `json:"status"`
	Progress float64         `json:"progress"`
	Results  json.RawMessage `json:"results"`
	Error    string          `json:"error"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
