package state

import "time"

// Keys under which the store persists its data.
const (
	KeyUploadedFiles   = "uploadedFiles"
	KeyFilenameMapping = "filenameMapping"
	KeyCurrentTaskID   = "currentTaskId"
)

// filesFormatVersion is the version written into the uploadedFiles document.
// Version 1 is the unversioned array written by older clients.
const filesFormatVersion = 2

// UploadedFile is a file the backend accepted, keyed by its original name.
type UploadedFile struct {
	OriginalName string    `json:"original_name"`
	ServerName   string    `json:"server_name,omitempty"`
	Size         int64     `json:"size,omitempty"`
	MIMEType     string    `json:"mime_type,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
	TaskID       string    `json:"task_id,omitempty"`
}

// MappedName returns the server-side name, falling back to the original one.
func (f UploadedFile) MappedName() string {
	if f.ServerName != "" {
		return f.ServerName
	}
	return f.OriginalName
}

type filesDocument struct {
	Version int            `json:"version"`
	Files   []UploadedFile `json:"files"`
}

// legacyRecord is the object shape some older clients stored.
type legacyRecord struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	UploadedAt string `json:"uploadedAt"`
}

type snapshot struct {
	taskID  string
	files   []UploadedFile
	mapping map[string]string

	// set while memory is ahead of storage after a failed write
	taskPending  bool
	filesPending bool
}

func (s *snapshot) reset() {
	s.files = nil
	s.mapping = make(map[string]string)
}

func (s *snapshot) index(name string) int {
	for i, f := range s.files {
		if f.OriginalName == name {
			return i
		}
	}
	return -1
}

func (s *snapshot) copyFiles() []UploadedFile {
	out := make([]UploadedFile, len(s.files))
	copy(out, s.files)
	return out
}
