package view

import (
	"sync"
	"time"

	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
)

const maxNotices = 20

type Notice struct {
	Level Level     `json:"level"`
	Msg   string    `json:"message"`
	At    time.Time `json:"at"`
}

// Snapshot is the latest display state held by a Recorder.
type Snapshot struct {
	Notices  []Notice             `json:"notices"`
	Progress int                  `json:"progress"`
	Status   string               `json:"status"`
	Results  *results.Results     `json:"-"`
	Files    []state.UploadedFile `json:"files"`
	// Updates counts every call, so pollers can tell whether anything changed.
	Updates int `json:"updates"`
}

// LastNotice returns the most recent notice, if any.
func (s Snapshot) LastNotice() (Notice, bool) {
	if len(s.Notices) == 0 {
		return Notice{}, false
	}
	return s.Notices[len(s.Notices)-1], true
}

// Recorder keeps the latest state in memory; the UI and tests read it.
type Recorder struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Notices = append(r.snap.Notices, Notice{Level: level, Msg: msg, At: time.Now()})
	if len(r.snap.Notices) > maxNotices {
		r.snap.Notices = r.snap.Notices[len(r.snap.Notices)-maxNotices:]
	}
	r.snap.Updates++
}

func (r *Recorder) Progress(pct int, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Progress = pct
	r.snap.Status = status
	r.snap.Updates++
}

func (r *Recorder) Results(res *results.Results) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Results = res
	r.snap.Updates++
}

func (r *Recorder) FilesUpdated(files []state.UploadedFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Files = append([]state.UploadedFile(nil), files...)
	r.snap.Updates++
}

// Reset clears progress and results. Notices and files are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Progress = 0
	r.snap.Status = ""
	r.snap.Results = nil
	r.snap.Updates++
}

// Snapshot returns a copy of the recorded state.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	s.Notices = append([]Notice(nil), r.snap.Notices...)
	s.Files = append([]state.UploadedFile(nil), r.snap.Files...)
	return s
}

// Notices returns recorded notices of the given level.
func (r *Recorder) Notices(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.snap.Notices {
		if n.Level == level {
			out = append(out, n.Msg)
		}
	}
	return out
}
