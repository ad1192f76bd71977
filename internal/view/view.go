// Package view defines the display port the desk reports to, with console,
// recording and fan-out adapters.
package view

import (
	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// View receives user-facing updates. Implementations must be safe for
// concurrent use; channel handlers and uploads call them from different
// goroutines.
type View interface {
	Notify(level Level, msg string)
	Progress(pct int, status string)
	Results(res *results.Results)
	FilesUpdated(files []state.UploadedFile)
}

// Multi fans every update out to all views in order.
type Multi []View

func (m Multi) Notify(level Level, msg string) {
	for _, v := range m {
		v.Notify(level, msg)
	}
}

func (m Multi) Progress(pct int, status string) {
	for _, v := range m {
		v.Progress(pct, status)
	}
}

func (m Multi) Results(res *results.Results) {
	for _, v := range m {
		v.Results(res)
	}
}

func (m Multi) FilesUpdated(files []state.UploadedFile) {
	for _, v := range m {
		v.FilesUpdated(files)
	}
}
