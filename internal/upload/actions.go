package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ingestdesk/internal/apiclient"
	"ingestdesk/internal/render"
	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
	"ingestdesk/internal/tasksync"
	"ingestdesk/internal/view"
)

// DeleteFile removes name (original or server name) on the backend and then
// from the store. When the list becomes empty the reinit hook runs.
func (c *Coordinator) DeleteFile(ctx context.Context, name string) error {
	entry, ok := c.lookup(name)
	if !ok {
		c.view.Notify(view.LevelError, "Error deleting file")
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if _, err := c.api.DeleteFile(ctx, entry.MappedName()); err != nil {
		log.Error().Err(err).Str("file", entry.OriginalName).Msg("delete failed")
		c.view.Notify(view.LevelError, "Error deleting file")
		return fmt.Errorf("delete %s: %w", entry.MappedName(), err)
	}

	remaining := 0
	c.store.Update(func(tx *state.Tx) {
		tx.RemoveFile(entry.OriginalName)
		remaining = len(tx.Files())
	})
	c.view.FilesUpdated(c.store.UploadedFiles())
	c.view.Notify(view.LevelSuccess, "File deleted successfully")
	log.Info().Str("file", entry.OriginalName).Str("server_name", entry.MappedName()).Msg("file deleted")

	if remaining == 0 {
		c.reinitialize(ctx)
	}
	return nil
}

// reinitialize runs the reinit hook with a bounded number of attempts.
func (c *Coordinator) reinitialize(ctx context.Context) {
	c.mu.Lock()
	fn := c.reinit
	c.mu.Unlock()
	if fn == nil {
		return
	}
	for attempt := 1; attempt <= c.opts.ReinitAttempts; attempt++ {
		err := fn()
		if err == nil {
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("reinitializing upload view failed")
		if attempt == c.opts.ReinitAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReinitDelay):
		}
	}
	log.Error().Int("attempts", c.opts.ReinitAttempts).Msg("giving up reinitializing upload view")
}

func (c *Coordinator) lookup(name string) (state.UploadedFile, bool) {
	for _, f := range c.store.UploadedFiles() {
		if f.OriginalName == name || (f.ServerName != "" && f.ServerName == name) {
			return f, true
		}
	}
	return state.UploadedFile{}, false
}

// Preview returns the first rows of an uploaded file.
func (c *Coordinator) Preview(ctx context.Context, name string) (*results.Preview, error) {
	serverName := c.store.MappedFilename(name)
	p, err := c.api.Preview(ctx, serverName)
	if err != nil {
		c.view.Notify(view.LevelError, "Failed to load preview")
		return nil, fmt.Errorf("preview %s: %w", serverName, err)
	}
	return p, nil
}

// ChatTask returns the task a chat message refers to: the tracked task, or
// the task of the most recent upload once processing has finished.
func (c *Coordinator) ChatTask() string {
	var taskID string
	c.store.View(func(tx *state.Tx) {
		taskID = tx.CurrentTaskID()
		if taskID != "" {
			return
		}
		var latest time.Time
		for _, f := range tx.Files() {
			if f.TaskID != "" && !f.UploadedAt.Before(latest) {
				latest, taskID = f.UploadedAt, f.TaskID
			}
		}
	})
	return taskID
}

// Chat sends message to the recommendation assistant and returns the
// exchange as chat entries.
func (c *Coordinator) Chat(ctx context.Context, message string) ([]render.ChatEntry, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	taskID := c.ChatTask()
	if taskID == "" {
		c.view.Notify(view.LevelError, "Please upload and process a file first")
		return nil, ErrNoTask
	}
	reply, err := c.api.Chat(ctx, taskID, message)
	if err != nil {
		var rejectedErr *apiclient.RejectedError
		if errors.As(err, &rejectedErr) {
			c.view.Notify(view.LevelError, rejectedErr.Message)
		} else {
			c.view.Notify(view.LevelError, "Failed to send message")
		}
		return nil, fmt.Errorf("chat %s: %w", taskID, err)
	}
	return []render.ChatEntry{
		{Role: "user", Text: message},
		{Role: "assistant", Text: reply},
	}, nil
}

// Analyze starts a cross-file analysis over every uploaded file and polls
// until it finishes.
func (c *Coordinator) Analyze(ctx context.Context) (*results.Results, error) {
	files := c.store.UploadedFiles()
	if len(files) < 2 {
		c.view.Notify(view.LevelError, "Please upload at least 2 files for cross-file analysis")
		return nil, ErrNotEnoughFiles
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.MappedName())
	}

	c.view.Progress(0, "Starting analysis...")
	taskID, err := c.api.AnalyzeMultiple(ctx, names)
	if err != nil {
		msg := "Analysis failed"
		var rejectedErr *apiclient.RejectedError
		if errors.As(err, &rejectedErr) && rejectedErr.Message != "" {
			msg = rejectedErr.Message
		}
		c.view.Progress(0, "Analysis failed")
		c.view.Notify(view.LevelError, msg)
		return nil, fmt.Errorf("analyze: %w", err)
	}
	log.Info().Str("task_id", taskID).Strs("files", names).Msg("cross-file analysis started")
	return tasksync.Poll(ctx, c.api, taskID, c.opts.PollInterval, c.view) //nolint:wrapcheck
}
