// Package tasksync reconciles channel events about the tracked task with the
// state store and the views.
package tasksync

import (
	"context"
	"encoding/json"
	"math"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
	"ingestdesk/internal/transport"
	"ingestdesk/internal/view"
)

type Options struct {
	Downloader   Downloader
	DownloadsDir string
	Reports      ReportWriter
}

type Tracker struct {
	store *state.Store
	ch    Channel
	view  view.View
	opts  Options

	mu      sync.Mutex
	current Lifecycle
	baseCtx context.Context

	workers sync.WaitGroup
}

func NewTracker(store *state.Store, ch Channel, v view.View, opts Options) *Tracker {
	return &Tracker{
		store:   store,
		ch:      ch,
		view:    v,
		opts:    opts,
		current: Lifecycle{Phase: PhaseIdle},
		baseCtx: context.Background(),
	}
}

// SetBaseContext sets the context background downloads run under.
func (t *Tracker) SetBaseContext(ctx context.Context) {
	t.mu.Lock()
	t.baseCtx = ctx
	t.mu.Unlock()
}

// Register installs the tracker's handlers on the channel.
func (t *Tracker) Register() {
	t.ch.On(transport.EventConnect, func(json.RawMessage) { t.onConnect() })
	t.ch.On(transport.EventDisconnect, t.onDisconnect)
	t.ch.On(transport.EventReconnectFailed, func(json.RawMessage) {
		t.view.Notify(view.LevelError, "Unable to reconnect to server")
	})
	t.ch.On(transport.EventReady, func(json.RawMessage) {
		t.view.Notify(view.LevelSuccess, "Connected to server")
	})
	t.ch.On(transport.EventTaskStarted, t.onTaskStarted)
	t.ch.On(transport.EventProgress, t.onProgress)
	t.ch.On(transport.EventError, t.onError)
	t.ch.On(transport.EventExportComplete, t.onExportComplete)
}

// Current returns the lifecycle of the tracked task.
func (t *Tracker) Current() Lifecycle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Wait blocks until background downloads finish or ctx is done.
func (t *Tracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		t.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Tracker) onConnect() {
	taskID := t.store.CurrentTaskID()
	if taskID == "" {
		return
	}
	if err := t.ch.Emit(transport.EventSubscribe, taskStarted{TaskID: taskID}); err != nil {
		log.Warn().Str("task_id", taskID).Err(err).Msg("re-subscribe failed")
		return
	}
	log.Info().Str("task_id", taskID).Msg("re-subscribed to task")
}

func (t *Tracker) onDisconnect(data json.RawMessage) {
	var info transport.DisconnectInfo
	_ = json.Unmarshal(data, &info)
	if info.Reason == transport.ReasonClientDisconnect {
		return
	}
	t.view.Notify(view.LevelWarning, "Connection interrupted. Attempting to reconnect...")
}

func (t *Tracker) onTaskStarted(data json.RawMessage) {
	var ev taskStarted
	if err := json.Unmarshal(data, &ev); err != nil || ev.TaskID == "" {
		log.Warn().Err(err).Str("event", transport.EventTaskStarted).Msg("ignoring malformed event")
		return
	}
	t.store.SetCurrentTaskID(ev.TaskID)
	t.mu.Lock()
	t.current = Lifecycle{TaskID: ev.TaskID, Phase: PhaseStarted, Status: "Starting..."}
	t.mu.Unlock()
	log.Info().Str("task_id", ev.TaskID).Msg("task started")
	t.view.Progress(0, "Starting...")
	t.view.Notify(view.LevelInfo, "Processing started")
}

func (t *Tracker) onProgress(data json.RawMessage) {
	var ev ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("event", transport.EventProgress).Msg("ignoring malformed event")
		return
	}
	t.Apply(ev)
}

// Apply handles one progress update. Updates for any task other than the
// tracked one are dropped, as are non-terminal updates that would move
// progress backwards.
func (t *Tracker) Apply(ev ProgressEvent) {
	tracked := t.store.CurrentTaskID()
	if ev.TaskID == "" || ev.TaskID != tracked {
		log.Debug().Str("task_id", ev.TaskID).Str("tracked", tracked).Msg("stale progress event ignored")
		return
	}
	pct := clampPercent(ev.Progress)
	status := ev.Status
	if status == "" {
		status = "Processing..."
	}

	t.mu.Lock()
	if t.current.TaskID != ev.TaskID {
		t.current = Lifecycle{TaskID: ev.TaskID, Phase: PhaseStarted}
	}
	if !ev.terminal() && t.current.Phase == PhaseProcessing && pct < t.current.Progress {
		prev := t.current.Progress
		t.mu.Unlock()
		log.Warn().Str("task_id", ev.TaskID).Int("progress", pct).Int("previous", prev).Msg("progress regression ignored")
		return
	}
	t.current.Phase = PhaseProcessing
	t.current.Progress = pct
	t.current.Status = status
	t.mu.Unlock()

	t.view.Progress(pct, status)

	if ev.Status == StatusComplete && ev.hasResults() {
		t.complete(ev)
	}
	if ev.failed() {
		msg := ev.Error
		if msg == "" {
			msg = "Processing failed"
		}
		t.mu.Lock()
		t.current.Phase = PhaseFailed
		t.current.Error = msg
		t.mu.Unlock()
		log.Warn().Str("task_id", ev.TaskID).Str("error", msg).Msg("task failed")
		t.view.Notify(view.LevelError, msg)
	}
	if ev.terminal() {
		t.mu.Lock()
		if ev.Status == StatusComplete && t.current.Phase != PhaseFailed {
			t.current.Phase = PhaseComplete
		}
		t.mu.Unlock()
		if t.clearTracked(ev.TaskID) {
			log.Info().Str("task_id", ev.TaskID).Str("status", ev.Status).Msg("task finished, tracking cleared")
		} else {
			log.Info().Str("task_id", ev.TaskID).Str("status", ev.Status).Msg("task finished, newer task kept")
		}
	}
}

// clearTracked drops the tracked task only if it is still taskID. A newer
// upload may have replaced it while the update was being rendered.
func (t *Tracker) clearTracked(taskID string) bool {
	cleared := false
	t.store.Update(func(tx *state.Tx) {
		if tx.CurrentTaskID() == taskID {
			tx.SetCurrentTaskID("")
			cleared = true
		}
	})
	return cleared
}

func (t *Tracker) complete(ev ProgressEvent) {
	res, err := results.Normalize(ev.Results)
	if err != nil {
		log.Error().Str("task_id", ev.TaskID).Err(err).Msg("results could not be displayed")
		t.view.Notify(view.LevelError, "Error displaying results")
		return
	}
	t.mu.Lock()
	t.current.Results = res
	t.mu.Unlock()
	t.view.Results(res)
	t.view.Notify(view.LevelSuccess, "Processing complete!")

	if t.opts.Reports != nil {
		if p, err := t.opts.Reports.Write(ev.TaskID, res); err != nil {
			log.Warn().Str("task_id", ev.TaskID).Err(err).Msg("report bundle failed")
		} else {
			log.Info().Str("task_id", ev.TaskID).Str("path", p).Msg("report bundle written")
		}
	}
}

func (t *Tracker) onError(data json.RawMessage) {
	var ev serverError
	_ = json.Unmarshal(data, &ev)
	msg := ev.Message
	if msg == "" {
		msg = "An error occurred"
	}
	log.Error().Str("error", msg).Msg("server reported error")
	t.view.Notify(view.LevelError, msg)
}

func (t *Tracker) onExportComplete(data json.RawMessage) {
	var ev exportComplete
	if err := json.Unmarshal(data, &ev); err != nil || ev.DownloadURL == "" {
		log.Warn().Err(err).Str("event", transport.EventExportComplete).Msg("ignoring malformed event")
		return
	}
	if t.opts.Downloader == nil || t.opts.DownloadsDir == "" {
		t.view.Notify(view.LevelSuccess, "Export completed: "+ev.DownloadURL)
		return
	}
	dest := filepath.Join(t.opts.DownloadsDir, exportName(ev))
	t.mu.Lock()
	ctx := t.baseCtx
	t.mu.Unlock()

	t.workers.Add(1)
	go func() {
		defer t.workers.Done()
		if _, err := t.opts.Downloader.Download(ctx, ev.DownloadURL, dest); err != nil {
			log.Error().Str("url", ev.DownloadURL).Err(err).Msg("export download failed")
			t.view.Notify(view.LevelError, "Export download failed")
			return
		}
		t.view.Notify(view.LevelSuccess, "Export completed successfully!")
	}()
}

// exportName picks a safe local file name for an export.
func exportName(ev exportComplete) string {
	name := ev.Filename
	if name == "" {
		name = path.Base(strings.SplitN(ev.DownloadURL, "?", 2)[0])
	}
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if name == "/" || name == "." || name == "" {
		return "export"
	}
	return name
}

func clampPercent(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}
