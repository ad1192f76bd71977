// Package upload sends local files to the backend and starts their processing.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ingestdesk/internal/apiclient"
	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
	"ingestdesk/internal/transport"
	"ingestdesk/internal/view"
)

// Coordinator runs at most one upload at a time and owns the file actions
// that talk to the backend on behalf of the uploaded-file list.
type Coordinator struct {
	api     Backend
	ch      Emitter
	store   *state.Store
	view    view.View
	opts    Options
	allowed map[string]struct{}

	uploading atomic.Bool
	workersWG sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
	reinit  func() error
}

func NewCoordinator(api Backend, ch Emitter, store *state.Store, v view.View, opts Options) *Coordinator {
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	if opts.ProcessDelay <= 0 {
		opts.ProcessDelay = defaultProcessDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReinitAttempts <= 0 {
		opts.ReinitAttempts = defaultReinitAttempts
	}
	if opts.ReinitDelay <= 0 {
		opts.ReinitDelay = defaultReinitDelay
	}
	return &Coordinator{
		api:     api,
		ch:      ch,
		store:   store,
		view:    v,
		opts:    opts,
		allowed: allowed,
		baseCtx: context.Background(),
	}
}

// SetBaseContext sets the context background uploads run under.
func (c *Coordinator) SetBaseContext(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
}

// SetReinit installs the hook run when the file list becomes empty.
func (c *Coordinator) SetReinit(fn func() error) {
	c.mu.Lock()
	c.reinit = fn
	c.mu.Unlock()
}

// Uploading reports whether an upload is in flight.
func (c *Coordinator) Uploading() bool { return c.uploading.Load() }

// UploadFiles validates files and uploads them in the background. Validation
// failures and a concurrent upload are reported synchronously.
func (c *Coordinator) UploadFiles(files []File) error {
	if !c.uploading.CompareAndSwap(false, true) {
		log.Warn().Int("files", len(files)).Msg("upload ignored: another upload is running")
		return ErrUploadInProgress
	}
	if err := c.validate(files); err != nil {
		c.uploading.Store(false)
		return err
	}

	c.mu.Lock()
	ctx := c.baseCtx
	c.mu.Unlock()

	c.workersWG.Add(1)
	go func() {
		defer c.workersWG.Done()
		defer c.uploading.Store(false)
		if _, err := c.run(ctx, files); err != nil {
			log.Error().Err(err).Msg("upload failed")
		}
	}()
	return nil
}

// Upload is the synchronous form of UploadFiles.
func (c *Coordinator) Upload(ctx context.Context, files []File) (*Outcome, error) {
	if !c.uploading.CompareAndSwap(false, true) {
		log.Warn().Int("files", len(files)).Msg("upload ignored: another upload is running")
		return nil, ErrUploadInProgress
	}
	defer c.uploading.Store(false)
	if err := c.validate(files); err != nil {
		return nil, err
	}
	return c.run(ctx, files)
}

// Wait blocks until background uploads finish or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		c.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) validate(files []File) error {
	if len(files) == 0 {
		c.view.Notify(view.LevelError, "No files selected")
		return ErrNoFiles
	}
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if _, ok := c.allowed[ext]; !ok {
			c.view.Notify(view.LevelError, "Please upload a CSV or Excel file")
			return newErrExtNotAllowed(f.Name, ext)
		}
		if c.opts.MaxFileSize > 0 && f.Size > c.opts.MaxFileSize {
			c.view.Notify(view.LevelError, fmt.Sprintf("File size must be less than %dMB", c.opts.MaxFileSize>>20))
			return newErrFileTooLarge(f.Name, f.Size, c.opts.MaxFileSize)
		}
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, files []File) (*Outcome, error) {
	out, err := c.send(ctx, files)
	if err == nil {
		err = c.record(out)
	}
	if err != nil {
		c.view.Progress(0, "Upload failed")
		c.view.Notify(view.LevelError, failureMessage(err))
		return nil, err
	}

	c.view.Progress(100, "Upload complete!")
	c.view.FilesUpdated(c.store.UploadedFiles())
	c.view.Notify(view.LevelSuccess, "Files uploaded successfully. Processing...")
	log.Info().Str("request_id", out.RequestID).Str("task_id", out.TaskID).Int("files", len(out.Files)).Msg("upload accepted")

	if err := c.startProcessing(ctx, out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Coordinator) send(ctx context.Context, files []File) (*Outcome, error) {
	parts := make([]apiclient.FilePart, 0, len(files))
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer func() { _ = rc.Close() }()
		parts = append(parts, apiclient.FilePart{Name: f.Name, Size: f.Size, Body: rc})
	}

	out := &Outcome{RequestID: requestIDPrefix + uuid.NewString()}
	c.view.Progress(0, "Starting upload...")
	progress := c.progressReporter()
	now := time.Now().UTC()

	if len(parts) == 1 {
		resp, err := c.api.Upload(ctx, out.RequestID, parts[0], progress)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", files[0].Name, err)
		}
		out.TaskID = resp.TaskID
		out.Files = []state.UploadedFile{newRecord(files[0], resp.Filename, resp.TaskID, now)}
		if len(resp.Columns) > 0 || len(resp.Preview) > 0 {
			preview, err := results.NormalizePreview(resp.Columns, resp.Preview)
			if err != nil {
				log.Warn().Err(err).Str("file", files[0].Name).Msg("upload preview dropped")
			} else {
				out.Preview = preview
			}
		}
		return out, nil
	}

	resp, err := c.api.UploadMultiple(ctx, out.RequestID, parts, progress)
	if err != nil {
		return nil, fmt.Errorf("upload %d files: %w", len(parts), err)
	}
	if dup, ok := duplicateID(resp.TaskIDs); ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskIDReused, dup)
	}
	if len(resp.TaskIDs) > 0 {
		out.TaskID = resp.TaskIDs[0]
	}
	out.Files = pairFiles(files, resp, now)
	return out, nil
}

// record stores the accepted files and tracks the task. A task id already
// held by a file from an earlier upload is refused and nothing is stored.
func (c *Coordinator) record(out *Outcome) error {
	var reused string
	c.store.Update(func(tx *state.Tx) {
		if reused = reusedTaskID(tx.Files(), out.Files); reused != "" {
			return
		}
		for _, f := range out.Files {
			tx.AddFile(f)
		}
		if out.TaskID != "" {
			tx.SetCurrentTaskID(out.TaskID)
		}
	})
	if reused != "" {
		return fmt.Errorf("%w: %s", ErrTaskIDReused, reused)
	}
	return nil
}

func reusedTaskID(existing, incoming []state.UploadedFile) string {
	names := make(map[string]struct{}, len(incoming))
	for _, f := range incoming {
		names[f.OriginalName] = struct{}{}
	}
	owners := make(map[string]string, len(existing))
	for _, f := range existing {
		if _, same := names[f.OriginalName]; !same && f.TaskID != "" {
			owners[f.TaskID] = f.OriginalName
		}
	}
	for _, f := range incoming {
		if _, ok := owners[f.TaskID]; ok && f.TaskID != "" {
			return f.TaskID
		}
	}
	return ""
}

// pairFiles matches the returned names to the sent files by position. When
// the server returns a different count, the returned names are recorded as is.
func pairFiles(files []File, resp *apiclient.UploadMultipleResponse, now time.Time) []state.UploadedFile {
	taskAt := func(i int) string {
		if i < len(resp.TaskIDs) {
			return resp.TaskIDs[i]
		}
		return ""
	}
	records := make([]state.UploadedFile, 0, len(resp.Filenames))
	if len(resp.Filenames) == len(files) {
		for i, f := range files {
			records = append(records, newRecord(f, resp.Filenames[i], taskAt(i), now))
		}
		return records
	}
	for i, name := range resp.Filenames {
		records = append(records, state.UploadedFile{OriginalName: name, UploadedAt: now, TaskID: taskAt(i)})
	}
	return records
}

func newRecord(f File, serverName, taskID string, now time.Time) state.UploadedFile {
	if serverName == f.Name {
		serverName = ""
	}
	return state.UploadedFile{
		OriginalName: f.Name,
		ServerName:   serverName,
		Size:         f.Size,
		MIMEType:     f.MIMEType,
		UploadedAt:   now,
		TaskID:       taskID,
	}
}

func duplicateID(ids []string) (string, bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}

func (c *Coordinator) progressReporter() apiclient.ProgressFunc {
	last := -1
	return func(sent, total int64) {
		if total <= 0 {
			return
		}
		pct := int(sent * 100 / total)
		if pct == last {
			return
		}
		last = pct
		c.view.Progress(pct, fmt.Sprintf("Uploading: %d%%", pct))
	}
}

// startProcessing waits for the configured delay and asks the backend to
// process whatever task is tracked at that point.
func (c *Coordinator) startProcessing(ctx context.Context, out *Outcome) error {
	timer := time.NewTimer(c.opts.ProcessDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-timer.C:
	}

	taskID := c.store.CurrentTaskID()
	if taskID == "" {
		log.Error().Str("request_id", out.RequestID).Msg("no task id available for processing")
		c.view.Notify(view.LevelError, "Error: Unable to start processing")
		return ErrNoTaskID
	}
	if err := c.ch.Emit(transport.EventSubscribe, subscribeRequest{TaskID: taskID}); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("subscribe failed")
	}
	req := processRequest{TaskID: taskID}
	if len(out.Files) > 0 {
		req.Filename = out.Files[0].MappedName()
	}
	if err := c.ch.Emit(transport.EventProcessData, req); err != nil {
		c.view.Notify(view.LevelError, "Error: Unable to start processing")
		return fmt.Errorf("%w: emit process_data: %w", ErrNotStarted, err)
	}
	log.Info().Str("task_id", taskID).Str("filename", req.Filename).Msg("processing requested")
	return nil
}

func failureMessage(err error) string {
	var (
		httpErr     *apiclient.HTTPError
		rejectedErr *apiclient.RejectedError
	)
	switch {
	case errors.Is(err, ErrTaskIDReused):
		return "Upload failed: server reused a task id"
	case errors.As(err, &rejectedErr):
		if rejectedErr.Message != "" {
			return rejectedErr.Message
		}
		return "Upload failed"
	case errors.As(err, &httpErr), errors.Is(err, apiclient.ErrMalformedResponse):
		return "Upload failed"
	default:
		return "Error uploading files"
	}
}

// FileFromPath describes a file on disk for upload.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MIMEType: mime.TypeByExtension(filepath.Ext(path)),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path) //nolint:gosec // path comes from the operator
		},
	}, nil
}
