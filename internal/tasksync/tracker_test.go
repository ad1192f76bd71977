package tasksync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ingestdesk/internal/apiclient"
	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
	"ingestdesk/internal/transport"
	"ingestdesk/internal/view"
)

type emitted struct {
	event string
	data  any
}

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string][]transport.Handler
	emitted  []emitted
	emitErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]transport.Handler)}
}

func (f *fakeChannel) On(event string, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeChannel) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, emitted{event: event, data: data})
	return nil
}

func (f *fakeChannel) fire(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	f.mu.Lock()
	hs := append([]transport.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func (f *fakeChannel) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emitted...)
}

type fakeReports struct {
	mu    sync.Mutex
	tasks []string
}

func (r *fakeReports) Write(taskID string, _ *results.Results) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, taskID)
	return "report-" + taskID + ".zip", nil
}

type trackerFixture struct {
	store   *state.Store
	ch      *fakeChannel
	rec     *view.Recorder
	tracker *Tracker
}

func newTrackerFixture(t *testing.T, opts Options) *trackerFixture {
	t.Helper()
	store := state.NewStore(state.NewMemoryStorage())
	t.Cleanup(store.Close)
	ch := newFakeChannel()
	rec := view.NewRecorder()
	tr := NewTracker(store, ch, rec, opts)
	tr.Register()
	return &trackerFixture{store: store, ch: ch, rec: rec, tracker: tr}
}

func TestProgressForOtherTaskProducesNoUIUpdate(t *testing.T) {
	f := newTrackerFixture(t, Options{})
	f.store.SetCurrentTaskID("t1")

	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t2", Progress: 100, Status: StatusComplete,
		Results: json.RawMessage(`{"basic_validation":{}}`)})

	if snap := f.rec.Snapshot(); snap.Updates != 0 {
		t.Fatalf("expected no UI update, got %+v", snap)
	}
	if got := f.store.CurrentTaskID(); got != "t1" {
		t.Fatalf("tracked task should be untouched, got %q", got)
	}
}

func TestProgressWithoutTrackedTaskIsIgnored(t *testing.T) {
	f := newTrackerFixture(t, Options{})
	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 10, Status: "Processing"})
	if snap := f.rec.Snapshot(); snap.Updates != 0 {
		t.Fatalf("expected no UI update, got %+v", snap)
	}
}

func TestCompleteRendersResultsAndClearsTask(t *testing.T) {
	reports := &fakeReports{}
	f := newTrackerFixture(t, Options{Reports: reports})
	f.store.SetCurrentTaskID("t1")

	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 40, Status: "Processing"})
	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 100, Status: StatusComplete,
		Results: json.RawMessage(`{"basic_validation":{"missing_values":{"total_missing":{"age":3},"missing_percentages":{"age":12.5}}}}`)})

	snap := f.rec.Snapshot()
	if snap.Progress != 100 || snap.Status != StatusComplete {
		t.Fatalf("unexpected progress %d %q", snap.Progress, snap.Status)
	}
	if snap.Results == nil || snap.Results.Basic == nil || snap.Results.Basic.MissingValues.Columns[0].Count != 3 {
		t.Fatalf("results not rendered: %+v", snap.Results)
	}
	if got := f.rec.Notices(view.LevelSuccess); len(got) != 1 || got[0] != "Processing complete!" {
		t.Fatalf("unexpected success notices %v", got)
	}
	if got := f.store.CurrentTaskID(); got != "" {
		t.Fatalf("expected tracked task cleared, got %q", got)
	}
	if cur := f.tracker.Current(); cur.Phase != PhaseComplete || cur.Results == nil {
		t.Fatalf("unexpected lifecycle %+v", cur)
	}
	if len(reports.tasks) != 1 || reports.tasks[0] != "t1" {
		t.Fatalf("expected one report for t1, got %v", reports.tasks)
	}
}

func TestCompleteWithEmptyResultsOnlyClears(t *testing.T) {
	f := newTrackerFixture(t, Options{})
	f.store.SetCurrentTaskID("t1")
	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 100, Status: StatusComplete, Results: json.RawMessage(`{}`)})

	if snap := f.rec.Snapshot(); snap.Results != nil {
		t.Fatalf("empty results should not render")
	}
	if f.store.CurrentTaskID() != "" {
		t.Fatalf("expected tracked task cleared")
	}
}

func TestFailedNotifiesAndClears(t *testing.T) {
	f := newTrackerFixture(t, Options{})
	f.store.SetCurrentTaskID("t1")
	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 30, Status: StatusFailed, Error: "bad header row"})

	if got := f.rec.Notices(view.LevelError); len(got) != 1 || got[0] != "bad header row" {
		t.Fatalf("unexpected error notices %v", got)
	}
	if f.store.CurrentTaskID() != "" {
		t.Fatalf("expected tracked task cleared")
	}
	if cur := f.tracker.Current(); cur.Phase != PhaseFailed || cur.Error != "bad header row" {
		t.Fatalf("unexpected lifecycle %+v", cur)
	}
}

// switchingView records a newer upload the first time the tracker renders
// anything, the way the upload coordinator can between two store commands.
type switchingView struct {
	view.View
	store *state.Store
	next  string
	once  sync.Once
}

func (v *switchingView) switchTask() {
	v.once.Do(func() { v.store.SetCurrentTaskID(v.next) })
}

func (v *switchingView) Results(res *results.Results) {
	v.switchTask()
	v.View.Results(res)
}

func (v *switchingView) Notify(level view.Level, msg string) {
	if level == view.LevelError {
		v.switchTask()
	}
	v.View.Notify(level, msg)
}

func TestTerminalUpdateKeepsNewerTask(t *testing.T) {
	cases := []ProgressEvent{
		{TaskID: "t1", Progress: 100, Status: StatusComplete,
			Results: json.RawMessage(`{"basic_validation":{"missing_values":{"total_missing":{"age":1}}}}`)},
		{TaskID: "t1", Progress: 60, Status: StatusFailed, Error: "bad header row"},
	}
	for _, ev := range cases {
		t.Run(ev.Status, func(t *testing.T) {
			store := state.NewStore(state.NewMemoryStorage())
			t.Cleanup(store.Close)
			ch := newFakeChannel()
			v := &switchingView{View: view.NewRecorder(), store: store, next: "t2"}
			NewTracker(store, ch, v, Options{}).Register()
			store.SetCurrentTaskID("t1")

			ch.fire(t, transport.EventProgress, ev)

			if got := store.CurrentTaskID(); got != "t2" {
				t.Fatalf("tracked after t1 %s = %q, want t2", ev.Status, got)
			}

			ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t2", Progress: 20, Status: "Processing"})
			if snap := v.View.(*view.Recorder).Snapshot(); snap.Progress != 20 {
				t.Fatalf("progress for t2 should apply, got %+v", snap)
			}
		})
	}
}

func TestProgressRegressionIgnored(t *testing.T) {
	f := newTrackerFixture(t, Options{})
	f.store.SetCurrentTaskID("t1")
	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 50, Status: "Validating"})
	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 30, Status: "Loading"})

	snap := f.rec.Snapshot()
	if snap.Progress != 50 || snap.Status != "Validating" || snap.Updates != 1 {
		t.Fatalf("regression should be ignored, got %+v", snap)
	}

	f.ch.fire(t, transport.EventProgress, ProgressEvent{TaskID: "t1", Progress: 10, Status: StatusFailed, Error: "x"})
	if f.store.CurrentTaskID() != "" {
		t.Fatalf("terminal status must be applied even when progress regresses")
	}
}

func TestConnectResubscribesTrackedTask(t *testing.T) {
	f := newTrackerFixture(t, Options{})
	f.ch.fire(t, transport.EventConnect, nil)
	if got := f.ch.sent(); len(got) != 0 {
		t.Fatalf("nothing to re-subscribe, got %v", got)
	}

	f.store.SetCurrentTaskID("t9")
	f.ch.fire(t, transport.EventConnect, nil)
	got := f.ch.sent()
	if len(got) != 1 || got[0].event != transport.EventSubscribe {
		t.Fatalf("expected one subscribe, got %v", got)
	}
	if sub, ok := got[0].data.(taskStarted); !ok || sub.TaskID != "t9" {
		t.Fatalf("unexpected subscribe payload %#v", got[0].data)
	}
}

func TestTaskStartedAndConnectionNotices(t *testing.T) {
	f := newTrackerFixture(t, Options{})
	f.ch.fire(t, transport.EventTaskStarted, map[string]string{"task_id": "t5"})
	if f.store.CurrentTaskID() != "t5" {
		t.Fatalf("expected task t5 tracked")
	}
	snap := f.rec.Snapshot()
	if snap.Progress != 0 || snap.Status != "Starting..." {
		t.Fatalf("unexpected progress %+v", snap)
	}

	f.ch.fire(t, transport.EventDisconnect, transport.DisconnectInfo{Reason: transport.ReasonServerDisconnect})
	f.ch.fire(t, transport.EventDisconnect, transport.DisconnectInfo{Reason: transport.ReasonClientDisconnect})
	if got := f.rec.Notices(view.LevelWarning); len(got) != 1 || got[0] != "Connection interrupted. Attempting to reconnect..." {
		t.Fatalf("unexpected warnings %v", got)
	}

	f.ch.fire(t, transport.EventError, map[string]string{})
	f.ch.fire(t, transport.EventError, map[string]string{"message": "quota exceeded"})
	if got := f.rec.Notices(view.LevelError); len(got) != 2 || got[0] != "An error occurred" || got[1] != "quota exceeded" {
		t.Fatalf("unexpected errors %v", got)
	}
}

type fakeDownloader struct {
	mu    sync.Mutex
	dests []string
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, _ string, dest string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, d.err
	}
	d.dests = append(d.dests, dest)
	return 1, os.WriteFile(dest, []byte("x"), 0o600)
}

func TestExportCompleteDownloadsIntoDir(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{}
	f := newTrackerFixture(t, Options{Downloader: dl, DownloadsDir: dir})

	f.ch.fire(t, transport.EventExportComplete, map[string]string{"download_url": "/exports/r.csv", "filename": "../../evil.csv"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !f.tracker.Wait(ctx) {
		t.Fatalf("download did not finish")
	}
	if len(dl.dests) != 1 || dl.dests[0] != filepath.Join(dir, "evil.csv") {
		t.Fatalf("unexpected destinations %v", dl.dests)
	}
	if got := f.rec.Notices(view.LevelSuccess); len(got) != 1 || got[0] != "Export completed successfully!" {
		t.Fatalf("unexpected notices %v", got)
	}
}

func TestExportNameFallsBackToURL(t *testing.T) {
	if got := exportName(exportComplete{DownloadURL: "/download/report.xlsx?x=1"}); got != "report.xlsx" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := exportName(exportComplete{DownloadURL: "/", Filename: ""}); got != "export" {
		t.Fatalf("unexpected name %q", got)
	}
}

type fakeStatus struct {
	mu      sync.Mutex
	replies []*apiclient.TaskStatus
	err     error
}

func (s *fakeStatus) Results(_ context.Context, _ string) (*apiclient.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	next := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return next, nil
}

func TestPollUntilComplete(t *testing.T) {
	src := &fakeStatus{replies: []*apiclient.TaskStatus{
		{Status: "Processing", Progress: 40},
		{Status: StatusComplete, Progress: 100, Results: json.RawMessage(`{"similar_columns":[]}`)},
	}}
	rec := view.NewRecorder()
	res, err := Poll(context.Background(), src, "m1", 5*time.Millisecond, rec)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.CrossFile == nil {
		t.Fatalf("expected cross-file results")
	}
	if snap := rec.Snapshot(); snap.Status != "Analysis complete" || snap.Results == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPollFailureAndError(t *testing.T) {
	rec := view.NewRecorder()
	_, err := Poll(context.Background(), &fakeStatus{replies: []*apiclient.TaskStatus{{Status: StatusFailed, Error: "no numeric columns"}}},
		"m1", 5*time.Millisecond, rec)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if got := rec.Notices(view.LevelError); len(got) != 1 || got[0] != "no numeric columns" {
		t.Fatalf("unexpected notices %v", got)
	}

	rec = view.NewRecorder()
	if _, err := Poll(context.Background(), &fakeStatus{err: errors.New("down")}, "m1", 5*time.Millisecond, rec); err == nil {
		t.Fatalf("expected error")
	}
	if got := rec.Notices(view.LevelError); len(got) != 1 || got[0] != "Failed to get analysis results" {
		t.Fatalf("unexpected notices %v", got)
	}
}
