// Package ui serves the local desk: a no-JS HTML page over the upload
// coordinator, the state store and the recorded display state.
package ui

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ingestdesk/internal/render"
	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
	"ingestdesk/internal/tasksync"
	"ingestdesk/internal/upload"
	"ingestdesk/internal/view"
)

//go:embed templates/*
var templatesFS embed.FS

const maxChatEntries = 50

// Desk is what the UI needs from the upload coordinator.
type Desk interface {
	Upload(ctx context.Context, files []upload.File) (*upload.Outcome, error)
	Uploading() bool
	DeleteFile(ctx context.Context, name string) error
	Preview(ctx context.Context, name string) (*results.Preview, error)
	Chat(ctx context.Context, message string) ([]render.ChatEntry, error)
	Analyze(ctx context.Context) (*results.Results, error)
}

type Options struct {
	Render     render.Options
	ReportsDir string
}

type UI struct {
	desk      Desk
	status    tasksync.StatusSource
	store     *state.Store
	rec       *view.Recorder
	opts      Options
	templates *template.Template

	mu          sync.Mutex
	previewName string
	preview     *results.Preview
	chat        []render.ChatEntry
	baseCtx     context.Context

	analyzing atomic.Bool
	workersWG sync.WaitGroup
}

func NewUI(desk Desk, status tasksync.StatusSource, store *state.Store, rec *view.Recorder, opts Options) *UI {
	tmpl := template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))
	return &UI{
		desk:      desk,
		status:    status,
		store:     store,
		rec:       rec,
		opts:      opts,
		templates: tmpl,
		baseCtx:   context.Background(),
	}
}

func (u *UI) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(u.templates)
	router.GET("/", u.UIHome)
	router.POST("/ui/upload", u.UIUpload)
	router.POST("/ui/files/:name/delete", u.UIDeleteFile)
	router.GET("/ui/files/:name/preview", u.UIPreview)
	router.POST("/ui/chat", u.UIChat)
	router.POST("/ui/analyze", u.UIAnalyze)
	router.GET("/ui/results/:id", u.UIResults)
	router.GET("/ui/reports/:name", u.UIReport)
	router.GET("/api/state", u.APIState)
}

// SetBaseContext sets the context background analyses run under.
func (u *UI) SetBaseContext(ctx context.Context) {
	u.mu.Lock()
	u.baseCtx = ctx
	u.mu.Unlock()
}

// Wait blocks until background analyses finish or ctx is done.
func (u *UI) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		u.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset returns the page to its initial state. It is installed as the
// coordinator's reinit hook for when the file list becomes empty.
func (u *UI) Reset() error {
	u.mu.Lock()
	u.preview = nil
	u.previewName = ""
	u.chat = nil
	u.mu.Unlock()
	u.rec.Reset()
	return nil
}

type pageData struct {
	Snapshot    view.Snapshot
	Notice      *view.Notice
	Files       []state.UploadedFile
	TaskID      string
	Uploading   bool
	Analyzing   bool
	ResultsHTML template.HTML
	PreviewName string
	PreviewHTML template.HTML
	ChatHTML    template.HTML
	Reports     []string
	Error       string
}

func (u *UI) page(errMsg string) pageData {
	snap := u.rec.Snapshot()
	data := pageData{
		Snapshot:  snap,
		Files:     u.store.UploadedFiles(),
		TaskID:    u.store.CurrentTaskID(),
		Uploading: u.desk.Uploading(),
		Analyzing: u.analyzing.Load(),
		Reports:   u.reports(),
		Error:     errMsg,
	}
	if n, ok := snap.LastNotice(); ok {
		data.Notice = &n
	}
	if snap.Results != nil {
		data.ResultsHTML = u.fragment("results", func(w io.Writer) error { return render.HTML(w, snap.Results, u.opts.Render) })
	}

	u.mu.Lock()
	preview, previewName := u.preview, u.previewName
	chat := append([]render.ChatEntry(nil), u.chat...)
	u.mu.Unlock()
	if preview != nil {
		data.PreviewName = previewName
		data.PreviewHTML = u.fragment("preview", func(w io.Writer) error { return render.PreviewHTML(w, preview) })
	}
	if len(chat) > 0 {
		data.ChatHTML = u.fragment("chat", func(w io.Writer) error { return render.ChatHTML(w, chat) })
	}
	return data
}

// fragment renders escaped HTML from the render package for embedding.
func (u *UI) fragment(name string, fill func(io.Writer) error) template.HTML {
	var buf bytes.Buffer
	if err := fill(&buf); err != nil {
		log.Warn().Err(err).Str("fragment", name).Msg("render failed")
		return ""
	}
	return template.HTML(buf.String()) //nolint:gosec // produced by html/template
}

func (u *UI) reports() []string {
	if u.opts.ReportsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(u.opts.ReportsDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isReportName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func isReportName(name string) bool {
	return strings.HasPrefix(name, "report-") && strings.HasSuffix(name, ".zip") && filepath.Base(name) == name
}

func (u *UI) UIHome(c *gin.Context) { c.HTML(http.StatusOK, "home", u.page("")) }

func (u *UI) UIUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.HTML(http.StatusBadRequest, "home", u.page("invalid upload form"))
		return
	}
	headers := form.File["files"]
	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, formFile(fh))
	}

	out, err := u.desk.Upload(c.Request.Context(), files)
	if err != nil && (out == nil || !processingNotStarted(err)) {
		c.HTML(uploadStatus(err), "home", u.page(err.Error()))
		return
	}
	if out.Preview != nil && len(out.Files) > 0 {
		u.setPreview(out.Files[0].OriginalName, out.Preview)
	}
	if err != nil {
		// Files are stored; the notice explains why processing did not start.
		log.Warn().Err(err).Str("task_id", out.TaskID).Msg("upload stored without processing")
		c.HTML(http.StatusOK, "home", u.page(""))
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func processingNotStarted(err error) bool {
	return errors.Is(err, upload.ErrNoTaskID) || errors.Is(err, upload.ErrNotStarted)
}

func formFile(fh *multipart.FileHeader) upload.File {
	return upload.File{
		Name:     filepath.Base(fh.Filename),
		Size:     fh.Size,
		MIMEType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open() //nolint:wrapcheck
		},
	}
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrUploadInProgress):
		return http.StatusConflict
	case errors.Is(err, upload.ErrNoFiles), errors.Is(err, upload.ErrExtNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadGateway
	}
}

func (u *UI) setPreview(name string, p *results.Preview) {
	u.mu.Lock()
	u.previewName = name
	u.preview = p
	u.mu.Unlock()
}

func (u *UI) UIDeleteFile(c *gin.Context) {
	name := c.Param("name")
	if err := u.desk.DeleteFile(c.Request.Context(), name); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, upload.ErrFileNotFound) {
			status = http.StatusNotFound
		}
		c.HTML(status, "home", u.page(err.Error()))
		return
	}
	u.mu.Lock()
	if u.previewName == name {
		u.preview, u.previewName = nil, ""
	}
	u.mu.Unlock()
	c.Redirect(http.StatusSeeOther, "/")
}

func (u *UI) UIPreview(c *gin.Context) {
	name := c.Param("name")
	p, err := u.desk.Preview(c.Request.Context(), name)
	if err != nil {
		c.HTML(http.StatusBadGateway, "home", u.page(err.Error()))
		return
	}
	u.setPreview(name, p)
	c.HTML(http.StatusOK, "home", u.page(""))
}

func (u *UI) UIChat(c *gin.Context) {
	entries, err := u.desk.Chat(c.Request.Context(), c.PostForm("message"))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, upload.ErrNoTask) || errors.Is(err, upload.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		c.HTML(status, "home", u.page(err.Error()))
		return
	}
	u.mu.Lock()
	u.chat = append(u.chat, entries...)
	if len(u.chat) > maxChatEntries {
		u.chat = u.chat[len(u.chat)-maxChatEntries:]
	}
	u.mu.Unlock()
	c.Redirect(http.StatusSeeOther, "/")
}

// UIAnalyze starts a cross-file analysis in the background; progress and
// results reach the page through the recorder.
func (u *UI) UIAnalyze(c *gin.Context) {
	if !u.analyzing.CompareAndSwap(false, true) {
		c.HTML(http.StatusConflict, "home", u.page("analysis already running"))
		return
	}
	u.mu.Lock()
	ctx := u.baseCtx
	u.mu.Unlock()

	u.workersWG.Add(1)
	go func() {
		defer u.workersWG.Done()
		defer u.analyzing.Store(false)
		if _, err := u.desk.Analyze(ctx); err != nil {
			log.Warn().Err(err).Msg("cross-file analysis failed")
		}
	}()
	c.Redirect(http.StatusSeeOther, "/")
}

type resultsPage struct {
	TaskID      string
	Status      string
	Progress    float64
	Error       string
	ResultsHTML template.HTML
}

// UIResults fetches the status of a task once, for tasks the channel does
// not report on.
func (u *UI) UIResults(c *gin.Context) {
	id := c.Param("id")
	st, err := u.status.Results(c.Request.Context(), id)
	if err != nil {
		log.Warn().Str("task_id", id).Err(err).Msg("fetching task status failed")
		c.HTML(http.StatusBadGateway, "results", resultsPage{TaskID: id, Error: "Failed to get analysis results"})
		return
	}
	data := resultsPage{TaskID: id, Status: st.Status, Progress: st.Progress, Error: st.Error}
	if st.Status == tasksync.StatusComplete {
		res, err := results.Normalize(st.Results)
		if err != nil {
			data.Error = "Error displaying results"
		} else {
			data.ResultsHTML = u.fragment("results", func(w io.Writer) error { return render.HTML(w, res, u.opts.Render) })
		}
	}
	c.HTML(http.StatusOK, "results", data)
}

// UIReport serves a report bundle written for a completed task.
func (u *UI) UIReport(c *gin.Context) {
	name := c.Param("name")
	if u.opts.ReportsDir == "" || !isReportName(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	path := filepath.Join(u.opts.ReportsDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	log.Info().Str("path", path).Msg("serving report download")
	c.FileAttachment(path, name)
}

type stateResponse struct {
	TaskID    string               `json:"task_id"`
	Files     []state.UploadedFile `json:"files"`
	Uploading bool                 `json:"uploading"`
	Analyzing bool                 `json:"analyzing"`
	Display   view.Snapshot        `json:"display"`
}

func (u *UI) APIState(c *gin.Context) {
	c.JSON(http.StatusOK, stateResponse{
		TaskID:    u.store.CurrentTaskID(),
		Files:     u.store.UploadedFiles(),
		Uploading: u.desk.Uploading(),
		Analyzing: u.analyzing.Load(),
		Display:   u.rec.Snapshot(),
	})
}
