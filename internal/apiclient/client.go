// Package apiclient talks to the validation backend over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "ingestdesk/internal/file"
	"ingestdesk/internal/results"
)

const (
	defaultTimeout  = 60 * time.Second
	maxErrorBody    = 4 << 10
	requestIDHeader = "X-Request-ID"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) endpoint(route string, params ...string) string {
	u := *c.baseURL
	raw := strings.TrimRight(u.EscapedPath(), "/") + route
	for _, p := range params {
		raw += "/" + url.PathEscape(p)
	}
	u.RawPath = raw
	u.Path, _ = url.PathUnescape(raw)
	return u.String()
}

// resolve turns a server-relative link into an absolute URL.
func (c *Client) resolve(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

// Upload sends a single file as field "file".
func (c *Client) Upload(ctx context.Context, requestID string, file FilePart, progress ProgressFunc) (*UploadResponse, error) {
	var resp UploadResponse
	if err := c.postFiles(ctx, "/upload", "file", requestID, []FilePart{file}, progress, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, rejected(resp.Error, "Upload failed")
	}
	return &resp, nil
}

// UploadMultiple sends all files as repeated field "files[]".
func (c *Client) UploadMultiple(ctx context.Context, requestID string, files []FilePart, progress ProgressFunc) (*UploadMultipleResponse, error) {
	var resp UploadMultipleResponse
	if err := c.postFiles(ctx, "/upload_multiple", "files[]", requestID, files, progress, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, rejected(resp.Error, "Upload failed")
	}
	return &resp, nil
}

func (c *Client) postFiles(ctx context.Context, route, field, requestID string, files []FilePart, progress ProgressFunc, out any) error {
	if len(files) == 0 {
		return ErrEmptyUpload
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	counter := &progressCounter{total: total, fn: progress}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for _, f := range files {
			part, err := mw.CreateFormFile(field, f.Name)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, io.TeeReader(f.Body, counter)); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(route), pr)
	if err != nil {
		_ = pr.Close()
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}
	log.Debug().Str("route", route).Str("request_id", requestID).Int("files", len(files)).Int64("bytes", total).Msg("uploading")
	return c.do(req, out)
}

// Preview fetches the first rows of an uploaded file.
func (c *Client) Preview(ctx context.Context, serverName string) (*results.Preview, error) {
	var resp previewResponse
	if err := c.getJSON(ctx, c.endpoint("/preview_file", serverName), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, rejected(resp.Error, "")
	}
	p, err := results.NormalizePreview(resp.Columns, resp.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err) //nolint:errorlint
	}
	return p, nil
}

// DeleteFile removes an uploaded file on the server and returns its message.
func (c *Client) DeleteFile(ctx context.Context, serverName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/delete_file", serverName), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	var resp messageResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", rejected(resp.Error, "")
	}
	return resp.Message, nil
}

// Chat asks the recommendation assistant about a task.
func (c *Client) Chat(ctx context.Context, taskID, message string) (string, error) {
	var resp chatResponse
	if err := c.postJSON(ctx, "/chat", chatRequest{TaskID: taskID, Message: message}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", rejected(resp.Error, "Failed to get response")
	}
	return resp.Response, nil
}

// AnalyzeMultiple starts a cross-file analysis and returns its task id.
func (c *Client) AnalyzeMultiple(ctx context.Context, files []string) (string, error) {
	var resp analyzeResponse
	if err := c.postJSON(ctx, "/analyze_multiple", analyzeRequest{Files: files}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", rejected(resp.Error, "Analysis failed")
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%w: missing task_id", ErrMalformedResponse)
	}
	return resp.TaskID, nil
}

// Results polls the status of a task.
func (c *Client) Results(ctx context.Context, taskID string) (*TaskStatus, error) {
	var resp TaskStatus
	if err := c.getJSON(ctx, c.endpoint("/results", taskID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download fetches link (absolute or server-relative) into dest atomically.
func (c *Client) Download(ctx context.Context, link, dest string) (int64, error) {
	target, err := c.resolve(link)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	httpResponse, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()
	if err := checkStatus(httpResponse); err != nil {
		return 0, err
	}
	n, err := fileutil.CopyAtomic(dest, httpResponse.Body)
	if err != nil {
		return 0, fmt.Errorf("save download: %w", err)
	}
	log.Info().Str("url", target).Str("path", dest).Int64("bytes", n).Msg("download saved")
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, route string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(route), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	httpResponse, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = httpResponse.Body.Close() }()
	if err := checkStatus(httpResponse); err != nil {
		log.Warn().Str("method", req.Method).Str("path", req.URL.Path).Int("status", httpResponse.StatusCode).Msg("unexpected status code")
		return err
	}
	if err := json.NewDecoder(httpResponse.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, req.Method, req.URL.Path, err) //nolint:errorlint
	}
	return nil
}

// checkStatus accepts only 200; the backend answers every call with it.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	httpErr := &HTTPError{Status: resp.StatusCode}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		httpErr.Message = body.Error
		if httpErr.Message == "" {
			httpErr.Message = body.Message
		}
	}
	if httpErr.Message == "" {
		httpErr.Message = strings.TrimSpace(string(raw))
	}
	return httpErr
}

type progressCounter struct {
	sent  atomic.Int64
	total int64
	fn    ProgressFunc
}

func (p *progressCounter) Write(b []byte) (int, error) {
	sent := p.sent.Add(int64(len(b)))
	if p.fn != nil {
		p.fn(sent, p.total)
	}
	return len(b), nil
}
