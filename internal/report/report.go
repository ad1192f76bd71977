// Package report bundles the results of a completed task into a zip file.
package report

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "ingestdesk/internal/file"
	"ingestdesk/internal/render"
	"ingestdesk/internal/results"
)

const (
	entryJSON = "results.json"
	entryHTML = "results.html"
	entryText = "results.txt"
)

var ErrNoResults = errors.New("no results to bundle")

// Entry describes one file written into the bundle. Err is set when the file
// could not be produced and was left out.
type Entry struct {
	Filename string
	Err      string
}

type Writer struct {
	dir  string
	opts render.Options
}

func NewWriter(dir string, opts render.Options) *Writer {
	return &Writer{dir: dir, opts: opts}
}

// Path returns where the bundle of taskID is written.
func (w *Writer) Path(taskID string) string {
	return filepath.Join(w.dir, Name(taskID))
}

// Write bundles res for taskID and returns the bundle path.
func (w *Writer) Write(taskID string, res *results.Results) (string, error) {
	dest := w.Path(taskID)
	entries, err := Build(dest, res, w.opts)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Err != "" {
			log.Warn().Str("task_id", taskID).Str("entry", e.Filename).Str("error", e.Err).Msg("report entry skipped")
		}
	}
	log.Info().Str("task_id", taskID).Str("path", dest).Msg("report written")
	return dest, nil
}

// Name derives a filesystem-safe bundle name from a task id.
func Name(taskID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(taskID))
	if safe == "" {
		safe = "task-" + time.Now().UTC().Format("20060102T150405")
	}
	return "report-" + safe + ".zip"
}

// Build writes the JSON, HTML and text renditions of res into a zip at dest.
// It always returns one entry per rendition; a failed rendition is omitted
// from the archive and its entry carries the reason.
func Build(dest string, res *results.Results, opts render.Options) ([]Entry, error) {
	if res == nil || res.Empty() {
		return nil, ErrNoResults
	}

	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	entries := []Entry{
		addEntry(zipWriter, entryJSON, func(w io.Writer) error { return writeJSON(w, res) }),
		addEntry(zipWriter, entryHTML, func(w io.Writer) error { return render.HTML(w, res, opts) }),
		addEntry(zipWriter, entryText, func(w io.Writer) error { return render.Text(w, res, opts) }),
	}
	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return entries, fmt.Errorf("close zip writer: %w", err)
	}
	if _, err := fileutil.CopyAtomic(dest, &buf); err != nil {
		return entries, fmt.Errorf("write report: %w", err)
	}
	return entries, nil
}

// addEntry renders into memory first so a failed rendition leaves no
// truncated file in the archive.
func addEntry(zipWriter *zip.Writer, name string, fill func(io.Writer) error) Entry {
	entry := Entry{Filename: name}
	var content bytes.Buffer
	if err := fill(&content); err != nil {
		entry.Err = err.Error()
		return entry
	}
	zipEntryWriter, err := zipWriter.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		entry.Err = err.Error()
		return entry
	}
	if _, err := io.Copy(zipEntryWriter, &content); err != nil {
		entry.Err = err.Error()
	}
	return entry
}

// writeJSON stores the payload as received when available.
func writeJSON(w io.Writer, res *results.Results) error {
	if len(res.Raw) > 0 {
		var indented bytes.Buffer
		if err := json.Indent(&indented, res.Raw, "", "  "); err != nil {
			return fmt.Errorf("indent results: %w", err)
		}
		_, err := indented.WriteTo(w)
		return err //nolint:wrapcheck
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}
