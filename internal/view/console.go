package view

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"ingestdesk/internal/render"
	"ingestdesk/internal/results"
	"ingestdesk/internal/state"
)

// Console logs notices and progress and prints rendered results as text.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	opts render.Options
}

func NewConsole(out io.Writer, opts render.Options) *Console {
	return &Console{out: out, opts: opts}
}

func (c *Console) Notify(level Level, msg string) {
	evt := log.Info()
	switch level {
	case LevelWarning:
		evt = log.Warn()
	case LevelError:
		evt = log.Error()
	case LevelInfo, LevelSuccess:
	}
	evt.Str("level_hint", string(level)).Msg(msg)
}

func (c *Console) Progress(pct int, status string) {
	log.Info().Int("progress", pct).Str("status", status).Msg("progress")
}

func (c *Console) Results(res *results.Results) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := render.Text(c.out, res, c.opts); err != nil {
		log.Warn().Err(err).Msg("render results to console failed")
	}
}

func (c *Console) FilesUpdated(files []state.UploadedFile) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.OriginalName
	}
	log.Info().Strs("files", names).Msg("uploaded files updated")
}
