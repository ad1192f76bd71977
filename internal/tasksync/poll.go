package tasksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ingestdesk/internal/apiclient"
	"ingestdesk/internal/results"
	"ingestdesk/internal/view"
)

var ErrTaskFailed = errors.New("task failed")

// StatusSource reports the status of a task by id.
type StatusSource interface {
	Results(ctx context.Context, taskID string) (*apiclient.TaskStatus, error)
}

// Poll checks the task status every interval until it completes or fails.
// It is used for tasks that are not pushed over the channel, such as
// multi-file analysis.
func Poll(ctx context.Context, src StatusSource, taskID string, interval time.Duration, v view.View) (*results.Results, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck
		case <-ticker.C:
		}

		status, err := src.Results(ctx, taskID)
		if err != nil {
			log.Warn().Str("task_id", taskID).Err(err).Msg("polling task status failed")
			v.Progress(0, "Analysis failed")
			v.Notify(view.LevelError, "Failed to get analysis results")
			return nil, fmt.Errorf("poll %s: %w", taskID, err)
		}

		switch status.Status {
		case StatusComplete:
			res, err := results.Normalize(status.Results)
			if err != nil {
				v.Notify(view.LevelError, "Error displaying results")
				return nil, fmt.Errorf("poll %s: %w", taskID, err)
			}
			v.Progress(100, "Analysis complete")
			v.Results(res)
			log.Info().Str("task_id", taskID).Msg("analysis complete")
			return res, nil
		case StatusFailed:
			msg := status.Error
			if msg == "" {
				msg = "Analysis failed"
			}
			v.Progress(0, "Analysis failed")
			v.Notify(view.LevelError, msg)
			return nil, fmt.Errorf("%w: %s", ErrTaskFailed, msg)
		default:
			pct := clampPercent(status.Progress)
			v.Progress(pct, fmt.Sprintf("Analysis in progress: %d%%", pct))
		}
	}
}
