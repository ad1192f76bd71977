package upload

import (
	"errors"
	"fmt"
)

var (
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrNoFiles          = errors.New("no files provided")
	ErrExtNotAllowed    = errors.New("extension not allowed")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNoTaskID         = errors.New("no task id available for processing")
	ErrNotStarted       = errors.New("processing could not be started")
	ErrTaskIDReused     = errors.New("task id reused within one upload")
	ErrNoTask           = errors.New("no processed task")
	ErrEmptyMessage     = errors.New("empty message")
	ErrNotEnoughFiles   = errors.New("at least 2 files are required")
	ErrFileNotFound     = errors.New("file not found")
)

func newErrExtNotAllowed(name, ext string) error {
	return fmt.Errorf("%w: %s (%s)", ErrExtNotAllowed, name, ext)
}

func newErrFileTooLarge(name string, size, limit int64) error {
	return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, name, size, limit)
}
