package apiclient

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedResponse = errors.New("malformed response body")
	ErrRejected          = errors.New("request rejected by server")
	ErrEmptyUpload       = errors.New("no files to upload")
)

// HTTPError reports a non-2xx response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// RejectedError carries the message of a response with success set to false.
// It matches ErrRejected.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return ErrRejected.Error()
	}
	return ErrRejected.Error() + ": " + e.Message
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected } //nolint:errorlint

func rejected(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return &RejectedError{Message: msg}
}
