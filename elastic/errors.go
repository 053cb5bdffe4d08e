package elastic

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrConnection matches every error caused by an unreachable cluster.
var ErrConnection = errors.New("elasticsearch connection failure")

// maxErrorBody limits how much of an error response is kept for diagnosis.
const maxErrorBody = 64 * 1024

// ConnectionError is returned when a request could not be delivered.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrConnection, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// RemoteError is returned when the cluster answered with an error status or
// an error object in the response body. Body holds the raw payload.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("elasticsearch error: %s", e.Body)
	}
	return fmt.Sprintf("elasticsearch error [%d]: %s", e.Status, e.Body)
}

// NewRemoteError reads the error payload from body.
func NewRemoteError(status int, body io.Reader) *RemoteError {
	var sb strings.Builder
	if body != nil {
		_, _ = io.Copy(&sb, io.LimitReader(body, maxErrorBody))
	}
	return &RemoteError{Status: status, Body: strings.TrimSpace(sb.String())}
}
