package storefront

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaleResponse marks a fetch result that was superseded by a newer
	// generation. It is never surfaced to callers.
	ErrStaleResponse = errors.New("response superseded by a newer fetch")

	// ErrInvalidKeySegment is raised when a key segment is not a primitive value
	ErrInvalidKeySegment = errors.New("invalid key segment")

	// ErrNotObserved is returned by Await when the key has never been requested
	ErrNotObserved = errors.New("key has no cache entry")

	// ErrNoSession is returned by operations that require a logged-in session
	ErrNoSession = errors.New("no active session")
)

// GenericNetworkMessage is shown to users when no response was received.
const GenericNetworkMessage = "Unable to reach the server. Please check your connection and try again."

// RemoteError is a structured failure returned by the backend.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (status %d): %s", e.StatusCode, e.Message)
}

// NetworkError means the request produced no response at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FieldError describes one rejected form field.
type FieldError struct {
	Field string
	Rule  string
}

// ValidationError collects field errors found before a payload was sent.
// It belongs to the form that produced it and is never notified.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " failed " + f.Rule
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// MessageOf extracts the human-readable message for err. Remote errors yield
// the server message verbatim and network errors a generic message.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		if remote.Message != "" {
			return remote.Message
		}
		return fmt.Sprintf("request failed with status %d", remote.StatusCode)
	}

	var network *NetworkError
	if errors.As(err, &network) {
		return GenericNetworkMessage
	}

	return err.Error()
}
