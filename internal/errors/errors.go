// Package errors defines the error taxonomy shared by the transport, decoding,
// probing and playback layers. Every error here is local and recoverable: a
// caller logs it, reports it, and keeps running.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies which layer an error came from
type ErrorType string

const (
	// ErrorTypeTransport covers connection and framing failures
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeDecode covers payloads that do not match the expected shape
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeProbe covers failures of the one-shot probe command
	ErrorTypeProbe ErrorType = "probe"
	// ErrorTypePlayback covers failures launching the player process
	ErrorTypePlayback ErrorType = "playback"
	// ErrorTypeConfig covers invalid settings
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInternal is used when nothing more specific applies
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors, one per failure kind
var (
	ErrConnectFailed    = errors.New("connect failed")
	ErrDisconnected     = errors.New("disconnected")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrSpawnFailed      = errors.New("spawn failed")
	ErrTimedOut         = errors.New("timed out")
	ErrNonZeroExit      = errors.New("non-zero exit")
	ErrSuperseded       = errors.New("superseded by a newer invocation")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Error carries the classification and context of a failure
type Error struct {
	Type    ErrorType
	Op      string // e.g. "dial", "decode_stream_update", "run_probe"
	URL     string // stream URL or remote address, when known
	Err     error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s error in %s for %s: %v", e.Type, e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the wrapped sentinel
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a classified error
func New(errType ErrorType, op string, err error) *Error {
	return &Error{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithURL attaches the stream URL or remote address
func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

// WithDetail adds a key-value detail
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// Transport builds a transport error around one of its sentinels
func Transport(op string, sentinel, cause error) *Error {
	return New(ErrorTypeTransport, op, join(sentinel, cause))
}

// Decode builds a MalformedPayload error with a reason
func Decode(op string, format string, args ...interface{}) *Error {
	return New(ErrorTypeDecode, op, fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedPayload}, args...)...))
}

// Probe builds a probe error around one of its sentinels
func Probe(op string, sentinel, cause error) *Error {
	return New(ErrorTypeProbe, op, join(sentinel, cause))
}

// Playback builds a playback error around one of its sentinels
func Playback(op string, sentinel, cause error) *Error {
	return New(ErrorTypePlayback, op, join(sentinel, cause))
}

// Config builds an invalid configuration error
func Config(op string, cause error) *Error {
	return New(ErrorTypeConfig, op, join(ErrInvalidConfig, cause))
}

func join(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Wrap classifies err unless it is already classified
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	return New(errType, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return "unknown"
}

// GetDetails extracts error details
func GetDetails(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// IsRecoverable reports whether the application can keep running after err.
// No error in this taxonomy is fatal.
func IsRecoverable(err error) bool {
	return err != nil
}

// IsStatusUnknown reports whether err means "we could not find out" rather
// than "the stream is offline". All probe failures are in this class.
func IsStatusUnknown(err error) bool {
	return GetType(err) == ErrorTypeProbe
}

// Kind returns a short label for metrics and API responses
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	case errors.Is(err, ErrNonZeroExit):
		return "non_zero_exit"
	case errors.Is(err, ErrSpawnFailed):
		return "spawn_failed"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	default:
		return "internal"
	}
}
