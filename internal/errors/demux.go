package errors

import (
	"context"
	stderrors "errors"

	"github.com/zsiec/splitter/internal/demux"
	"github.com/zsiec/splitter/internal/session"
)

// Error codes reported in the body of mapped domain errors.
const (
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeStreamNotFound   = "STREAM_NOT_FOUND"
	CodeKindMismatch     = "STREAM_KIND_MISMATCH"
	CodeInvalidRate      = "INVALID_RATE"
	CodeNotLoaded        = "NOT_LOADED"
	CodeNotStopped       = "NOT_STOPPED"
	CodeOpenFailure      = "OPEN_FAILURE"
	CodeNoUsableStreams  = "NO_USABLE_STREAMS"
	CodeUnsupported      = "UNSUPPORTED_FORMAT"
	CodeSeekFailure      = "SEEK_FAILURE"
	CodeNoSeekAnchor     = "NO_SEEK_ANCHOR"
	CodeSessionLimit     = "SESSION_LIMIT"
	CodeInvalidLocator   = "INVALID_LOCATOR"
	CodeSessionClosed    = "SESSION_CLOSED"
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"
)

type mapping struct {
	target  error
	errType ErrorType
	code    string
	message string
}

// Order matters: the first matching sentinel wins.
var domainMappings = []mapping{
	{session.ErrNotFound, ErrorTypeNotFound, CodeSessionNotFound, "session not found"},
	{session.ErrClosed, ErrorTypeConflict, CodeSessionClosed, "session is closing"},
	{session.ErrTooManySessions, ErrorTypeRateLimit, CodeSessionLimit, "session limit reached"},
	{session.ErrInvalidLocator, ErrorTypeValidation, CodeInvalidLocator, "invalid media locator"},
	{demux.ErrNotFound, ErrorTypeNotFound, CodeStreamNotFound, "stream not found"},
	{demux.ErrKindMismatch, ErrorTypeValidation, CodeKindMismatch, "streams are of different kinds"},
	{demux.ErrInvalidRate, ErrorTypeValidation, CodeInvalidRate, "rate must be positive"},
	{demux.ErrNotStopped, ErrorTypeConflict, CodeNotStopped, "splitter must be stopped"},
	{demux.ErrNotLoaded, ErrorTypeConflict, CodeNotLoaded, "nothing loaded"},
	{demux.ErrUnsupportedFormat, ErrorTypeUnprocessable, CodeUnsupported, "unsupported container format"},
	{demux.ErrNoUsableStreams, ErrorTypeUnprocessable, CodeNoUsableStreams, "container has no usable streams"},
	{demux.ErrOpenFailure, ErrorTypeUnprocessable, CodeOpenFailure, "cannot open container"},
	{demux.ErrNoSeekAnchor, ErrorTypeConflict, CodeNoSeekAnchor, "no stream to anchor the seek"},
	{demux.ErrSeekFailure, ErrorTypeInternal, CodeSeekFailure, "seek failed"},
	{context.DeadlineExceeded, ErrorTypeTimeout, CodeDeadlineExceeded, "operation timed out"},
}

// FromDemuxError maps errors returned by the demux core and the session
// host to an AppError. AppErrors pass through unchanged; anything
// unrecognised becomes an internal error.
func FromDemuxError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := GetAppError(err); ok {
		return appErr
	}
	for _, m := range domainMappings {
		if stderrors.Is(err, m.target) {
			return Wrap(err, m.errType, m.message).WithCode(m.code)
		}
	}
	return Wrap(err, ErrorTypeInternal, "An unexpected error occurred")
}
