package demux

import (
	"errors"

	"github.com/zsiec/splitter/internal/container"
)

var (
	// ErrOpenFailure is returned by Load when the container cannot be opened
	// or probed.
	ErrOpenFailure = errors.New("demux: cannot open container")

	// ErrNoUsableStreams is returned by Load when no stream survived
	// classification.
	ErrNoUsableStreams = errors.New("demux: no usable streams")

	// ErrSeekFailure is returned when the container could not reposition.
	// The timeline is left as it was before the seek.
	ErrSeekFailure = errors.New("demux: seek failed")

	// ErrNotFound is returned when a stream, sink or chapter does not exist.
	ErrNotFound = errors.New("demux: not found")

	// ErrKindMismatch is returned when a sink is asked to carry a stream of
	// another kind.
	ErrKindMismatch = errors.New("demux: stream kind mismatch")

	// ErrNotLoaded is returned by operations that need a loaded container.
	ErrNotLoaded = errors.New("demux: nothing loaded")

	// ErrNotStopped is returned by Load while the worker is running.
	ErrNotStopped = errors.New("demux: not stopped")

	// ErrInvalidRate is returned by SetRate for rates that are not positive.
	ErrInvalidRate = errors.New("demux: invalid rate")

	// ErrNoSeekAnchor is returned when a video seek anchor is required but
	// no video stream is routed.
	ErrNoSeekAnchor = errors.New("demux: no seek anchor")

	// ErrUnsupportedFormat is the container's unsupported format error, so
	// Load failures can be matched against either package.
	ErrUnsupportedFormat = container.ErrUnsupportedFormat
)
