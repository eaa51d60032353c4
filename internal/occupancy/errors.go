package occupancy

import (
	"errors"
	"fmt"

	"github.com/AndriyKy/spot-gazer/internal/video"
)

// ErrorKind classifies a permanent stream failure
type ErrorKind int

const (
	// StreamExhausted means a finite source ran out of frames
	StreamExhausted ErrorKind = iota
	// StreamUnreachable means a frame could not be acquired from the source
	StreamUnreachable
	// DetectionFailure means masking or detection failed on a frame
	DetectionFailure
)

func (k ErrorKind) String() string {
	switch k {
	case StreamExhausted:
		return "stream_exhausted"
	case StreamUnreachable:
		return "stream_unreachable"
	case DetectionFailure:
		return "detection_failure"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// StreamError is the permanent failure that removes a stream from its lot
type StreamError struct {
	Kind   ErrorKind
	LotID  int
	Source string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("lot %d stream %s: %s: %v", e.LotID, e.Source, e.Kind, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ConfigurationError rejects a lot group before it is launched
type ConfigurationError struct {
	LotID  int
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("lot %d: invalid configuration: %s", e.LotID, e.Reason)
}

// acquireError classifies a failure to open or read a source. Anything that
// is not a clean end of stream, timeouts included, counts as unreachable.
func acquireError(cfg StreamConfig, err error) *StreamError {
	kind := StreamUnreachable
	if errors.Is(err, video.ErrEndOfStream) {
		kind = StreamExhausted
	}
	return &StreamError{Kind: kind, LotID: cfg.LotID, Source: cfg.Source, Err: err}
}

func detectionError(cfg StreamConfig, err error) *StreamError {
	return &StreamError{Kind: DetectionFailure, LotID: cfg.LotID, Source: cfg.Source, Err: err}
}
