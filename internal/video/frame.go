package video

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrEndOfStream is returned once a finite source has no more frames
	ErrEndOfStream = errors.New("end of stream")
	// ErrUnreachable is returned when a frame cannot be obtained from a source
	ErrUnreachable = errors.New("stream unreachable")
)

// Frame represents a single decoded video frame
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Source    string
	Seq       uint64
}

// Source yields frames from one camera or file.
//
// Next blocks until a frame is decoded or ctx is done; it never retries.
// Failures wrap ErrEndOfStream or ErrUnreachable.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}
