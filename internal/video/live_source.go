package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

// LiveSource captures the freshest frame of a network stream on every call.
// Each Next runs a short ffmpeg capture bound to ctx, so a stalled camera is
// abandoned when the caller's deadline expires.
type LiveSource struct {
	logger *logger.Logger
	ffmpeg *FFmpegWrapper
	url    string
	seq    uint64
}

// NewLiveSource creates a live source for url
func NewLiveSource(ffmpeg *FFmpegWrapper, url string, log *logger.Logger) *LiveSource {
	return &LiveSource{
		logger: log,
		ffmpeg: ffmpeg,
		url:    url,
	}
}

// Next captures one frame
func (s *LiveSource) Next(ctx context.Context) (*Frame, error) {
	args := append(inputArgs(s.url),
		"-i", s.url,
		"-an",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "ppm",
		"-pix_fmt", "rgb24",
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd := s.ffmpeg.BuildCommand(ctx, args)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, s.url, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v (%s)", ErrUnreachable, s.url, err, strings.TrimSpace(stderr.String()))
	}

	img, err := readPPM(bufio.NewReader(&stdout))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: no decodable frame: %v", ErrUnreachable, s.url, err)
	}

	s.seq++
	s.logger.Debug("Live frame captured",
		"source", s.url,
		"seq", s.seq,
		"capture_ms", time.Since(start).Milliseconds(),
	)

	return &Frame{
		Image:     img,
		Timestamp: time.Now(),
		Source:    s.url,
		Seq:       s.seq,
	}, nil
}

// Close is a no-op; captures hold no resources between calls
func (s *LiveSource) Close() error {
	return nil
}
