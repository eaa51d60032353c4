package video

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

// DefaultFrameStride is the number of file frames advanced per Next
const DefaultFrameStride = 10

// OpenerConfig configures how sources are opened
type OpenerConfig struct {
	FrameStride  int
	ProbeTimeout time.Duration
}

// Opener turns a stream locator into a Source. Locators with a URL scheme
// are live streams; everything else is a file path.
type Opener struct {
	logger *logger.Logger
	ffmpeg *FFmpegWrapper
	config OpenerConfig
}

// NewOpener creates a new source opener
func NewOpener(ffmpeg *FFmpegWrapper, config OpenerConfig, log *logger.Logger) *Opener {
	if config.FrameStride <= 0 {
		config.FrameStride = DefaultFrameStride
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	return &Opener{
		logger: log.Named("video"),
		ffmpeg: ffmpeg,
		config: config,
	}
}

// IsLive reports whether a locator names a network stream
func IsLive(source string) bool {
	return strings.Contains(source, "://")
}

// Open opens a source. RTSP streams are probed first so a dead camera fails
// here rather than on the first capture.
func (o *Opener) Open(ctx context.Context, source string) (Source, error) {
	if !IsLive(source) {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrUnreachable, source)
		}
		return NewFileSource(o.ffmpeg, source, o.config.FrameStride, o.logger)
	}

	if strings.HasPrefix(strings.ToLower(source), "rtsp://") {
		probeCtx, cancel := context.WithTimeout(ctx, o.config.ProbeTimeout)
		defer cancel()
		result, err := ProbeRTSP(probeCtx, source)
		if err != nil {
			return nil, err
		}
		o.logger.Info("RTSP stream probed",
			"source", source,
			"medias", result.Medias,
			"codecs", strings.Join(result.Codecs, ","),
			"first_rtp_ms", result.FirstRTP.Milliseconds(),
		)
	}

	return NewLiveSource(o.ffmpeg, source, o.logger), nil
}
