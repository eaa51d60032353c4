package video

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	log := logger.NewNopLogger()
	ffmpeg, err := NewFFmpegWrapper("", log)
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

// setupTestVideo renders a synthetic clip of frames frames at 10 fps
func setupTestVideo(t *testing.T, ffmpeg *FFmpegWrapper, frames int) string {
	path := filepath.Join(t.TempDir(), "lot.mp4")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := ffmpeg.BuildCommand(ctx, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "lavfi",
		"-i", "testsrc=size=64x48:rate=10",
		"-frames:v", strconv.Itoa(frames),
		"-pix_fmt", "yuv420p",
		"-y", path,
	})
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("Cannot render test video: %v (%s)", err, out)
	}
	return path
}
