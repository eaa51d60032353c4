// Command grab-frame extracts one frame of a video source as a JPEG, the
// reference image parking zones are drawn on.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image/jpeg"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/config"
	"github.com/AndriyKy/spot-gazer/internal/detector"
	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/video"
)

func main() {
	var (
		source      string
		at          string
		output      string
		quality     int
		detectorURL string
		timeout     time.Duration
	)
	flag.StringVar(&source, "source", "", "Video file or stream URL")
	flag.StringVar(&at, "at", "00:00:00", "Offset into the source as hh:mm:ss")
	flag.StringVar(&output, "o", "frame.jpg", "Output JPEG path")
	flag.IntVar(&quality, "q", 2, "JPEG quality scale (1 best, 31 worst)")
	flag.StringVar(&detectorURL, "detector", config.GetEnvWithDefault("SPOT_GAZER_DETECTOR_URL", ""), "Count vehicles on the frame with this detection service")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Capture timeout")
	flag.Parse()

	if source == "" {
		fmt.Fprintln(os.Stderr, "-source is required")
		flag.Usage()
		os.Exit(2)
	}

	offset, err := parseOffset(at)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid offset: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ffmpeg, err := video.NewFFmpegWrapper("", log)
	if err != nil {
		log.Error("FFmpeg not available", "error", err)
		os.Exit(1)
	}

	data, err := ffmpeg.CaptureFrameJPEG(ctx, source, offset, quality)
	if err != nil {
		log.Error("Failed to capture frame", "source", source, "offset", at, "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		log.Error("Failed to write frame", "path", output, "error", err)
		os.Exit(1)
	}
	log.Info("Frame saved", "source", source, "offset", at, "path", output, "bytes", len(data))

	if detectorURL == "" {
		return
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		log.Error("Failed to decode frame", "error", err)
		os.Exit(1)
	}
	det := detector.NewHTTPDetector(detector.Config{ServiceURL: detectorURL}, log)
	count, err := det.Count(ctx, img)
	if err != nil {
		log.Error("Detection failed", "url", detectorURL, "error", err)
		os.Exit(1)
	}
	log.Info("Vehicles detected", "count", count)
}

// parseOffset parses hh:mm:ss, mm:ss or plain seconds
func parseOffset(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("too many fields in %q", s)
	}

	var total time.Duration
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid field %q in %q", part, s)
		}
		// all but the leading field are base 60
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("field %q out of range in %q", part, s)
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second, nil
}
