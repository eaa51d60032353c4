package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

func TestNewFFmpegWrapper(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	if ffmpeg.Path() == "" {
		t.Error("FFmpeg path should be set")
	}
	if _, err := ffmpeg.GetVersion(); err != nil {
		t.Errorf("Failed to get version: %v", err)
	}
}

func TestNewFFmpegWrapper_MissingBinary(t *testing.T) {
	_, err := NewFFmpegWrapper(filepath.Join(t.TempDir(), "no-ffmpeg"), logger.NewNopLogger())
	if err == nil {
		t.Fatal("Expected error for missing binary")
	}
}

func TestInputArgs(t *testing.T) {
	args := inputArgs("rtsp://cam/stream")
	if args[len(args)-1] != "tcp" {
		t.Errorf("Expected tcp transport for rtsp, got %v", args)
	}
	for _, arg := range inputArgs("/videos/lot.mp4") {
		if arg == "-rtsp_transport" {
			t.Error("File input should not set rtsp transport")
		}
	}
}

func TestFileSource_Stride(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	path := setupTestVideo(t, ffmpeg, 25)

	src, err := NewFileSource(ffmpeg, path, 10, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to open file source: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// frames 1, 11 and 21 of 25
	for i := 1; i <= 3; i++ {
		frame, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Frame %d: %v", i, err)
		}
		if frame.Seq != uint64(i) {
			t.Errorf("Expected seq %d, got %d", i, frame.Seq)
		}
		if frame.Image.Bounds().Dx() != 64 || frame.Image.Bounds().Dy() != 48 {
			t.Errorf("Unexpected frame size %v", frame.Image.Bounds())
		}
		if frame.Source != path {
			t.Errorf("Expected source %s, got %s", path, frame.Source)
		}
	}

	if _, err := src.Next(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Expected ErrEndOfStream, got %v", err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Expected ErrEndOfStream to repeat, got %v", err)
	}
}

func TestFileSource_CorruptFile(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	path := filepath.Join(t.TempDir(), "broken.mp4")
	if err := os.WriteFile(path, []byte("not a video"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	src, err := NewFileSource(ffmpeg, path, 1, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to open file source: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := src.Next(ctx); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}

func TestFileSource_CloseWhileDecoding(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	path := setupTestVideo(t, ffmpeg, 50)

	src, err := NewFileSource(ffmpeg, path, 1, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to open file source: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := src.Next(ctx); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

// endlessDecoder is a stand-in ffmpeg that writes 1x1 frames until killed
func endlessDecoder(t *testing.T) *FFmpegWrapper {
	t.Helper()
	script := filepath.Join(t.TempDir(), "ffmpeg")
	body := "#!/bin/sh\nwhile :; do printf 'P6\\n1 1\\n255\\n\\377\\000\\000'; done\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("Failed to write decoder script: %v", err)
	}
	return &FFmpegWrapper{ffmpegPath: script, logger: logger.NewNopLogger()}
}

func TestFileSource_CloseReapsDecoder(t *testing.T) {
	src, err := NewFileSource(endlessDecoder(t), "endless.mp4", 1, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to open file source: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	frame, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if frame.Image.Bounds().Dx() != 1 {
		t.Errorf("Expected a 1x1 frame, got %v", frame.Image.Bounds())
	}

	// the decoder is parked handing over the next frame
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- src.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if src.cmd.ProcessState == nil {
		t.Fatal("Decoder process was not reaped after Close")
	}
	if _, err := src.Next(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Expected ErrEndOfStream after Close, got %v", err)
	}
}

func TestFileSource_NextHonorsContext(t *testing.T) {
	src := &FileSource{
		path:   "never.mp4",
		frames: make(chan decoded),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestLiveSource_Unreachable(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	src := NewLiveSource(ffmpeg, "rtsp://127.0.0.1:1/missing", logger.NewNopLogger())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := src.Next(ctx); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}

func TestOpener(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	opener := NewOpener(ffmpeg, OpenerConfig{ProbeTimeout: time.Second}, logger.NewNopLogger())
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := opener.Open(ctx, filepath.Join(t.TempDir(), "gone.mp4"))
		if !errors.Is(err, ErrUnreachable) {
			t.Errorf("Expected ErrUnreachable, got %v", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, err := opener.Open(ctx, t.TempDir())
		if !errors.Is(err, ErrUnreachable) {
			t.Errorf("Expected ErrUnreachable, got %v", err)
		}
	})

	t.Run("dead rtsp camera", func(t *testing.T) {
		_, err := opener.Open(ctx, "rtsp://127.0.0.1:1/stream")
		if !errors.Is(err, ErrUnreachable) {
			t.Errorf("Expected ErrUnreachable, got %v", err)
		}
	})

	t.Run("http stream is not probed", func(t *testing.T) {
		src, err := opener.Open(ctx, "http://127.0.0.1:1/stream.mjpg")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer src.Close()
		if _, ok := src.(*LiveSource); !ok {
			t.Errorf("Expected *LiveSource, got %T", src)
		}
	})

	t.Run("file", func(t *testing.T) {
		path := setupTestVideo(t, ffmpeg, 5)
		src, err := opener.Open(ctx, path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer src.Close()
		if fs, ok := src.(*FileSource); !ok || fs.stride != DefaultFrameStride {
			t.Errorf("Expected *FileSource with default stride, got %T", src)
		}
	})
}

func TestIsLive(t *testing.T) {
	if !IsLive("rtsp://cam/1") || !IsLive("https://cam/1.m3u8") {
		t.Error("URLs should be live")
	}
	if IsLive("/data/lot.mp4") || IsLive("lot.mp4") {
		t.Error("Paths should not be live")
	}
}
