package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

type decoded struct {
	frame *Frame
	err   error
}

// FileSource decodes a finite media file with one long-running ffmpeg
// process. Every Next returns the frame Stride positions after the previous
// one; once the file is exhausted Next returns ErrEndOfStream.
type FileSource struct {
	logger *logger.Logger
	path   string
	stride int

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer
	frames chan decoded

	closeOnce sync.Once
	done      chan struct{}
	exited    chan struct{}
	finished  bool
}

// NewFileSource starts decoding path. stride <= 1 yields every frame.
func NewFileSource(ffmpeg *FFmpegWrapper, path string, stride int, log *logger.Logger) (*FileSource, error) {
	if stride < 1 {
		stride = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := append(inputArgs(path),
		"-i", path,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "ppm",
		"-pix_fmt", "rgb24",
		"-",
	)
	cmd := ffmpeg.BuildCommand(ctx, args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open decoder pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start decoder for %s: %v", ErrUnreachable, path, err)
	}

	s := &FileSource{
		logger: log,
		path:   path,
		stride: stride,
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
		frames: make(chan decoded),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.decode(stdout)

	log.Debug("File source opened", "source", path, "stride", stride)
	return s, nil
}

// decode reads frames from the ffmpeg pipe and hands every stride-th frame
// to Next. The process is always reaped before decode returns.
func (s *FileSource) decode(stdout io.Reader) {
	defer close(s.exited)
	defer close(s.frames)

	r := bufio.NewReaderSize(stdout, 1<<20)
	var index, seq uint64
	for {
		img, err := readPPM(r)
		if err != nil {
			waitErr := s.cmd.Wait()
			s.offer(decoded{err: s.endError(err, waitErr)})
			return
		}

		index++
		if (index-1)%uint64(s.stride) != 0 {
			continue
		}

		seq++
		frame := &Frame{
			Image:     img,
			Timestamp: time.Now(),
			Source:    s.path,
			Seq:       seq,
		}
		if !s.offer(decoded{frame: frame}) {
			// Close cancelled the process context
			s.cmd.Wait()
			return
		}
	}
}

func (s *FileSource) offer(d decoded) bool {
	select {
	case s.frames <- d:
		return true
	case <-s.done:
		return false
	}
}

// endError classifies how decoding stopped
func (s *FileSource) endError(readErr, waitErr error) error {
	if errors.Is(readErr, io.EOF) && waitErr == nil {
		return fmt.Errorf("%w: %s", ErrEndOfStream, s.path)
	}
	detail := strings.TrimSpace(s.stderr.String())
	if waitErr != nil && detail != "" {
		return fmt.Errorf("%w: %s: %v (%s)", ErrUnreachable, s.path, waitErr, detail)
	}
	if waitErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, s.path, waitErr)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, s.path, readErr)
}

// Next returns the next frame of the file
func (s *FileSource) Next(ctx context.Context) (*Frame, error) {
	if s.finished {
		return nil, fmt.Errorf("%w: %s", ErrEndOfStream, s.path)
	}

	select {
	case d, ok := <-s.frames:
		if !ok {
			s.finished = true
			return nil, fmt.Errorf("%w: %s", ErrEndOfStream, s.path)
		}
		if d.err != nil {
			s.finished = true
			return nil, d.err
		}
		return d.frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the decoder process and waits until it has exited
func (s *FileSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
	if s.exited != nil {
		<-s.exited
	}
	return nil
}
