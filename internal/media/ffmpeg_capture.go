// Package media acquires OS-level audio streams by shelling out to ffmpeg.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

var (
	// ErrCaptureUnavailable means the requested system source could not be
	// opened.
	ErrCaptureUnavailable = errors.New("system capture source unavailable")
	// ErrPermissionDenied means the microphone could not be opened.
	ErrPermissionDenied = errors.New("microphone permission denied or device missing")
)

// Config describes how sources are captured.
type Config struct {
	Command       string
	InputFormat   string
	SystemSources []string
	MicDevice     string
	SampleRate    int
	Channels      int
}

// FFmpegCapture implements ports.MediaCapture using ffmpeg subprocesses.
type FFmpegCapture struct {
	cfg Config
}

func NewFFmpegCapture(cfg Config) *FFmpegCapture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.MicDevice == "" {
		cfg.MicDevice = "default"
	}
	return &FFmpegCapture{cfg: cfg}
}

// ListSystemSources returns the configured system capture identifiers.
// Platform enumeration happens outside this process; the daemon is handed the
// candidate monitor devices via configuration.
func (c *FFmpegCapture) ListSystemSources(ctx context.Context) ([]string, error) {
	if len(c.cfg.SystemSources) == 0 {
		return nil, ErrCaptureUnavailable
	}
	out := make([]string, len(c.cfg.SystemSources))
	copy(out, c.cfg.SystemSources)
	return out, nil
}

func (c *FFmpegCapture) AcquireSystem(ctx context.Context, sourceID string) (ports.MediaSession, error) {
	if sourceID == "" {
		return nil, ErrCaptureUnavailable
	}
	session, err := c.start(ctx, domain.SourceSystem, sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return session, nil
}

func (c *FFmpegCapture) AcquireMicrophone(ctx context.Context) (ports.MediaSession, error) {
	session, err := c.start(ctx, domain.SourceMicrophone, c.cfg.MicDevice)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return session, nil
}

func (c *FFmpegCapture) start(ctx context.Context, kind domain.SourceKind, device string) (ports.MediaSession, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-i", device,
		"-ac", strconv.Itoa(c.cfg.Channels),
		"-ar", strconv.Itoa(c.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.cfg.Command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// An immediate exit means the device was refused; surface stderr.
	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("capture exited before starting: %w: %s", err, trimmed(stderr.String()))
		}
		return nil, errors.New("capture exited before starting")
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegSession{
		kind:    kind,
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegSession struct {
	kind   domain.SourceKind
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Kind() domain.SourceKind { return s.kind }

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts the subprocess, escalating to kill if it lingers, and
// reports any abnormal exit.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmed(s.stderr.String()))
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Interrupted ffmpeg exits non-zero; that is a clean stop here.
		return nil
	}
	return err
}

func trimmed(input string) string {
	return string(bytes.TrimSpace([]byte(input)))
}
