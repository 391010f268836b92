package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Session arbitrates the single hardware audio path between speech capture
// and speech playback. At most one of the two modes is held at any instant.
type Session struct {
	dev Device
	log *slog.Logger

	mu   sync.Mutex
	mode Mode
}

func NewSession(dev Device, log *slog.Logger) *Session {
	return &Session{
		dev:  dev,
		log:  log.With(slog.String("component", "audio-session")),
		mode: ModeNone,
	}
}

// Acquire transitions the session to the requested mode. It is idempotent
// when the requested mode is already held. A failed switch leaves the session
// in ModeNone: the in-flight operation is lost but the process keeps running.
func (s *Session) Acquire(ctx context.Context, mode Mode) error {
	if mode == ModeNone {
		return s.Release(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == mode {
		return nil
	}

	if err := s.dev.Configure(ctx, mode); err != nil {
		s.mode = ModeNone
		return fmt.Errorf("switch audio mode to %s: %w", mode, err)
	}
	s.log.Debug("audio mode switched", slog.String("from", s.mode.String()), slog.String("to", mode.String()))
	s.mode = mode
	return nil
}

// Release returns the session to ModeNone, deactivating the device so other
// audio clients can resume.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeNone {
		return nil
	}
	if err := s.dev.Configure(ctx, ModeNone); err != nil {
		return fmt.Errorf("release audio session: %w", err)
	}
	s.mode = ModeNone
	return nil
}

// Mode reports the currently held mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ReadFrame returns the next microphone frame. The session must hold Capture.
func (s *Session) ReadFrame(ctx context.Context) ([]byte, error) {
	if s.Mode() != ModeCapture {
		return nil, ErrWrongMode
	}
	return s.dev.ReadFrame(ctx)
}

// WriteFrame plays one synthesized frame. The session must hold Playback.
func (s *Session) WriteFrame(ctx context.Context, pcm []byte) error {
	if s.Mode() != ModePlayback {
		return ErrWrongMode
	}
	return s.dev.WriteFrame(ctx, pcm)
}

// Close releases the device for good.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeNone
	return s.dev.Close()
}
