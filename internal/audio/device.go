package audio

import (
	"context"
	"errors"
)

// Mode is the state of the shared audio path. Capture and Playback are
// mutually exclusive; the device is half-duplex.
type Mode int

const (
	ModeNone Mode = iota
	ModeCapture
	ModePlayback
)

func (m Mode) String() string {
	switch m {
	case ModeCapture:
		return "capture"
	case ModePlayback:
		return "playback"
	default:
		return "none"
	}
}

// ErrWrongMode is returned when a frame operation does not match the mode the
// session currently holds.
var ErrWrongMode = errors.New("audio session in wrong mode")

// Device is the hardware audio path. Configure returns only once the
// requested mode is actually in effect; the OS-side category switch is
// asynchronous, and callers must not observe a half-switched device.
type Device interface {
	// Configure transitions the device to the given mode. ModeNone tears
	// down any open stream and notifies other audio clients.
	Configure(ctx context.Context, mode Mode) error
	// ReadFrame returns the next PCM frame from the microphone. Valid only
	// in ModeCapture.
	ReadFrame(ctx context.Context) ([]byte, error)
	// WriteFrame plays one PCM frame on the loudspeaker. Valid only in
	// ModePlayback.
	WriteFrame(ctx context.Context, pcm []byte) error
	Close() error
}
