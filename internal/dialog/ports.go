package dialog

import (
	"context"

	"github.com/geovoz/geovoz-core/internal/audio"
	"github.com/geovoz/geovoz-core/internal/catalog"
	"github.com/geovoz/geovoz-core/internal/stt"
)

// Recognizer is the controller's view of the speech-to-text side. Finals come
// from the recognizer's own end-of-utterance detection; the controller only
// ever discards sessions.
type Recognizer interface {
	Start(ctx context.Context, src stt.FrameSource, onResult func(stt.Transcript), onErr func(error))
	// Abort discards the session. No callback runs after it returns.
	Abort()
	Active() bool
}

var _ Recognizer = (*stt.Recognizer)(nil)

// Speaker is the controller's view of the synthesis side.
type Speaker interface {
	Speak(ctx context.Context, text string, done func(error))
	Stop()
	Speaking() bool
}

// AudioArbiter owns the half-duplex audio device. Acquire returns once the
// requested mode is actually in effect.
type AudioArbiter interface {
	Acquire(ctx context.Context, mode audio.Mode) error
	Release(ctx context.Context) error
	ReadFrame(ctx context.Context) ([]byte, error)
}

// IntentSink receives the UI effects the controller requests. Implementations
// must not block; the controller runs them on its own loop.
type IntentSink interface {
	FocusCountry(country *catalog.Country, distanceM float64)
	ShowCard(country *catalog.Country)
	StatusMessage(text string)
	ClearRoute()
	StateChanged(snap Snapshot)
}

// PermissionGate reports whether voice interaction is allowed on this host.
// When it is not, the explorer degrades to tap-only operation.
type PermissionGate interface {
	VoiceAllowed() bool
}
