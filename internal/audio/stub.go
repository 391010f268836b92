package audio

import (
	"context"
	"sync"
	"time"
)

// StubDevice is an in-memory audio device used by tests and by hosts without
// real audio hardware. Configure takes a configurable settle duration, which
// mirrors the asynchronous category switch of a real OS audio stack.
type StubDevice struct {
	settle   time.Duration
	frameDur time.Duration

	mu       sync.Mutex
	mode     Mode
	captured []chan []byte
	queue    chan []byte
	played   [][]byte
	switches []Mode
	failNext error
}

func NewStubDevice(settle, frameDur time.Duration) *StubDevice {
	if frameDur <= 0 {
		frameDur = 20 * time.Millisecond
	}
	return &StubDevice{
		settle:   settle,
		frameDur: frameDur,
		queue:    make(chan []byte, 256),
	}
}

// QueueCapture scripts microphone frames for the next capture reads.
func (d *StubDevice) QueueCapture(frames ...[]byte) {
	for _, f := range frames {
		d.queue <- f
	}
}

// FailNextConfigure makes the next Configure call return err.
func (d *StubDevice) FailNextConfigure(err error) {
	d.mu.Lock()
	d.failNext = err
	d.mu.Unlock()
}

// Played returns every frame written while in playback.
func (d *StubDevice) Played() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.played))
	copy(out, d.played)
	return out
}

// Switches returns the full history of configured modes.
func (d *StubDevice) Switches() []Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Mode, len(d.switches))
	copy(out, d.switches)
	return out
}

func (d *StubDevice) Configure(ctx context.Context, mode Mode) error {
	d.mu.Lock()
	if err := d.failNext; err != nil {
		d.failNext = nil
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	if d.settle > 0 {
		select {
		case <-time.After(d.settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	d.mode = mode
	d.switches = append(d.switches, mode)
	d.mu.Unlock()
	return nil
}

func (d *StubDevice) ReadFrame(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	if d.mode != ModeCapture {
		d.mu.Unlock()
		return nil, ErrWrongMode
	}
	d.mu.Unlock()

	select {
	case frame := <-d.queue:
		return frame, nil
	case <-time.After(d.frameDur):
		// No scripted audio: the microphone hears silence.
		return make([]byte, 640), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *StubDevice) WriteFrame(ctx context.Context, pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode != ModePlayback {
		return ErrWrongMode
	}
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	d.played = append(d.played, frame)
	return nil
}

func (d *StubDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = ModeNone
	return nil
}
