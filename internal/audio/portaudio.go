package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice drives the real microphone and loudspeaker through
// PortAudio. Only one stream direction is ever open; Configure closes the
// previous stream and returns once the new one is started, so the mode is in
// effect when it returns.
type PortAudioDevice struct {
	captureRate    int
	playbackRate   int
	channels       int
	framesPerFrame int

	mu     sync.Mutex
	mode   Mode
	stream *portaudio.Stream
	buf    []int16
}

func NewPortAudioDevice(captureRate, playbackRate, channels, frameDurationMS int) (*PortAudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	frames := captureRate * frameDurationMS / 1000
	if frames <= 0 {
		frames = 320
	}
	return &PortAudioDevice{
		captureRate:    captureRate,
		playbackRate:   playbackRate,
		channels:       channels,
		framesPerFrame: frames,
	}, nil
}

func (d *PortAudioDevice) Configure(_ context.Context, mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.closeStreamLocked(); err != nil {
		return err
	}
	d.mode = ModeNone

	switch mode {
	case ModeNone:
		return nil
	case ModeCapture:
		d.buf = make([]int16, d.framesPerFrame*d.channels)
		stream, err := portaudio.OpenDefaultStream(d.channels, 0, float64(d.captureRate), d.framesPerFrame, d.buf)
		if err != nil {
			return fmt.Errorf("open capture stream: %w", err)
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			return fmt.Errorf("start capture stream: %w", err)
		}
		d.stream = stream
	case ModePlayback:
		d.buf = make([]int16, d.framesPerFrame*d.channels)
		stream, err := portaudio.OpenDefaultStream(0, d.channels, float64(d.playbackRate), d.framesPerFrame, d.buf)
		if err != nil {
			return fmt.Errorf("open playback stream: %w", err)
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			return fmt.Errorf("start playback stream: %w", err)
		}
		d.stream = stream
	}
	d.mode = mode
	return nil
}

func (d *PortAudioDevice) ReadFrame(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	stream := d.stream
	mode := d.mode
	d.mu.Unlock()

	if mode != ModeCapture || stream == nil {
		return nil, ErrWrongMode
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := stream.Read(); err != nil {
		return nil, fmt.Errorf("read capture frame: %w", err)
	}

	d.mu.Lock()
	pcm := make([]byte, len(d.buf)*2)
	for i, sample := range d.buf {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	d.mu.Unlock()
	return pcm, nil
}

func (d *PortAudioDevice) WriteFrame(ctx context.Context, pcm []byte) error {
	d.mu.Lock()
	stream := d.stream
	mode := d.mode
	d.mu.Unlock()

	if mode != ModePlayback || stream == nil {
		return ErrWrongMode
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm frame not 16-bit aligned")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for offset := 0; offset < len(pcm)/2; offset += len(d.buf) {
		n := 0
		for i := range d.buf {
			idx := (offset + i) * 2
			if idx+1 >= len(pcm) {
				d.buf[i] = 0
				continue
			}
			d.buf[i] = int16(binary.LittleEndian.Uint16(pcm[idx:]))
			n++
		}
		if n == 0 {
			break
		}
		if err := d.stream.Write(); err != nil {
			return fmt.Errorf("write playback frame: %w", err)
		}
	}
	return nil
}

func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	err := d.closeStreamLocked()
	d.mode = ModeNone
	d.mu.Unlock()
	portaudio.Terminate()
	return err
}

func (d *PortAudioDevice) closeStreamLocked() error {
	if d.stream == nil {
		return nil
	}
	if err := d.stream.Stop(); err != nil {
		d.stream.Close()
		d.stream = nil
		return fmt.Errorf("stop audio stream: %w", err)
	}
	err := d.stream.Close()
	d.stream = nil
	if err != nil {
		return fmt.Errorf("close audio stream: %w", err)
	}
	return nil
}
