package tts

import (
	"context"
	"time"
)

type mockEngine struct {
	sampleRate int
	channels   int
	chunkDelay time.Duration
}

// NewMockEngine emits a short burst of silent chunks, roughly proportional to
// the text length, so timing-sensitive callers behave as with a real engine.
func NewMockEngine(sampleRate, channels int) Engine {
	return &mockEngine{sampleRate: sampleRate, channels: channels, chunkDelay: 10 * time.Millisecond}
}

func (m *mockEngine) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		n := len(req.Text)/40 + 1
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(m.chunkDelay):
			}
			chunk := Chunk{
				Sequence:   i,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        make([]byte, 256),
				Final:      i == n-1,
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}
