package tts

import "context"

// Request contains parameters to synthesize one utterance.
type Request struct {
	Text     string
	Voice    string
	Language string
	// Rate is the speaking rate as a fraction of the engine's full speed.
	// Near 0.5 long prose stays intelligible without dragging.
	Rate   float64
	Pitch  float64
	Volume float64
}

// Chunk contains one span of synthesized PCM.
type Chunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Engine is the contract for producing audio from text. When the configured
// voice is unavailable the engine falls back to the best voice it has for the
// requested language.
type Engine interface {
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}
