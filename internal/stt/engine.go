package stt

import "context"

// Result captures engine output for one transcription pass.
type Result struct {
	Text       string
	Confidence float64
}

// Engine abstracts speech-to-text backends. The engine transcribes the whole
// buffered utterance each pass; final marks the last pass of a session.
type Engine interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (Result, error)
}
