package stt

import (
	"context"
	"fmt"
)

type mockEngine struct{}

// NewMockEngine returns an engine that echoes buffer sizes instead of doing
// real recognition. Useful on hosts without a speech backend.
func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Transcribe(_ context.Context, pcm []byte, _ int, _ int, final bool) (Result, error) {
	mode := "partial"
	if final {
		mode = "final"
	}
	return Result{
		Text:       fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm)),
		Confidence: 0,
	}, nil
}
