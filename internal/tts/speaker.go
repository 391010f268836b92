package tts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/geovoz/geovoz-core/internal/config"
)

// FrameSink receives synthesized PCM. The audio session implements it while
// holding playback mode.
type FrameSink interface {
	WriteFrame(ctx context.Context, pcm []byte) error
}

// Speaker turns text into audible speech through a frame sink. A new Speak
// interrupts any in-flight utterance immediately; the done callback fires
// exactly once per fully completed utterance and never on interruption.
type Speaker struct {
	engine Engine
	cfg    config.TTSConfig
	sink   FrameSink
	log    *slog.Logger

	mu      sync.Mutex
	current *utterance
}

type utterance struct {
	cancel      context.CancelFunc
	done        chan struct{}
	mu          sync.Mutex
	interrupted bool
}

func NewSpeaker(engine Engine, cfg config.TTSConfig, sink FrameSink, log *slog.Logger) *Speaker {
	return &Speaker{
		engine: engine,
		cfg:    cfg,
		sink:   sink,
		log:    log.With(slog.String("component", "speaker")),
	}
}

// Speak begins speaking text, interrupting any current utterance first.
// done receives nil on full completion or the failure, and is never invoked
// for an interrupted utterance.
func (s *Speaker) Speak(ctx context.Context, text string, done func(error)) {
	s.interrupt()

	uttCtx, cancel := context.WithCancel(ctx)
	utt := &utterance{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.current = utt
	s.mu.Unlock()

	go s.speak(uttCtx, utt, text, done)
}

// Stop cancels any in-progress utterance immediately. Idempotent.
func (s *Speaker) Stop() {
	s.interrupt()
}

// Speaking reports whether an utterance is in flight.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Speaker) interrupt() {
	s.mu.Lock()
	utt := s.current
	s.current = nil
	s.mu.Unlock()
	if utt == nil {
		return
	}
	utt.mu.Lock()
	utt.interrupted = true
	utt.mu.Unlock()
	utt.cancel()
	<-utt.done
}

func (s *Speaker) speak(ctx context.Context, utt *utterance, text string, done func(error)) {
	defer close(utt.done)
	defer utt.cancel()

	req := Request{
		Text:     text,
		Voice:    s.cfg.Voice,
		Language: s.cfg.Language,
		Rate:     s.cfg.Rate,
		Pitch:    s.cfg.Pitch,
		Volume:   s.cfg.Volume,
	}

	chunks, errs := s.engine.Synthesize(ctx, req)
	var failure error

drain:
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := s.sink.WriteFrame(ctx, chunk.PCM); err != nil {
				failure = err
				break drain
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				failure = err
				break drain
			}
		case <-ctx.Done():
			failure = ctx.Err()
			break drain
		}
	}

	s.mu.Lock()
	if s.current == utt {
		s.current = nil
	}
	s.mu.Unlock()

	utt.mu.Lock()
	interrupted := utt.interrupted
	utt.mu.Unlock()
	if interrupted {
		return
	}
	if failure != nil {
		s.log.Warn("synthesis failed", slog.String("error", failure.Error()))
	}
	done(failure)
}
