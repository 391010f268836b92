package stt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/geovoz/geovoz-core/internal/config"
)

// Transcript is one recognizer emission. Partials stream continuously; at
// most one final is emitted per session.
type Transcript struct {
	Text       string
	Final      bool
	Confidence float64
}

// FrameSource supplies microphone PCM. The audio session implements it while
// holding capture mode.
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// ErrNoSpeech reports a session that ended without hearing anything.
var ErrNoSpeech = errors.New("recognition ended without speech")

// Recognizer runs speech-to-text sessions over a frame source. At most one
// session is live; starting a new one aborts the previous session first.
type Recognizer struct {
	engine     Engine
	cfg        config.STTConfig
	sampleRate int
	channels   int
	log        *slog.Logger

	mu     sync.Mutex
	active *recSession
}

func NewRecognizer(engine Engine, cfg config.STTConfig, sampleRate, channels int, log *slog.Logger) *Recognizer {
	return &Recognizer{
		engine:     engine,
		cfg:        cfg,
		sampleRate: sampleRate,
		channels:   channels,
		log:        log.With(slog.String("component", "recognizer")),
	}
}

type recSession struct {
	cancel context.CancelFunc
	done   chan struct{}

	onResult func(Transcript)
	onErr    func(error)

	mu       sync.Mutex
	buf      []byte
	finished bool
}

// Start begins a recognition session. onResult receives partial transcripts
// continuously and at most one final; onErr is invoked at most once and
// terminates the session. The caller must hold the audio session in capture.
func (r *Recognizer) Start(ctx context.Context, src FrameSource, onResult func(Transcript), onErr func(error)) {
	r.mu.Lock()
	previous := r.active
	r.active = nil
	r.mu.Unlock()
	if previous != nil {
		previous.abort()
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &recSession{
		cancel:   cancel,
		done:     make(chan struct{}),
		onResult: onResult,
		onErr:    onErr,
	}

	r.mu.Lock()
	r.active = sess
	r.mu.Unlock()

	go r.run(sessCtx, sess, src)
}

// Stop ends the session and flushes one final transcript synchronously: after
// Stop returns, no further callback runs. Idempotent.
func (r *Recognizer) Stop() {
	sess := r.take()
	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done

	sess.mu.Lock()
	if sess.finished {
		sess.mu.Unlock()
		return
	}
	sess.finished = true
	pcm := sess.buf
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := r.engine.Transcribe(ctx, pcm, r.sampleRate, r.channels, true)
	if err != nil {
		sess.onErr(err)
		return
	}
	sess.onResult(Transcript{Text: result.Text, Final: true, Confidence: result.Confidence})
}

// Abort discards the session without a final. Like Stop, no callback runs
// after it returns.
func (r *Recognizer) Abort() {
	sess := r.take()
	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done
	sess.mu.Lock()
	sess.finished = true
	sess.mu.Unlock()
}

// Active reports whether a session is live.
func (r *Recognizer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recognizer) take() *recSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.active
	r.active = nil
	return sess
}

func (r *Recognizer) run(ctx context.Context, sess *recSession, src FrameSource) {
	defer close(sess.done)

	start := time.Now()
	partialEvery := time.Duration(r.cfg.PartialEveryMS) * time.Millisecond
	maxSession := time.Duration(r.cfg.MaxSessionMS) * time.Millisecond
	lastPartial := start
	lastText := ""

	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sess.finish(func() { sess.onErr(err) })
			return
		}

		sess.mu.Lock()
		sess.buf = append(sess.buf, frame...)
		pcm := sess.buf
		sess.mu.Unlock()

		if time.Since(start) > maxSession {
			if lastText == "" {
				// Silent timeout: nothing was heard the whole session.
				sess.finish(func() { sess.onErr(ErrNoSpeech) })
				return
			}
			r.emitFinal(ctx, sess, pcm)
			return
		}

		if time.Since(lastPartial) < partialEvery {
			continue
		}
		lastPartial = time.Now()

		result, err := r.engine.Transcribe(ctx, pcm, r.sampleRate, r.channels, false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sess.finish(func() { sess.onErr(err) })
			return
		}
		if result.Text == "" {
			continue
		}
		if result.Text == lastText {
			// The transcript stabilized: the user stopped talking.
			r.emitFinal(ctx, sess, pcm)
			return
		}
		lastText = result.Text
		if !sess.emit(Transcript{Text: result.Text, Confidence: result.Confidence}) {
			return
		}
	}
}

func (r *Recognizer) emitFinal(ctx context.Context, sess *recSession, pcm []byte) {
	result, err := r.engine.Transcribe(ctx, pcm, r.sampleRate, r.channels, true)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		sess.finish(func() { sess.onErr(err) })
		return
	}
	sess.finish(func() {
		sess.onResult(Transcript{Text: result.Text, Final: true, Confidence: result.Confidence})
	})
}

func (s *recSession) emit(t Transcript) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	s.onResult(t)
	return true
}

func (s *recSession) finish(deliver func()) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()
	deliver()
}

func (s *recSession) abort() {
	s.cancel()
	<-s.done
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}
