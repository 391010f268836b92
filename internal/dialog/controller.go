package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/geovoz/geovoz-core/internal/audio"
	"github.com/geovoz/geovoz-core/internal/catalog"
	"github.com/geovoz/geovoz-core/internal/config"
	"github.com/geovoz/geovoz-core/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const releaseTimeout = 2 * time.Second

type eventKind int

const (
	evPressMic eventKind = iota
	evTapPin
	evCloseCard
	evTranscript
	evRecError
	evSpeakDone
	evCooldownDone
)

// event is one input to the controller loop. Asynchronous callbacks carry the
// epoch they were scheduled under; the loop drops stale ones.
type event struct {
	kind       eventKind
	epoch      uint64
	countryID  string
	transcript stt.Transcript
	err        error
}

// Controller owns the dialog state machine. All state lives on a single
// goroutine (Run); external inputs arrive through an event channel, which is
// the Go rendering of the source platform's main-thread model. Only Listening
// activates the recognizer and only Speaking activates the synthesizer, and
// every transition tears the old side down first, so microphone capture and
// loudspeaker synthesis never overlap.
type Controller struct {
	catalog *catalog.Catalog
	arbiter AudioArbiter
	rec     Recognizer
	spk     Speaker
	sink    IntentSink
	gate    PermissionGate
	cfg     config.DialogConfig
	log     *slog.Logger

	events chan event

	// Loop-owned. Never touched outside Run.
	state          State
	epoch          uint64
	transcript     string
	statusText     string
	focused        *catalog.Country
	deniedNotified bool

	transitions metric.Int64Counter
}

func NewController(cat *catalog.Catalog, arbiter AudioArbiter, rec Recognizer, spk Speaker,
	sink IntentSink, gate PermissionGate, cfg config.DialogConfig, log *slog.Logger) *Controller {

	meter := otel.Meter("github.com/geovoz/geovoz-core/dialog")
	transitions, err := meter.Int64Counter("dialog_transitions_total",
		metric.WithDescription("Dialog state transitions by target state"))
	if err != nil {
		log.Warn("failed to create transition counter", slogError(err))
	}

	return &Controller{
		catalog:     cat,
		arbiter:     arbiter,
		rec:         rec,
		spk:         spk,
		sink:        sink,
		gate:        gate,
		cfg:         cfg,
		log:         log.With(slog.String("component", "dialog-controller")),
		events:      make(chan event, 128),
		state:       StateIdle,
		transitions: transitions,
	}
}

// PressMic toggles voice interaction: it starts listening from Idle, cancels
// from Listening, and barges in from Speaking.
func (c *Controller) PressMic() {
	c.enqueue(event{kind: evPressMic})
}

// TapPin selects a country directly. It is equivalent to a successful voice
// resolution: the card opens and narration plays, bypassing the recognizer.
func (c *Controller) TapPin(countryID string) {
	c.enqueue(event{kind: evTapPin, countryID: countryID})
}

// CloseCard dismisses the detail card and silences any narration.
func (c *Controller) CloseCard() {
	c.enqueue(event{kind: evCloseCard})
}

func (c *Controller) enqueue(ev event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("dialog event dropped, queue full", slog.Int("kind", int(ev.kind)))
	}
}

// Run executes the controller loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.publish()
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) teardown() {
	c.epoch++
	c.rec.Abort()
	c.spk.Stop()
	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.arbiter.Release(releaseCtx); err != nil {
		c.log.Warn("audio release on shutdown failed", slogError(err))
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evPressMic:
		c.handlePressMic(ctx)
	case evTapPin:
		c.handleTapPin(ctx, ev.countryID)
	case evCloseCard:
		c.handleCloseCard(ctx)
	case evTranscript:
		c.handleTranscript(ctx, ev)
	case evRecError:
		c.handleRecognizerError(ctx, ev)
	case evSpeakDone:
		c.handleSpeakDone(ctx, ev)
	case evCooldownDone:
		c.handleCooldownDone(ev)
	}
}

func (c *Controller) handlePressMic(ctx context.Context) {
	switch c.state {
	case StateIdle, StateCooldown:
		if c.gate != nil && !c.gate.VoiceAllowed() {
			if !c.deniedNotified {
				c.sink.StatusMessage("El micrófono no está disponible; toca un pin para explorar.")
				c.deniedNotified = true
			}
			return
		}
		c.enterListening(ctx)
	case StateListening:
		// User cancels.
		c.rec.Abort()
		c.release(ctx)
		c.toIdle(c.cfg.CancelledStatus)
	case StateSpeaking:
		// Barge-in: the utterance dies immediately and listening begins.
		c.spk.Stop()
		c.enterListening(ctx)
	}
}

func (c *Controller) enterListening(ctx context.Context) {
	c.spk.Stop()
	c.epoch++
	epoch := c.epoch

	if err := c.arbiter.Acquire(ctx, audio.ModeCapture); err != nil {
		c.log.Warn("capture acquire failed", slogError(err))
		c.sink.StatusMessage("El audio no está disponible.")
		c.release(ctx)
		c.toIdle(c.cfg.IdleStatus)
		return
	}

	c.rec.Start(ctx, c.arbiter,
		func(t stt.Transcript) {
			c.enqueue(event{kind: evTranscript, epoch: epoch, transcript: t})
		},
		func(err error) {
			c.enqueue(event{kind: evRecError, epoch: epoch, err: err})
		})

	c.state = StateListening
	c.transcript = ""
	c.setStatus(c.cfg.ListeningStatus)
	c.count(StateListening)
}

func (c *Controller) handleTranscript(ctx context.Context, ev event) {
	if ev.epoch != c.epoch || c.state != StateListening {
		return
	}
	if !ev.transcript.Final {
		c.transcript = ev.transcript.Text
		c.publish()
		return
	}
	c.transcript = ev.transcript.Text
	c.resolve(ctx, ev.transcript.Text)
}

func (c *Controller) resolve(ctx context.Context, phrase string) {
	c.state = StateResolving
	c.publish()
	c.count(StateResolving)

	c.rec.Abort()
	c.release(ctx)

	country, ok := c.catalog.Find(phrase)
	if !ok {
		c.sink.StatusMessage(c.cfg.NotFoundPhrase)
		c.enterSpeaking(ctx, c.cfg.NotFoundPhrase)
		return
	}
	c.focusAndNarrate(ctx, country)
}

func (c *Controller) focusAndNarrate(ctx context.Context, country *catalog.Country) {
	// The camera move reaches the view before or as narration starts.
	c.sink.FocusCountry(country, c.cfg.CameraDistanceM)
	c.sink.ShowCard(country)
	c.sink.ClearRoute()
	c.sink.StatusMessage(c.cfg.TravellingPrefix + country.DisplayName)
	c.focused = country
	c.enterSpeaking(ctx, narration(country))
}

func (c *Controller) enterSpeaking(ctx context.Context, script string) {
	if err := c.arbiter.Acquire(ctx, audio.ModePlayback); err != nil {
		c.log.Warn("playback acquire failed", slogError(err))
		c.sink.StatusMessage("El audio no está disponible.")
		c.release(ctx)
		c.toIdle(c.cfg.IdleStatus)
		return
	}

	epoch := c.epoch
	c.spk.Speak(ctx, script, func(err error) {
		c.enqueue(event{kind: evSpeakDone, epoch: epoch, err: err})
	})
	c.state = StateSpeaking
	c.publish()
	c.count(StateSpeaking)
}

func (c *Controller) handleSpeakDone(ctx context.Context, ev event) {
	if ev.epoch != c.epoch || c.state != StateSpeaking {
		return
	}
	if ev.err != nil {
		c.log.Warn("narration failed", slogError(ev.err))
		c.sink.StatusMessage("La narración falló.")
		c.release(ctx)
		c.toIdle(c.cfg.IdleStatus)
		return
	}

	c.release(ctx)
	c.state = StateCooldown
	c.publish()
	c.count(StateCooldown)

	// Cooldown exists so observers see narration end before the mic
	// becomes primary again. Without a configured delay it is immediate.
	if c.cfg.CooldownMS <= 0 {
		c.toIdle(c.cfg.IdleStatus)
		return
	}
	epoch := c.epoch
	time.AfterFunc(time.Duration(c.cfg.CooldownMS)*time.Millisecond, func() {
		c.enqueue(event{kind: evCooldownDone, epoch: epoch})
	})
}

func (c *Controller) handleCooldownDone(ev event) {
	if ev.epoch != c.epoch || c.state != StateCooldown {
		return
	}
	c.toIdle(c.cfg.IdleStatus)
}

func (c *Controller) handleRecognizerError(ctx context.Context, ev event) {
	if ev.epoch != c.epoch || c.state != StateListening {
		return
	}
	c.log.Warn("recognition failed", slogError(ev.err))
	c.rec.Abort()
	c.release(ctx)
	c.toIdle("No te escuché bien.")
}

func (c *Controller) handleTapPin(ctx context.Context, countryID string) {
	country, ok := c.catalog.ByID(countryID)
	if !ok {
		c.log.Warn("tap on unknown pin", slog.String("country_id", countryID))
		return
	}

	// A tap preempts whatever phase is active, then follows the same path
	// as a successful voice resolution.
	c.epoch++
	switch c.state {
	case StateListening:
		c.rec.Abort()
		c.release(ctx)
	case StateSpeaking:
		c.spk.Stop()
	}
	c.state = StateResolving
	c.count(StateResolving)
	c.focusAndNarrate(ctx, country)
}

func (c *Controller) handleCloseCard(ctx context.Context) {
	c.focused = nil
	if c.state == StateSpeaking {
		c.epoch++
		c.spk.Stop()
		c.release(ctx)
		c.toIdle(c.cfg.IdleStatus)
		return
	}
	c.publish()
}

func (c *Controller) toIdle(status string) {
	c.state = StateIdle
	c.transcript = ""
	c.setStatus(status)
	c.count(StateIdle)
}

func (c *Controller) release(ctx context.Context) {
	if err := c.arbiter.Release(ctx); err != nil {
		c.log.Warn("audio release failed", slogError(err))
	}
}

func (c *Controller) setStatus(status string) {
	c.statusText = status
	c.publish()
}

func (c *Controller) publish() {
	snap := Snapshot{
		State:      c.state,
		Status:     c.statusText,
		Transcript: c.transcript,
		Epoch:      c.epoch,
	}
	if c.focused != nil {
		snap.CountryID = c.focused.ID
	}
	c.sink.StateChanged(snap)
}

func (c *Controller) count(target State) {
	if c.transitions == nil {
		return
	}
	c.transitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("state", string(target))))
}

// narration builds the spoken synopsis for a country, mirroring the card:
// flag, name, general description, and the first fun fact when one exists.
func narration(country *catalog.Country) string {
	var b strings.Builder
	if country.FlagGlyph != "" {
		b.WriteString(country.FlagGlyph)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "Aquí está %s. %s.", country.DisplayName, country.Description)
	if fact := country.FirstFunFact(); fact != "" {
		fmt.Fprintf(&b, " Dato curioso: %s", fact)
	}
	return b.String()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
