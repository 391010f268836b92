package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/geovoz/geovoz-core/internal/audio"
	"github.com/geovoz/geovoz-core/internal/catalog"
	"github.com/geovoz/geovoz-core/internal/config"
	"github.com/geovoz/geovoz-core/internal/stt"
)

type fakeRecognizer struct {
	starts   int
	aborts   int
	active   bool
	onResult func(stt.Transcript)
	onErr    func(error)
}

func (r *fakeRecognizer) Start(_ context.Context, _ stt.FrameSource, onResult func(stt.Transcript), onErr func(error)) {
	r.starts++
	r.active = true
	r.onResult = onResult
	r.onErr = onErr
}

func (r *fakeRecognizer) Abort() { r.aborts++; r.active = false }

func (r *fakeRecognizer) Active() bool { return r.active }

func (r *fakeRecognizer) emit(text string, final bool) {
	r.onResult(stt.Transcript{Text: text, Final: final, Confidence: 0.9})
}

type fakeSpeaker struct {
	speaking bool
	stops    int
	texts    []string
	done     func(error)
}

func (s *fakeSpeaker) Speak(_ context.Context, text string, done func(error)) {
	s.speaking = true
	s.texts = append(s.texts, text)
	s.done = done
}

func (s *fakeSpeaker) Stop() {
	if s.speaking {
		s.stops++
	}
	s.speaking = false
	s.done = nil
}

func (s *fakeSpeaker) Speaking() bool { return s.speaking }

// finish completes the current utterance the way a real synthesizer would.
func (s *fakeSpeaker) finish(err error) {
	done := s.done
	s.speaking = false
	s.done = nil
	if done != nil {
		done(err)
	}
}

type fakeArbiter struct {
	mode      audio.Mode
	failNext  bool
	history   []audio.Mode
	onAcquire func(audio.Mode)
}

func (a *fakeArbiter) Acquire(_ context.Context, mode audio.Mode) error {
	if a.failNext {
		a.failNext = false
		a.mode = audio.ModeNone
		return errors.New("device busy")
	}
	if a.onAcquire != nil {
		a.onAcquire(mode)
	}
	a.mode = mode
	a.history = append(a.history, mode)
	return nil
}

func (a *fakeArbiter) Release(_ context.Context) error {
	a.mode = audio.ModeNone
	return nil
}

func (a *fakeArbiter) ReadFrame(_ context.Context) ([]byte, error) {
	return make([]byte, 640), nil
}

type fakeSink struct {
	focused  []string
	cards    []string
	statuses []string
	clears   int
	snaps    []Snapshot
}

func (s *fakeSink) FocusCountry(country *catalog.Country, _ float64) {
	s.focused = append(s.focused, country.ID)
}

func (s *fakeSink) ShowCard(country *catalog.Country) {
	s.cards = append(s.cards, country.ID)
}

func (s *fakeSink) StatusMessage(text string) {
	s.statuses = append(s.statuses, text)
}

func (s *fakeSink) ClearRoute() { s.clears++ }

func (s *fakeSink) StateChanged(snap Snapshot) {
	s.snaps = append(s.snaps, snap)
}

func (s *fakeSink) sawStatus(text string) bool {
	for _, status := range s.statuses {
		if status == text {
			return true
		}
	}
	return false
}

func (s *fakeSink) sawState(state State) bool {
	for _, snap := range s.snaps {
		if snap.State == state {
			return true
		}
	}
	return false
}

type fakeGate struct{ allowed bool }

func (g *fakeGate) VoiceAllowed() bool { return g.allowed }

type harness struct {
	c    *Controller
	rec  *fakeRecognizer
	spk  *fakeSpeaker
	arb  *fakeArbiter
	sink *fakeSink
	gate *fakeGate
	ctx  context.Context
}

func testCountries() []*catalog.Country {
	return []*catalog.Country{
		{
			ID: "japon", DisplayName: "Japón", Synonyms: []string{"nippon"},
			Latitude: 36.2, Longitude: 138.25, FlagGlyph: "🇯🇵",
			Description: "Archipiélago de tradición y tecnología",
			FunFacts:    []string{"Tiene más de 6800 islas"},
		},
		{
			ID: "mexico", DisplayName: "México", Synonyms: []string{"república mexicana", "méjico"},
			Latitude: 23.63, Longitude: -102.55, FlagGlyph: "🇲🇽",
			Description: "Tierra de culturas milenarias",
		},
		{
			ID: "francia", DisplayName: "Francia",
			Latitude: 46.2, Longitude: 2.21, FlagGlyph: "🇫🇷",
			Description: "Cuna del arte y la gastronomía",
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat, err := catalog.New(testCountries(), log)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	h := &harness{
		rec:  &fakeRecognizer{},
		spk:  &fakeSpeaker{},
		arb:  &fakeArbiter{},
		sink: &fakeSink{},
		gate: &fakeGate{allowed: true},
		ctx:  context.Background(),
	}
	h.c = NewController(cat, h.arb, h.rec, h.spk, h.sink, h.gate, config.Default().Dialog, log)
	return h
}

// pump drains queued callback events so every test runs the loop body
// deterministically on the test goroutine.
func (h *harness) pump() {
	for {
		select {
		case ev := <-h.c.events:
			h.c.handle(h.ctx, ev)
		default:
			return
		}
	}
}

func (h *harness) pressMic() {
	h.c.PressMic()
	h.pump()
}

func (h *harness) tapPin(id string) {
	h.c.TapPin(id)
	h.pump()
}

func (h *harness) closeCard() {
	h.c.CloseCard()
	h.pump()
}

func TestVoiceMatchFlow(t *testing.T) {
	h := newHarness(t)

	h.pressMic()
	if h.c.state != StateListening {
		t.Fatalf("state after mic press = %s, want listening", h.c.state)
	}
	if h.arb.mode != audio.ModeCapture {
		t.Fatalf("audio mode while listening = %s, want capture", h.arb.mode)
	}
	if !h.sink.sawStatus("Te escucho...") {
		t.Fatalf("listening status not published: %v", h.sink.statuses)
	}

	h.rec.emit("ja", false)
	h.pump()
	last := h.sink.snaps[len(h.sink.snaps)-1]
	if last.Transcript != "ja" || last.State != StateListening {
		t.Fatalf("partial snapshot = %+v", last)
	}

	h.rec.emit("quiero ir a japón", true)
	h.pump()

	if len(h.sink.focused) != 1 || h.sink.focused[0] != "japon" {
		t.Fatalf("focused = %v, want [japon]", h.sink.focused)
	}
	if len(h.sink.cards) != 1 || h.sink.cards[0] != "japon" {
		t.Fatalf("cards = %v, want [japon]", h.sink.cards)
	}
	if h.sink.clears != 1 {
		t.Fatalf("route clears = %d, want 1", h.sink.clears)
	}
	if !h.sink.sawStatus("Viajando a: Japón") {
		t.Fatalf("travelling status not published: %v", h.sink.statuses)
	}
	if h.c.state != StateSpeaking {
		t.Fatalf("state after resolution = %s, want speaking", h.c.state)
	}
	if h.arb.mode != audio.ModePlayback {
		t.Fatalf("audio mode while speaking = %s, want playback", h.arb.mode)
	}

	script := h.spk.texts[0]
	if !strings.Contains(script, "Aquí está Japón") {
		t.Fatalf("narration = %q, missing country intro", script)
	}
	if !strings.Contains(script, "Dato curioso: Tiene más de 6800 islas") {
		t.Fatalf("narration = %q, missing fun fact", script)
	}

	h.spk.finish(nil)
	h.pump()
	if h.c.state != StateIdle {
		t.Fatalf("state after narration = %s, want idle", h.c.state)
	}
	if h.arb.mode != audio.ModeNone {
		t.Fatalf("audio mode after narration = %s, want none", h.arb.mode)
	}
	if !h.sink.sawState(StateCooldown) {
		t.Fatalf("cooldown snapshot never published")
	}
}

func TestVoiceMissNarratesPhraseOnly(t *testing.T) {
	h := newHarness(t)

	h.pressMic()
	h.rec.emit("llévame a la atlántida", true)
	h.pump()

	if len(h.sink.focused) != 0 || len(h.sink.cards) != 0 {
		t.Fatalf("miss moved camera or opened card: focused=%v cards=%v", h.sink.focused, h.sink.cards)
	}
	if !h.sink.sawStatus("No encontré ese país.") {
		t.Fatalf("miss status not published: %v", h.sink.statuses)
	}
	if h.c.state != StateSpeaking {
		t.Fatalf("state after miss = %s, want speaking", h.c.state)
	}
	if got := h.spk.texts[0]; got != "No encontré ese país." {
		t.Fatalf("miss narration = %q", got)
	}

	h.spk.finish(nil)
	h.pump()
	if h.c.state != StateIdle {
		t.Fatalf("state after miss narration = %s, want idle", h.c.state)
	}
}

func TestEmptyFinalTranscriptIsMiss(t *testing.T) {
	h := newHarness(t)

	h.pressMic()
	h.rec.emit("", true)
	h.pump()

	if len(h.sink.focused) != 0 {
		t.Fatalf("empty transcript focused %v", h.sink.focused)
	}
	if got := h.spk.texts[0]; got != "No encontré ese país." {
		t.Fatalf("empty transcript narration = %q", got)
	}
}

func TestSynonymResolvesCountry(t *testing.T) {
	h := newHarness(t)

	h.pressMic()
	h.rec.emit("quiero ver la república mexicana", true)
	h.pump()

	if len(h.sink.focused) != 1 || h.sink.focused[0] != "mexico" {
		t.Fatalf("focused = %v, want [mexico]", h.sink.focused)
	}
}

func TestBargeInStartsListening(t *testing.T) {
	h := newHarness(t)
	h.arb.onAcquire = func(mode audio.Mode) {
		if mode == audio.ModeCapture && h.spk.Speaking() {
			t.Fatalf("capture acquired while synthesizer active")
		}
		if mode == audio.ModePlayback && h.rec.Active() {
			t.Fatalf("playback acquired while recognizer active")
		}
	}

	h.tapPin("japon")
	if h.c.state != StateSpeaking {
		t.Fatalf("state after tap = %s, want speaking", h.c.state)
	}

	staleDone := h.spk.done
	h.pressMic()
	if h.spk.stops == 0 {
		t.Fatalf("barge-in did not stop the synthesizer")
	}
	if h.c.state != StateListening {
		t.Fatalf("state after barge-in = %s, want listening", h.c.state)
	}
	if h.arb.mode != audio.ModeCapture {
		t.Fatalf("audio mode after barge-in = %s, want capture", h.arb.mode)
	}

	// A done callback racing the interruption carries the old epoch and
	// must not disturb the new session.
	if staleDone != nil {
		staleDone(nil)
	}
	h.pump()
	if h.c.state != StateListening {
		t.Fatalf("stale done callback moved state to %s", h.c.state)
	}
}

func TestPinTapDuringNarrationSwitchesCountry(t *testing.T) {
	h := newHarness(t)

	h.tapPin("japon")
	h.tapPin("francia")

	if h.spk.stops != 1 {
		t.Fatalf("synthesizer stops = %d, want 1", h.spk.stops)
	}
	if h.c.state != StateSpeaking {
		t.Fatalf("state after second tap = %s, want speaking (not listening)", h.c.state)
	}
	want := []string{"japon", "francia"}
	if len(h.sink.focused) != 2 || h.sink.focused[0] != want[0] || h.sink.focused[1] != want[1] {
		t.Fatalf("focused = %v, want %v", h.sink.focused, want)
	}
	if !strings.Contains(h.spk.texts[1], "Francia") {
		t.Fatalf("second narration = %q, want Francia", h.spk.texts[1])
	}
}

func TestPinTapDuringListeningCancelsRecognition(t *testing.T) {
	h := newHarness(t)

	h.pressMic()
	oldEmit := h.rec.onResult
	h.tapPin("mexico")

	if h.rec.aborts == 0 {
		t.Fatalf("tap during listening did not abort recognition")
	}
	if h.c.state != StateSpeaking {
		t.Fatalf("state after tap = %s, want speaking", h.c.state)
	}

	// A transcript still in flight from the cancelled session is stale.
	oldEmit(stt.Transcript{Text: "japón", Final: true})
	h.pump()
	if len(h.sink.focused) != 1 || h.sink.focused[0] != "mexico" {
		t.Fatalf("stale transcript resolved: focused = %v", h.sink.focused)
	}
}

func TestMicPressTogglesListening(t *testing.T) {
	h := newHarness(t)

	h.pressMic()
	firstEmit := h.rec.onResult
	h.pressMic()
	if h.c.state != StateIdle {
		t.Fatalf("second press state = %s, want idle", h.c.state)
	}
	if !h.sink.sawStatus("Pausa.") {
		t.Fatalf("cancel status not published: %v", h.sink.statuses)
	}
	if h.arb.mode != audio.ModeNone {
		t.Fatalf("audio mode after cancel = %s, want none", h.arb.mode)
	}

	h.pressMic()
	if h.c.state != StateListening {
		t.Fatalf("third press state = %s, want listening", h.c.state)
	}
	if h.rec.starts != 2 {
		t.Fatalf("recognizer starts = %d, want 2", h.rec.starts)
	}

	// The first session's transcript must not resolve in the new one.
	firstEmit(stt.Transcript{Text: "francia", Final: true})
	h.pump()
	if len(h.sink.focused) != 0 {
		t.Fatalf("stale transcript resolved: focused = %v", h.sink.focused)
	}
	if h.c.state != StateListening {
		t.Fatalf("stale transcript moved state to %s", h.c.state)
	}
}

func TestRecognizerFailureReturnsIdle(t *testing.T) {
	h := newHarness(t)

	h.pressMic()
	h.rec.onErr(stt.ErrNoSpeech)
	h.pump()

	if h.c.state != StateIdle {
		t.Fatalf("state after recognizer failure = %s, want idle", h.c.state)
	}
	if h.arb.mode != audio.ModeNone {
		t.Fatalf("audio mode after failure = %s, want none", h.arb.mode)
	}
	if len(h.sink.focused) != 0 {
		t.Fatalf("failure focused %v", h.sink.focused)
	}
}

func TestCaptureAcquireFailureStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.arb.failNext = true

	h.pressMic()
	if h.c.state != StateIdle {
		t.Fatalf("state after acquire failure = %s, want idle", h.c.state)
	}
	if h.rec.starts != 0 {
		t.Fatalf("recognizer started despite acquire failure")
	}
	if !h.sink.sawStatus("El audio no está disponible.") {
		t.Fatalf("failure status not published: %v", h.sink.statuses)
	}
}

func TestCloseCardSilencesNarration(t *testing.T) {
	h := newHarness(t)

	h.tapPin("japon")
	staleDone := h.spk.done
	h.closeCard()

	if h.c.state != StateIdle {
		t.Fatalf("state after close = %s, want idle", h.c.state)
	}
	if h.spk.stops != 1 {
		t.Fatalf("synthesizer stops = %d, want 1", h.spk.stops)
	}
	if h.arb.mode != audio.ModeNone {
		t.Fatalf("audio mode after close = %s, want none", h.arb.mode)
	}
	if staleDone != nil {
		staleDone(nil)
	}
	h.pump()
	if h.c.state != StateIdle {
		t.Fatalf("stale done callback moved state to %s", h.c.state)
	}
}

func TestDeniedMicrophoneDegradesToTapOnly(t *testing.T) {
	h := newHarness(t)
	h.gate.allowed = false

	h.pressMic()
	if h.c.state != StateIdle {
		t.Fatalf("state with denied mic = %s, want idle", h.c.state)
	}
	if h.rec.starts != 0 {
		t.Fatalf("recognizer started with denied mic")
	}
	if len(h.sink.statuses) != 1 {
		t.Fatalf("denial statuses = %v, want exactly one", h.sink.statuses)
	}

	// The denial notice appears once per launch, not once per press.
	h.pressMic()
	if len(h.sink.statuses) != 1 {
		t.Fatalf("denial repeated: %v", h.sink.statuses)
	}

	h.tapPin("francia")
	if h.c.state != StateSpeaking {
		t.Fatalf("tap with denied mic state = %s, want speaking", h.c.state)
	}
	if len(h.sink.focused) != 1 || h.sink.focused[0] != "francia" {
		t.Fatalf("tap with denied mic focused = %v", h.sink.focused)
	}
}

func TestCooldownDelaysIdle(t *testing.T) {
	h := newHarness(t)
	h.c.cfg.CooldownMS = 20

	h.tapPin("japon")
	h.spk.finish(nil)
	h.pump()
	if h.c.state != StateCooldown {
		t.Fatalf("state after narration = %s, want cooldown", h.c.state)
	}

	select {
	case ev := <-h.c.events:
		h.c.handle(h.ctx, ev)
	case <-time.After(2 * time.Second):
		t.Fatalf("cooldown timer never fired")
	}
	if h.c.state != StateIdle {
		t.Fatalf("state after cooldown = %s, want idle", h.c.state)
	}
}

func TestMicPressDuringCooldownStartsListening(t *testing.T) {
	h := newHarness(t)
	h.c.cfg.CooldownMS = 10_000

	h.tapPin("japon")
	h.spk.finish(nil)
	h.pump()
	if h.c.state != StateCooldown {
		t.Fatalf("state after narration = %s, want cooldown", h.c.state)
	}

	h.pressMic()
	if h.c.state != StateListening {
		t.Fatalf("state after press = %s, want listening", h.c.state)
	}
}

func TestUnknownPinIgnored(t *testing.T) {
	h := newHarness(t)

	h.tapPin("wakanda")
	if h.c.state != StateIdle {
		t.Fatalf("unknown pin moved state to %s", h.c.state)
	}
	if len(h.sink.focused) != 0 {
		t.Fatalf("unknown pin focused %v", h.sink.focused)
	}
}

func TestNarrationOmitsFactWhenAbsent(t *testing.T) {
	country := &catalog.Country{
		ID: "francia", DisplayName: "Francia", FlagGlyph: "🇫🇷",
		Description: "Cuna del arte y la gastronomía",
	}
	got := narration(country)
	want := "🇫🇷 Aquí está Francia. Cuna del arte y la gastronomía."
	if got != want {
		t.Fatalf("narration = %q, want %q", got, want)
	}
	if strings.Contains(got, "Dato curioso") {
		t.Fatalf("narration carries fact marker without facts: %q", got)
	}
}
