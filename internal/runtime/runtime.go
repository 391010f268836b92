package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geovoz/geovoz-core/internal/audio"
	"github.com/geovoz/geovoz-core/internal/bus"
	"github.com/geovoz/geovoz-core/internal/catalog"
	"github.com/geovoz/geovoz-core/internal/config"
	"github.com/geovoz/geovoz-core/internal/dialog"
	"github.com/geovoz/geovoz-core/internal/natsserver"
	"github.com/geovoz/geovoz-core/internal/permissions"
	"github.com/geovoz/geovoz-core/internal/stt"
	"github.com/geovoz/geovoz-core/internal/tts"
	"github.com/geovoz/geovoz-core/internal/ui"
)

// Runtime assembles and runs every core service: telemetry, the bus, the
// catalog, the audio session, both speech engines, the permission registry,
// the dialog controller, and the UI adapter. Start blocks until the context
// is cancelled, then shuts the stack down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	busClient *bus.Client
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	cat, err := r.loadCatalog()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	device, err := r.openDevice()
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	session := audio.NewSession(device, r.logger)
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("audio session close failed", slog.String("error", err.Error()))
		}
	}()

	recognizer, err := r.buildRecognizer()
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}
	speaker, err := r.buildSpeaker(session)
	if err != nil {
		return fmt.Errorf("failed to build speaker: %w", err)
	}

	registry, err := permissions.NewRegistry(ctx, r.cfg.Permissions, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start permission registry: %w", err)
	}
	defer registry.Close()

	adapter := ui.NewAdapter(busClient, cat, locationGate{registry}, r.logger)
	controller := dialog.NewController(cat, session, recognizer, speaker,
		adapter, registry, r.cfg.Dialog, r.logger)
	if err := adapter.Start(controller); err != nil {
		return fmt.Errorf("failed to start ui adapter: %w", err)
	}
	defer adapter.Close()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		controller.Run(ctx)
	}()

	if err := r.startHTTP(metricsHandler); err != nil {
		return err
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.httpServer.Addr),
		slog.Int("countries", cat.Len()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// loadCatalog reads the country dataset. Unless strict mode is on, a broken
// or missing dataset degrades the explorer to an empty globe instead of
// refusing to start.
func (r *Runtime) loadCatalog() (*catalog.Catalog, error) {
	cat, err := catalog.Load(r.cfg.Catalog.Path, r.logger)
	if err == nil {
		return cat, nil
	}
	if r.cfg.Catalog.Strict {
		return nil, err
	}
	r.logger.Warn("catalog load failed, running degraded",
		slog.String("path", r.cfg.Catalog.Path),
		slog.String("error", err.Error()))
	return catalog.Empty(r.logger), nil
}

func (r *Runtime) openDevice() (audio.Device, error) {
	switch r.cfg.Audio.Driver {
	case "portaudio":
		return audio.NewPortAudioDevice(
			r.cfg.Audio.CaptureSampleRate,
			r.cfg.Audio.PlaybackSampleRate,
			r.cfg.Audio.Channels,
			r.cfg.Audio.FrameDurationMS,
		)
	case "stub":
		settle := time.Duration(r.cfg.Audio.SwitchSettleMS) * time.Millisecond
		frame := time.Duration(r.cfg.Audio.FrameDurationMS) * time.Millisecond
		return audio.NewStubDevice(settle, frame), nil
	default:
		return nil, fmt.Errorf("unknown audio driver %q", r.cfg.Audio.Driver)
	}
}

func (r *Runtime) buildRecognizer() (*stt.Recognizer, error) {
	var (
		engine stt.Engine
		err    error
	)
	switch r.cfg.STT.Mode {
	case "exec":
		engine, err = stt.NewExecEngine(r.cfg.STT)
	case "mock":
		engine = stt.NewMockEngine()
	default:
		err = fmt.Errorf("unknown stt mode %q", r.cfg.STT.Mode)
	}
	if err != nil {
		return nil, err
	}
	return stt.NewRecognizer(engine, r.cfg.STT,
		r.cfg.Audio.CaptureSampleRate, r.cfg.Audio.Channels, r.logger), nil
}

func (r *Runtime) buildSpeaker(sink tts.FrameSink) (*tts.Speaker, error) {
	var (
		engine tts.Engine
		err    error
	)
	switch r.cfg.TTS.Mode {
	case "exec":
		engine, err = tts.NewExecEngine(r.cfg.TTS.Command,
			r.cfg.Audio.PlaybackSampleRate, r.cfg.Audio.Channels)
	case "mock":
		engine = tts.NewMockEngine(r.cfg.Audio.PlaybackSampleRate, r.cfg.Audio.Channels)
	default:
		err = fmt.Errorf("unknown tts mode %q", r.cfg.TTS.Mode)
	}
	if err != nil {
		return nil, err
	}
	return tts.NewSpeaker(engine, r.cfg.TTS, sink, r.logger), nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// locationGate adapts the permission registry to the UI adapter's view of
// route eligibility.
type locationGate struct {
	registry *permissions.Registry
}

func (g locationGate) LocationAllowed() bool {
	return g.registry.Granted(permissions.CapLocation)
}
