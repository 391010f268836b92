package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/geovoz/geovoz-core/internal/config"
)

func testRuntime() *Runtime {
	cfg := config.Default()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, log)
}

func TestOpenDeviceStub(t *testing.T) {
	r := testRuntime()
	device, err := r.openDevice()
	if err != nil {
		t.Fatalf("open stub device: %v", err)
	}
	if err := device.Close(); err != nil {
		t.Fatalf("close stub device: %v", err)
	}
}

func TestOpenDeviceUnknownDriver(t *testing.T) {
	r := testRuntime()
	r.cfg.Audio.Driver = "asio"
	if _, err := r.openDevice(); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestBuildRecognizerMock(t *testing.T) {
	r := testRuntime()
	if _, err := r.buildRecognizer(); err != nil {
		t.Fatalf("build mock recognizer: %v", err)
	}
}

func TestBuildRecognizerUnknownMode(t *testing.T) {
	r := testRuntime()
	r.cfg.STT.Mode = "cloud"
	if _, err := r.buildRecognizer(); err == nil {
		t.Fatalf("unknown stt mode accepted")
	}
}

func TestBuildSpeakerMock(t *testing.T) {
	r := testRuntime()
	if _, err := r.buildSpeaker(nil); err != nil {
		t.Fatalf("build mock speaker: %v", err)
	}
}

func TestBuildSpeakerUnknownMode(t *testing.T) {
	r := testRuntime()
	r.cfg.TTS.Mode = "cloud"
	if _, err := r.buildSpeaker(nil); err == nil {
		t.Fatalf("unknown tts mode accepted")
	}
}

func TestSetupTelemetry(t *testing.T) {
	cfg := config.Default()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, handler, err := setupTelemetry(cfg, log)
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	if handler == nil {
		t.Fatal("expected metrics handler")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown telemetry: %v", err)
	}
}
