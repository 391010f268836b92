package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Dialog.CameraDistanceM != 2_000_000 {
		t.Fatalf("expected default camera distance, got %v", cfg.Dialog.CameraDistanceM)
	}
	if cfg.TTS.Rate != 0.5 {
		t.Fatalf("expected default speaking rate 0.5, got %v", cfg.TTS.Rate)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEOVOZ_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("GEOVOZ_CATALOG_PATH", "./alt/paises.db")
	t.Setenv("GEOVOZ_AUDIO_DRIVER", "portaudio")
	t.Setenv("GEOVOZ_AUDIO_SWITCH_SETTLE_MS", "120")
	t.Setenv("GEOVOZ_STT_LANGUAGE", "es-ES")
	t.Setenv("GEOVOZ_TTS_LANGUAGE", "es-ES")
	t.Setenv("GEOVOZ_TTS_RATE", "0.4")
	t.Setenv("GEOVOZ_DIALOG_CAMERA_DISTANCE_M", "1500000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Catalog.Path != "./alt/paises.db" {
		t.Fatalf("expected catalog path override, got %q", cfg.Catalog.Path)
	}
	if cfg.Audio.Driver != "portaudio" {
		t.Fatalf("expected audio driver override, got %q", cfg.Audio.Driver)
	}
	if cfg.Audio.SwitchSettleMS != 120 {
		t.Fatalf("expected settle override, got %d", cfg.Audio.SwitchSettleMS)
	}
	if cfg.STT.Language != "es-ES" || cfg.TTS.Language != "es-ES" {
		t.Fatalf("expected language overrides, got %q / %q", cfg.STT.Language, cfg.TTS.Language)
	}
	if cfg.TTS.Rate != 0.4 {
		t.Fatalf("expected rate override, got %v", cfg.TTS.Rate)
	}
	if cfg.Dialog.CameraDistanceM != 1_500_000 {
		t.Fatalf("expected camera distance override, got %v", cfg.Dialog.CameraDistanceM)
	}
}

func TestLanguageMismatchRejected(t *testing.T) {
	t.Setenv("GEOVOZ_STT_LANGUAGE", "es-MX")
	t.Setenv("GEOVOZ_TTS_LANGUAGE", "en-US")

	if _, err := Load(""); err == nil {
		t.Fatal("expected mismatched stt/tts languages to fail validation")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geovoz.yaml")
	body := []byte("runtime_name: atlas\ndialog:\n  cooldown_ms: 25\nstt:\n  mode: mock\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "atlas" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Dialog.CooldownMS != 25 {
		t.Fatalf("expected cooldown from file, got %d", cfg.Dialog.CooldownMS)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := Load("./does-not-exist.yaml"); err == nil {
		t.Fatal("expected missing config file error")
	}
}
