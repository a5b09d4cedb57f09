package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STT_URL", "http://stt.local/inference")
	t.Setenv("TTS_URL", "http://tts.local/synthesize")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinFrames != 20 {
		t.Fatalf("min frames: want=20 got=%d", cfg.MinFrames)
	}
	if cfg.DefaultSourceLanguage != "de-DE" || cfg.DefaultTargetLanguage != "en-US" {
		t.Fatalf("unexpected default languages: %s/%s", cfg.DefaultSourceLanguage, cfg.DefaultTargetLanguage)
	}
	if cfg.CallTimeout != 30*time.Second {
		t.Fatalf("call timeout: want=30s got=%s", cfg.CallTimeout)
	}
	if cfg.Backend != BackendHTTP {
		t.Fatalf("backend: want=%s got=%s", BackendHTTP, cfg.Backend)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("port: \"9090\"\nmin_frames: 5\ncall_timeout: 2s\nbackend: google\ngoogle_cloud_project: demo\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MIN_FRAMES", "7")
	t.Setenv("CALL_TIMEOUT", "1500")
	t.Setenv("EMIT_ERRORS", "yes")
	t.Setenv("SAVE_AUDIO_LOCKING", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port from file: want=9090 got=%s", cfg.Port)
	}
	if cfg.MinFrames != 7 {
		t.Fatalf("env should override file: want=7 got=%d", cfg.MinFrames)
	}
	if cfg.CallTimeout != 1500*time.Millisecond {
		t.Fatalf("bare integer timeout is milliseconds: got=%s", cfg.CallTimeout)
	}
	if !cfg.EmitErrors {
		t.Fatalf("EMIT_ERRORS=yes should enable error events")
	}
	if !cfg.SaveAudioLocking {
		t.Fatalf("SAVE_AUDIO_LOCKING=true should enable sidecar locking")
	}
	if cfg.Backend != BackendGoogle || cfg.GoogleProject != "demo" {
		t.Fatalf("unexpected backend config: %s %s", cfg.Backend, cfg.GoogleProject)
	}
}

func TestValidateRejectsIncompleteHTTPBackend(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without stt_url/tts_url")
	}
	cfg.STTURL = "http://stt"
	cfg.TTSURL = "http://tts"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.MinFrames = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative min_frames")
	}
}

func TestLoadInvalidEnvNumber(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MIN_FRAMES", "lots")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for MIN_FRAMES=lots")
	}
}
