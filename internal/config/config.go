package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by BACKEND.
const (
	BackendHTTP   = "http"
	BackendGoogle = "google"
)

// Config holds the interpreter server configuration.
type Config struct {
	Port      string `yaml:"port"`
	AdminAddr string `yaml:"admin_addr"`
	LogLevel  string `yaml:"log_level"`

	// MinFrames is the accumulator threshold below which a non-forced drain
	// discards the buffered frames.
	MinFrames   int           `yaml:"min_frames"`
	CallTimeout time.Duration `yaml:"call_timeout"`

	DefaultSourceLanguage string `yaml:"default_source_language"`
	DefaultTargetLanguage string `yaml:"default_target_language"`
	EmitErrors            bool   `yaml:"emit_errors"`

	Backend string `yaml:"backend"`

	STTURL       string `yaml:"stt_url"`
	STTAuthToken string `yaml:"stt_auth_token"`

	OpenAIBaseURL  string `yaml:"openai_base_url"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIModel    string `yaml:"openai_model"`
	// OpenAIFallback is tried once when OpenAIModel fails transiently.
	OpenAIFallback string `yaml:"openai_fallback_model"`

	TTSURL       string `yaml:"tts_url"`
	TTSAuthToken string `yaml:"tts_auth_token"`

	GoogleProject string `yaml:"google_cloud_project"`

	SaveAudioDir       string        `yaml:"save_audio_dir"`
	SaveAudioRetention time.Duration `yaml:"save_audio_retention"`
	SaveAudioMaxFiles  int           `yaml:"save_audio_max_files"`
	// SaveAudioLocking takes an advisory lock on each sidecar while it is
	// annotated, for archive directories shared with other processes.
	SaveAudioLocking   bool          `yaml:"save_audio_locking"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Port:                  "8080",
		LogLevel:              "info",
		MinFrames:             20,
		CallTimeout:           30 * time.Second,
		DefaultSourceLanguage: "de-DE",
		DefaultTargetLanguage: "en-US",
		Backend:               BackendHTTP,
		OpenAIBaseURL:         "http://127.0.0.1:8000/v1",
		SaveAudioRetention:    24 * time.Hour,
		SaveAudioMaxFiles:     1000,
	}
}

// Load resolves configuration from defaults, an optional YAML file named by
// CONFIG_FILE, a .env file in the working directory and finally the process
// environment, in that order of increasing precedence.
func Load() (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.AdminAddr, "ADMIN_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.DefaultSourceLanguage, "DEFAULT_SOURCE_LANGUAGE")
	setString(&c.DefaultTargetLanguage, "DEFAULT_TARGET_LANGUAGE")
	setString(&c.Backend, "BACKEND")
	setString(&c.STTURL, "STT_URL")
	setString(&c.STTAuthToken, "STT_AUTH_TOKEN")
	setString(&c.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.OpenAIModel, "OPENAI_MODEL")
	setString(&c.OpenAIFallback, "OPENAI_FALLBACK_MODEL")
	setString(&c.TTSURL, "TTS_URL")
	setString(&c.TTSAuthToken, "TTS_AUTH_TOKEN")
	setString(&c.GoogleProject, "GOOGLE_CLOUD_PROJECT")
	setString(&c.SaveAudioDir, "SAVE_AUDIO_DIR")

	if v := getEnv("MIN_FRAMES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MIN_FRAMES=%q: %w", v, err)
		}
		c.MinFrames = n
	}
	if v := getEnv("SAVE_AUDIO_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SAVE_AUDIO_MAX_FILES=%q: %w", v, err)
		}
		c.SaveAudioMaxFiles = n
	}
	if v := getEnv("CALL_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CALL_TIMEOUT=%q: %w", v, err)
		}
		c.CallTimeout = d
	}
	if v := getEnv("SAVE_AUDIO_RETENTION"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SAVE_AUDIO_RETENTION=%q: %w", v, err)
		}
		c.SaveAudioRetention = d
	}
	if v := getEnv("EMIT_ERRORS"); v != "" {
		c.EmitErrors = parseBool(v)
	}
	if v := getEnv("SAVE_AUDIO_LOCKING"); v != "" {
		c.SaveAudioLocking = parseBool(v)
	}
	c.Backend = strings.ToLower(c.Backend)
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.MinFrames < 0 {
		return fmt.Errorf("min_frames cannot be negative, got %d", c.MinFrames)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout)
	}
	if c.DefaultSourceLanguage == "" || c.DefaultTargetLanguage == "" {
		return fmt.Errorf("default languages cannot be empty")
	}
	switch c.Backend {
	case BackendHTTP:
		if c.STTURL == "" {
			return fmt.Errorf("stt_url is required for the http backend")
		}
		if c.TTSURL == "" {
			return fmt.Errorf("tts_url is required for the http backend")
		}
	case BackendGoogle:
		if c.GoogleProject == "" {
			return fmt.Errorf("google_cloud_project is required for the google backend")
		}
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendHTTP, BackendGoogle, c.Backend)
	}
	return nil
}

func getEnv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func setString(dst *string, key string) {
	if v := getEnv(key); v != "" {
		*dst = v
	}
}

// parseDuration accepts Go duration strings and bare integers (milliseconds).
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
