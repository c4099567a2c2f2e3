package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper"},
}

// minSampleRate is the slowest amplitude sampling cadence accepted; slower
// sampling misses short utterances.
const minSampleRate = 30

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in credentials, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} and $VAR references in secret-bearing fields.
func expandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Providers.STT)
	for i := range cfg.Providers.STTFallbacks {
		expand(&cfg.Providers.STTFallbacks[i])
	}
	cfg.Bus.URL = os.ExpandEnv(cfg.Bus.URL)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; capture sessions cannot start")
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
		}
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	// Capture
	c := cfg.Capture
	errs = appendFraction(errs, "capture.confidence_threshold", c.ConfidenceThreshold)
	errs = appendFraction(errs, "capture.speech_threshold", c.SpeechThreshold)
	if c.SampleInterval > time.Second/minSampleRate {
		errs = append(errs, fmt.Errorf("capture.sample_interval %v is too slow; must sample at least %d times per second", c.SampleInterval, minSampleRate))
	}
	errs = appendNegative(errs, "capture.silence_timeout", c.SilenceTimeout)
	errs = appendNegative(errs, "capture.sample_interval", c.SampleInterval)
	errs = appendNegative(errs, "capture.stop_drain_timeout", c.StopDrainTimeout)

	rs := c.Restart
	errs = appendNegative(errs, "capture.restart.base_delay", rs.BaseDelay)
	errs = appendNegative(errs, "capture.restart.max_delay", rs.MaxDelay)
	errs = appendNegative(errs, "capture.restart.error_min_interval", rs.ErrorMinInterval)
	errs = appendNegative(errs, "capture.restart.ended_min_interval", rs.EndedMinInterval)
	if rs.BaseDelay > 0 && rs.MaxDelay > 0 && rs.MaxDelay < rs.BaseDelay {
		errs = append(errs, fmt.Errorf("capture.restart.max_delay %v is below base_delay %v", rs.MaxDelay, rs.BaseDelay))
	}
	if rs.NoSpeechMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("capture.restart.no_speech_max_attempts %d must not be negative", rs.NoSpeechMaxAttempts))
	}
	if rs.ErrorMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("capture.restart.error_max_attempts %d must not be negative", rs.ErrorMaxAttempts))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 || (cfg.Audio.SampleRate > 0 && cfg.Audio.SampleRate < 8000) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; must be at least 8000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}
	for i, kw := range cfg.Audio.Keywords {
		if strings.TrimSpace(kw.Keyword) == "" {
			errs = append(errs, fmt.Errorf("audio.keywords[%d].keyword is required", i))
		}
	}

	// Bus
	if cfg.Bus.URL != "" {
		u, err := url.Parse(cfg.Bus.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("bus.url %q is invalid: %w", cfg.Bus.URL, err))
		case u.Scheme != "nats" && u.Scheme != "tls" && u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("bus.url scheme %q is invalid; valid values: nats, tls, ws, wss", u.Scheme))
		}
	}
	if strings.ContainsAny(cfg.Bus.SubjectPrefix, " *>") {
		errs = append(errs, fmt.Errorf("bus.subject_prefix %q must not contain spaces or wildcards", cfg.Bus.SubjectPrefix))
	}
	errs = appendNegative(errs, "bus.connect_timeout", cfg.Bus.ConnectTimeout)

	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %v must not be negative", field, d))
	}
	return errs
}

// appendFraction rejects a set threshold outside (0, 1]. A threshold of zero
// would be indistinguishable from an omitted one downstream.
func appendFraction(errs []error, field string, v *float64) []error {
	if v != nil && (*v <= 0 || *v > 1) {
		return append(errs, fmt.Errorf("%s %.2f is out of range (0, 1]", field, *v))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
