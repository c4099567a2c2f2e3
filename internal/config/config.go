// Package config provides the configuration schema, loader, and provider registry
// for the listend speech-capture service.
package config

import "time"

// LogLevel controls log verbosity for the listend server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for listend.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Capture   CaptureConfig   `yaml:"capture"`
	Audio     AudioConfig     `yaml:"audio"`
	Bus       BusConfig       `yaml:"bus"`
}

// ServerConfig holds network and logging settings for the listend server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (path.Match syntax) accepted for
	// cross-origin WebSocket connections, e.g. "app.example.com" or
	// "localhost:*". Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the speech recognizer backends. STT is the primary;
// STTFallbacks are tried in order when the primary's circuit is open.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the configuration block of one provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig tunes the speech-capture engine. Omitted fields select the
// engine defaults.
type CaptureConfig struct {
	// ConfidenceThreshold is the minimum confidence of a delivered final
	// transcript, in (0, 1]. Default 0.7.
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`

	// SpeechThreshold is the normalized amplitude above which a sample
	// counts as speech, in (0, 1]. Default 0.1.
	SpeechThreshold *float64 `yaml:"speech_threshold"`

	// SilenceTimeout ends an utterance after this much inactivity. Default 5s.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// SampleInterval is the amplitude sampling cadence. Default 25ms; must
	// be at most 1/30 s.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// StopDrainTimeout bounds the recognizer flush after a silence stop.
	// Default 1s.
	StopDrainTimeout time.Duration `yaml:"stop_drain_timeout"`

	Restart RestartConfig `yaml:"restart"`
}

// RestartConfig bounds automatic recognizer restarts.
type RestartConfig struct {
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	NoSpeechMaxAttempts int           `yaml:"no_speech_max_attempts"`
	ErrorMaxAttempts    int           `yaml:"error_max_attempts"`
	ErrorMinInterval    time.Duration `yaml:"error_min_interval"`
	EndedMinInterval    time.Duration `yaml:"ended_min_interval"`
}

// AudioConfig describes the PCM format delivered to the recognizer and the
// recognition hints sent with every stream.
type AudioConfig struct {
	// SampleRate in Hz of the mono PCM sent to the recognizer. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count (1 or 2) assumed for clients that do
	// not state theirs. Stereo is downmixed before recognition. Default 1.
	Channels int `yaml:"channels"`

	// Language is the BCP-47 recognition language (e.g., "en-US").
	Language string `yaml:"language"`

	// Keywords boosts uncommon vocabulary such as technology names.
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is one recognition vocabulary hint.
type KeywordConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// BusConfig configures the optional NATS publisher for transcript events.
// Leave URL empty to disable publishing.
type BusConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string `yaml:"url"`

	// SubjectPrefix is prepended to every subject. Default "listend".
	SubjectPrefix string `yaml:"subject_prefix"`

	// Name identifies this client to the NATS server.
	Name string `yaml:"name"`

	// ConnectTimeout bounds the initial connection. Default 5s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}
