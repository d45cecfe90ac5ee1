package config

import (
	"fmt"
	"time"
)

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	GRPC           GRPCConfig           `mapstructure:"grpc"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Events         EventsConfig         `mapstructure:"events"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Vault          VaultConfig          `mapstructure:"vault"`
	Providers      ProvidersConfig      `mapstructure:"providers"`
	Search         SearchConfig         `mapstructure:"search"`
	OpenTelemetry  OpenTelemetryConfig  `mapstructure:"opentelemetry"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	RateLimiting   RateLimitingConfig   `mapstructure:"rate_limiting"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	CORS           CORSConfig           `mapstructure:"cors"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Limits         LimitsConfig         `mapstructure:"limits"`
	Voice          VoiceConfig          `mapstructure:"voice"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type GRPCConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// EventsConfig selects the event bus backend: "nats", "rabbitmq" or "none".
type EventsConfig struct {
	Backend       string `mapstructure:"backend"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Buffer        int    `mapstructure:"buffer"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

type ProvidersConfig struct {
	STT ProviderConfig `mapstructure:"stt"`
	TTS ProviderConfig `mapstructure:"tts"`
	LLM ProviderConfig `mapstructure:"llm"`
}

// ProviderConfig describes one remote AI provider. For the LLM, Backend is
// "gemini" or "anthropic"; an empty APIKey selects the offline keyword
// classifier.
type ProviderConfig struct {
	Backend string        `mapstructure:"backend"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Limit   int           `mapstructure:"limit"`
}

type OpenTelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

type LoggingConfig struct {
	Level    string          `mapstructure:"level"`
	Format   string          `mapstructure:"format"`
	Sampling LoggingSampling `mapstructure:"sampling"`
}

type LoggingSampling struct {
	Enabled    bool `mapstructure:"enabled"`
	Initial    int  `mapstructure:"initial"`
	Thereafter int  `mapstructure:"thereafter"`
}

// RateLimitingConfig holds the per-user limits. Voice turns are limited per
// hour, generic API requests per minute.
type RateLimitingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Backend      string `mapstructure:"backend"`
	VoicePerHour int    `mapstructure:"voice_per_hour"`
	APIPerMinute int    `mapstructure:"api_per_minute"`
	FailOpen     bool   `mapstructure:"fail_open"`
}

type CircuitBreakerConfig struct {
	STT    BreakerConfig `mapstructure:"stt"`
	Intent BreakerConfig `mapstructure:"intent"`
	TTS    BreakerConfig `mapstructure:"tts"`
	Search BreakerConfig `mapstructure:"search"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Interval         time.Duration `mapstructure:"interval"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	ExposeHeaders  []string `mapstructure:"expose_headers"`
	MaxAge         int      `mapstructure:"max_age"`
	Credentials    bool     `mapstructure:"credentials"`
}

type CacheConfig struct {
	Backend         string        `mapstructure:"backend"`
	IntentTTL       time.Duration `mapstructure:"intent_ttl"`
	TTSTTL          time.Duration `mapstructure:"tts_ttl"`
	MaxLocalEntries int           `mapstructure:"max_local_entries"`
}

type LimitsConfig struct {
	MaxAudioBytes      int           `mapstructure:"max_audio_bytes"`
	MaxAudioDuration   time.Duration `mapstructure:"max_audio_duration"`
	MaxTextLength      int           `mapstructure:"max_text_length"`
	MaxTTSSegments     int           `mapstructure:"max_tts_segments"`
	ContextTurns       int           `mapstructure:"context_turns"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout"`
	MaxFramesPerSecond int           `mapstructure:"max_frames_per_second"`
	MaxSessionsPerUser int           `mapstructure:"max_sessions_per_user"`
}

type VoiceConfig struct {
	DefaultProfile      string  `mapstructure:"default_profile"`
	IntentsFile         string  `mapstructure:"intents_file"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	LanguageHint        string  `mapstructure:"language_hint"`
	StreamChunkBytes    int     `mapstructure:"stream_chunk_bytes"`
	SampleRate          int     `mapstructure:"sample_rate"`

	// MinTranscriptConfidence is the transcript score below which the user
	// is asked to repeat instead of classifying.
	MinTranscriptConfidence float64 `mapstructure:"min_transcript_confidence"`
}

// Validate rejects configurations that would disable a safety limit.
func (c *Config) Validate() error {
	if c.Limits.MaxAudioBytes <= 0 {
		return fmt.Errorf("limits.max_audio_bytes must be positive")
	}
	if c.Limits.MaxAudioDuration <= 0 {
		return fmt.Errorf("limits.max_audio_duration must be positive")
	}
	if c.Limits.MaxTextLength <= 0 || c.Limits.MaxTTSSegments <= 0 {
		return fmt.Errorf("limits.max_text_length and limits.max_tts_segments must be positive")
	}
	if c.Limits.ContextTurns <= 0 {
		return fmt.Errorf("limits.context_turns must be positive")
	}
	if c.Limits.IdleTimeout <= 0 || c.Limits.TurnTimeout <= 0 {
		return fmt.Errorf("limits.idle_timeout and limits.turn_timeout must be positive")
	}
	if c.RateLimiting.Enabled && (c.RateLimiting.VoicePerHour <= 0 || c.RateLimiting.APIPerMinute <= 0) {
		return fmt.Errorf("rate_limiting limits must be positive")
	}
	if c.Voice.ConfidenceThreshold < 0 || c.Voice.ConfidenceThreshold > 1 {
		return fmt.Errorf("voice.confidence_threshold must be within [0,1]")
	}
	if c.Voice.MinTranscriptConfidence < 0 || c.Voice.MinTranscriptConfidence > 1 {
		return fmt.Errorf("voice.min_transcript_confidence must be within [0,1]")
	}
	for name, b := range map[string]BreakerConfig{
		"stt":    c.CircuitBreaker.STT,
		"intent": c.CircuitBreaker.Intent,
		"tts":    c.CircuitBreaker.TTS,
		"search": c.CircuitBreaker.Search,
	} {
		if b.FailureThreshold == 0 || b.ResetTimeout <= 0 {
			return fmt.Errorf("circuit_breaker.%s needs failure_threshold and reset_timeout", name)
		}
	}
	for name, p := range map[string]ProviderConfig{
		"stt": c.Providers.STT,
		"tts": c.Providers.TTS,
		"llm": c.Providers.LLM,
	} {
		if p.Timeout <= 0 {
			return fmt.Errorf("providers.%s.timeout must be positive", name)
		}
		if p.Timeout >= c.Limits.TurnTimeout {
			return fmt.Errorf("providers.%s.timeout must be shorter than limits.turn_timeout", name)
		}
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}
