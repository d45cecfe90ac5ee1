package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configs/config.yaml (if present), APP_* environment variables
// and the common unprefixed aliases. Callers run Validate once secrets have
// been resolved.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.AddConfigPath("/app/configs")

	return load(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow common env vars without APP_ prefix for Docker/VM deploys
	v.BindEnv("http.port", "HTTP_PORT", "APP_HTTP_PORT")
	v.BindEnv("database.url", "DATABASE_URL", "APP_DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL", "APP_REDIS_URL")
	v.BindEnv("events.url", "NATS_URL", "APP_EVENTS_URL")
	v.BindEnv("jwt.secret", "JWT_SECRET", "APP_JWT_SECRET")
	v.BindEnv("providers.stt.api_key", "STT_API_KEY", "APP_PROVIDERS_STT_API_KEY")
	v.BindEnv("providers.tts.api_key", "TTS_API_KEY", "APP_PROVIDERS_TTS_API_KEY")
	v.BindEnv("providers.llm.api_key", "GEMINI_API_KEY", "APP_PROVIDERS_LLM_API_KEY")
	v.BindEnv("vault.address", "VAULT_ADDR", "APP_VAULT_ADDRESS")
	v.BindEnv("vault.token", "VAULT_TOKEN", "APP_VAULT_TOKEN")
	v.BindEnv("app.environment", "APP_ENVIRONMENT")
	v.BindEnv("logging.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "voice-gateway")
	v.SetDefault("app.version", "v1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 9090)

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("events.backend", "none")
	v.SetDefault("events.subject_prefix", "voice")
	v.SetDefault("events.buffer", 1024)

	v.SetDefault("jwt.issuer", "voice-gateway")
	v.SetDefault("vault.path", "secret/data/voice-gateway")

	v.SetDefault("providers.stt.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.stt.model", "whisper-1")
	v.SetDefault("providers.stt.timeout", 10*time.Second)
	v.SetDefault("providers.tts.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.tts.model", "tts-1")
	v.SetDefault("providers.tts.timeout", 10*time.Second)
	v.SetDefault("providers.llm.backend", "gemini")
	v.SetDefault("providers.llm.model", "gemini-2.0-flash")
	v.SetDefault("providers.llm.timeout", 8*time.Second)

	v.SetDefault("search.base_url", "http://localhost:8081")
	v.SetDefault("search.timeout", 5*time.Second)
	v.SetDefault("search.limit", 3)

	v.SetDefault("opentelemetry.enabled", false)
	v.SetDefault("opentelemetry.jaeger_endpoint", "http://jaeger:14268/api/traces")
	v.SetDefault("opentelemetry.sample_ratio", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.sampling.enabled", true)
	v.SetDefault("logging.sampling.initial", 100)
	v.SetDefault("logging.sampling.thereafter", 100)

	v.SetDefault("rate_limiting.enabled", true)
	v.SetDefault("rate_limiting.backend", "redis")
	v.SetDefault("rate_limiting.voice_per_hour", 100)
	v.SetDefault("rate_limiting.api_per_minute", 60)
	v.SetDefault("rate_limiting.fail_open", true)

	for name, reset := range map[string]time.Duration{
		"stt":    30 * time.Second,
		"intent": 60 * time.Second,
		"tts":    20 * time.Second,
		"search": 30 * time.Second,
	} {
		v.SetDefault("circuit_breaker."+name+".failure_threshold", 5)
		v.SetDefault("circuit_breaker."+name+".interval", 60*time.Second)
		v.SetDefault("circuit_breaker."+name+".reset_timeout", reset)
	}

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.intent_ttl", 5*time.Minute)
	v.SetDefault("cache.tts_ttl", 24*time.Hour)
	v.SetDefault("cache.max_local_entries", 10000)

	v.SetDefault("limits.max_audio_bytes", 2<<20)
	v.SetDefault("limits.max_audio_duration", 30*time.Second)
	v.SetDefault("limits.max_text_length", 600)
	v.SetDefault("limits.max_tts_segments", 4)
	v.SetDefault("limits.context_turns", 5)
	v.SetDefault("limits.idle_timeout", 60*time.Second)
	v.SetDefault("limits.turn_timeout", 25*time.Second)
	v.SetDefault("limits.max_frames_per_second", 100)
	v.SetDefault("limits.max_sessions_per_user", 3)

	v.SetDefault("voice.default_profile", "alloy")
	v.SetDefault("voice.confidence_threshold", 0.6)
	v.SetDefault("voice.min_transcript_confidence", 0.3)
	v.SetDefault("voice.language_hint", "en")
	v.SetDefault("voice.stream_chunk_bytes", 8192)
	v.SetDefault("voice.sample_rate", 16000)
}
