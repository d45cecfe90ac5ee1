package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/ai/anthropic"
	"github.com/seu-repo/voice-gateway/internal/adapter/ai/gemini"
	"github.com/seu-repo/voice-gateway/internal/adapter/ai/keyword"
	"github.com/seu-repo/voice-gateway/internal/adapter/ai/openai"
	"github.com/seu-repo/voice-gateway/internal/adapter/cache"
	"github.com/seu-repo/voice-gateway/internal/adapter/external/search"
	"github.com/seu-repo/voice-gateway/internal/adapter/storage/memory"
	"github.com/seu-repo/voice-gateway/internal/adapter/storage/postgres"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/ratelimit"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/health"
	"github.com/seu-repo/voice-gateway/internal/service/session"
	"github.com/seu-repo/voice-gateway/internal/service/voice"
	"github.com/seu-repo/voice-gateway/pkg/config"
)

// dependencies holds the stateful backends shared by the voice pipeline and
// the HTTP surface.
type dependencies struct {
	cache        ports.Cache
	users        ports.UserStore
	voiceLimiter *ratelimit.Limiter
	apiLimiter   *ratelimit.Limiter
	closers      []namedCloser
	log          *zap.Logger
}

type namedCloser struct {
	name  string
	close func() error
}

func (d *dependencies) onClose(name string, fn func() error) {
	d.closers = append(d.closers, namedCloser{name: name, close: fn})
}

// Close releases backends in reverse opening order. Failures are logged and
// do not stop the remaining closers.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			d.log.Error("Error closing dependency", zap.String("dependency", c.name), zap.Error(err))
		}
	}
}

func openDependencies(cfg *config.Config, hs *health.Service, log *zap.Logger) (*dependencies, error) {
	d := &dependencies{log: log}

	var redisCache *cache.RedisCache
	openRedis := func() (*cache.RedisCache, error) {
		if redisCache != nil {
			return redisCache, nil
		}
		c, err := cache.NewRedisCache(cfg.Redis.URL, log)
		if err != nil {
			return nil, err
		}
		redisCache = c
		d.onClose("redis", c.Close)
		hs.RegisterPing("redis", c.Ping)
		return c, nil
	}

	switch cfg.Cache.Backend {
	case "redis":
		c, err := openRedis()
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		d.cache = c
	case "local", "":
		c, err := cache.NewLocalCache(cfg.Cache.MaxLocalEntries, time.Minute, log)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		d.cache = c
		d.onClose("local_cache", c.Close)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	if cfg.RateLimiting.Enabled {
		var store ratelimit.Store
		switch cfg.RateLimiting.Backend {
		case "redis":
			c, err := openRedis()
			if err != nil {
				return nil, fmt.Errorf("rate limit store: %w", err)
			}
			store = ratelimit.NewRedisStore(c.Client())
		case "memory", "":
			store = ratelimit.NewMemoryStore()
		default:
			return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimiting.Backend)
		}
		rl := cfg.RateLimiting
		d.voiceLimiter = ratelimit.NewLimiter("voice", store, rl.VoicePerHour, time.Hour, rl.FailOpen, log)
		d.apiLimiter = ratelimit.NewLimiter("api", store, rl.APIPerMinute, time.Minute, rl.FailOpen, log)
	}

	if cfg.Database.URL == "" {
		log.Warn("No database configured, profiles are kept in memory")
		d.users = memory.NewProfileStore()
		return d, nil
	}

	db, err := postgres.NewConnection(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	d.onClose("database", func() error { return postgres.Close(db) })
	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			return nil, err
		}
	}
	hs.RegisterPing("database", func(ctx context.Context) error { return postgres.Ping(ctx, db) })
	d.users = postgres.NewProfileRepository(db, log)

	return d, nil
}

func buildPipeline(cfg *config.Config, d *dependencies, breakers *circuitbreaker.Manager, log *zap.Logger) (*session.Pipeline, error) {
	registry, err := loadRegistry(cfg.Voice.IntentsFile)
	if err != nil {
		return nil, err
	}

	breaker := func(name string, bc config.BreakerConfig) *circuitbreaker.CircuitBreaker {
		return breakers.Get(name, circuitbreaker.SettingsFor(name, bc, domain.ExcludedFromBreaker))
	}

	llm, err := intentProvider(cfg.Providers.LLM, registry, log)
	if err != nil {
		return nil, err
	}

	transcriber := voice.NewTranscriber(openai.NewClient(cfg.Providers.STT, log), breaker("stt", cfg.CircuitBreaker.STT), voice.DefaultScorer(), voice.TranscriberConfig{
		MaxAudioBytes: cfg.Limits.MaxAudioBytes,
		MaxDuration:   cfg.Limits.MaxAudioDuration,
		SampleRate:    cfg.Voice.SampleRate,
		LanguageHint:  cfg.Voice.LanguageHint,
		Timeout:       cfg.Providers.STT.Timeout,
	}, log)

	classifier := voice.NewClassifier(llm, breaker("intent", cfg.CircuitBreaker.Intent), registry, d.cache, voice.ClassifierConfig{
		ConfidenceThreshold: cfg.Voice.ConfidenceThreshold,
		CacheTTL:            cfg.Cache.IntentTTL,
		Timeout:             cfg.Providers.LLM.Timeout,
	}, log)

	searchHTTP := circuitbreaker.NewHTTPClient(nil, breaker("search", cfg.CircuitBreaker.Search), log)
	searchClient := search.NewClient(cfg.Search.BaseURL, cfg.Search.Limit, cfg.Search.Timeout, searchHTTP, log)
	router := voice.NewRouter(registry, d.users, searchClient, log)

	synthesizer := voice.NewSynthesizer(openai.NewClient(cfg.Providers.TTS, log), breaker("tts", cfg.CircuitBreaker.TTS), d.cache, voice.SynthesizerConfig{
		MaxTextLength: cfg.Limits.MaxTextLength,
		MaxSegments:   cfg.Limits.MaxTTSSegments,
		CacheTTL:      cfg.Cache.TTSTTL,
		Timeout:       cfg.Providers.TTS.Timeout,
		ChunkBytes:    cfg.Voice.StreamChunkBytes,
		DefaultVoice:  cfg.Voice.DefaultProfile,
	}, log)

	return session.NewPipeline(transcriber, classifier, router, synthesizer, d.voiceLimiter, session.PipelineConfig{
		MinTranscriptConfidence: cfg.Voice.MinTranscriptConfidence,
	}, log), nil
}

func loadRegistry(path string) (*voice.Registry, error) {
	if path == "" {
		return voice.DefaultRegistry()
	}
	return voice.LoadRegistry(path)
}

// intentProvider picks the configured LLM backend and falls back to the
// offline keyword classifier when no key is configured.
func intentProvider(cfg config.ProviderConfig, registry *voice.Registry, log *zap.Logger) (ports.IntentProvider, error) {
	if cfg.APIKey == "" {
		log.Warn("No LLM API key configured, using keyword intent classifier")
		return keyword.NewProvider(keyword.RulesFromRegistry(registry), log)
	}

	switch cfg.Backend {
	case "anthropic":
		return anthropic.NewIntentClient(cfg, log)
	case "gemini", "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := gemini.NewIntentClient(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("gemini intent client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
