package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Métricas de sessão
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_gateway_active_sessions",
		Help: "Number of open voice sessions",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_sessions_total",
		Help: "Voice sessions by close reason",
	}, []string{"reason"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_turns_total",
		Help: "Voice turns processed",
	}, []string{"intent", "outcome"})

	TurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_turn_latency_seconds",
		Help:    "End-to-end latency of a voice turn",
		Buckets: []float64{.1, .25, .5, 1, 2, 3, 5, 8, 13, 21},
	})

	// Métricas do pipeline
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_gateway_stage_latency_seconds",
		Help:    "Latency of each pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "status"})

	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_stage_errors_total",
		Help: "Pipeline stage failures by kind",
	}, []string{"stage", "kind"})

	MalformedIntents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_intent_malformed_total",
		Help: "Intent provider answers that did not match the schema",
	})

	// Métricas de infraestrutura
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_cache_requests_total",
		Help: "Cache lookups by operation and result",
	}, []string{"operation", "result"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_rate_limit_rejections_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"limiter"})

	RateLimitStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_rate_limit_store_errors_total",
		Help: "Rate limiter store failures (requests admitted when failing open)",
	}, []string{"limiter"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"name", "from", "to"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_events_dropped_total",
		Help: "Events dropped because the publish buffer was full or the bus failed",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_frames_dropped_total",
		Help: "Inbound client frames dropped",
	}, []string{"reason"})
)

var (
	// Métricas gRPC
	GRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_grpc_requests_total",
		Help: "gRPC calls by method and status code",
	}, []string{"method", "code"})

	GRPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_gateway_grpc_latency_seconds",
		Help:    "gRPC call latency by method",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
	}, []string{"method"})
)
