package health

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether s outranks o for the aggregated status.
func (s Status) worse(o Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[s] > rank[o]
}

// CheckResult is the outcome of one readiness probe.
type CheckResult struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthResponse struct {
	Status         Status    `json:"status"`
	Version        string    `json:"version,omitempty"`
	Uptime         string    `json:"uptime,omitempty"`
	ActiveSessions int       `json:"active_sessions"`
	Timestamp      time.Time `json:"timestamp"`
}

type ReadyResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// probe returns the status of one dependency and a short message.
type probe func(ctx context.Context) (Status, string)

// Service answers the liveness and readiness probes. Readiness is the worst
// status of the registered probes; degraded still counts as ready.
type Service struct {
	version  string
	started  time.Time
	breakers *circuitbreaker.Manager
	timeout  time.Duration
	log      *zap.Logger

	mu       sync.RWMutex
	probes   map[string]probe
	sessions func() int
}

// NewService builds the service. breakers may be nil.
func NewService(version string, breakers *circuitbreaker.Manager, log *zap.Logger) *Service {
	s := &Service{
		version:  version,
		started:  time.Now(),
		breakers: breakers,
		timeout:  5 * time.Second,
		log:      log.With(zap.String("component", "health")),
		probes:   map[string]probe{},
	}
	if breakers != nil {
		s.register("circuit_breakers", s.breakerProbe)
	}
	return s
}

func (s *Service) register(name string, p probe) {
	s.mu.Lock()
	s.probes[name] = p
	s.mu.Unlock()
	s.log.Debug("Readiness probe registered", zap.String("name", name))
}

// RegisterPing adds a dependency that is healthy while ping succeeds.
func (s *Service) RegisterPing(name string, ping func(ctx context.Context) error) {
	s.register(name, func(ctx context.Context) (Status, string) {
		if err := ping(ctx); err != nil {
			s.log.Warn("Dependency unreachable", zap.String("name", name), zap.Error(err))
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	})
}

// TrackSessions sets the source of the live session count.
func (s *Service) TrackSessions(count func() int) {
	s.mu.Lock()
	s.sessions = count
	s.mu.Unlock()
}

func (s *Service) Health(ctx context.Context) *HealthResponse {
	s.mu.RLock()
	count := s.sessions
	s.mu.RUnlock()

	resp := &HealthResponse{
		Status:    StatusHealthy,
		Version:   s.version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if count != nil {
		resp.ActiveSessions = count()
	}
	return resp
}

// Ready runs every probe in parallel, each bounded by the probe timeout.
func (s *Service) Ready(ctx context.Context) *ReadyResponse {
	s.mu.RLock()
	probes := make(map[string]probe, len(s.probes))
	for name, p := range s.probes {
		probes[name] = p
	}
	s.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(probes))
	)
	for name, p := range probes {
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			start := time.Now()
			status, msg := p(pctx)
			res := CheckResult{
				Name:      name,
				Status:    status,
				Message:   msg,
				LatencyMS: time.Since(start).Milliseconds(),
				CheckedAt: start,
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		})
	}
	wg.Wait()

	overall := StatusHealthy
	for _, r := range results {
		if r.Status.worse(overall) {
			overall = r.Status
		}
	}
	return &ReadyResponse{
		Ready:     overall != StatusUnhealthy,
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// Breakers returns the state of every registered circuit breaker.
func (s *Service) Breakers() map[string]circuitbreaker.BreakerStatus {
	if s.breakers == nil {
		return map[string]circuitbreaker.BreakerStatus{}
	}
	return s.breakers.Status()
}

// breakerProbe is unhealthy only when every dependency is cut off; a single
// open breaker degrades the gateway but keeps it in rotation.
func (s *Service) breakerProbe(context.Context) (Status, string) {
	if s.breakers.AllOpen() {
		return StatusUnhealthy, "all dependency breakers are open"
	}
	var tripped []string
	for name, st := range s.breakers.Status() {
		if st.State != circuitbreaker.StateClosed.String() {
			tripped = append(tripped, name+"="+st.State)
		}
	}
	if len(tripped) == 0 {
		return StatusHealthy, ""
	}
	slices.Sort(tripped)
	return StatusDegraded, fmt.Sprintf("not closed: %s", strings.Join(tripped, ", "))
}
