package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/pkg/config"
)

// Manager owns the process-wide breakers, one per upstream dependency.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	log      *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{breakers: map[string]*CircuitBreaker{}, log: log}
}

// Get returns the breaker registered under name, creating it from settings
// on first use. Later settings for the same name are ignored.
func (m *Manager) Get(name string, settings Settings) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	settings.Name = name
	cb := New(settings, m.log)
	m.breakers[name] = cb
	return cb
}

func (m *Manager) snapshot() []*CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		out = append(out, cb)
	}
	return out
}

// BreakerStatus is the readiness view of one breaker.
type BreakerStatus struct {
	Name     string     `json:"name"`
	State    string     `json:"state"`
	Counts   Counts     `json:"counts"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
}

func (m *Manager) Status() map[string]BreakerStatus {
	out := map[string]BreakerStatus{}
	for _, cb := range m.snapshot() {
		st := BreakerStatus{Name: cb.Name(), State: cb.State().String(), Counts: cb.Counts()}
		if t := cb.OpenedAt(); !t.IsZero() {
			st.OpenedAt = &t
		}
		out[st.Name] = st
	}
	return out
}

// AllOpen reports whether every registered breaker is open. An empty
// manager never is.
func (m *Manager) AllOpen() bool {
	all := m.snapshot()
	for _, cb := range all {
		if cb.State() != StateOpen {
			return false
		}
	}
	return len(all) > 0
}

// SettingsFor builds single-trial settings from a dependency's config
// section.
func SettingsFor(name string, cfg config.BreakerConfig, isExcluded func(error) bool) Settings {
	return Settings{
		Name:             name,
		MaxRequests:      1,
		Interval:         cfg.Interval,
		Timeout:          cfg.ResetTimeout,
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: 1,
		IsExcluded:       isExcluded,
	}
}
