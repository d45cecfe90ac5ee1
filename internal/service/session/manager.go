package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

var ErrShuttingDown = errors.New("gateway is shutting down")

// Manager creates a Controller per connection and tracks the live ones.
type Manager struct {
	auth     ports.AuthService
	pipeline *Pipeline
	events   ports.EventPublisher
	cfg      Config
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
	cancels  map[string]context.CancelFunc
	perUser  map[string]int
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(auth ports.AuthService, pipeline *Pipeline, events ports.EventPublisher, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		auth:     auth,
		pipeline: pipeline,
		events:   events,
		cfg:      cfg,
		log:      log.With(zap.String("component", "session_manager")),
		sessions: make(map[string]*Controller),
		cancels:  make(map[string]context.CancelFunc),
		perUser:  make(map[string]int),
	}
}

// Serve runs a session on conn and blocks until it ends.
func (m *Manager) Serve(ctx context.Context, conn Conn, token string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrShuttingDown
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newController(uuid.NewString(), conn, token, m.auth, m.pipeline, m.events, m.cfg, m.log)
	c.admit = func(c *Controller) error { return m.admit(c, cancel) }
	c.release = m.release
	return c.Run(ctx)
}

func (m *Manager) admit(c *Controller, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrShuttingDown
	}
	userID := c.Principal().UserID
	if limit := m.cfg.MaxSessionsPerUser; limit > 0 && m.perUser[userID] >= limit {
		return fmt.Errorf("%w: limit %d", domain.ErrSessionLimit, limit)
	}
	m.sessions[c.ID()] = c
	m.cancels[c.ID()] = cancel
	m.perUser[userID]++
	telemetry.ActiveSessions.Inc()
	return nil
}

func (m *Manager) release(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[c.ID()]; !ok {
		return
	}
	delete(m.sessions, c.ID())
	delete(m.cancels, c.ID())
	userID := c.Principal().UserID
	if m.perUser[userID]--; m.perUser[userID] <= 0 {
		delete(m.perUser, userID)
	}
	telemetry.ActiveSessions.Dec()
}

// Count returns the number of admitted sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CountForUser returns the number of admitted sessions of one user.
func (m *Manager) CountForUser(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perUser[userID]
}

// Shutdown refuses new sessions, closes the live ones and waits for them
// to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	n := len(m.cancels)
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	m.log.Info("Closing voice sessions", zap.Int("sessions", n))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
