package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// MockAuthService is a mock implementation of ports.AuthService. Tokens
// map directly to principals.
type MockAuthService struct {
	Tokens            map[string]*domain.Principal
	ValidateTokenFunc func(ctx context.Context, token string) (*domain.Principal, error)
}

func (m *MockAuthService) ValidateToken(ctx context.Context, token string) (*domain.Principal, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(ctx, token)
	}
	if p, ok := m.Tokens[token]; ok {
		return p, nil
	}
	return nil, domain.ErrAuthentication
}

// MockSearchService is a mock implementation of ports.SearchService
type MockSearchService struct {
	SearchFunc func(ctx context.Context, query string) ([]domain.SearchResult, error)
	Queries    []string
	mu         sync.Mutex
}

func (m *MockSearchService) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query)
	}
	return []domain.SearchResult{}, nil
}

// MockEventPublisher records published events.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *MockEventPublisher) Publish(ctx context.Context, event domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockEventPublisher) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the recorded events of the given type.
func (m *MockEventPublisher) OfType(eventType string) []domain.Event {
	var out []domain.Event
	for _, e := range m.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
