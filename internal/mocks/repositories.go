package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// MockUserStore is a mock implementation of ports.UserStore
type MockUserStore struct {
	mu       sync.Mutex
	Profiles map[string]*domain.Profile

	GetProfileFunc    func(ctx context.Context, userID string) (*domain.Profile, error)
	UpdateProfileFunc func(ctx context.Context, userID string, fields map[string]string) (*domain.Profile, error)

	Updates []map[string]string
}

func NewMockUserStore(profiles ...*domain.Profile) *MockUserStore {
	m := &MockUserStore{Profiles: make(map[string]*domain.Profile)}
	for _, p := range profiles {
		m.Profiles[p.UserID] = p
	}
	return m
}

func (m *MockUserStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockUserStore) UpdateProfile(ctx context.Context, userID string, fields map[string]string) (*domain.Profile, error) {
	m.mu.Lock()
	m.Updates = append(m.Updates, fields)
	m.mu.Unlock()
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, userID, fields)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "display_name":
			p.DisplayName = v
		case "language":
			p.Language = v
		case "voice_profile":
			p.VoiceProfile = v
		}
	}
	cp := *p
	return &cp, nil
}
