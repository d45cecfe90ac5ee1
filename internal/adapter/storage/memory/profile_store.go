// Package memory holds the in-process user store used when no database is
// configured.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

func NewProfileStore(seed ...domain.Profile) *ProfileStore {
	s := &ProfileStore{profiles: make(map[string]domain.Profile, len(seed))}
	for _, p := range seed {
		s.profiles[p.UserID] = p
	}
	return s
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *ProfileStore) UpdateProfile(ctx context.Context, userID string, fields map[string]string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for field, value := range fields {
		switch field {
		case "display_name":
			p.DisplayName = value
		case "language":
			p.Language = value
		case "voice_profile":
			p.VoiceProfile = value
		default:
			if !slices.Contains(domain.ProfileUpdatableFields, field) {
				return nil, fmt.Errorf("field %q cannot be updated", field)
			}
		}
	}
	p.UpdatedAt = time.Now().UTC()
	s.profiles[userID] = p
	return &p, nil
}
