package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// ProfileRepository is the user-store collaborator backed by PostgreSQL.
type ProfileRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewProfileRepository(db *gorm.DB, log *zap.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:  db,
		log: log,
	}
}

func (r *ProfileRepository) Save(ctx context.Context, profile *domain.Profile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}

func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.db.WithContext(ctx).First(&profile, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile applies fields, restricted to domain.ProfileUpdatableFields,
// and returns the stored profile.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, userID string, fields map[string]string) (*domain.Profile, error) {
	updates := make(map[string]interface{}, len(fields))
	for column, value := range fields {
		if !slices.Contains(domain.ProfileUpdatableFields, column) {
			return nil, fmt.Errorf("field %q cannot be updated", column)
		}
		updates[column] = value
	}
	if len(updates) == 0 {
		return r.GetProfile(ctx, userID)
	}

	var profile domain.Profile
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Profile{}).Where("user_id = ?", userID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.First(&profile, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("Profile updated",
		zap.String("user_id", userID),
		zap.Int("fields", len(updates)),
	)
	return &profile, nil
}
