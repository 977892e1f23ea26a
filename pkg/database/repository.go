package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"quotagate/pkg/models"
)

// Repository is the entity store the engine reads snapshots from and writes
// the two lifecycle status transitions back through. Entity CRUD beyond that
// belongs to the administrative collaborator.
type Repository interface {
	GetAPIKey(ctx context.Context, id string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	UpdateAPIKeyStatus(ctx context.Context, id, status string) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error

	ListTiers(ctx context.Context) ([]models.Tier, error)
	GetTier(ctx context.Context, id string) (*models.Tier, error)
	CreateTier(ctx context.Context, tier *models.Tier) error
	DeleteTier(ctx context.Context, id string) error

	ListPolicies(ctx context.Context) ([]models.Policy, error)
	GetPolicy(ctx context.Context, id string) (*models.Policy, error)
	CreatePolicy(ctx context.Context, policy *models.Policy) error
	DeletePolicy(ctx context.Context, id string) error
}

// GormRepository implements Repository on the postgres entity store.
type GormRepository struct {
	db *DB
}

// NewRepository wraps db.
func NewRepository(db *DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.WithContext(ctx).First(&key, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &key, nil
}

func (r *GormRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (r *GormRepository) UpdateAPIKeyStatus(ctx context.Context, id, status string) error {
	result := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update api key status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("api key %s not found", id)
	}
	return nil
}

func (r *GormRepository) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).Update("last_used_at", usedAt).Error
}

func (r *GormRepository) ListTiers(ctx context.Context) ([]models.Tier, error) {
	var tiers []models.Tier
	if err := r.db.WithContext(ctx).Find(&tiers).Error; err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	return tiers, nil
}

func (r *GormRepository) GetTier(ctx context.Context, id string) (*models.Tier, error) {
	var tier models.Tier
	err := r.db.WithContext(ctx).First(&tier, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}
	return &tier, nil
}

func (r *GormRepository) CreateTier(ctx context.Context, tier *models.Tier) error {
	if err := r.db.WithContext(ctx).Create(tier).Error; err != nil {
		return fmt.Errorf("failed to create tier: %w", err)
	}
	return nil
}

func (r *GormRepository) DeleteTier(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.Tier{}, "id = ?", id).Error
}

func (r *GormRepository) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	var policies []models.Policy
	if err := r.db.WithContext(ctx).Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return policies, nil
}

func (r *GormRepository) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	var policy models.Policy
	err := r.db.WithContext(ctx).First(&policy, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return &policy, nil
}

func (r *GormRepository) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	if err := r.db.WithContext(ctx).Create(policy).Error; err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (r *GormRepository) DeletePolicy(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.Policy{}, "id = ?", id).Error
}
