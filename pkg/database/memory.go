package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quotagate/pkg/models"
)

// MemoryRepository is an in-process Repository for tests and demos.
type MemoryRepository struct {
	mu       sync.RWMutex
	keys     map[string]models.APIKey
	tiers    map[string]models.Tier
	policies map[string]models.Policy
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		keys:     make(map[string]models.APIKey),
		tiers:    make(map[string]models.Tier),
		policies: make(map[string]models.Policy),
	}
}

func (r *MemoryRepository) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, nil
	}
	return &key, nil
}

func (r *MemoryRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.DateCreated.IsZero() {
		key.DateCreated = time.Now()
	}
	if key.Status == "" {
		key.Status = models.KeyStatusActive
	}
	r.keys[key.ID] = *key
	return nil
}

func (r *MemoryRepository) UpdateAPIKeyStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return fmt.Errorf("api key %s not found", id)
	}
	key.Status = status
	r.keys[id] = key
	return nil
}

func (r *MemoryRepository) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return fmt.Errorf("api key %s not found", id)
	}
	key.LastUsedAt = &usedAt
	r.keys[id] = key
	return nil
}

func (r *MemoryRepository) ListTiers(ctx context.Context) ([]models.Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tiers := make([]models.Tier, 0, len(r.tiers))
	for _, t := range r.tiers {
		tiers = append(tiers, t)
	}
	return tiers, nil
}

func (r *MemoryRepository) GetTier(ctx context.Context, id string) (*models.Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tier, ok := r.tiers[id]
	if !ok {
		return nil, nil
	}
	return &tier, nil
}

func (r *MemoryRepository) CreateTier(ctx context.Context, tier *models.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tier.ID == "" {
		tier.ID = uuid.New().String()
	}
	if tier.Status == "" {
		tier.Status = models.StatusActive
	}
	r.tiers[tier.ID] = *tier
	return nil
}

func (r *MemoryRepository) DeleteTier(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tiers, id)
	return nil
}

func (r *MemoryRepository) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	policies := make([]models.Policy, 0, len(r.policies))
	for _, p := range r.policies {
		policies = append(policies, p)
	}
	return policies, nil
}

func (r *MemoryRepository) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	policy, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	return &policy, nil
}

func (r *MemoryRepository) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	if policy.Status == "" {
		policy.Status = models.StatusActive
	}
	r.policies[policy.ID] = *policy
	return nil
}

func (r *MemoryRepository) DeletePolicy(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, id)
	return nil
}
