// Package apikeys manages API key lifecycle: tier-derived expiration at
// creation and the validity gate that runs before any quota accounting.
package apikeys

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"quotagate/pkg/clock"
	"quotagate/pkg/database"
	"quotagate/pkg/metrics"
	"quotagate/pkg/models"
	"quotagate/pkg/tiers"
	"quotagate/pkg/types"
)

// Gate errors. Each maps 1:1 onto a decision reason; KeyOrphaned is distinct
// from KeyExpired so the caller can render the orphaned-key message.
var (
	ErrKeyNotFound = errors.New("api key not found")
	ErrKeyExpired  = errors.New("api key expired")
	ErrKeyDisabled = errors.New("api key disabled")
	ErrKeyOrphaned = errors.New("api key orphaned: backing tier deleted")
)

// Reason maps a gate error onto its decision reason.
func Reason(err error) types.Reason {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return types.ReasonKeyNotFound
	case errors.Is(err, ErrKeyExpired):
		return types.ReasonKeyExpired
	case errors.Is(err, ErrKeyDisabled):
		return types.ReasonKeyDisabled
	case errors.Is(err, ErrKeyOrphaned):
		return types.ReasonKeyOrphaned
	default:
		return types.ReasonKeyNotFound
	}
}

// Manager applies key lifecycle rules against the entity store.
type Manager struct {
	repo   database.Repository
	clk    clock.Clock
	logger *logrus.Logger
}

// NewManager returns a Manager over repo and clk.
func NewManager(repo database.Repository, clk clock.Clock, logger *logrus.Logger) *Manager {
	return &Manager{repo: repo, clk: clk, logger: logger}
}

// CreateRequest carries the inputs for minting a key.
type CreateRequest struct {
	Name      string
	OwnerType string
	OwnerID   string
	// Groups are the owner's group memberships at creation time, used to
	// resolve the tier whose default expiration the key inherits.
	Groups []string
	Models []string
	Limits *types.KeyLimits
}

// Create mints a key with the default expiration of the owner's resolved
// tier. No matching tier (or a tier without a default) leaves the key
// non-expiring. The resolved tier id is recorded so a later deletion can be
// detected at authorize time.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.APIKey, error) {
	all, err := m.repo.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	res := tiers.Resolve(types.Principal{UserID: req.OwnerID, Groups: req.Groups}, all, m.logger)

	now := m.clk.Now()
	key := &models.APIKey{
		Name:        req.Name,
		OwnerType:   req.OwnerType,
		OwnerID:     req.OwnerID,
		Status:      models.KeyStatusActive,
		Models:      req.Models,
		DateCreated: now,
	}
	if req.Limits != nil {
		limits := models.KeyLimitsJSON(*req.Limits)
		key.Limits = &limits
	}
	if res.Tier != nil {
		key.OriginTier = res.Tier.ID
		if days := res.Tier.Limits.APIKeyExpirationDays; days > 0 {
			expires := now.Add(time.Duration(days) * 24 * time.Hour)
			key.ExpiresAt = &expires
		}
	}

	if err := m.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"key_id":      key.ID,
		"owner":       req.OwnerID,
		"origin_tier": key.OriginTier,
	}).Info("API key created")
	return key, nil
}

// Gate validates a key before tier resolution and quota accounting. Expired
// and orphaned keys have their status transition persisted here, lazily,
// rather than by a background sweep.
func (m *Manager) Gate(ctx context.Context, keyID string) (*models.APIKey, error) {
	key, err := m.repo.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	switch key.Status {
	case models.KeyStatusDisabled:
		return nil, ErrKeyDisabled
	case models.KeyStatusInactive:
		return nil, ErrKeyOrphaned
	case models.KeyStatusExpired:
		return nil, ErrKeyExpired
	}

	if key.Expired(m.clk.Now()) {
		m.transition(ctx, key, models.KeyStatusExpired)
		return nil, ErrKeyExpired
	}

	if key.OriginTier != "" {
		tier, err := m.repo.GetTier(ctx, key.OriginTier)
		if err != nil {
			return nil, err
		}
		if tier == nil {
			m.transition(ctx, key, models.KeyStatusInactive)
			return nil, ErrKeyOrphaned
		}
	}

	return key, nil
}

// Lookup fetches a key without applying the gate, for post-response
// reconciliation paths.
func (m *Manager) Lookup(ctx context.Context, keyID string) (*models.APIKey, error) {
	return m.repo.GetAPIKey(ctx, keyID)
}

// Touch records last use, best effort.
func (m *Manager) Touch(ctx context.Context, keyID string) {
	if err := m.repo.TouchAPIKey(ctx, keyID, m.clk.Now()); err != nil {
		m.logger.WithError(err).WithField("key_id", keyID).Debug("Failed to update last used timestamp")
	}
}

func (m *Manager) transition(ctx context.Context, key *models.APIKey, status string) {
	if err := m.repo.UpdateAPIKeyStatus(ctx, key.ID, status); err != nil {
		// The gate decision stands regardless; the transition is retried on
		// the next authorize call.
		m.logger.WithError(err).WithFields(logrus.Fields{
			"key_id": key.ID,
			"status": status,
		}).Warn("Failed to persist key status transition")
		return
	}
	metrics.KeyTransitionTotal.WithLabelValues(status).Inc()
	m.logger.WithFields(logrus.Fields{
		"key_id": key.ID,
		"status": status,
	}).Info("API key status transition")
}
