// Package engine wires key gating, tier resolution, policy matching, limit
// aggregation, and quota enforcement into the single Authorize call.
package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"quotagate/pkg/apikeys"
	"quotagate/pkg/clock"
	"quotagate/pkg/database"
	"quotagate/pkg/limits"
	"quotagate/pkg/metrics"
	"quotagate/pkg/models"
	"quotagate/pkg/policies"
	"quotagate/pkg/quota"
	"quotagate/pkg/tiers"
	"quotagate/pkg/types"
)

// Snapshots supplies the current tier and policy configuration. In
// production this is the redis-backed snapshot cache; tests read the
// repository directly.
type Snapshots interface {
	GetTiers(ctx context.Context) ([]models.Tier, error)
	GetPolicies(ctx context.Context) ([]models.Policy, error)
}

// repoSnapshots reads snapshots straight from the entity store.
type repoSnapshots struct {
	repo database.Repository
}

// NewRepoSnapshots adapts a repository into a Snapshots source without
// caching.
func NewRepoSnapshots(repo database.Repository) Snapshots {
	return repoSnapshots{repo: repo}
}

func (s repoSnapshots) GetTiers(ctx context.Context) ([]models.Tier, error) {
	return s.repo.ListTiers(ctx)
}

func (s repoSnapshots) GetPolicies(ctx context.Context) ([]models.Policy, error) {
	return s.repo.ListPolicies(ctx)
}

// Request is one authorization call. The principal arrives verbatim from the
// identity collaborator alongside the credential.
type Request struct {
	APIKeyID  string
	ModelID   string
	Principal types.Principal
	// EstimatedTokens is the conservative token cost checked pre-admission.
	// Zero defers token accounting to Commit.
	EstimatedTokens int64
}

// Engine is the authorization pipeline. It holds no per-request state; all
// mutation lives in the counter store and the two lifecycle transitions.
type Engine struct {
	manager   *apikeys.Manager
	snapshots Snapshots
	enforcer  *quota.Enforcer
	clk       clock.Clock
	logger    *logrus.Logger
}

// New assembles an Engine.
func New(manager *apikeys.Manager, snapshots Snapshots, enforcer *quota.Enforcer, clk clock.Clock, logger *logrus.Logger) *Engine {
	return &Engine{
		manager:   manager,
		snapshots: snapshots,
		enforcer:  enforcer,
		clk:       clk,
		logger:    logger,
	}
}

// Authorize decides admit/throttle/reject for one request. Every
// authorization-stage failure short-circuits before the counter store is
// touched: quota is never consumed by a request that was never authorized.
func (e *Engine) Authorize(ctx context.Context, req Request) types.Decision {
	key, err := e.manager.Gate(ctx, req.APIKeyID)
	if err != nil {
		return e.finish(req, types.Decision{
			Outcome: types.OutcomeReject,
			Reason:  apikeys.Reason(err),
		})
	}

	eff, ok := e.aggregate(ctx, req, key)
	if !ok {
		return e.finish(req, types.Decision{
			Outcome: types.OutcomeReject,
			Reason:  types.ReasonEntityStoreUnavailable,
		})
	}
	if !eff.Granted {
		return e.finish(req, types.Decision{
			Outcome: types.OutcomeReject,
			Reason:  types.ReasonNoTierOrPolicyGrant,
		})
	}

	decision := e.enforcer.Enforce(ctx, quota.Request{
		Subject:         key.ID,
		SubjectCreated:  key.DateCreated,
		Effective:       eff,
		EstimatedTokens: req.EstimatedTokens,
	})

	if decision.Allowed() {
		e.manager.Touch(ctx, key.ID)
	}
	return e.finish(req, decision)
}

// Commit reconciles actual token usage after the model call. The key is read
// directly: a key that expired while its admitted request was in flight
// still has that usage counted.
func (e *Engine) Commit(ctx context.Context, req Request, actualTokens int64) error {
	key, err := e.manager.Lookup(ctx, req.APIKeyID)
	if err != nil || key == nil {
		return err
	}
	eff, ok := e.aggregate(ctx, req, key)
	if !ok || !eff.Granted {
		return nil
	}
	return e.enforcer.Commit(ctx, quota.Request{
		Subject:         key.ID,
		SubjectCreated:  key.DateCreated,
		Effective:       eff,
		EstimatedTokens: req.EstimatedTokens,
	}, actualTokens)
}

func (e *Engine) aggregate(ctx context.Context, req Request, key *models.APIKey) (limits.Effective, bool) {
	allTiers, err := e.snapshots.GetTiers(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Failed to read tier snapshot")
		return limits.Effective{}, false
	}
	allPolicies, err := e.snapshots.GetPolicies(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Failed to read policy snapshot")
		return limits.Effective{}, false
	}

	res := tiers.Resolve(req.Principal, allTiers, e.logger)
	matches := policies.MatchAll(req.Principal, req.ModelID, allPolicies, e.clk.Now())
	return limits.Aggregate(res.Tier, matches, key, req.ModelID), true
}

func (e *Engine) finish(req Request, decision types.Decision) types.Decision {
	metrics.RecordDecision(string(decision.Outcome), string(decision.Reason))
	e.logger.WithFields(logrus.Fields{
		"api_key": req.APIKeyID,
		"model":   req.ModelID,
		"user":    req.Principal.UserID,
		"outcome": decision.Outcome,
		"reason":  decision.Reason,
	}).Debug("Authorization decision")
	return decision
}
