package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"

	"quotagate/pkg/apikeys"
	"quotagate/pkg/engine"
	"quotagate/pkg/models"
	"quotagate/pkg/types"
)

// AuthorizeRequest is the body of POST /api/v1/authorize. The principal is
// supplied by the identity collaborator fronting this call.
type AuthorizeRequest struct {
	APIKeyID        string          `json:"api_key_id" binding:"required"`
	ModelID         string          `json:"model_id" binding:"required"`
	Principal       types.Principal `json:"principal"`
	EstimatedTokens int64           `json:"estimated_tokens"`
}

// UsageRequest is the body of POST /api/v1/usage, reconciling actual token
// usage after the model call completed.
type UsageRequest struct {
	AuthorizeRequest
	ActualTokens int64 `json:"actual_tokens"`
}

// CreateAPIKeyRequest is the body of POST /api/v1/api-keys.
type CreateAPIKeyRequest struct {
	Name      string                 `json:"name"`
	OwnerType string                 `json:"owner_type" binding:"required"`
	OwnerID   string                 `json:"owner_id" binding:"required"`
	Groups    []string               `json:"groups"`
	Models    []string               `json:"models"`
	Limits    map[string]interface{} `json:"limits"`
}

// CreateTierRequest is the body of POST /api/v1/tiers.
type CreateTierRequest struct {
	Name   string                 `json:"name" binding:"required"`
	Level  int                    `json:"level"`
	Status string                 `json:"status"`
	Groups []string               `json:"groups"`
	Models []string               `json:"models"`
	Limits map[string]interface{} `json:"limits"`
}

// CreatePolicyRequest is the body of POST /api/v1/policies.
type CreatePolicyRequest struct {
	Name    string                 `json:"name" binding:"required"`
	Type    string                 `json:"type"`
	Status  string                 `json:"status"`
	Targets types.PolicyTargets    `json:"targets"`
	Models  []string               `json:"available_models"`
	Limits  map[string]interface{} `json:"limits"`
}

func (s *AdminServer) handleAuthorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision := s.engine.Authorize(c.Request.Context(), engine.Request{
		APIKeyID:        req.APIKeyID,
		ModelID:         req.ModelID,
		Principal:       req.Principal,
		EstimatedTokens: req.EstimatedTokens,
	})

	setRateLimitHeaders(c.Writer.Header(), decision)
	c.JSON(statusFor(decision), decision)
}

func (s *AdminServer) handleUsage(c *gin.Context) {
	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.engine.Commit(c.Request.Context(), engine.Request{
		APIKeyID:        req.APIKeyID,
		ModelID:         req.ModelID,
		Principal:       req.Principal,
		EstimatedTokens: req.EstimatedTokens,
	}, req.ActualTokens)
	if err != nil {
		s.logger.WithError(err).Warn("Usage reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record usage"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *AdminServer) handleCreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	create := apikeys.CreateRequest{
		Name:      req.Name,
		OwnerType: req.OwnerType,
		OwnerID:   req.OwnerID,
		Groups:    req.Groups,
		Models:    req.Models,
	}
	if len(req.Limits) > 0 {
		var kl types.KeyLimits
		if err := decodeLimits(req.Limits, &kl); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		create.Limits = &kl
	}

	key, err := s.manager.Create(c.Request.Context(), create)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create api key"})
		return
	}
	c.JSON(http.StatusCreated, key)
}

func (s *AdminServer) handleListTiers(c *gin.Context) {
	tiers, err := s.repo.ListTiers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tiers"})
		return
	}
	c.JSON(http.StatusOK, tiers)
}

func (s *AdminServer) handleCreateTier(c *gin.Context) {
	var req CreateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier := &models.Tier{
		Name:   req.Name,
		Level:  req.Level,
		Status: req.Status,
		Groups: req.Groups,
		Models: req.Models,
	}
	if tier.Status == "" {
		tier.Status = models.StatusActive
	}
	if len(req.Limits) > 0 {
		var tl types.TierLimits
		if err := decodeLimits(req.Limits, &tl); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tier.Limits = models.TierLimitsJSON(tl)
	}

	if err := s.repo.CreateTier(c.Request.Context(), tier); err != nil {
		s.logger.WithError(err).Error("Failed to create tier")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create tier"})
		return
	}
	s.invalidateTiers(c)
	c.JSON(http.StatusCreated, tier)
}

func (s *AdminServer) handleDeleteTier(c *gin.Context) {
	if err := s.repo.DeleteTier(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete tier"})
		return
	}
	s.invalidateTiers(c)
	c.Status(http.StatusNoContent)
}

func (s *AdminServer) handleListPolicies(c *gin.Context) {
	policies, err := s.repo.ListPolicies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list policies"})
		return
	}
	c.JSON(http.StatusOK, policies)
}

func (s *AdminServer) handleCreatePolicy(c *gin.Context) {
	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy := &models.Policy{
		Name:    req.Name,
		Type:    req.Type,
		Status:  req.Status,
		Targets: models.TargetsJSON(req.Targets),
		Models:  req.Models,
	}
	if policy.Type == "" {
		policy.Type = models.PolicyTypeRateLimit
	}
	if policy.Status == "" {
		policy.Status = models.StatusActive
	}
	if len(req.Limits) > 0 {
		var pl types.PolicyLimits
		if err := decodeLimits(req.Limits, &pl); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		policy.Limits = models.PolicyLimitsJSON(pl)
	}

	if err := s.repo.CreatePolicy(c.Request.Context(), policy); err != nil {
		s.logger.WithError(err).Error("Failed to create policy")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create policy"})
		return
	}
	s.invalidatePolicies(c)
	c.JSON(http.StatusCreated, policy)
}

func (s *AdminServer) handleDeletePolicy(c *gin.Context) {
	if err := s.repo.DeletePolicy(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete policy"})
		return
	}
	s.invalidatePolicies(c)
	c.Status(http.StatusNoContent)
}

func (s *AdminServer) invalidateTiers(c *gin.Context) {
	if s.invalidator != nil {
		s.invalidator.InvalidateTiers(c.Request.Context())
	}
}

func (s *AdminServer) invalidatePolicies(c *gin.Context) {
	if s.invalidator != nil {
		s.invalidator.InvalidatePolicies(c.Request.Context())
	}
}

// decodeLimits decodes a generic limits map into its typed block, honoring
// the json field names used in storage.
func decodeLimits(in map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(in)
}
