// Package server exposes the engine over HTTP: a gin admin surface for
// entity management and decisions, and a fasthttp listener for the hot
// authorize path.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"quotagate/pkg/apikeys"
	"quotagate/pkg/database"
	"quotagate/pkg/engine"
	"quotagate/pkg/metrics"
	"quotagate/pkg/types"
)

// Config holds server configuration
type Config struct {
	AdminPort     int
	AuthorizePort int
	Host          string
}

// SnapshotInvalidator drops cached tier/policy snapshots after an
// administrative mutation. Nil when the engine reads the store directly.
type SnapshotInvalidator interface {
	InvalidateTiers(ctx context.Context)
	InvalidatePolicies(ctx context.Context)
}

// AdminServer carries the gin surface.
type AdminServer struct {
	config      *Config
	router      *gin.Engine
	engine      *engine.Engine
	manager     *apikeys.Manager
	repo        database.Repository
	invalidator SnapshotInvalidator
	logger      *logrus.Logger
}

// NewAdminServer wires routes onto a fresh router.
func NewAdminServer(config *Config, eng *engine.Engine, manager *apikeys.Manager, repo database.Repository, invalidator SnapshotInvalidator, logger *logrus.Logger) *AdminServer {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &AdminServer{
		config:      config,
		router:      router,
		engine:      eng,
		manager:     manager,
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
	}
	s.setupRoutes()
	return s
}

func (s *AdminServer) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/authorize", s.handleAuthorize)
		v1.POST("/usage", s.handleUsage)

		v1.POST("/api-keys", s.handleCreateAPIKey)

		v1.GET("/tiers", s.handleListTiers)
		v1.POST("/tiers", s.handleCreateTier)
		v1.DELETE("/tiers/:id", s.handleDeleteTier)

		v1.GET("/policies", s.handleListPolicies)
		v1.POST("/policies", s.handleCreatePolicy)
		v1.DELETE("/policies/:id", s.handleDeletePolicy)
	}
}

// Run blocks serving the admin surface.
func (s *AdminServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.AdminPort)
	s.logger.WithField("addr", addr).Info("Starting admin server")
	return s.router.Run(addr)
}

// Router exposes the gin engine for tests.
func (s *AdminServer) Router() *gin.Engine {
	return s.router
}

// statusFor maps a decision onto its HTTP status.
func statusFor(d types.Decision) int {
	switch d.Reason {
	case types.ReasonQuotaExceededHard, types.ReasonCounterStoreUnavailable:
		return http.StatusTooManyRequests
	case types.ReasonKeyNotFound, types.ReasonKeyExpired, types.ReasonKeyDisabled, types.ReasonKeyOrphaned:
		return http.StatusUnauthorized
	case types.ReasonNoTierOrPolicyGrant:
		return http.StatusForbidden
	case types.ReasonEntityStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// setRateLimitHeaders surfaces the decision's quota standing in standard
// rate-limit headers for the model-serving collaborator to forward.
func setRateLimitHeaders(header http.Header, d types.Decision) {
	for _, q := range d.Quota {
		suffix := ""
		if q.Dimension == types.DimensionTokens {
			suffix = "-Tokens"
		}
		header.Set("X-RateLimit-Limit"+suffix, strconv.FormatInt(q.Limit, 10))
		header.Set("X-RateLimit-Remaining"+suffix, strconv.FormatInt(q.Remaining, 10))
		header.Set("X-RateLimit-Reset"+suffix, strconv.FormatInt(q.ResetAt.Unix(), 10))
	}
	if d.RetryAfterSeconds > 0 {
		header.Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
	}
}
