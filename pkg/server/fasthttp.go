package server

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"quotagate/pkg/engine"
	"quotagate/pkg/types"
)

// Pre-encoded responses
var (
	fastHealthResponse   = []byte(`{"status":"healthy"}`)
	fastNotFoundResponse = []byte(`{"error":"not found"}`)
	fastBadBodyResponse  = []byte(`{"error":"invalid request body"}`)
)

// AuthorizeServer is the hot-path listener. It serves only the authorize and
// usage calls, skipping the gin middleware stack entirely.
type AuthorizeServer struct {
	config *Config
	engine *engine.Engine
	logger *logrus.Logger
	server *fasthttp.Server
}

// NewAuthorizeServer builds the hot-path listener around eng.
func NewAuthorizeServer(config *Config, eng *engine.Engine, logger *logrus.Logger) *AuthorizeServer {
	s := &AuthorizeServer{
		config: config,
		engine: eng,
		logger: logger,
	}
	s.server = &fasthttp.Server{
		Handler:            s.route,
		Name:               "quotagate",
		MaxRequestBodySize: 1 << 20,
	}
	return s
}

// Run blocks serving the authorize surface.
func (s *AuthorizeServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.AuthorizePort)
	s.logger.WithField("addr", addr).Info("Starting authorize server")
	return s.server.ListenAndServe(addr)
}

func (s *AuthorizeServer) route(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")

	path := string(ctx.Path())
	switch {
	case path == "/health":
		ctx.Write(fastHealthResponse)
	case path == "/authorize" && ctx.IsPost():
		s.handleFastAuthorize(ctx)
	case path == "/usage" && ctx.IsPost():
		s.handleFastUsage(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.Write(fastNotFoundResponse)
	}
}

func (s *AuthorizeServer) handleFastAuthorize(ctx *fasthttp.RequestCtx) {
	var req AuthorizeRequest
	if err := fastJSONUnmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.Write(fastBadBodyResponse)
		return
	}

	decision := s.engine.Authorize(ctx, engine.Request{
		APIKeyID:        req.APIKeyID,
		ModelID:         req.ModelID,
		Principal:       req.Principal,
		EstimatedTokens: req.EstimatedTokens,
	})

	setFastRateLimitHeaders(ctx, decision)
	ctx.SetStatusCode(statusFor(decision))
	ctx.Write(fastJSONMarshal(decision))
}

func (s *AuthorizeServer) handleFastUsage(ctx *fasthttp.RequestCtx) {
	var req UsageRequest
	if err := fastJSONUnmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.Write(fastBadBodyResponse)
		return
	}

	err := s.engine.Commit(ctx, engine.Request{
		APIKeyID:        req.APIKeyID,
		ModelID:         req.ModelID,
		Principal:       req.Principal,
		EstimatedTokens: req.EstimatedTokens,
	}, req.ActualTokens)
	if err != nil {
		s.logger.WithError(err).Warn("Usage reconciliation failed")
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.Write([]byte(`{"error":"failed to record usage"}`))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func setFastRateLimitHeaders(ctx *fasthttp.RequestCtx, d types.Decision) {
	for _, q := range d.Quota {
		suffix := ""
		if q.Dimension == types.DimensionTokens {
			suffix = "-Tokens"
		}
		ctx.Response.Header.Set("X-RateLimit-Limit"+suffix, strconv.FormatInt(q.Limit, 10))
		ctx.Response.Header.Set("X-RateLimit-Remaining"+suffix, strconv.FormatInt(q.Remaining, 10))
		ctx.Response.Header.Set("X-RateLimit-Reset"+suffix, strconv.FormatInt(q.ResetAt.Unix(), 10))
	}
	if d.RetryAfterSeconds > 0 {
		ctx.Response.Header.Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
	}
}
