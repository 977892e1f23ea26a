// Package quota turns an effective limit set into admit/throttle/reject
// decisions against the counter store.
package quota

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"quotagate/pkg/clock"
	"quotagate/pkg/counter"
	"quotagate/pkg/limits"
	"quotagate/pkg/types"
)

// Counters live two full windows past creation so the window that just
// rolled over is still observable for remaining/reset reporting.
const ttlWindows = 2

// Request is one enforcement call.
type Request struct {
	// Subject identifies the accounting subject, normally the API key id.
	Subject string
	// SubjectCreated anchors dateCreated renewal schedules.
	SubjectCreated time.Time
	// Effective is the aggregated limit set for this request.
	Effective limits.Effective
	// EstimatedTokens is the conservative pre-admission token cost. Zero
	// skips the token-rate pre-check; actual usage arrives via Commit.
	EstimatedTokens int64
}

// Enforcer applies fixed-window accounting. It holds no per-request state;
// all shared mutation lives in the counter store.
type Enforcer struct {
	store  counter.Store
	clk    clock.Clock
	logger *logrus.Logger
}

// NewEnforcer returns an Enforcer over store and clk.
func NewEnforcer(store counter.Store, clk clock.Clock, logger *logrus.Logger) *Enforcer {
	return &Enforcer{store: store, clk: clk, logger: logger}
}

// enforcement order: request-rate first so a request rejected on volume
// never consumes token budget.
var dimensionOrder = []types.Dimension{types.DimensionRequests, types.DimensionTokens}

// Enforce checks every bounded dimension and accounts the request. Under
// hard behavior an over-limit dimension rejects without incrementing it;
// under soft behavior the request is admitted at the throttle percentage and
// still accounted. Counter store failures reject hard: quota never fails
// open.
func (e *Enforcer) Enforce(ctx context.Context, req Request) types.Decision {
	now := e.clk.Now()
	hard := req.Effective.Behavior == types.BehaviorHard

	var states []types.QuotaState
	exceeded := false

	for _, dim := range dimensionOrder {
		lim, ok := req.Effective.Limits[dim]
		if !ok {
			continue // unbounded for this request
		}
		cost := e.costFor(dim, req)
		if cost == 0 && dim == types.DimensionTokens {
			// No estimate supplied; usage lands at Commit time.
			continue
		}

		anchor := clock.Anchor(lim.Schedule, req.SubjectCreated)
		window := clock.At(now, anchor, lim.Period())
		key := clock.Key(req.Subject, dim, window)

		total, applied, err := e.store.Bump(ctx, key, cost, lim.Amount, hard, ttlWindows*lim.Period())
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"subject":   req.Subject,
				"dimension": dim,
			}).Error("Counter store unavailable, rejecting")
			return types.Decision{
				Outcome:           types.OutcomeReject,
				Reason:            types.ReasonCounterStoreUnavailable,
				RetryAfterSeconds: retryAfter(window, now),
			}
		}

		states = append(states, quotaState(dim, lim.Amount, total, window))

		if hard && !applied {
			e.logger.WithFields(logrus.Fields{
				"subject":   req.Subject,
				"dimension": dim,
				"limit":     lim.Amount,
				"usage":     total,
				"source":    lim.Source,
			}).Debug("Hard limit exceeded")
			return types.Decision{
				Outcome:           types.OutcomeReject,
				Reason:            types.ReasonQuotaExceededHard,
				RetryAfterSeconds: retryAfter(window, now),
				Quota:             states,
			}
		}
		if !hard && total > lim.Amount {
			exceeded = true
		}
	}

	if exceeded {
		return types.Decision{
			Outcome:            types.OutcomeThrottle,
			Reason:             types.ReasonQuotaExceededSoft,
			ThrottlePercentage: req.Effective.ThrottlePercentage,
			Quota:              states,
		}
	}
	return types.Decision{
		Outcome: types.OutcomeAdmit,
		Reason:  types.ReasonOK,
		Quota:   states,
	}
}

// Commit reconciles actual token usage after the response. Only the delta
// above the pre-admission estimate is added; a committed increment is never
// rolled back, so an over-estimate stands (slight over-counting is
// acceptable, under-counting is not).
func (e *Enforcer) Commit(ctx context.Context, req Request, actualTokens int64) error {
	lim, ok := req.Effective.Limits[types.DimensionTokens]
	if !ok {
		return nil
	}
	delta := actualTokens - req.EstimatedTokens
	if delta <= 0 {
		return nil
	}

	now := e.clk.Now()
	anchor := clock.Anchor(lim.Schedule, req.SubjectCreated)
	window := clock.At(now, anchor, lim.Period())
	key := clock.Key(req.Subject, types.DimensionTokens, window)

	_, _, err := e.store.Bump(ctx, key, delta, lim.Amount, false, ttlWindows*lim.Period())
	return err
}

func (e *Enforcer) costFor(dim types.Dimension, req Request) int64 {
	if dim == types.DimensionTokens {
		return req.EstimatedTokens
	}
	return 1
}

func quotaState(dim types.Dimension, limit, total int64, w clock.Window) types.QuotaState {
	remaining := limit - total
	if remaining < 0 {
		remaining = 0
	}
	return types.QuotaState{
		Dimension: dim,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   w.End,
	}
}

func retryAfter(w clock.Window, now time.Time) int64 {
	secs := int64(w.Remaining(now) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
