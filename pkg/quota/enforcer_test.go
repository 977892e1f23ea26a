package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/pkg/clock"
	"quotagate/pkg/counter"
	"quotagate/pkg/limits"
	"quotagate/pkg/types"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func effectiveWith(behavior types.OverLimitBehavior, pct int, lims map[types.Dimension]limits.Limit) limits.Effective {
	return limits.Effective{
		Limits:             lims,
		Behavior:           behavior,
		ThrottlePercentage: pct,
		Granted:            true,
	}
}

func requestRate(amount, period int64) map[types.Dimension]limits.Limit {
	return map[types.Dimension]limits.Limit{
		types.DimensionRequests: {RateLimit: types.RateLimit{Amount: amount, PeriodSeconds: period}, Source: "t"},
	}
}

func TestEnforceHardWindowIdempotence(t *testing.T) {
	clk := clock.NewManual(base.Add(time.Minute))
	enforcer := NewEnforcer(counter.NewMemory(), clk, testLogger())

	req := Request{
		Subject:        "key-1",
		SubjectCreated: base,
		Effective:      effectiveWith(types.BehaviorHard, 0, requestRate(1, 60)),
	}

	first := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeAdmit, first.Outcome)
	require.Len(t, first.Quota, 1)
	assert.Equal(t, int64(0), first.Quota[0].Remaining)

	second := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeReject, second.Outcome)
	assert.Equal(t, types.ReasonQuotaExceededHard, second.Reason)
	assert.GreaterOrEqual(t, second.RetryAfterSeconds, int64(1))

	// Next window admits again.
	clk.Advance(time.Minute)
	third := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeAdmit, third.Outcome)
}

func TestEnforceSoftThrottles(t *testing.T) {
	clk := clock.NewManual(base.Add(time.Minute))
	enforcer := NewEnforcer(counter.NewMemory(), clk, testLogger())

	req := Request{
		Subject:        "key-1",
		SubjectCreated: base,
		Effective:      effectiveWith(types.BehaviorSoft, 50, requestRate(1, 60)),
	}

	first := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeAdmit, first.Outcome)

	second := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeThrottle, second.Outcome)
	assert.Equal(t, types.ReasonQuotaExceededSoft, second.Reason)
	assert.Equal(t, 50, second.ThrottlePercentage)
	assert.True(t, second.Allowed())
}

func TestEnforceTokenEstimate(t *testing.T) {
	clk := clock.NewManual(base.Add(time.Minute))
	store := counter.NewMemory()
	enforcer := NewEnforcer(store, clk, testLogger())

	lims := map[types.Dimension]limits.Limit{
		types.DimensionTokens: {RateLimit: types.RateLimit{Amount: 5000, PeriodSeconds: 3600}, Source: "p"},
	}

	t.Run("estimate within budget admits", func(t *testing.T) {
		req := Request{Subject: "k1", SubjectCreated: base, Effective: effectiveWith(types.BehaviorHard, 0, lims), EstimatedTokens: 3000}
		d := enforcer.Enforce(context.Background(), req)
		assert.Equal(t, types.OutcomeAdmit, d.Outcome)
		require.Len(t, d.Quota, 1)
		assert.Equal(t, int64(2000), d.Quota[0].Remaining)
	})

	t.Run("estimate past budget rejects hard", func(t *testing.T) {
		req := Request{Subject: "k1", SubjectCreated: base, Effective: effectiveWith(types.BehaviorHard, 0, lims), EstimatedTokens: 3000}
		d := enforcer.Enforce(context.Background(), req)
		assert.Equal(t, types.OutcomeReject, d.Outcome)
		assert.Equal(t, types.ReasonQuotaExceededHard, d.Reason)
	})

	t.Run("zero estimate skips the pre-check", func(t *testing.T) {
		req := Request{Subject: "k2", SubjectCreated: base, Effective: effectiveWith(types.BehaviorHard, 0, lims)}
		d := enforcer.Enforce(context.Background(), req)
		assert.Equal(t, types.OutcomeAdmit, d.Outcome)
		assert.Empty(t, d.Quota)
	})
}

func TestEnforceScenarioSoftTokenBudget(t *testing.T) {
	// Tier "Free": tokens 10000/hour. Policy "dev-budget": tokens 5000/hour,
	// soft 50%. Effective limit is the policy's 5000/hour; consuming past it
	// throttles at 50%.
	clk := clock.NewManual(base.Add(time.Minute))
	enforcer := NewEnforcer(counter.NewMemory(), clk, testLogger())

	lims := map[types.Dimension]limits.Limit{
		types.DimensionTokens: {RateLimit: types.RateLimit{Amount: 5000, PeriodSeconds: 3600}, Source: "dev-budget"},
	}

	admit := enforcer.Enforce(context.Background(), Request{
		Subject: "key-f", SubjectCreated: base,
		Effective:       effectiveWith(types.BehaviorSoft, 50, lims),
		EstimatedTokens: 5000,
	})
	assert.Equal(t, types.OutcomeAdmit, admit.Outcome)

	over := enforcer.Enforce(context.Background(), Request{
		Subject: "key-f", SubjectCreated: base,
		Effective:       effectiveWith(types.BehaviorSoft, 50, lims),
		EstimatedTokens: 1,
	})
	assert.Equal(t, types.OutcomeThrottle, over.Outcome)
	assert.Equal(t, 50, over.ThrottlePercentage)
}

func TestEnforceRequestDimensionFirst(t *testing.T) {
	clk := clock.NewManual(base.Add(time.Minute))
	store := counter.NewMemory()
	enforcer := NewEnforcer(store, clk, testLogger())

	lims := map[types.Dimension]limits.Limit{
		types.DimensionRequests: {RateLimit: types.RateLimit{Amount: 0, PeriodSeconds: 60}, Source: "t"},
		types.DimensionTokens:   {RateLimit: types.RateLimit{Amount: 1000, PeriodSeconds: 3600}, Source: "t"},
	}
	req := Request{Subject: "k", SubjectCreated: base, Effective: effectiveWith(types.BehaviorHard, 0, lims), EstimatedTokens: 10}

	d := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeReject, d.Outcome)

	// The token counter must be untouched: the request was rejected before
	// reaching the token dimension.
	total, err := store.Peek(context.Background(), clock.Key("k", types.DimensionTokens, clock.At(clk.Now(), base, time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestEnforceStartTimeSchedule(t *testing.T) {
	start := base.Add(-30 * time.Minute)
	clk := clock.NewManual(base)
	store := counter.NewMemory()
	enforcer := NewEnforcer(store, clk, testLogger())

	lims := map[types.Dimension]limits.Limit{
		types.DimensionRequests: {
			RateLimit: types.RateLimit{Amount: 1, PeriodSeconds: 3600},
			Schedule:  &types.Schedule{Type: types.ScheduleStartTime, StartTime: &start},
			Source:    "t",
		},
	}
	req := Request{Subject: "k", SubjectCreated: base.Add(-time.Hour), Effective: effectiveWith(types.BehaviorHard, 0, lims)}

	first := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeAdmit, first.Outcome)
	require.Len(t, first.Quota, 1)
	// Window is anchored at the admin-set start, not the key's creation.
	assert.Equal(t, start.Add(time.Hour), first.Quota[0].ResetAt)

	second := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeReject, second.Outcome)

	// Crossing the start-anchored boundary opens a fresh window.
	clk.Advance(31 * time.Minute)
	third := enforcer.Enforce(context.Background(), req)
	assert.Equal(t, types.OutcomeAdmit, third.Outcome)
}

func TestEnforceUnboundedAdmits(t *testing.T) {
	clk := clock.NewManual(base)
	enforcer := NewEnforcer(counter.NewMemory(), clk, testLogger())

	d := enforcer.Enforce(context.Background(), Request{
		Subject:        "k",
		SubjectCreated: base,
		Effective:      effectiveWith(types.BehaviorHard, 0, nil),
	})
	assert.Equal(t, types.OutcomeAdmit, d.Outcome)
	assert.Empty(t, d.Quota)
}

type failingStore struct{}

func (failingStore) Bump(context.Context, string, int64, int64, bool, time.Duration) (int64, bool, error) {
	return 0, false, errors.New("connection refused")
}

func (failingStore) Peek(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestEnforceFailsClosedOnStoreError(t *testing.T) {
	clk := clock.NewManual(base)
	enforcer := NewEnforcer(failingStore{}, clk, testLogger())

	d := enforcer.Enforce(context.Background(), Request{
		Subject:        "k",
		SubjectCreated: base,
		Effective:      effectiveWith(types.BehaviorSoft, 50, requestRate(100, 60)),
	})
	assert.Equal(t, types.OutcomeReject, d.Outcome)
	assert.Equal(t, types.ReasonCounterStoreUnavailable, d.Reason)
}

func TestCommitReconciliation(t *testing.T) {
	clk := clock.NewManual(base.Add(time.Minute))
	store := counter.NewMemory()
	enforcer := NewEnforcer(store, clk, testLogger())

	lims := map[types.Dimension]limits.Limit{
		types.DimensionTokens: {RateLimit: types.RateLimit{Amount: 5000, PeriodSeconds: 3600}, Source: "p"},
	}
	req := Request{Subject: "k", SubjectCreated: base, Effective: effectiveWith(types.BehaviorHard, 0, lims), EstimatedTokens: 100}

	d := enforcer.Enforce(context.Background(), req)
	require.Equal(t, types.OutcomeAdmit, d.Outcome)

	key := clock.Key("k", types.DimensionTokens, clock.At(clk.Now(), base, time.Hour))

	t.Run("actual above estimate adds the delta", func(t *testing.T) {
		require.NoError(t, enforcer.Commit(context.Background(), req, 350))
		total, err := store.Peek(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, int64(350), total)
	})

	t.Run("actual below estimate is never subtracted", func(t *testing.T) {
		require.NoError(t, enforcer.Commit(context.Background(), req, 10))
		total, err := store.Peek(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, int64(350), total)
	})

	t.Run("commit may push usage past the limit", func(t *testing.T) {
		req2 := req
		req2.EstimatedTokens = 0
		require.NoError(t, enforcer.Commit(context.Background(), req2, 6000))
		total, err := store.Peek(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, int64(6350), total)
	})
}

func TestEnforceCancelledContextNotCounted(t *testing.T) {
	clk := clock.NewManual(base.Add(time.Minute))
	store := counter.NewMemory()
	enforcer := NewEnforcer(store, clk, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := enforcer.Enforce(ctx, Request{
		Subject:        "k",
		SubjectCreated: base,
		Effective:      effectiveWith(types.BehaviorHard, 0, requestRate(10, 60)),
	})
	assert.Equal(t, types.OutcomeReject, d.Outcome)
	assert.Equal(t, types.ReasonCounterStoreUnavailable, d.Reason)

	total, err := store.Peek(context.Background(), clock.Key("k", types.DimensionRequests, clock.At(clk.Now(), base, time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}
