// Package limits merges tier, policy, and per-key limits into the one
// effective limit set a request is enforced against.
package limits

import (
	"quotagate/pkg/models"
	"quotagate/pkg/policies"
	"quotagate/pkg/types"
)

// Limit is one effective limit for a dimension: the winning (amount, period)
// pair, the schedule it renews under, and the id of the source that supplied
// it.
type Limit struct {
	types.RateLimit
	Schedule *types.Schedule
	Source   string
}

// Effective is the merged limit set for one request.
type Effective struct {
	// Limits holds the most restrictive limit per dimension. A dimension
	// with no candidate is absent and unbounded for this request.
	Limits map[types.Dimension]Limit
	// Behavior is hard unless every source that specified an over-limit
	// action said soft.
	Behavior types.OverLimitBehavior
	// ThrottlePercentage is the minimum soft percentage across sources,
	// meaningful only when Behavior is soft.
	ThrottlePercentage int
	// Granted reports whether any tier or policy grants the target model,
	// subject to the key's own model constraint.
	Granted bool
}

type candidate struct {
	limit    types.RateLimit
	schedule *types.Schedule
	source   string
}

// Aggregate merges the resolved tier (nil when not tiered), the matched
// policies, and the key's own constraints for modelID. Per dimension the
// minimum normalized rate wins: policies and key limits narrow what the tier
// permits, never widen it.
func Aggregate(tier *models.Tier, matches []policies.Match, key *models.APIKey, modelID string) Effective {
	eff := Effective{
		Limits:   make(map[types.Dimension]Limit),
		Behavior: types.BehaviorHard,
	}

	granted := len(matches) > 0 // matcher already filtered on asset coverage
	if tier != nil && tier.GrantsModel(modelID) {
		granted = true
	}
	if granted && key != nil && key.ConstrainsModels() && !key.GrantsModel(modelID) {
		granted = false
	}
	eff.Granted = granted

	byDim := map[types.Dimension][]candidate{}
	if tier != nil {
		tl := types.TierLimits(tier.Limits)
		for _, rl := range tl.RequestRate {
			byDim[types.DimensionRequests] = append(byDim[types.DimensionRequests],
				candidate{limit: rl, schedule: tl.Schedule, source: tier.ID})
		}
		for _, rl := range tl.TokenRate {
			byDim[types.DimensionTokens] = append(byDim[types.DimensionTokens],
				candidate{limit: rl, schedule: tl.Schedule, source: tier.ID})
		}
	}

	softPct := 0
	sawSoft := false
	sawHard := false
	for _, m := range matches {
		pl := types.PolicyLimits(m.Policy.Limits)
		if pl.RequestRate != nil {
			byDim[types.DimensionRequests] = append(byDim[types.DimensionRequests],
				candidate{limit: *pl.RequestRate, schedule: pl.Schedule, source: m.Policy.ID})
		}
		if pl.TokenRate != nil {
			byDim[types.DimensionTokens] = append(byDim[types.DimensionTokens],
				candidate{limit: *pl.TokenRate, schedule: pl.Schedule, source: m.Policy.ID})
		}
		if ol := pl.OverLimit; ol != nil {
			switch ol.Behavior {
			case types.BehaviorHard:
				sawHard = true
			case types.BehaviorSoft:
				if !sawSoft || ol.ThrottlePercentage < softPct {
					softPct = ol.ThrottlePercentage
				}
				sawSoft = true
			}
		}
	}

	if key != nil && key.Limits != nil {
		kl := types.KeyLimits(*key.Limits)
		if kl.RequestRate != nil {
			byDim[types.DimensionRequests] = append(byDim[types.DimensionRequests],
				candidate{limit: *kl.RequestRate, source: key.ID})
		}
		if kl.TokenRate != nil {
			byDim[types.DimensionTokens] = append(byDim[types.DimensionTokens],
				candidate{limit: *kl.TokenRate, source: key.ID})
		}
	}

	for dim, cands := range byDim {
		eff.Limits[dim] = pickMin(cands)
	}

	if sawSoft && !sawHard {
		eff.Behavior = types.BehaviorSoft
		eff.ThrottlePercentage = softPct
	}
	return eff
}

// pickMin selects the candidate with the smallest normalized rate.
// Ties break on smaller amount (the tighter burst allowance), then on
// source id, so aggregation is deterministic across calls.
func pickMin(cands []candidate) Limit {
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.limit.Rate() < best.limit.Rate():
			best = c
		case c.limit.Rate() == best.limit.Rate() && c.limit.Amount < best.limit.Amount:
			best = c
		case c.limit.Rate() == best.limit.Rate() && c.limit.Amount == best.limit.Amount && c.source < best.source:
			best = c
		}
	}
	return Limit{RateLimit: best.limit, Schedule: best.schedule, Source: best.source}
}
