// Package tiers selects the single effective tier for a principal.
package tiers

import (
	"sort"

	"github.com/sirupsen/logrus"

	"quotagate/pkg/metrics"
	"quotagate/pkg/models"
	"quotagate/pkg/types"
)

// Resolution is the outcome of tier resolution. A nil Tier means the
// principal is not tiered and gets model access only through policies.
type Resolution struct {
	Tier *models.Tier
	// Ambiguous is set when two or more active matching tiers shared the
	// maximum level and the lexicographic tie-break had to pick one. This
	// is a configuration error the administrator should fix.
	Ambiguous bool
}

// NotTiered reports whether no tier matched.
func (r Resolution) NotTiered() bool {
	return r.Tier == nil
}

// Resolve picks the effective tier for a principal: among active tiers whose
// group set intersects the principal's groups, the one with the highest
// level wins. Equal-level survivors are broken deterministically by smallest
// id; picking arbitrarily would silently change the principal's limits
// between requests.
func Resolve(principal types.Principal, all []models.Tier, logger *logrus.Logger) Resolution {
	groups := make(map[string]struct{}, len(principal.Groups))
	for _, g := range principal.Groups {
		groups[g] = struct{}{}
	}

	var survivors []*models.Tier
	for i := range all {
		tier := &all[i]
		if !tier.Active() {
			continue
		}
		if intersects(tier.Groups, groups) {
			survivors = append(survivors, tier)
		}
	}
	if len(survivors) == 0 {
		return Resolution{}
	}

	maxLevel := survivors[0].Level
	for _, t := range survivors[1:] {
		if t.Level > maxLevel {
			maxLevel = t.Level
		}
	}

	var top []*models.Tier
	for _, t := range survivors {
		if t.Level == maxLevel {
			top = append(top, t)
		}
	}
	sort.Slice(top, func(i, j int) bool { return top[i].ID < top[j].ID })

	res := Resolution{Tier: top[0], Ambiguous: len(top) > 1}
	if res.Ambiguous {
		metrics.TierTieTotal.Inc()
		tied := make([]string, len(top))
		for i, t := range top {
			tied[i] = t.ID
		}
		logger.WithFields(logrus.Fields{
			"level":    maxLevel,
			"tiers":    tied,
			"selected": top[0].ID,
			"user_id":  principal.UserID,
		}).Warn("Multiple tiers share the maximum level; selected lexicographically smallest id")
	}
	return res
}

func intersects(set []string, groups map[string]struct{}) bool {
	for _, g := range set {
		if _, ok := groups[g]; ok {
			return true
		}
	}
	return false
}
