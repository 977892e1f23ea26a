// Package policies matches independently-targeted policies against a
// principal and target model.
package policies

import (
	"time"

	"quotagate/pkg/models"
	"quotagate/pkg/types"
)

// TargetKind tags which target set matched the principal. Modeled as a
// variant rather than parallel booleans so future target kinds slot in
// without touching callers.
type TargetKind string

const (
	TargetGroup          TargetKind = "group"
	TargetUser           TargetKind = "user"
	TargetServiceAccount TargetKind = "service_account"
)

// Match is one matched policy plus the target kind that matched it.
type Match struct {
	Policy *models.Policy
	Kind   TargetKind
}

// MatchAll returns every active, enforceable policy whose targets cover the
// principal and whose assets cover modelID at now. Order carries no meaning;
// policies combine additively in the aggregator, never by precedence.
func MatchAll(principal types.Principal, modelID string, all []models.Policy, now time.Time) []Match {
	var matches []Match
	for i := range all {
		policy := &all[i]
		if policy.Status != models.StatusActive || !policy.Enforceable() {
			continue
		}
		if tl := policy.Limits.TimeLimit; tl != nil && !tl.Contains(now) {
			continue
		}
		if !policy.GrantsModel(modelID) {
			continue
		}
		kind, ok := matchTargets(principal, types.PolicyTargets(policy.Targets))
		if !ok {
			continue
		}
		matches = append(matches, Match{Policy: policy, Kind: kind})
	}
	return matches
}

func matchTargets(principal types.Principal, targets types.PolicyTargets) (TargetKind, bool) {
	groups := make(map[string]struct{}, len(principal.Groups))
	for _, g := range principal.Groups {
		groups[g] = struct{}{}
	}
	for _, g := range targets.Groups {
		if _, ok := groups[g]; ok {
			return TargetGroup, true
		}
	}
	if principal.UserID != "" {
		for _, u := range targets.Users {
			if u == principal.UserID {
				return TargetUser, true
			}
		}
	}
	if principal.ServiceAccountID != "" {
		for _, sa := range targets.ServiceAccounts {
			if sa == principal.ServiceAccountID {
				return TargetServiceAccount, true
			}
		}
	}
	return "", false
}
