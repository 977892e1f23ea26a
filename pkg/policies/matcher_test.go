package policies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/pkg/models"
	"quotagate/pkg/types"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func policy(id string, mutate func(*models.Policy)) models.Policy {
	p := models.Policy{
		ID:     id,
		Name:   id,
		Type:   models.PolicyTypeRateLimit,
		Status: models.StatusActive,
		Models: []string{types.ModelAll},
	}
	if mutate != nil {
		mutate(&p)
	}
	return p
}

func TestMatchAllTargetKinds(t *testing.T) {
	principal := types.Principal{
		UserID:           "u1",
		Groups:           []string{"devs"},
		ServiceAccountID: "svc-9",
	}

	tests := []struct {
		name    string
		targets types.PolicyTargets
		want    TargetKind
		matched bool
	}{
		{"group target", types.PolicyTargets{Groups: []string{"devs"}}, TargetGroup, true},
		{"user target", types.PolicyTargets{Users: []string{"u1"}}, TargetUser, true},
		{"service account target", types.PolicyTargets{ServiceAccounts: []string{"svc-9"}}, TargetServiceAccount, true},
		{"group wins over user when both match", types.PolicyTargets{Groups: []string{"devs"}, Users: []string{"u1"}}, TargetGroup, true},
		{"no intersection", types.PolicyTargets{Groups: []string{"admins"}, Users: []string{"u2"}}, "", false},
		{"empty targets match nothing", types.PolicyTargets{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policy("p1", func(p *models.Policy) { p.Targets = models.TargetsJSON(tt.targets) })
			matches := MatchAll(principal, "gpt-4", []models.Policy{p}, now)
			if !tt.matched {
				assert.Empty(t, matches)
				return
			}
			require.Len(t, matches, 1)
			assert.Equal(t, tt.want, matches[0].Kind)
		})
	}
}

func TestMatchAllFilters(t *testing.T) {
	principal := types.Principal{UserID: "u1", Groups: []string{"devs"}}
	target := func(p *models.Policy) { p.Targets = models.TargetsJSON{Groups: []string{"devs"}} }

	t.Run("inactive policy never matches", func(t *testing.T) {
		p := policy("p1", func(p *models.Policy) {
			target(p)
			p.Status = models.StatusInactive
		})
		assert.Empty(t, MatchAll(principal, "gpt-4", []models.Policy{p}, now))
	})

	t.Run("tls and dns policies carry no enforcement", func(t *testing.T) {
		tls := policy("p1", func(p *models.Policy) { target(p); p.Type = models.PolicyTypeTLS })
		dns := policy("p2", func(p *models.Policy) { target(p); p.Type = models.PolicyTypeDNS })
		assert.Empty(t, MatchAll(principal, "gpt-4", []models.Policy{tls, dns}, now))
	})

	t.Run("elapsed validity window never matches", func(t *testing.T) {
		p := policy("p1", func(p *models.Policy) {
			target(p)
			p.Limits.TimeLimit = &types.TimeWindow{
				Start: now.Add(-2 * time.Hour),
				End:   now.Add(-time.Hour),
			}
		})
		assert.Empty(t, MatchAll(principal, "gpt-4", []models.Policy{p}, now))
	})

	t.Run("open validity window matches inclusively", func(t *testing.T) {
		p := policy("p1", func(p *models.Policy) {
			target(p)
			p.Limits.TimeLimit = &types.TimeWindow{Start: now.Add(-time.Hour), End: now}
		})
		assert.Len(t, MatchAll(principal, "gpt-4", []models.Policy{p}, now), 1)
	})

	t.Run("model not in assets never matches", func(t *testing.T) {
		p := policy("p1", func(p *models.Policy) {
			target(p)
			p.Models = []string{"claude-3"}
		})
		assert.Empty(t, MatchAll(principal, "gpt-4", []models.Policy{p}, now))
	})

	t.Run("explicit model id matches", func(t *testing.T) {
		p := policy("p1", func(p *models.Policy) {
			target(p)
			p.Models = []string{"gpt-4"}
		})
		assert.Len(t, MatchAll(principal, "gpt-4", []models.Policy{p}, now), 1)
	})
}

func TestMatchAllMultiple(t *testing.T) {
	principal := types.Principal{UserID: "u1", Groups: []string{"devs"}}
	p1 := policy("p1", func(p *models.Policy) { p.Targets = models.TargetsJSON{Groups: []string{"devs"}} })
	p2 := policy("p2", func(p *models.Policy) { p.Targets = models.TargetsJSON{Users: []string{"u1"}} })
	p3 := policy("p3", func(p *models.Policy) { p.Targets = models.TargetsJSON{Groups: []string{"admins"}} })

	matches := MatchAll(principal, "gpt-4", []models.Policy{p1, p2, p3}, now)
	require.Len(t, matches, 2)
	ids := []string{matches[0].Policy.ID, matches[1].Policy.ID}
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)
}
