package types

import "time"

// Principal is the authenticated identity behind a request. It is supplied
// verbatim by the identity collaborator on every call; the engine never
// persists it and never validates group names.
type Principal struct {
	UserID           string   `json:"user_id"`
	Groups           []string `json:"groups"`
	ServiceAccountID string   `json:"service_account_id,omitempty"`
}

// Dimension identifies a quota accounting axis.
type Dimension string

const (
	DimensionRequests Dimension = "requests"
	DimensionTokens   Dimension = "tokens"
)

// ModelAll is the sentinel granting access to every model endpoint.
const ModelAll = "all"

// RateLimit is an (amount, period) pair: at most Amount units per
// PeriodSeconds of wall clock.
type RateLimit struct {
	Amount        int64 `json:"amount"`
	PeriodSeconds int64 `json:"period_seconds"`
}

// Rate returns the normalized units-per-second rate used when comparing
// limits with different periods.
func (r RateLimit) Rate() float64 {
	if r.PeriodSeconds <= 0 {
		return 0
	}
	return float64(r.Amount) / float64(r.PeriodSeconds)
}

// Period returns the limit's window length.
func (r RateLimit) Period() time.Duration {
	return time.Duration(r.PeriodSeconds) * time.Second
}

// ScheduleType selects how window boundaries are anchored.
type ScheduleType string

const (
	// ScheduleDateCreated anchors windows at the counter subject's creation
	// time (the API key's dateCreated).
	ScheduleDateCreated ScheduleType = "date_created"
	// ScheduleStartTime anchors windows at an administrator-set instant.
	ScheduleStartTime ScheduleType = "start_time"
)

// Schedule describes quota renewal for a limit source.
type Schedule struct {
	Type      ScheduleType `json:"type"`
	StartTime *time.Time   `json:"start_time,omitempty"`
}

// OverLimitBehavior selects what happens once usage passes a limit.
type OverLimitBehavior string

const (
	BehaviorHard OverLimitBehavior = "hard"
	BehaviorSoft OverLimitBehavior = "soft"
)

// OverLimit is the over-limit action carried by a limit source.
type OverLimit struct {
	Behavior OverLimitBehavior `json:"behavior"`
	// ThrottlePercentage is the admitted fraction of normal service under
	// soft behavior, in (0,100].
	ThrottlePercentage int `json:"throttle_percentage,omitempty"`
}

// TimeWindow is an absolute validity interval.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window, inclusive.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// TierLimits is the limit block attached to a tier.
type TierLimits struct {
	TokenRate   []RateLimit `json:"token_rate,omitempty"`
	RequestRate []RateLimit `json:"request_rate,omitempty"`
	// APIKeyExpirationDays is the default lifetime stamped on keys created
	// under this tier. Zero means keys never expire.
	APIKeyExpirationDays int       `json:"api_key_expiration_days,omitempty"`
	Schedule             *Schedule `json:"quota_renewal_schedule,omitempty"`
}

// PolicyTargets is the union-semantics target block of a policy: a principal
// matches when any one of the three sets intersects its identity.
type PolicyTargets struct {
	Groups          []string `json:"groups,omitempty"`
	Users           []string `json:"users,omitempty"`
	ServiceAccounts []string `json:"service_accounts,omitempty"`
}

// PolicyLimits is the limit block attached to a policy.
type PolicyLimits struct {
	TokenRate   *RateLimit  `json:"token_rate,omitempty"`
	RequestRate *RateLimit  `json:"request_rate,omitempty"`
	TimeLimit   *TimeWindow `json:"time_limit,omitempty"`
	Schedule    *Schedule   `json:"quota_renewal_schedule,omitempty"`
	OverLimit   *OverLimit  `json:"over_limit,omitempty"`
}

// KeyLimits are optional per-key limits. When present they further narrow
// the tier/policy-derived limits, never relax them.
type KeyLimits struct {
	TokenRate   *RateLimit `json:"token_rate,omitempty"`
	RequestRate *RateLimit `json:"request_rate,omitempty"`
}

// Outcome is the verdict of an authorization decision.
type Outcome string

const (
	OutcomeAdmit    Outcome = "admit"
	OutcomeThrottle Outcome = "throttle"
	OutcomeReject   Outcome = "reject"
)

// Reason refines an Outcome.
type Reason string

const (
	ReasonOK                      Reason = "ok"
	ReasonKeyNotFound             Reason = "key_not_found"
	ReasonKeyExpired              Reason = "key_expired"
	ReasonKeyDisabled             Reason = "key_disabled"
	ReasonKeyOrphaned             Reason = "key_orphaned"
	ReasonNoTierOrPolicyGrant     Reason = "no_tier_or_policy_grant"
	ReasonQuotaExceededHard       Reason = "quota_exceeded_hard"
	ReasonQuotaExceededSoft       Reason = "quota_exceeded_soft"
	ReasonCounterStoreUnavailable Reason = "counter_store_unavailable"
	ReasonEntityStoreUnavailable  Reason = "entity_store_unavailable"
)

// QuotaState reports a dimension's standing after a decision, for
// rate-limit response headers.
type QuotaState struct {
	Dimension Dimension `json:"dimension"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Decision is the engine's answer for one request.
type Decision struct {
	Outcome            Outcome      `json:"outcome"`
	Reason             Reason       `json:"reason"`
	RetryAfterSeconds  int64        `json:"retry_after_seconds,omitempty"`
	ThrottlePercentage int          `json:"throttle_percentage,omitempty"`
	Quota              []QuotaState `json:"quota,omitempty"`
}

// Allowed reports whether the request may proceed to the model backend.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAdmit || d.Outcome == OutcomeThrottle
}
