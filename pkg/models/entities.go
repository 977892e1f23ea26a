package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"quotagate/pkg/types"
)

// Entity status values shared by tiers and policies.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// API key status values.
const (
	KeyStatusActive   = "active"
	KeyStatusExpired  = "expired"
	KeyStatusDisabled = "disabled"
	KeyStatusInactive = "inactive"
)

// Policy type values. Only rate-limit and auth policies carry
// enforcement-relevant targets and limits; TLS and DNS policies are stored
// for other collaborators and never match here.
const (
	PolicyTypeRateLimit = "rate_limit"
	PolicyTypeAuth      = "auth"
	PolicyTypeTLS       = "tls"
	PolicyTypeDNS       = "dns"
)

// API key owner kinds.
const (
	OwnerUser           = "user"
	OwnerGroup          = "group"
	OwnerServiceAccount = "service_account"
)

// Tier is a priority class of access conferred by group membership.
type Tier struct {
	ID        string         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name      string         `json:"name" gorm:"not null"`
	Level     int            `json:"level" gorm:"not null"`
	Status    string         `json:"status" gorm:"not null;default:'active'"`
	Groups    pq.StringArray `json:"groups" gorm:"type:text[]"`
	Models    pq.StringArray `json:"models" gorm:"type:text[]"`
	Limits    TierLimitsJSON `json:"limits" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:current_timestamp"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null;default:current_timestamp"`
}

func (Tier) TableName() string {
	return "tiers"
}

func (t *Tier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

func (t *Tier) BeforeUpdate(tx *gorm.DB) error {
	t.UpdatedAt = time.Now()
	return nil
}

// Active reports whether the tier participates in resolution.
func (t *Tier) Active() bool {
	return t.Status == StatusActive
}

// GrantsModel reports whether the tier's model set covers modelID.
func (t *Tier) GrantsModel(modelID string) bool {
	return containsModel(t.Models, modelID)
}

// Policy is an independently-targeted rule set that narrows access and
// limits for matching principals.
type Policy struct {
	ID        string           `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name      string           `json:"name" gorm:"not null"`
	Type      string           `json:"type" gorm:"not null;default:'rate_limit'"`
	Status    string           `json:"status" gorm:"not null;default:'active'"`
	Targets   TargetsJSON      `json:"targets" gorm:"type:jsonb"`
	Models    pq.StringArray   `json:"available_models" gorm:"type:text[]"`
	Limits    PolicyLimitsJSON `json:"limits" gorm:"type:jsonb"`
	CreatedAt time.Time        `json:"created_at" gorm:"not null;default:current_timestamp"`
	UpdatedAt time.Time        `json:"updated_at" gorm:"not null;default:current_timestamp"`
}

func (Policy) TableName() string {
	return "policies"
}

func (p *Policy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

func (p *Policy) BeforeUpdate(tx *gorm.DB) error {
	p.UpdatedAt = time.Now()
	return nil
}

// Enforceable reports whether this policy kind carries limits this engine
// acts on.
func (p *Policy) Enforceable() bool {
	return p.Type == PolicyTypeRateLimit || p.Type == PolicyTypeAuth
}

// GrantsModel reports whether the policy's asset set covers modelID.
func (p *Policy) GrantsModel(modelID string) bool {
	return containsModel(p.Models, modelID)
}

// APIKey is a credential bound to exactly one owner.
type APIKey struct {
	ID          string         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string         `json:"name"`
	OwnerType   string         `json:"owner_type" gorm:"not null"`
	OwnerID     string         `json:"owner_id" gorm:"not null;index"`
	Status      string         `json:"status" gorm:"not null;default:'active'"`
	Models      pq.StringArray `json:"models" gorm:"type:text[]"`
	Limits      *KeyLimitsJSON `json:"limits,omitempty" gorm:"type:jsonb"`
	OriginTier  string         `json:"origin_tier,omitempty" gorm:"type:uuid"`
	DateCreated time.Time      `json:"date_created" gorm:"not null;default:current_timestamp"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time     `json:"last_used_at,omitempty"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	if k.DateCreated.IsZero() {
		k.DateCreated = time.Now()
	}
	return nil
}

// Expired reports whether the key's expiration has passed at now. Keys
// without an expiration never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// ConstrainsModels reports whether the key carries an explicit model set. An
// empty set means the key inherits whatever its tier/policies grant.
func (k *APIKey) ConstrainsModels() bool {
	return len(k.Models) > 0
}

// GrantsModel reports whether the key's own model set covers modelID.
func (k *APIKey) GrantsModel(modelID string) bool {
	return containsModel(k.Models, modelID)
}

func containsModel(set []string, modelID string) bool {
	for _, m := range set {
		if m == types.ModelAll || m == modelID {
			return true
		}
	}
	return false
}
