package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle status of an account
type AccountStatus = string

const (
	// StatusPending is the status of a freshly registered account awaiting review
	StatusPending AccountStatus = "pending"
	// StatusApproved is the status of an account an administrator let through
	StatusApproved AccountStatus = "approved"
	// StatusRejected is the status of an account an administrator turned down
	StatusRejected AccountStatus = "rejected"
	// StatusInactive is the status of an account taken out of circulation
	StatusInactive AccountStatus = "inactive"
)

// Account is the persisted identity/profile/status record
type Account struct {
	bun.BaseModel    `bun:"table:accounts,alias:acc"`
	ID               uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ProviderID       string         `bun:"provider_id" json:"provider_id,omitempty"`
	Role             Role           `bun:"role,notnull" json:"role,omitempty"`
	Permissions      []string       `bun:"permissions,type:jsonb" json:"permissions,omitempty"`
	Status           AccountStatus  `bun:"status,notnull" json:"status,omitempty"`
	IsActive         bool           `bun:"is_active" json:"is_active"`
	EmailVerified    bool           `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	IsBootstrapAdmin bool           `bun:"is_bootstrap_admin" json:"is_bootstrap_admin,omitempty"`
	FirstName        string         `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName         string         `bun:"last_name,notnull" json:"last_name,omitempty"`
	DisplayName      string         `bun:"display_name" json:"display_name,omitempty"`
	Email            string         `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone            string         `bun:"phone_number" json:"phone_number,omitempty"`
	ApprovedBy       *uuid.UUID     `bun:"approved_by,nullzero" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time     `bun:"approved_at,nullzero" json:"approved_at,omitempty"`
	RejectedBy       *uuid.UUID     `bun:"rejected_by,nullzero" json:"rejected_by,omitempty"`
	RejectedAt       *time.Time     `bun:"rejected_at,nullzero" json:"rejected_at,omitempty"`
	RejectionReason  string         `bun:"rejection_reason" json:"rejection_reason,omitempty"`
	Metadata         map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt        *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt        *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus defaults an empty status to pending, the lifecycle entry point
func (a *Account) EnsureStatus() {
	if a.Status == "" {
		a.Status = StatusPending
	}
}

// EnsureRole defaults an empty role to student
func (a *Account) EnsureRole() {
	if a.Role == "" {
		a.Role = RoleStudent
	}
}

// EnsurePermissions derives the permission set from the role when none
// was explicitly assigned. It never empties an existing override.
func (a *Account) EnsurePermissions() {
	if len(a.Permissions) == 0 {
		a.EnsureRole()
		a.Permissions = DefaultPermissions(a.Role)
	}
}

// IsPending checks whether the account still awaits an administrator decision
func (a *Account) IsPending() bool {
	a.EnsureStatus()
	return a.Status == StatusPending
}

// IsApproved checks whether the account passed review
func (a *Account) IsApproved() bool {
	return a.Status == StatusApproved
}

// IsRejected checks whether the account was turned down
func (a *Account) IsRejected() bool {
	return a.Status == StatusRejected
}

// IsInactive checks whether the account was taken out of circulation
func (a *Account) IsInactive() bool {
	return a.Status == StatusInactive
}

// FullName joins first and last name, falling back to the display name
func (a *Account) FullName() string {
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	if name == "" {
		name = a.DisplayName
	}
	return name
}

// AddMetadata will append information to a metadata attribute
func (a *Account) AddMetadata(key string, val any) *Account {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = val
	return a
}

// HasRole is a plain field comparison, usable regardless of the
// authorization outcome so callers can explain why access was denied.
func (a *Account) HasRole(role Role) bool {
	return a.Role == role
}

// HasAnyRole checks the account role against a list of candidates
func (a *Account) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if a.Role == role {
			return true
		}
	}
	return false
}

// HasPermissionGrant checks membership in the raw permission set without
// consulting the authorization policy. Use HasPermission for access
// decisions.
func (a *Account) HasPermissionGrant(capability string) bool {
	for _, p := range a.Permissions {
		if p == capability {
			return true
		}
	}
	return false
}
