package accounts

// DenyReason explains why the authorizer refused access.
type DenyReason string

const (
	DenyEmailUnverified DenyReason = "email_unverified"
	DenyPendingApproval DenyReason = "pending_approval"
	DenyRejected        DenyReason = "rejected"
	DenyInactive        DenyReason = "inactive"
)

// Decision is the outcome of evaluating an account snapshot against the
// access policy. An allowed decision carries the account's effective
// permission set.
type Decision struct {
	Allowed         bool
	Reason          DenyReason
	RejectionReason string
	Permissions     []string
}

// Deny reports whether the decision refused access.
func (d Decision) Deny() bool {
	return !d.Allowed
}

// Err maps a deny decision onto the structured error taxonomy so callers
// in login or command flows can propagate it directly. Allowed decisions
// return nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}

	meta := map[string]any{"reason": string(d.Reason)}
	if d.RejectionReason != "" {
		meta["rejection_reason"] = d.RejectionReason
	}
	return ErrAccessDenied.WithMetadata(meta)
}

// Authorize computes whether the account may access protected resources.
// The policy is evaluated in order, first match wins. Email verification
// is deliberately checked before approval status: an unverified account
// that somehow got approved still cannot proceed, verification is a hard
// gate independent of approval.
func Authorize(account *Account) Decision {
	if account == nil {
		return Decision{Reason: DenyPendingApproval}
	}

	account.EnsureStatus()

	if !account.EmailVerified {
		return Decision{Reason: DenyEmailUnverified}
	}

	switch account.Status {
	case StatusPending:
		return Decision{Reason: DenyPendingApproval}
	case StatusRejected:
		return Decision{
			Reason:          DenyRejected,
			RejectionReason: account.RejectionReason,
		}
	case StatusInactive:
		return Decision{Reason: DenyInactive}
	}

	// an approved account that was soft-disabled is denied identically
	// to an inactive one
	if !account.IsActive {
		return Decision{Reason: DenyInactive}
	}

	permissions := make([]string, len(account.Permissions))
	copy(permissions, account.Permissions)

	return Decision{
		Allowed:     true,
		Permissions: permissions,
	}
}

// HasPermission reports whether the account is both authorized and holds
// the capability in its effective permission set.
func HasPermission(account *Account, capability string) bool {
	decision := Authorize(account)
	if decision.Deny() {
		return false
	}

	for _, p := range decision.Permissions {
		if p == capability {
			return true
		}
	}
	return false
}

// ActorFromAccount builds the ActorRef used when an account triggers a
// lifecycle transition.
func ActorFromAccount(account *Account) ActorRef {
	if account == nil {
		return ActorRef{Type: "unknown"}
	}

	permissions := make([]string, len(account.Permissions))
	copy(permissions, account.Permissions)

	return ActorRef{
		ID:          account.ID.String(),
		Type:        "account",
		Role:        account.Role,
		Permissions: permissions,
	}
}
