package accounts_test

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-accounts"
)

func approvedAccount(role accounts.Role) *accounts.Account {
	return &accounts.Account{
		ID:            uuid.New(),
		Role:          role,
		Permissions:   accounts.DefaultPermissions(role),
		Status:        accounts.StatusApproved,
		IsActive:      true,
		EmailVerified: true,
	}
}

func TestAuthorizeAllowsVerifiedApprovedActive(t *testing.T) {
	account := approvedAccount(accounts.RoleStudent)

	decision := accounts.Authorize(account)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.Deny())
	assert.NoError(t, decision.Err())
	assert.ElementsMatch(t, accounts.DefaultPermissions(accounts.RoleStudent), decision.Permissions)
}

func TestAuthorizeDeniesUnverifiedEmailFirst(t *testing.T) {
	// approved but unverified: verification is a hard gate independent of
	// the approval decision
	account := approvedAccount(accounts.RoleStudent)
	account.EmailVerified = false

	decision := accounts.Authorize(account)
	assert.True(t, decision.Deny())
	assert.Equal(t, accounts.DenyEmailUnverified, decision.Reason)
	assert.Empty(t, decision.Permissions)
}

func TestAuthorizeDeniesPending(t *testing.T) {
	account := approvedAccount(accounts.RoleStudent)
	account.Status = accounts.StatusPending

	decision := accounts.Authorize(account)
	assert.True(t, decision.Deny())
	assert.Equal(t, accounts.DenyPendingApproval, decision.Reason)
}

func TestAuthorizeDeniesRejectedWithReason(t *testing.T) {
	account := approvedAccount(accounts.RoleStudent)
	account.Status = accounts.StatusRejected
	account.RejectionReason = "incomplete application"

	decision := accounts.Authorize(account)
	assert.True(t, decision.Deny())
	assert.Equal(t, accounts.DenyRejected, decision.Reason)
	assert.Equal(t, "incomplete application", decision.RejectionReason)
}

func TestAuthorizeDeniesInactiveStatus(t *testing.T) {
	account := approvedAccount(accounts.RoleStudent)
	account.Status = accounts.StatusInactive

	decision := accounts.Authorize(account)
	assert.True(t, decision.Deny())
	assert.Equal(t, accounts.DenyInactive, decision.Reason)
}

func TestAuthorizeDeniesSoftDisabledApproved(t *testing.T) {
	// approved status but administratively disabled
	account := approvedAccount(accounts.RoleInstructor)
	account.IsActive = false

	decision := accounts.Authorize(account)
	assert.True(t, decision.Deny())
	assert.Equal(t, accounts.DenyInactive, decision.Reason)
}

func TestAuthorizeEmptyStatusTreatedAsPending(t *testing.T) {
	account := &accounts.Account{
		ID:            uuid.New(),
		EmailVerified: true,
	}

	decision := accounts.Authorize(account)
	assert.True(t, decision.Deny())
	assert.Equal(t, accounts.DenyPendingApproval, decision.Reason)
}

func TestAuthorizeNilAccountDenied(t *testing.T) {
	decision := accounts.Authorize(nil)
	assert.True(t, decision.Deny())
}

func TestDecisionErrCarriesReasonMetadata(t *testing.T) {
	account := approvedAccount(accounts.RoleStudent)
	account.Status = accounts.StatusRejected
	account.RejectionReason = "duplicate"

	err := accounts.Authorize(account).Err()
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CategoryAuth, rich.Category)
	assert.Equal(t, string(accounts.DenyRejected), rich.Metadata["reason"])
	assert.Equal(t, "duplicate", rich.Metadata["rejection_reason"])
}

func TestDecisionPermissionsAreACopy(t *testing.T) {
	account := approvedAccount(accounts.RoleStudent)

	decision := accounts.Authorize(account)
	decision.Permissions[0] = "tampered"

	assert.NotContains(t, account.Permissions, "tampered")
}

func TestHasPermission(t *testing.T) {
	admin := approvedAccount(accounts.RoleAdmin)
	assert.True(t, accounts.HasPermission(admin, accounts.PermissionManageUsers))
	assert.False(t, accounts.HasPermission(admin, "time_travel"))

	// the grant exists but the account is denied, so the permission check fails
	pending := approvedAccount(accounts.RoleAdmin)
	pending.Status = accounts.StatusPending
	assert.False(t, accounts.HasPermission(pending, accounts.PermissionManageUsers))
}

func TestActorFromAccount(t *testing.T) {
	account := approvedAccount(accounts.RoleManager)

	actor := accounts.ActorFromAccount(account)
	assert.Equal(t, account.ID.String(), actor.ID)
	assert.Equal(t, "account", actor.Type)
	assert.Equal(t, accounts.RoleManager, actor.Role)
	assert.ElementsMatch(t, account.Permissions, actor.Permissions)

	unknown := accounts.ActorFromAccount(nil)
	assert.Equal(t, "unknown", unknown.Type)
}
