package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-accounts"
)

func adminActor() accounts.ActorRef {
	return accounts.ActorRef{
		ID:          uuid.NewString(),
		Type:        "account",
		Role:        accounts.RoleAdmin,
		Permissions: accounts.DefaultPermissions(accounts.RoleAdmin),
	}
}

func systemActor() accounts.ActorRef {
	return accounts.ActorRef{Type: accounts.ActorTypeSystem}
}

func applyStatusOptions(opts []accounts.StatusUpdateOption) *accounts.Account {
	record := &accounts.Account{}
	for _, opt := range opts {
		opt(record)
	}
	return record
}

func TestStateMachineApprovalStampsDecisionMetadata(t *testing.T) {
	repo := &MockAccounts{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actor := adminActor()
	actorID := uuid.MustParse(actor.ID)

	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusPending,
	}

	expected := &accounts.Account{
		ID:         account.ID,
		Status:     accounts.StatusApproved,
		ApprovedBy: &actorID,
		ApprovedAt: &now,
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusApproved,
		mock.MatchedBy(func(opts []accounts.StatusUpdateOption) bool {
			applied := applyStatusOptions(opts)
			return applied.ApprovedBy != nil &&
				*applied.ApprovedBy == actorID &&
				applied.ApprovedAt != nil &&
				applied.ApprovedAt.Equal(now)
		})).Return(expected, nil).Once()

	sm := accounts.NewAccountStateMachine(repo,
		accounts.WithStateMachineClock(func() time.Time { return now }))

	result, err := sm.Transition(context.Background(), actor, account, accounts.StatusApproved)
	require.NoError(t, err)
	assert.True(t, result.IsApproved())
	require.NotNil(t, result.ApprovedBy)
	assert.Equal(t, actorID, *result.ApprovedBy)
	require.NotNil(t, result.ApprovedAt)
	assert.Equal(t, now, result.ApprovedAt.UTC())
	repo.AssertExpectations(t)
}

func TestStateMachineRejectionRecordsReason(t *testing.T) {
	repo := &MockAccounts{}
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	actor := adminActor()
	actorID := uuid.MustParse(actor.ID)

	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleInstructor,
		Status: accounts.StatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusRejected,
		mock.MatchedBy(func(opts []accounts.StatusUpdateOption) bool {
			applied := applyStatusOptions(opts)
			return applied.RejectedBy != nil &&
				*applied.RejectedBy == actorID &&
				applied.RejectionReason == "missing credentials"
		})).Return(&accounts.Account{
		ID:              account.ID,
		Status:          accounts.StatusRejected,
		RejectedBy:      &actorID,
		RejectedAt:      &now,
		RejectionReason: "missing credentials",
	}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo,
		accounts.WithStateMachineClock(func() time.Time { return now }))

	result, err := sm.Transition(context.Background(), actor, account,
		accounts.StatusRejected,
		accounts.WithTransitionReason("missing credentials"),
	)
	require.NoError(t, err)
	assert.True(t, result.IsRejected())
	assert.Equal(t, "missing credentials", result.RejectionReason)
	repo.AssertExpectations(t)
}

func TestStateMachineApprovingRejectedClearsRejectionMetadata(t *testing.T) {
	repo := &MockAccounts{}
	actor := adminActor()
	rejectedBy := uuid.New()
	rejectedAt := time.Now().Add(-time.Hour)

	account := &accounts.Account{
		ID:              uuid.New(),
		Role:            accounts.RoleStudent,
		Status:          accounts.StatusRejected,
		RejectedBy:      &rejectedBy,
		RejectedAt:      &rejectedAt,
		RejectionReason: "first pass",
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusApproved,
		mock.MatchedBy(func(opts []accounts.StatusUpdateOption) bool {
			applied := &accounts.Account{
				RejectedBy:      &rejectedBy,
				RejectedAt:      &rejectedAt,
				RejectionReason: "first pass",
			}
			for _, opt := range opts {
				opt(applied)
			}
			return applied.RejectedBy == nil &&
				applied.RejectedAt == nil &&
				applied.RejectionReason == ""
		})).Return(&accounts.Account{
		ID:     account.ID,
		Status: accounts.StatusApproved,
	}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(context.Background(), actor, account, accounts.StatusApproved)
	require.NoError(t, err)
	assert.True(t, result.IsApproved())
	assert.Nil(t, result.RejectedBy)
	assert.Empty(t, result.RejectionReason)
	repo.AssertExpectations(t)
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	repo := &MockAccounts{}
	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusPending,
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), adminActor(), account, accounts.StatusInactive)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrInvalidTransition)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineSameStateIsNoOp(t *testing.T) {
	repo := &MockAccounts{}
	account := &accounts.Account{
		ID:     uuid.New(),
		Status: accounts.StatusPending,
	}

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(context.Background(), adminActor(), account, accounts.StatusPending)
	require.NoError(t, err)
	assert.Same(t, account, result)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineRejectsActorWithoutCapability(t *testing.T) {
	repo := &MockAccounts{}
	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusPending,
	}

	student := accounts.ActorRef{
		ID:          uuid.NewString(),
		Type:        "account",
		Role:        accounts.RoleStudent,
		Permissions: accounts.DefaultPermissions(accounts.RoleStudent),
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), student, account, accounts.StatusApproved)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrUnauthorized)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineRejectsActorOutsideManageScope(t *testing.T) {
	repo := &MockAccounts{}

	// instructors hold no approval capability over coordinators even if
	// someone hands them the permission grant
	instructor := accounts.ActorRef{
		ID:          uuid.NewString(),
		Type:        "account",
		Role:        accounts.RoleInstructor,
		Permissions: []string{accounts.PermissionApproveUsers},
	}

	coordinator := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleCoordinator,
		Status: accounts.StatusPending,
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), instructor, coordinator, accounts.StatusApproved)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrUnauthorized)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineSystemActorBypassesPrincipalChecks(t *testing.T) {
	repo := &MockAccounts{}
	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleAdmin,
		Status: accounts.StatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusApproved, mock.Anything).
		Return(&accounts.Account{ID: account.ID, Status: accounts.StatusApproved}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(context.Background(), systemActor(), account, accounts.StatusApproved)
	require.NoError(t, err)
	assert.True(t, result.IsApproved())
	repo.AssertExpectations(t)
}

func TestStateMachineForceTransitionBypassesGraph(t *testing.T) {
	repo := &MockAccounts{}
	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusInactive, mock.Anything).
		Return(&accounts.Account{ID: account.ID, Status: accounts.StatusInactive}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(
		context.Background(),
		accounts.ActorRef{},
		account,
		accounts.StatusInactive,
		accounts.WithForceTransition(),
	)
	require.NoError(t, err)
	assert.True(t, result.IsInactive())
	repo.AssertExpectations(t)
}

func TestStateMachineProtectsBootstrapAdminEvenWithForce(t *testing.T) {
	repo := &MockAccounts{}
	account := &accounts.Account{
		ID:               uuid.New(),
		Role:             accounts.RoleAdmin,
		Status:           accounts.StatusApproved,
		IsBootstrapAdmin: true,
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), adminActor(), account, accounts.StatusInactive)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrProtectedAccount)

	_, err = sm.Transition(
		context.Background(),
		systemActor(),
		account,
		accounts.StatusInactive,
		accounts.WithForceTransition(),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrProtectedAccount)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineRunsHooksWithMetadata(t *testing.T) {
	repo := &MockAccounts{}
	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusRejected, mock.Anything).
		Return(&accounts.Account{ID: account.ID, Status: accounts.StatusRejected}, nil).Once()

	var beforeCalled, afterCalled bool
	var reasonSeen string
	var metadataSeen map[string]any

	before := func(ctx context.Context, tc accounts.TransitionContext) error {
		beforeCalled = true
		reasonSeen = tc.Meta.Reason
		metadataSeen = tc.Meta.Metadata
		return nil
	}
	after := func(ctx context.Context, tc accounts.TransitionContext) error {
		afterCalled = true
		return nil
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(
		context.Background(),
		adminActor(),
		account,
		accounts.StatusRejected,
		accounts.WithTransitionReason("policy"),
		accounts.WithTransitionMetadata(map[string]any{"ticket": "123"}),
		accounts.WithBeforeTransitionHook(before),
		accounts.WithAfterTransitionHook(after),
	)
	require.NoError(t, err)
	assert.True(t, beforeCalled)
	assert.True(t, afterCalled)
	assert.Equal(t, "policy", reasonSeen)
	require.NotNil(t, metadataSeen)
	assert.Equal(t, "123", metadataSeen["ticket"])
	repo.AssertExpectations(t)
}

func TestStateMachineEmitsActivityEvent(t *testing.T) {
	repo := &MockAccounts{}
	sink := &MockActivitySink{}
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	actor := adminActor()

	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusApproved, mock.Anything).
		Return(&accounts.Account{ID: account.ID, Status: accounts.StatusApproved}, nil).Once()

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt accounts.ActivityEvent) bool {
		return evt.EventType == accounts.ActivityEventAccountStatusChanged &&
			evt.AccountID == account.ID.String() &&
			evt.FromStatus == accounts.StatusPending &&
			evt.ToStatus == accounts.StatusApproved
	})).Return(nil).Once()

	sm := accounts.NewAccountStateMachine(
		repo,
		accounts.WithStateMachineClock(func() time.Time { return now }),
		accounts.WithStateMachineActivitySink(sink),
	)

	_, err := sm.Transition(context.Background(), actor, account, accounts.StatusApproved)
	require.NoError(t, err)

	repo.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestStateMachineDecisionTimeOverride(t *testing.T) {
	repo := &MockAccounts{}
	actor := adminActor()
	decidedAt := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	account := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, account.ID, accounts.StatusApproved,
		mock.MatchedBy(func(opts []accounts.StatusUpdateOption) bool {
			applied := applyStatusOptions(opts)
			return applied.ApprovedAt != nil && applied.ApprovedAt.Equal(decidedAt)
		})).Return(&accounts.Account{
		ID:         account.ID,
		Status:     accounts.StatusApproved,
		ApprovedAt: &decidedAt,
	}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(
		context.Background(),
		actor,
		account,
		accounts.StatusApproved,
		accounts.WithDecisionTime(decidedAt),
	)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestStateMachineCurrentStatus(t *testing.T) {
	sm := accounts.NewAccountStateMachine(&MockAccounts{})

	assert.Equal(t, "", sm.CurrentStatus(nil))
	assert.Equal(t, accounts.StatusPending, sm.CurrentStatus(&accounts.Account{}))
	assert.Equal(t, accounts.StatusApproved, sm.CurrentStatus(&accounts.Account{Status: accounts.StatusApproved}))
}

func TestStateMachineReinstateFlows(t *testing.T) {
	repo := &MockAccounts{}
	actor := adminActor()

	// inactive accounts come back through approval
	inactive := &accounts.Account{
		ID:     uuid.New(),
		Role:   accounts.RoleStudent,
		Status: accounts.StatusInactive,
	}

	repo.On("UpdateStatus", mock.Anything, inactive.ID, accounts.StatusApproved, mock.Anything).
		Return(&accounts.Account{ID: inactive.ID, Status: accounts.StatusApproved}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(context.Background(), actor, inactive, accounts.StatusApproved)
	require.NoError(t, err)
	assert.True(t, result.IsApproved())
	repo.AssertExpectations(t)
}
