package accounts

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AccountService exposes the approval workflow: registration, the
// administrator decisions, role and active-flag management, deletion, and
// the access decision itself. Every mutation is a short read-modify-write
// against the store; per-record consistency is delegated to the store's
// per-row atomicity and conflicting concurrent decisions resolve
// last-write-wins there.
type AccountService struct {
	repo          RepositoryManager
	provider      IdentityProvider
	machine       AccountStateMachine
	machineCustom bool
	mailer        Mailer
	tokens        TokenService
	logger        Logger
	activitySink  ActivitySink
	now           func() time.Time
}

// NewAccountService returns a service wired against the given repositories
// and identity provider.
func NewAccountService(repo RepositoryManager, provider IdentityProvider) *AccountService {
	s := &AccountService{
		repo:         repo,
		provider:     provider,
		mailer:       noopMailer{},
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	s.machine = NewAccountStateMachine(repo.Accounts())
	return s
}

func (s *AccountService) WithLogger(logger Logger) *AccountService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithMailer configures the transactional mailer used for decision
// notifications. Sends are best-effort.
func (s *AccountService) WithMailer(mailer Mailer) *AccountService {
	s.mailer = normalizeMailer(mailer)
	return s
}

// WithActivitySink configures an ActivitySink for emitting account events.
// The default lifecycle machine is rebuilt so its transition events reach
// the same sink.
func (s *AccountService) WithActivitySink(sink ActivitySink) *AccountService {
	s.activitySink = normalizeActivitySink(sink)
	if !s.machineCustom {
		s.machine = NewAccountStateMachine(s.repo.Accounts(),
			WithStateMachineActivitySink(s.activitySink),
			WithStateMachineLogger(s.logger),
		)
	}
	return s
}

// WithStateMachine overrides the lifecycle machine (useful for tests).
func (s *AccountService) WithStateMachine(machine AccountStateMachine) *AccountService {
	if machine != nil {
		s.machine = machine
		s.machineCustom = true
	}
	return s
}

// WithTokenService enables Login to mint session tokens.
func (s *AccountService) WithTokenService(tokens TokenService) *AccountService {
	s.tokens = tokens
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *AccountService) WithClock(clock func() time.Time) *AccountService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Register runs the self-service registration command and returns the
// pending account.
func (s *AccountService) Register(ctx context.Context, msg RegisterAccountMessage) (*Account, error) {
	var created *Account
	prior := msg.OnAccount
	msg.OnAccount = func(a *Account) {
		created = a
		if prior != nil {
			prior(a)
		}
	}

	handler := &RegisterAccountHandler{
		Repo:     s.repo,
		Provider: s.provider,
		Logger:   s.logger,
	}

	if err := handler.Execute(ctx, msg); err != nil {
		return nil, err
	}

	s.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     ActorRef{ID: created.ID.String(), Type: "account", Role: created.Role},
		AccountID: created.ID.String(),
		ToStatus:  created.Status,
	})

	return created, nil
}

// Approve moves a pending or rejected account into approved. The acting
// account must itself be authorized, hold a user-management capability,
// and out-rank the target.
func (s *AccountService) Approve(ctx context.Context, accountID, actingID uuid.UUID) (*Account, error) {
	acting, actor, err := s.loadActor(ctx, actingID)
	if err != nil {
		return nil, err
	}

	target, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	updated, err := s.machine.Transition(ctx, actor, target, StatusApproved)
	if err != nil {
		return nil, err
	}

	s.notifyDecision(ctx, updated, acting, true, "")

	return updated, nil
}

// Reject moves a pending account into rejected, recording the reason.
func (s *AccountService) Reject(ctx context.Context, accountID, actingID uuid.UUID, reason string) (*Account, error) {
	acting, actor, err := s.loadActor(ctx, actingID)
	if err != nil {
		return nil, err
	}

	target, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	updated, err := s.machine.Transition(ctx, actor, target, StatusRejected, WithTransitionReason(reason))
	if err != nil {
		return nil, err
	}

	s.notifyDecision(ctx, updated, acting, false, reason)

	return updated, nil
}

// ChangeRole assigns a new role and recomputes the permission set from
// the catalog unless an explicit override is provided. The acting role
// must manage both the target's current role and the new role.
func (s *AccountService) ChangeRole(ctx context.Context, accountID, actingID uuid.UUID, newRole Role, permissionOverride []string) (*Account, error) {
	if !IsValidRole(newRole) {
		return nil, ErrInvalidRole.WithMetadata(map[string]any{"role": newRole})
	}

	acting, _, err := s.loadActor(ctx, actingID)
	if err != nil {
		return nil, err
	}

	target, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if target.IsBootstrapAdmin {
		return nil, ErrProtectedAccount.WithMetadata(map[string]any{"account_id": target.ID.String()})
	}

	if !HasPermission(acting, PermissionManageUsers) {
		return nil, ErrUnauthorized.WithMetadata(map[string]any{
			"actor_id": acting.ID.String(),
			"reason":   "missing user management permission",
		})
	}

	if !CanManage(acting.Role, target.Role) || !CanManage(acting.Role, newRole) {
		return nil, ErrUnauthorized.WithMetadata(map[string]any{
			"actor_role":   acting.Role,
			"account_role": target.Role,
			"new_role":     newRole,
		})
	}

	permissions := permissionOverride
	if len(permissions) == 0 {
		permissions = DefaultPermissions(newRole)
	}

	fromRole := target.Role
	updated, err := s.repo.Accounts().UpdateRole(ctx, target.ID, newRole, permissions)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrAccountNotFound.WithMetadata(map[string]any{"id": accountID.String()})
		}
		return nil, WrapAdapterFailure(err, "failed to update account role")
	}

	s.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventAccountRoleChanged,
		Actor:     ActorFromAccount(acting),
		AccountID: updated.ID.String(),
		FromRole:  fromRole,
		ToRole:    newRole,
	})

	return updated, nil
}

// SetActive toggles the administrative soft-disable flag on an approved
// account. Status is left untouched; a deactivated approved account is
// denied access identically to a rejected one.
func (s *AccountService) SetActive(ctx context.Context, accountID, actingID uuid.UUID, active bool) (*Account, error) {
	acting, _, err := s.loadActor(ctx, actingID)
	if err != nil {
		return nil, err
	}

	target, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if target.IsBootstrapAdmin {
		return nil, ErrProtectedAccount.WithMetadata(map[string]any{"account_id": target.ID.String()})
	}

	if !HasPermission(acting, PermissionManageUsers) || !CanManage(acting.Role, target.Role) {
		return nil, ErrUnauthorized.WithMetadata(map[string]any{
			"actor_id":   acting.ID.String(),
			"account_id": target.ID.String(),
		})
	}

	if !target.IsApproved() {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"status": target.Status,
			"reason": "active flag applies to approved accounts",
		})
	}

	updated, err := s.repo.Accounts().SetActiveFlag(ctx, target.ID, active)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrAccountNotFound.WithMetadata(map[string]any{"id": accountID.String()})
		}
		return nil, WrapAdapterFailure(err, "failed to update active flag")
	}

	s.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventAccountActiveChanged,
		Actor:     ActorFromAccount(acting),
		AccountID: updated.ID.String(),
		Metadata:  map[string]any{"active": active},
	})

	return updated, nil
}

// Delete removes the account record permanently and tears down the
// provider identity. The bootstrap administrator is exempt.
func (s *AccountService) Delete(ctx context.Context, accountID, actingID uuid.UUID) error {
	acting, _, err := s.loadActor(ctx, actingID)
	if err != nil {
		return err
	}

	target, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if target.IsBootstrapAdmin {
		return ErrProtectedAccount.WithMetadata(map[string]any{"account_id": target.ID.String()})
	}

	if !HasPermission(acting, PermissionManageUsers) || !CanManage(acting.Role, target.Role) {
		return ErrUnauthorized.WithMetadata(map[string]any{
			"actor_id":   acting.ID.String(),
			"account_id": target.ID.String(),
		})
	}

	if err := s.repo.Accounts().DeletePermanently(ctx, target.ID); err != nil {
		if IsNotFound(err) {
			return ErrAccountNotFound.WithMetadata(map[string]any{"id": accountID.String()})
		}
		return WrapAdapterFailure(err, "failed to delete account record")
	}

	if target.ProviderID != "" {
		if err := s.provider.DeleteIdentity(ctx, target.ProviderID); err != nil {
			s.logger.Warn("provider identity cleanup failed for deleted account %s: %v", target.ID, err)
		}
	}

	s.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     ActorFromAccount(acting),
		AccountID: target.ID.String(),
	})

	return nil
}

// Authorize loads the account and evaluates the access policy against its
// current snapshot.
func (s *AccountService) Authorize(ctx context.Context, accountID uuid.UUID) (Decision, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}
	return Authorize(account), nil
}

// VerifyEmail applies a server-minted verification code and flips the
// account's verified flag. This is the only path that sets it.
func (s *AccountService) VerifyEmail(ctx context.Context, code string) (*Account, error) {
	providerID, err := s.provider.ApplyVerificationCode(ctx, code)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, WrapAdapterFailure(err, "verification code could not be applied")
	}

	account, err := s.repo.Accounts().MarkEmailVerified(ctx, providerID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrAccountNotFound.WithMetadata(map[string]any{"provider_id": providerID})
		}
		return nil, WrapAdapterFailure(err, "failed to record email verification")
	}

	s.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     ActorRef{Type: ActorTypeSystem},
		AccountID: account.ID.String(),
	})

	return account, nil
}

// UpdateProfile edits the free-text profile fields. Allowed for the
// account owner or an administrator with rank over the target.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID, actingID uuid.UUID, firstName, lastName, displayName string) (*Account, error) {
	target, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if actingID != accountID {
		acting, _, err := s.loadActor(ctx, actingID)
		if err != nil {
			return nil, err
		}
		if !HasPermission(acting, PermissionManageUsers) || !CanManage(acting.Role, target.Role) {
			return nil, ErrUnauthorized.WithMetadata(map[string]any{
				"actor_id":   acting.ID.String(),
				"account_id": target.ID.String(),
			})
		}
	}

	updated, err := s.repo.Accounts().UpdateProfile(ctx, target.ID, firstName, lastName, displayName)
	if err != nil {
		return nil, WrapAdapterFailure(err, "failed to update profile")
	}

	return updated, nil
}

// Login authenticates against the identity provider, runs the access
// policy, and mints a session token. Requires WithTokenService.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, *Account, error) {
	if s.tokens == nil {
		return "", nil, goerrors.New("token service not configured", goerrors.CategoryInternal)
	}

	providerID, err := s.provider.Authenticate(ctx, email, password)
	if err != nil {
		s.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			Metadata:  map[string]any{"email": email, "error": err.Error()},
		})
		return "", nil, err
	}

	account, err := s.repo.Accounts().GetByProviderID(ctx, providerID)
	if err != nil {
		if IsNotFound(err) {
			return "", nil, ErrAccountNotFound.WithMetadata(map[string]any{"provider_id": providerID})
		}
		return "", nil, WrapAdapterFailure(err, "failed to load account for login")
	}

	decision := Authorize(account)
	if decision.Deny() {
		s.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorFromAccount(account),
			AccountID: account.ID.String(),
			Metadata:  map[string]any{"reason": string(decision.Reason)},
		})
		return "", account, decision.Err()
	}

	token, err := s.tokens.Mint(account)
	if err != nil {
		return "", nil, err
	}

	s.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorFromAccount(account),
		AccountID: account.ID.String(),
	})

	return token, account, nil
}

// PendingAccounts lists accounts awaiting review, oldest first. Listings
// expose emails and names, so the acting account must hold a
// user-management capability like the decision paths do.
func (s *AccountService) PendingAccounts(ctx context.Context, actingID uuid.UUID) ([]*Account, error) {
	if _, err := s.loadReviewer(ctx, actingID); err != nil {
		return nil, err
	}
	return s.repo.Accounts().ListByStatus(ctx, StatusPending)
}

// AccountsByRole lists accounts holding a role. Same capability gate as
// PendingAccounts.
func (s *AccountService) AccountsByRole(ctx context.Context, actingID uuid.UUID, role Role) ([]*Account, error) {
	if !IsValidRole(role) {
		return nil, ErrInvalidRole.WithMetadata(map[string]any{"role": role})
	}
	if _, err := s.loadReviewer(ctx, actingID); err != nil {
		return nil, err
	}
	return s.repo.Accounts().ListByRole(ctx, role)
}

// loadActor loads the acting account and requires that it is itself
// authorized: a pending, rejected, deactivated, or unverified principal
// cannot trigger transitions regardless of its role.
func (s *AccountService) loadActor(ctx context.Context, actingID uuid.UUID) (*Account, ActorRef, error) {
	acting, err := s.repo.Accounts().GetByIdentifier(ctx, actingID.String())
	if err != nil {
		if IsNotFound(err) {
			return nil, ActorRef{}, ErrUnauthorized.WithMetadata(map[string]any{
				"actor_id": actingID.String(),
				"reason":   "acting account not found",
			})
		}
		return nil, ActorRef{}, WrapAdapterFailure(err, "failed to load acting account")
	}

	if decision := Authorize(acting); decision.Deny() {
		return nil, ActorRef{}, ErrUnauthorized.WithMetadata(map[string]any{
			"actor_id": actingID.String(),
			"reason":   fmt.Sprintf("acting account denied: %s", decision.Reason),
		})
	}

	return acting, ActorFromAccount(acting), nil
}

// loadReviewer loads the acting account and requires a user-management
// capability on top of the base authorization check.
func (s *AccountService) loadReviewer(ctx context.Context, actingID uuid.UUID) (*Account, error) {
	acting, _, err := s.loadActor(ctx, actingID)
	if err != nil {
		return nil, err
	}

	if !HasPermission(acting, PermissionApproveUsers) && !HasPermission(acting, PermissionManageUsers) {
		return nil, ErrUnauthorized.WithMetadata(map[string]any{
			"actor_id": acting.ID.String(),
			"reason":   "missing user management permission",
		})
	}

	return acting, nil
}

func (s *AccountService) loadAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	account, err := s.repo.Accounts().GetByIdentifier(ctx, accountID.String())
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrAccountNotFound.WithMetadata(map[string]any{"id": accountID.String()})
		}
		return nil, WrapAdapterFailure(err, "failed to load account")
	}
	return account, nil
}

func (s *AccountService) notifyDecision(ctx context.Context, account, acting *Account, approved bool, reason string) {
	subject := "Your account has been approved"
	text := fmt.Sprintf("Hi %s, your account was approved by %s. You can now sign in.", account.FullName(), acting.FullName())
	if !approved {
		subject = "Your account registration was not approved"
		text = fmt.Sprintf("Hi %s, your account registration was not approved.", account.FullName())
		if reason != "" {
			text += " Reason: " + reason
		}
	}

	html := "<p>" + text + "</p>"

	if err := s.mailer.Send(ctx, account.Email, subject, html, text); err != nil {
		s.logger.Warn("decision notification email failed for %s: %v", account.Email, err)
	}
}

func (s *AccountService) emitEvent(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	sink := normalizeActivitySink(s.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
