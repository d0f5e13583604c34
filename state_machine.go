package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorTypeSystem marks transitions triggered by the process itself
// (bootstrap provisioning, provider callbacks) rather than an account.
const ActorTypeSystem = "system"

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    AccountStatus
	To      AccountStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes state machine behavior.
type TransitionOption func(*transitionOptions)

// AccountStateMachine defines lifecycle operations for accounts.
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*Account, error)
	CurrentStatus(account *Account) AccountStatus
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// Provide a handler to convert hook errors into domain-specific responses,
// otherwise the default handler panics with guidance for developers.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *accountStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
// On a rejection this becomes the persisted rejection reason.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses the graph and principal validation rules
// (use sparingly). It never bypasses bootstrap administrator protection.
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// WithDecisionTime overrides the timestamp recorded for approval or
// rejection metadata.
func WithDecisionTime(t time.Time) TransitionOption {
	return func(opts *transitionOptions) {
		opts.decisionTime = &t
	}
}

// NewAccountStateMachine returns the default implementation backed by the
// provided repository. The transition graph keeps every state reachable by
// administrator action: a rejection or deactivation is not a dead end.
func NewAccountStateMachine(accounts Accounts, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		accounts: accounts,
		transitions: map[AccountStatus]map[AccountStatus]struct{}{
			StatusPending: {
				StatusApproved: {},
				StatusRejected: {},
			},
			StatusRejected: {
				StatusApproved: {},
			},
			StatusApproved: {
				StatusInactive: {},
			},
			StatusInactive: {
				StatusApproved: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		hookErrorHandler: func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return defaultHookErrorHandler(ctx, phase, err, tc)
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	accounts         Accounts
	transitions      map[AccountStatus]map[AccountStatus]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata     TransitionMetadata
	force        bool
	beforeHooks  []TransitionHook
	afterHooks   []TransitionHook
	decisionTime *time.Time
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*Account, error) {
	if account == nil {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"target": target,
			"reason": "account is nil",
		})
	}

	if account.IsBootstrapAdmin {
		return nil, ErrProtectedAccount.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"target":     target,
		})
	}

	account.EnsureStatus()
	from := account.Status
	if target == "" {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"reason": "target status is empty",
		})
	}

	if from == target {
		return account, nil
	}

	options := sm.buildTransitionOptions(opts...)

	if !options.force {
		if err := sm.authorizeActor(actor, account); err != nil {
			return nil, err
		}

		if !sm.canTransition(from, target) {
			return nil, ErrInvalidTransition.WithMetadata(map[string]any{
				"from": from,
				"to":   target,
			})
		}
	}

	ctxData := TransitionContext{
		Actor:   actor,
		Account: account,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return nil, err
	}

	statusOpts, decision := sm.buildStatusOptions(actor, target, options)

	updated, err := sm.accounts.UpdateStatus(ctx, account.ID, target, statusOpts...)
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(account, updated, target, decision)

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventAccountStatusChanged,
		Actor:      actor,
		AccountID:  account.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(ctxData.Meta),
	})

	return account, nil
}

func (sm *accountStateMachine) CurrentStatus(account *Account) AccountStatus {
	if account == nil {
		return ""
	}
	account.EnsureStatus()
	return account.Status
}

// authorizeActor enforces who may trigger a transition: system actors pass,
// everyone else needs a user-management capability plus rank over the
// target account's role.
func (sm *accountStateMachine) authorizeActor(actor ActorRef, account *Account) error {
	if actor.Type == ActorTypeSystem {
		return nil
	}

	if !actorHasAnyPermission(actor, PermissionApproveUsers, PermissionManageUsers) {
		return ErrUnauthorized.WithMetadata(map[string]any{
			"actor_id":   actor.ID,
			"account_id": account.ID.String(),
			"reason":     "missing user management permission",
		})
	}

	if !CanManage(actor.Role, account.Role) {
		return ErrUnauthorized.WithMetadata(map[string]any{
			"actor_id":     actor.ID,
			"actor_role":   actor.Role,
			"account_role": account.Role,
			"reason":       "acting role does not manage target role",
		})
	}

	return nil
}

func actorHasAnyPermission(actor ActorRef, capabilities ...string) bool {
	for _, capability := range capabilities {
		for _, p := range actor.Permissions {
			if p == capability {
				return true
			}
		}
	}
	return false
}

func (sm *accountStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *accountStateMachine) canTransition(from, to AccountStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

// decisionRecord carries the approval/rejection metadata chosen for a
// transition so it can be mirrored onto the in-memory account.
type decisionRecord struct {
	approvedBy      *uuid.UUID
	approvedAt      *time.Time
	rejectedBy      *uuid.UUID
	rejectedAt      *time.Time
	rejectionReason string
	clearApproval   bool
	clearRejection  bool
}

// buildStatusOptions derives the persisted side effects of a transition.
// Approval and rejection metadata are mutually exclusive: entering one
// terminal decision clears the other.
func (sm *accountStateMachine) buildStatusOptions(actor ActorRef, target AccountStatus, opts *transitionOptions) ([]StatusUpdateOption, decisionRecord) {
	statusOpts := []StatusUpdateOption{}
	decision := decisionRecord{}

	at := sm.now()
	if opts.decisionTime != nil {
		at = *opts.decisionTime
	}

	by := actorUUID(actor)

	switch target {
	case StatusApproved:
		decision.approvedBy = by
		decision.approvedAt = &at
		decision.clearRejection = true
		statusOpts = append(statusOpts, WithApprovalDecision(by, &at))
	case StatusRejected:
		decision.rejectedBy = by
		decision.rejectedAt = &at
		decision.rejectionReason = opts.metadata.Reason
		decision.clearApproval = true
		statusOpts = append(statusOpts, WithRejectionDecision(by, &at, opts.metadata.Reason))
	}

	return statusOpts, decision
}

func actorUUID(actor ActorRef) *uuid.UUID {
	if actor.ID == "" {
		return nil
	}
	id, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil
	}
	return &id
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	panic(fmt.Sprintf(
		"go-accounts: %s transition hook failed: %v\nAccountID: %s from=%s to=%s reason=%s\nProvide accounts.WithStateMachineHookErrorHandler to customize error handling in production.",
		phase,
		err,
		tc.Account.ID,
		tc.From,
		tc.To,
		tc.Meta.Reason,
	))
}

func (sm *accountStateMachine) applyUpdates(account, updated *Account, target AccountStatus, decision decisionRecord) {
	if updated != nil {
		if updated.Status != "" {
			account.Status = updated.Status
		} else {
			account.Status = target
		}
		account.ApprovedBy = updated.ApprovedBy
		account.ApprovedAt = updated.ApprovedAt
		account.RejectedBy = updated.RejectedBy
		account.RejectedAt = updated.RejectedAt
		account.RejectionReason = updated.RejectionReason
		return
	}

	account.Status = target
	if decision.clearRejection {
		account.RejectedBy = nil
		account.RejectedAt = nil
		account.RejectionReason = ""
	}
	if decision.clearApproval {
		account.ApprovedBy = nil
		account.ApprovedAt = nil
	}
	if decision.approvedAt != nil {
		account.ApprovedBy = decision.approvedBy
		account.ApprovedAt = decision.approvedAt
	}
	if decision.rejectedAt != nil {
		account.RejectedBy = decision.rejectedBy
		account.RejectedAt = decision.rejectedAt
		account.RejectionReason = decision.rejectionReason
	}
}

func (sm *accountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor.ID == "" && event.Actor.Type == "" {
		event.Actor = ActorRef{Type: ActorTypeSystem}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *accountStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
