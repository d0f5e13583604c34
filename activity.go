package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountRegistered    ActivityEventType = "account.registered"
	ActivityEventAccountStatusChanged ActivityEventType = "account.status.changed"
	ActivityEventAccountRoleChanged   ActivityEventType = "account.role.changed"
	ActivityEventAccountActiveChanged ActivityEventType = "account.active.changed"
	ActivityEventAccountDeleted       ActivityEventType = "account.deleted"
	ActivityEventEmailVerified        ActivityEventType = "account.email.verified"
	ActivityEventBootstrapEnsured     ActivityEventType = "account.bootstrap.ensured"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID          string
	Type        string
	Role        Role
	Permissions []string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromStatus AccountStatus
	ToStatus   AccountStatus
	FromRole   Role
	ToRole     Role
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
