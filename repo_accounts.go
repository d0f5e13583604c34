package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the persistence boundary for account records. The core is
// written against this interface only; the bun implementation below is the
// default store selected at process start.
type Accounts interface {
	repository.Repository[*Account]

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	GetOrCreate(ctx context.Context, record *Account) (*Account, error)
	GetOrCreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)
	Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error)

	GetByProviderID(ctx context.Context, providerID string) (*Account, error)
	ListByStatus(ctx context.Context, status AccountStatus) ([]*Account, error)
	ListByRole(ctx context.Context, role Role) ([]*Account, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role, permissions []string) (*Account, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName, displayName string) (*Account, error)
	SetActiveFlag(ctx context.Context, id uuid.UUID, active bool) (*Account, error)
	SetProviderID(ctx context.Context, id uuid.UUID, providerID string) (*Account, error)
	MarkEmailVerified(ctx context.Context, providerID string) (*Account, error)
	EnsureBootstrapFlags(ctx context.Context, id uuid.UUID) (*Account, error)
	DeletePermanently(ctx context.Context, id uuid.UUID) error

	Approve(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
	Reject(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
	Deactivate(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
	Reinstate(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
}

type accountsRepo struct {
	repository.Repository[*Account]
	db                  *bun.DB
	stateMachine        AccountStateMachine
	stateMachineOptions []StateMachineOption
}

var (
	_ Accounts                        = (*accountsRepo)(nil)
	_ repository.Repository[*Account] = (*accountsRepo)(nil)
)

type AccountsOption func(*accountsRepo)

func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoAccounts := &accountsRepo{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoAccounts)
		}
	}

	return repoAccounts
}

func WithAccountsStateMachineOptions(options ...StateMachineOption) AccountsOption {
	return func(a *accountsRepo) {
		if len(options) == 0 {
			return
		}
		a.stateMachineOptions = append(a.stateMachineOptions, options...)
		a.stateMachine = nil
	}
}

func WithAccountsStateMachine(sm AccountStateMachine) AccountsOption {
	return func(a *accountsRepo) {
		a.stateMachine = sm
	}
}

func (a *accountsRepo) Register(ctx context.Context, account *Account) (*Account, error) {
	return a.RegisterTx(ctx, a.db, account)
}

func (a *accountsRepo) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	return a.CreateTx(ctx, tx, account)
}

func (a *accountsRepo) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accountsRepo) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	options := resolveAccountIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &Account{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *accountsRepo) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accountsRepo) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	prepareAccountDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *accountsRepo) GetOrCreate(ctx context.Context, record *Account) (*Account, error) {
	return a.GetOrCreateTx(ctx, a.db, record)
}

func (a *accountsRepo) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	identifier := record.Email
	if record.ID != uuid.Nil {
		identifier = record.ID.String()
	}

	account, err := a.GetByIdentifierTx(ctx, tx, identifier)
	if err == nil {
		return account, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.CreateTx(ctx, tx, record)
}

func (a *accountsRepo) GetByProviderID(ctx context.Context, providerID string) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider_id": providerID,
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *accountsRepo) ListByStatus(ctx context.Context, status AccountStatus) ([]*Account, error) {
	var records []*Account
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", status).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (a *accountsRepo) ListByRole(ctx context.Context, role Role) ([]*Account, error) {
	var records []*Account
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.role = ?", role).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (a *accountsRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status, opts...)
}

// UpdateStatusTx writes the status plus decision metadata columns in one
// statement. Columns are listed explicitly because approval and rejection
// metadata must be clearable (written back to NULL), which a zero-value
// skipping update would silently drop.
func (a *accountsRepo) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	record := &Account{
		ID:     id,
		Status: status,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}

	now := time.Now()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		Column(
			"status",
			"approved_by",
			"approved_at",
			"rejected_by",
			"rejected_at",
			"rejection_reason",
			"updated_at",
		).
		WherePK().
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return a.GetByIdentifierTx(ctx, tx, id.String())
}

func (a *accountsRepo) UpdateRole(ctx context.Context, id uuid.UUID, role Role, permissions []string) (*Account, error) {
	now := time.Now()
	record := &Account{
		ID:          id,
		Role:        role,
		Permissions: permissions,
		UpdatedAt:   &now,
	}

	res, err := a.db.NewUpdate().
		Model(record).
		Column("role", "permissions", "updated_at").
		WherePK().
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return a.GetByIdentifier(ctx, id.String())
}

func (a *accountsRepo) UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName, displayName string) (*Account, error) {
	now := time.Now()
	record := &Account{
		ID:          id,
		FirstName:   firstName,
		LastName:    lastName,
		DisplayName: displayName,
		UpdatedAt:   &now,
	}

	res, err := a.db.NewUpdate().
		Model(record).
		Column("first_name", "last_name", "display_name", "updated_at").
		WherePK().
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return a.GetByIdentifier(ctx, id.String())
}

func (a *accountsRepo) SetActiveFlag(ctx context.Context, id uuid.UUID, active bool) (*Account, error) {
	now := time.Now()
	record := &Account{
		ID:        id,
		IsActive:  active,
		UpdatedAt: &now,
	}

	res, err := a.db.NewUpdate().
		Model(record).
		Column("is_active", "updated_at").
		WherePK().
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return a.GetByIdentifier(ctx, id.String())
}

// SetProviderID relinks an account to its identity provider record, used
// when provisioning finds an account whose credentials went missing.
func (a *accountsRepo) SetProviderID(ctx context.Context, id uuid.UUID, providerID string) (*Account, error) {
	now := time.Now()
	record := &Account{
		ID:         id,
		ProviderID: providerID,
		UpdatedAt:  &now,
	}

	res, err := a.db.NewUpdate().
		Model(record).
		Column("provider_id", "updated_at").
		WherePK().
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return a.GetByIdentifier(ctx, id.String())
}

// EnsureBootstrapFlags repairs the reserved administrator record: full
// admin role and permission set, approved, verified, active, protected.
// Any rejection leftovers are cleared in the same write.
func (a *accountsRepo) EnsureBootstrapFlags(ctx context.Context, id uuid.UUID) (*Account, error) {
	now := time.Now()
	record := &Account{
		ID:               id,
		Role:             RoleAdmin,
		Permissions:      DefaultPermissions(RoleAdmin),
		Status:           StatusApproved,
		IsActive:         true,
		EmailVerified:    true,
		IsBootstrapAdmin: true,
		UpdatedAt:        &now,
	}

	res, err := a.db.NewUpdate().
		Model(record).
		Column(
			"role",
			"permissions",
			"status",
			"is_active",
			"is_email_verified",
			"is_bootstrap_admin",
			"rejected_by",
			"rejected_at",
			"rejection_reason",
			"updated_at",
		).
		WherePK().
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return a.GetByIdentifier(ctx, id.String())
}

// MarkEmailVerified is driven by the identity provider's verification
// callback, never by administrator action.
func (a *accountsRepo) MarkEmailVerified(ctx context.Context, providerID string) (*Account, error) {
	now := time.Now()
	res, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("is_email_verified = ?", true).
		Set("updated_at = ?", now).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"provider_id": providerID})
	}

	return a.GetByProviderID(ctx, providerID)
}

// DeletePermanently removes the record for good, bypassing the soft-delete
// column. Bootstrap protection is enforced by the service layer before we
// ever get here.
func (a *accountsRepo) DeletePermanently(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewDelete().
		Model(&Account{ID: id}).
		WherePK().
		ForceDelete().
		Exec(ctx)
	if err != nil {
		return err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

func (a *accountsRepo) Approve(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	return a.lifecycleMachine().Transition(ctx, actor, account, StatusApproved, opts...)
}

func (a *accountsRepo) Reject(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	return a.lifecycleMachine().Transition(ctx, actor, account, StatusRejected, opts...)
}

func (a *accountsRepo) Deactivate(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	return a.lifecycleMachine().Transition(ctx, actor, account, StatusInactive, opts...)
}

func (a *accountsRepo) Reinstate(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	return a.lifecycleMachine().Transition(ctx, actor, account, StatusApproved, opts...)
}

// StatusUpdateOption allows callers to mutate the account record before
// persisting status changes.
type StatusUpdateOption func(*Account)

// WithApprovalDecision stamps approval metadata and clears any prior
// rejection metadata in the same write.
func WithApprovalDecision(by *uuid.UUID, at *time.Time) StatusUpdateOption {
	return func(a *Account) {
		a.ApprovedBy = by
		a.ApprovedAt = at
		a.RejectedBy = nil
		a.RejectedAt = nil
		a.RejectionReason = ""
	}
}

// WithRejectionDecision stamps rejection metadata and clears any prior
// approval metadata in the same write.
func WithRejectionDecision(by *uuid.UUID, at *time.Time, reason string) StatusUpdateOption {
	return func(a *Account) {
		a.RejectedBy = by
		a.RejectedAt = at
		a.RejectionReason = reason
		a.ApprovedBy = nil
		a.ApprovedAt = nil
	}
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	// email uniqueness is case-insensitive; normalize before the unique index sees it
	record.Email = strings.ToLower(strings.TrimSpace(record.Email))

	record.EnsureRole()
	record.EnsureStatus()
	record.EnsurePermissions()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveAccountIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  strings.ToLower(trimmed),
		})
	}

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

func (a *accountsRepo) lifecycleMachine() AccountStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewAccountStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}
