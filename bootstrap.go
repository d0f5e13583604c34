package accounts

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

// BootstrapConfig describes the reserved administrator identity provisioned
// at process start.
type BootstrapConfig struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	DisplayName string
}

// Validate will run validation rules
func (c BootstrapConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.Email),
		validation.Field(&c.Password, validation.Required, validation.Length(10, 100)),
	)
}

// BootstrapOption customizes provisioning behavior.
type BootstrapOption func(*bootstrapper)

// WithBootstrapLogger overrides the logger used during provisioning.
func WithBootstrapLogger(logger Logger) BootstrapOption {
	return func(b *bootstrapper) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBootstrapActivitySink sets the ActivitySink notified once the
// administrator record is ensured.
func WithBootstrapActivitySink(sink ActivitySink) BootstrapOption {
	return func(b *bootstrapper) {
		b.activitySink = normalizeActivitySink(sink)
	}
}

// WithBootstrapClock injects a custom clock (useful for tests).
func WithBootstrapClock(clock func() time.Time) BootstrapOption {
	return func(b *bootstrapper) {
		if clock != nil {
			b.now = clock
		}
	}
}

type bootstrapper struct {
	repo         RepositoryManager
	provider     IdentityProvider
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// EnsureBootstrapAdmin guarantees the reserved administrator exists: an
// approved, verified, active admin account that lifecycle operations refuse
// to touch. The call is idempotent and safe to run on every startup.
//
// Recovery rules when prior runs left partial state behind:
//   - record exists but the provider identity is gone: the identity is
//     recreated and relinked
//   - the provider identity exists but the configured password no longer
//     matches it: ErrCredentialMismatch is returned alongside the record so
//     operators can rotate the credential without the process crashing
func EnsureBootstrapAdmin(ctx context.Context, repo RepositoryManager, provider IdentityProvider, cfg BootstrapConfig, opts ...BootstrapOption) (*Account, error) {
	b := &bootstrapper{
		repo:         repo,
		provider:     provider,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	return b.ensure(ctx, cfg)
}

func (b *bootstrapper) ensure(ctx context.Context, cfg BootstrapConfig) (*Account, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid bootstrap configuration")
	}

	email := strings.ToLower(strings.TrimSpace(cfg.Email))

	existing, err := b.repo.Accounts().GetByIdentifier(ctx, email)
	if err != nil && !IsNotFound(err) {
		return nil, WrapAdapterFailure(err, "failed to look up bootstrap administrator")
	}

	if existing != nil && err == nil {
		return b.ensureExisting(ctx, existing, cfg)
	}

	return b.createFresh(ctx, email, cfg)
}

// ensureExisting repairs drift on a record that survived a previous run.
func (b *bootstrapper) ensureExisting(ctx context.Context, account *Account, cfg BootstrapConfig) (*Account, error) {
	var credentialErr error

	if account.ProviderID == "" {
		providerID, err := b.linkIdentity(ctx, account.Email, cfg.Password)
		if err != nil {
			return account, err
		}
		if account, err = b.repo.Accounts().SetProviderID(ctx, account.ID, providerID); err != nil {
			return nil, WrapAdapterFailure(err, "failed to relink bootstrap identity")
		}
		b.logger.Info("bootstrap administrator identity relinked: %s", account.Email)
	} else if _, err := b.provider.Authenticate(ctx, account.Email, cfg.Password); err != nil {
		// the identity is there but the configured password does not open
		// it; keep the account usable and let the operator decide
		credentialErr = ErrCredentialMismatch.WithMetadata(map[string]any{
			"email": account.Email,
		})
	}

	if b.needsRepair(account) {
		repaired, err := b.repo.Accounts().EnsureBootstrapFlags(ctx, account.ID)
		if err != nil {
			return nil, WrapAdapterFailure(err, "failed to repair bootstrap administrator record")
		}
		account = repaired
		b.logger.Warn("bootstrap administrator record repaired: %s", account.Email)
	}

	b.recordEnsured(ctx, account, false)

	return account, credentialErr
}

func (b *bootstrapper) createFresh(ctx context.Context, email string, cfg BootstrapConfig) (*Account, error) {
	providerID, err := b.linkIdentity(ctx, email, cfg.Password)
	if err != nil {
		return nil, err
	}

	now := b.now()

	account := &Account{
		ProviderID:       providerID,
		FirstName:        cfg.FirstName,
		LastName:         cfg.LastName,
		DisplayName:      getDisplayName(cfg.DisplayName, cfg.FirstName, cfg.LastName),
		Email:            email,
		Role:             RoleAdmin,
		Permissions:      DefaultPermissions(RoleAdmin),
		Status:           StatusApproved,
		IsActive:         true,
		EmailVerified:    true,
		IsBootstrapAdmin: true,
		ApprovedAt:       &now,
	}

	// deterministic record id keeps concurrent or repeated boots converging
	// on a single row
	if id, err := hashid.NewUUID(email); err == nil {
		account.ID = id
	}

	created, err := b.repo.Accounts().GetOrCreate(ctx, account)
	if err != nil {
		return nil, WrapAdapterFailure(err, "failed to create bootstrap administrator record")
	}

	b.logger.Info("bootstrap administrator provisioned: %s", created.Email)
	b.recordEnsured(ctx, created, true)

	return created, nil
}

// linkIdentity creates the provider credentials, falling back to
// authentication when they already exist from a previous partial run.
func (b *bootstrapper) linkIdentity(ctx context.Context, email, password string) (string, error) {
	providerID, err := b.provider.CreateIdentity(ctx, email, password)
	if err == nil {
		return providerID, nil
	}

	providerID, authErr := b.provider.Authenticate(ctx, email, password)
	if authErr == nil {
		return providerID, nil
	}

	return "", ErrCredentialMismatch.WithMetadata(map[string]any{
		"email":        email,
		"create_error": err.Error(),
		"auth_error":   authErr.Error(),
	})
}

func (b *bootstrapper) needsRepair(account *Account) bool {
	return !account.IsBootstrapAdmin ||
		account.Role != RoleAdmin ||
		account.Status != StatusApproved ||
		!account.IsActive ||
		!account.EmailVerified
}

func (b *bootstrapper) recordEnsured(ctx context.Context, account *Account, created bool) {
	event := ActivityEvent{
		EventType:  ActivityEventBootstrapEnsured,
		Actor:      ActorRef{Type: ActorTypeSystem},
		AccountID:  account.ID.String(),
		ToStatus:   account.Status,
		Metadata:   map[string]any{"created": created},
		OccurredAt: b.now(),
	}

	sink := normalizeActivitySink(b.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		b.logger.Warn("bootstrap activity sink error: %v", err)
	}
}
