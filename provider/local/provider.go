// Package local implements a database-backed identity provider: bcrypt
// credentials plus server-minted verification and reset codes, stored in
// the same database as the account records. It is the default provider
// for deployments that do not delegate credentials to an external service.
package local

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-accounts"
)

// Identity is the credential record. The account row references it through
// its id; email is duplicated here so authentication does not need a join.
type Identity struct {
	bun.BaseModel `bun:"table:account_identities,alias:aid"`

	ID           uuid.UUID `bun:"id,pk,notnull" json:"id"`
	Email        string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`

	VerificationCode string     `bun:"verification_code" json:"-"`
	CodeExpiresAt    *time.Time `bun:"code_expires_at" json:"-"`
	CodePurpose      string     `bun:"code_purpose" json:"-"`
	Verified         bool       `bun:"verified" json:"verified"`

	CreatedAt *time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt *time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

const (
	purposeVerify = "verify_email"
	purposeReset  = "password_reset"
)

// DefaultCodeTTL bounds how long verification and reset codes stay usable.
const DefaultCodeTTL = 24 * time.Hour

// Option configures the provider.
type Option func(*Provider)

// WithMailer sets the mailer used to deliver verification and reset codes.
func WithMailer(mailer accounts.Mailer) Option {
	return func(p *Provider) {
		if mailer != nil {
			p.mailer = mailer
		}
	}
}

// WithLogger overrides the provider logger.
func WithLogger(logger accounts.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCodeTTL overrides the verification code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.codeTTL = ttl
		}
	}
}

// WithVerificationURL sets the base URL embedded in verification emails.
func WithVerificationURL(url string) Option {
	return func(p *Provider) {
		p.verifyURL = strings.TrimRight(url, "/")
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// Provider stores credentials locally and satisfies
// accounts.IdentityProvider.
type Provider struct {
	db        *bun.DB
	mailer    accounts.Mailer
	logger    accounts.Logger
	codeTTL   time.Duration
	verifyURL string
	now       func() time.Time
}

var _ accounts.IdentityProvider = (*Provider)(nil)

// New creates a local identity provider backed by the given database.
func New(db *bun.DB, opts ...Option) *Provider {
	p := &Provider{
		db:      db,
		codeTTL: DefaultCodeTTL,
		now:     time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.logger == nil {
		p.logger = noopLoggerFallback{}
	}

	return p
}

// CreateIdentity hashes the password and stores a fresh credential row,
// returning its id as the opaque provider identifier.
func (p *Provider) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if existing, err := p.byEmail(ctx, email); err == nil && existing != nil {
		return "", goerrors.New("identity already exists", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithMetadata(map[string]any{"email": email})
	} else if err != nil && !isMissing(err) {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "failed to check for existing identity")
	}

	hash, err := accounts.HashPassword(password)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "could not hash password")
	}

	now := p.now()
	record := &Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    &now,
		UpdatedAt:    &now,
	}

	if _, err := p.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "failed to store identity")
	}

	return record.ID.String(), nil
}

// Authenticate checks the password against the stored hash.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	record, err := p.byEmail(ctx, email)
	if err != nil {
		if isMissing(err) {
			return "", accounts.ErrMismatchedHashAndPassword
		}
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load identity")
	}

	if err := accounts.ComparePasswordAndHash(password, record.PasswordHash); err != nil {
		return "", err
	}

	return record.ID.String(), nil
}

// SendVerificationEmail mints a fresh verification code and emails it.
// Re-sending invalidates any previous code.
func (p *Provider) SendVerificationEmail(ctx context.Context, providerID string) error {
	record, code, err := p.mintCode(ctx, providerID, purposeVerify)
	if err != nil {
		return err
	}

	if p.mailer == nil {
		p.logger.Warn("no mailer configured, verification code for %s not delivered", record.Email)
		return nil
	}

	link := code
	if p.verifyURL != "" {
		link = p.verifyURL + "/" + code
	}

	text := "Verify your email address: " + link
	html := "<p>Verify your email address: <a href=\"" + link + "\">" + link + "</a></p>"

	if err := p.mailer.Send(ctx, record.Email, "Verify your email address", html, text); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send verification email")
	}

	return nil
}

// ApplyVerificationCode consumes a code, marking the identity verified.
func (p *Provider) ApplyVerificationCode(ctx context.Context, code string) (string, error) {
	record, err := p.byCode(ctx, code, purposeVerify)
	if err != nil {
		return "", err
	}

	now := p.now()
	_, err = p.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("verified = ?", true).
		Set("verification_code = NULL").
		Set("code_expires_at = NULL").
		Set("code_purpose = NULL").
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "failed to mark identity verified")
	}

	return record.ID.String(), nil
}

// ResetPassword mints a reset code for the email on record and mails it.
// An unknown email is not an error; we do not leak which addresses exist.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	record, err := p.byEmail(ctx, email)
	if err != nil {
		if isMissing(err) {
			p.logger.Info("password reset requested for unknown email")
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load identity")
	}

	_, code, err := p.mintCode(ctx, record.ID.String(), purposeReset)
	if err != nil {
		return err
	}

	if p.mailer == nil {
		p.logger.Warn("no mailer configured, reset code for %s not delivered", record.Email)
		return nil
	}

	text := "Use this code to reset your password: " + code
	html := "<p>Use this code to reset your password: <strong>" + code + "</strong></p>"

	if err := p.mailer.Send(ctx, record.Email, "Password reset", html, text); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send reset email")
	}

	return nil
}

// ApplyPasswordReset consumes a reset code and stores the new password.
func (p *Provider) ApplyPasswordReset(ctx context.Context, code, newPassword string) error {
	record, err := p.byCode(ctx, code, purposeReset)
	if err != nil {
		return err
	}

	hash, err := accounts.HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "could not hash password")
	}

	now := p.now()
	_, err = p.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("password_hash = ?", hash).
		Set("verification_code = NULL").
		Set("code_expires_at = NULL").
		Set("code_purpose = NULL").
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to store new password")
	}

	return nil
}

// DeleteIdentity removes the credential row.
func (p *Provider) DeleteIdentity(ctx context.Context, providerID string) error {
	id, err := uuid.Parse(providerID)
	if err != nil {
		return goerrors.New("invalid provider identifier", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	_, err = p.db.NewDelete().
		Model((*Identity)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to delete identity")
	}

	return nil
}

// mintCode rotates the stored code for the identity. Codes are opaque
// random identifiers, single-purpose, and expire after codeTTL.
func (p *Provider) mintCode(ctx context.Context, providerID, purpose string) (*Identity, string, error) {
	id, err := uuid.Parse(providerID)
	if err != nil {
		return nil, "", goerrors.New("invalid provider identifier", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	record := &Identity{}
	err = p.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isMissing(err) {
			return nil, "", identityNotFound(providerID)
		}
		return nil, "", goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load identity")
	}

	code := uuid.NewString()
	expires := p.now().Add(p.codeTTL)

	_, err = p.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("verification_code = ?", code).
		Set("code_expires_at = ?", expires).
		Set("code_purpose = ?", purpose).
		Set("updated_at = ?", p.now()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryExternal, "failed to store verification code")
	}

	return record, code, nil
}

func (p *Provider) byEmail(ctx context.Context, email string) (*Identity, error) {
	record := &Identity{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// byCode resolves a live code. Expired or repurposed codes behave exactly
// like unknown ones.
func (p *Provider) byCode(ctx context.Context, code, purpose string) (*Identity, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalidCode()
	}

	record := &Identity{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.verification_code = ?", code).
		Where("?TableAlias.code_purpose = ?", purpose).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isMissing(err) {
			return nil, invalidCode()
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to look up code")
	}

	if record.CodeExpiresAt == nil || record.CodeExpiresAt.Before(p.now()) {
		return nil, invalidCode()
	}

	return record, nil
}

func invalidCode() error {
	return goerrors.New("verification code is invalid or expired", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest)
}

func identityNotFound(providerID string) error {
	return goerrors.New("identity not found", goerrors.CategoryNotFound).
		WithMetadata(map[string]any{"provider_id": providerID})
}

func isMissing(err error) bool {
	return repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}

type noopLoggerFallback struct{}

func (noopLoggerFallback) Debug(string, ...any) {}
func (noopLoggerFallback) Info(string, ...any)  {}
func (noopLoggerFallback) Warn(string, ...any)  {}
func (noopLoggerFallback) Error(string, ...any) {}
