package accounts

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// IdentityProvider wraps the external authentication primitives. Credential
// storage, password hashing, and verification token issuance live behind
// this boundary; the core only orchestrates calls to it.
type IdentityProvider interface {
	// CreateIdentity registers credentials and returns the provider's
	// opaque identifier for them.
	CreateIdentity(ctx context.Context, email, password string) (string, error)

	// Authenticate checks credentials and returns the provider identifier
	// on success.
	Authenticate(ctx context.Context, email, password string) (string, error)

	// SendVerificationEmail issues (or re-issues) a verification code for
	// the identity.
	SendVerificationEmail(ctx context.Context, providerID string) error

	// ApplyVerificationCode validates a server-minted verification code
	// and returns the provider identifier it belongs to.
	ApplyVerificationCode(ctx context.Context, code string) (string, error)

	// ResetPassword starts a password reset for the email on record.
	ResetPassword(ctx context.Context, email string) error

	// DeleteIdentity removes the credentials for a provider identifier.
	DeleteIdentity(ctx context.Context, providerID string) error
}

// Mailer sends transactional email. Implementations are expected to be
// fallible and potentially slow; callers treat sends as best-effort.
type Mailer interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, to, subject, html, text string) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, to, subject, html, text string) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, subject, html, text)
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, string, string, string, string) error {
	return nil
}

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}

// TokenConfig holds options for the session token service
type TokenConfig interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
