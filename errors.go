package accounts

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced alongside structured errors so HTTP layers and
// operators can match on stable identifiers.
const (
	TextCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	TextCodeEmailInUse         = "EMAIL_IN_USE"
	TextCodeUnauthorized       = "UNAUTHORIZED_TRANSITION"
	TextCodeProtectedAccount   = "PROTECTED_ACCOUNT"
	TextCodeCredentialMismatch = "CREDENTIAL_MISMATCH"
	TextCodeInvalidRole        = "INVALID_ROLE"
	TextCodeInvalidTransition  = "INVALID_ACCOUNT_STATE_TRANSITION"
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeAccessDenied       = "ACCESS_DENIED"
)

// ErrAccountNotFound is returned when the target account id does not exist
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound)

// ErrEmailInUse is returned on a registration conflict; callers should
// redirect to sign in.
var ErrEmailInUse = goerrors.New("email address already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailInUse).
	WithCode(goerrors.CodeConflict)

// ErrUnauthorized is returned when the acting principal lacks the rank or
// permission for the requested transition. Reported, never retried.
var ErrUnauthorized = goerrors.New("acting account may not perform this operation", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized)

// ErrProtectedAccount is returned on any attempted mutation of the
// bootstrap administrator. Always fatal to the command.
var ErrProtectedAccount = goerrors.New("the bootstrap administrator cannot be modified", goerrors.CategoryConflict).
	WithTextCode(TextCodeProtectedAccount).
	WithCode(goerrors.CodeConflict)

// ErrCredentialMismatch is returned when bootstrap provisioning finds a
// conflicting existing identity. Provisioning aborts without crashing.
var ErrCredentialMismatch = goerrors.New("existing identity does not match bootstrap credentials", goerrors.CategoryConflict).
	WithTextCode(TextCodeCredentialMismatch).
	WithCode(goerrors.CodeConflict)

// ErrInvalidRole is returned when a role outside the closed enumeration,
// or outside the public registration subset, reaches a boundary.
var ErrInvalidRole = goerrors.New("role is unknown or not allowed here", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when a requested status change is not allowed
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the error for failed credential checks
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword)

// ErrAccessDenied is the generic gate error the authorizer attaches a
// deny reason to.
var ErrAccessDenied = goerrors.New("account may not access protected resources", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccessDenied)

// IsNotFound checks for both our structured not-found error and
// repository-level record misses.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.IsNotFound(err)
}

// WrapAdapterFailure marks an identity provider / store / mailer error as
// a transient external failure so callers can decide whether to retry.
func WrapAdapterFailure(err error, msg string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, msg)
}
