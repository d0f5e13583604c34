package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims is the JWT payload minted after a successful
// authorization decision. Role and permissions travel with the token so
// downstream HTTP layers can gate without a store round trip.
type SessionClaims struct {
	jwt.RegisteredClaims
	AccountID   string   `json:"uid"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// TokenService mints and validates session tokens for authorized accounts
type TokenService interface {
	Mint(account *Account) (string, error)
	Validate(raw string) (*SessionClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenConfig, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey:      []byte(cfg.GetSigningKey()),
		tokenExpiration: cfg.GetTokenExpiration(),
		issuer:          cfg.GetIssuer(),
		audience:        cfg.GetAudience(),
		logger:          logger,
	}
}

// Mint creates a signed token carrying the account's id, role, and
// effective permission set. Callers are expected to have run the
// authorization policy first; Mint does not re-check it.
func (ts *TokenServiceImpl) Mint(account *Account) (string, error) {
	if account == nil {
		return "", goerrors.New("account must not be nil", goerrors.CategoryInternal)
	}

	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   account.ID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ts.tokenExpiration) * time.Hour)),
		},
		AccountID:   account.ID.String(),
		Role:        string(account.Role),
		Permissions: append([]string(nil), account.Permissions...),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		ts.logger.Error("failed to sign session token: %v", err)
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// Validate parses and verifies a session token: signature, expiry, and
// the configured issuer and audience.
func (ts *TokenServiceImpl) Validate(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	opts := []jwt.ParserOption{}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		opts = append(opts, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, goerrors.New("unexpected token signing method", goerrors.CategoryAuth)
		}
		return ts.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid session token")
	}

	if !token.Valid {
		return nil, goerrors.New("invalid session token", goerrors.CategoryAuth)
	}

	return claims, nil
}
