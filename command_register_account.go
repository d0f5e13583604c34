package accounts

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// RegisterAccountMessage carries a self-service registration request.
// Role is restricted to the public subset; elevated roles are reachable
// only through administrator-created accounts. The permission set is
// always derived from the role catalog, there is no caller-supplied
// override on this path.
type RegisterAccountMessage struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
	Password    string `json:"password"`
	UseHashid   bool   `json:"-"`

	// OnAccount receives the created record
	OnAccount func(*Account) `json:"-"`
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

// Validate will run validation rules
func (e RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&e.Role,
			validation.Required,
			validation.In(toAnySlice(PublicRegistrationRoles())...),
		),
	)
}

func toAnySlice(roles []Role) []any {
	out := make([]any, len(roles))
	for i, r := range roles {
		out[i] = r
	}
	return out
}

// RegisterAccountHandler creates the identity provider credentials and the
// pending account record. The verification email is best-effort: a send
// failure degrades to a logged warning and the account stays usable for a
// resend.
type RegisterAccountHandler struct {
	Repo     RepositoryManager
	Provider IdentityProvider
	Logger   Logger
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	logger := h.Logger
	if logger == nil {
		logger = defLogger{}
	}

	email := strings.ToLower(strings.TrimSpace(event.Email))

	phone, err := normalizePhone(event.Phone)
	if err != nil {
		return err
	}

	if existing, err := h.Repo.Accounts().GetByIdentifier(ctx, email); err == nil && existing != nil {
		return ErrEmailInUse.WithMetadata(map[string]any{"email": email})
	} else if err != nil && !IsNotFound(err) {
		return WrapAdapterFailure(err, "failed to check for existing account")
	}

	providerID, err := h.Provider.CreateIdentity(ctx, email, event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return WrapAdapterFailure(err, "identity provider rejected credential creation")
	}

	account := &Account{
		ProviderID:  providerID,
		FirstName:   event.FirstName,
		LastName:    event.LastName,
		DisplayName: getDisplayName(event.DisplayName, event.FirstName, event.LastName),
		Email:       email,
		Phone:       phone,
		Role:        event.Role,
		Permissions: DefaultPermissions(event.Role),
		Status:      StatusPending,
		IsActive:    true,
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			account.ID = id
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		if account, txErr = h.Repo.Accounts().RegisterTx(ctx, tx, account); txErr != nil {
			return goerrors.Wrap(txErr, goerrors.CategoryConflict, "could not create account")
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	if err := h.Provider.SendVerificationEmail(ctx, providerID); err != nil {
		logger.Warn("verification email send failed, account registered: %v", err)
	}

	if event.OnAccount != nil {
		event.OnAccount(account)
	}

	return nil
}

func getDisplayName(displayName, firstName, lastName string) string {
	if displayName != "" {
		return displayName
	}

	name := strings.TrimSpace(firstName + " " + lastName)
	return name
}

// normalizePhone stores phone numbers in E.164 form. The field is
// optional; a present but unparseable number is a validation error.
func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}

	parsed, err := phonenumbers.Parse(phone, "US")
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number")
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return "", goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
