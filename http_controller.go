package accounts

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RegisterAccountRoutes mounts the JSON account management API on the
// given router.
func RegisterAccountRoutes[T any](app router.Router[T], opts ...AccountsControllerOption) {

	controller := NewAccountsController(opts...)

	app.Post(controller.Routes.Register, controller.RegisterPost).
		SetName("accounts.register.post")

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("accounts.login.post")

	app.Post(controller.Routes.VerifyEmail, controller.VerifyEmailPost).
		SetName("accounts.verify-email.post")

	app.Get(fmt.Sprintf("%s/pending", controller.Routes.Accounts), controller.ListPending).
		SetName("accounts.pending.get")

	app.Get(fmt.Sprintf("%s/role/:role", controller.Routes.Accounts), controller.ListByRole).
		SetName("accounts.by-role.get")

	app.Get(fmt.Sprintf("%s/:id/authorize", controller.Routes.Accounts), controller.AuthorizeGet).
		SetName("accounts.authorize.get")

	app.Post(fmt.Sprintf("%s/:id/approve", controller.Routes.Accounts), controller.ApprovePost).
		SetName("accounts.approve.post")

	app.Post(fmt.Sprintf("%s/:id/reject", controller.Routes.Accounts), controller.RejectPost).
		SetName("accounts.reject.post")

	app.Post(fmt.Sprintf("%s/:id/role", controller.Routes.Accounts), controller.RolePost).
		SetName("accounts.role.post")

	app.Post(fmt.Sprintf("%s/:id/active", controller.Routes.Accounts), controller.ActivePost).
		SetName("accounts.active.post")

	app.Delete(fmt.Sprintf("%s/:id", controller.Routes.Accounts), controller.DeleteAccount).
		SetName("accounts.delete")
}

type AccountsControllerRoutes struct {
	Register    string
	Login       string
	VerifyEmail string
	Accounts    string
}

type AccountsController struct {
	Debug        bool
	Logger       Logger
	Service      *AccountService
	Tokens       TokenService
	Routes       *AccountsControllerRoutes
	ErrorHandler func(router.Context, error) error
}

type AccountsControllerOption func(*AccountsController) *AccountsController

func NewAccountsController(opts ...AccountsControllerOption) *AccountsController {
	c := &AccountsController{
		Logger: defLogger{},
		Routes: &AccountsControllerRoutes{
			Register:    "/register",
			Login:       "/login",
			VerifyEmail: "/verify-email",
			Accounts:    "/accounts",
		},
	}
	c.ErrorHandler = c.renderError

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing AccountService in accounts controller...")
	}

	return c
}

func WithControllerService(service *AccountService) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Service = service
		return c
	}
}

func WithControllerTokens(tokens TokenService) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Tokens = tokens
		return c
	}
}

func WithControllerLogger(logger Logger) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Debug = debug
		return c
	}
}

func (a *AccountsController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterAccountMessage)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register account parse payload: %v", err)
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": "failed to parse body",
		})
	}

	if a.Debug {
		fmt.Println("======= ACCOUNT REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("===============================")
	}

	account, err := a.Service.Register(ctx.Context(), *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, accountResponse(account))
}

// LoginPayload carries credentials for session token issuance.
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AccountsController) LoginPost(ctx router.Context) error {
	payload := new(LoginPayload)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": "failed to parse body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	token, account, err := a.Service.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		a.Logger.Warn("login denied for %s: %v", payload.Email, err)
		return ctx.JSON(fiber.StatusUnauthorized, map[string]string{
			"error": denialMessage(err),
		})
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"token":   token,
		"account": accountResponse(account),
	})
}

// VerifyEmailPayload carries the server-minted verification code.
type VerifyEmailPayload struct {
	Code string `form:"code" json:"code"`
}

func (a *AccountsController) VerifyEmailPost(ctx router.Context) error {
	payload := new(VerifyEmailPayload)

	if err := ctx.Bind(payload); err != nil || payload.Code == "" {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": "missing verification code",
		})
	}

	account, err := a.Service.VerifyEmail(ctx.Context(), payload.Code)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, accountResponse(account))
}

func (a *AccountsController) ListPending(ctx router.Context) error {
	actingID, err := a.actingID(ctx)
	if err != nil {
		return ctx.JSON(fiber.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	accounts, err := a.Service.PendingAccounts(ctx.Context(), actingID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"accounts": accountListResponse(accounts),
	})
}

func (a *AccountsController) ListByRole(ctx router.Context) error {
	actingID, err := a.actingID(ctx)
	if err != nil {
		return ctx.JSON(fiber.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	accounts, err := a.Service.AccountsByRole(ctx.Context(), actingID, ctx.Param("role"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"accounts": accountListResponse(accounts),
	})
}

func (a *AccountsController) AuthorizeGet(ctx router.Context) error {
	accountID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": "invalid account id",
		})
	}

	decision, err := a.Service.Authorize(ctx.Context(), accountID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	body := map[string]any{
		"allowed": decision.Allowed,
	}
	if decision.Deny() {
		body["reason"] = string(decision.Reason)
		if decision.RejectionReason != "" {
			body["rejection_reason"] = decision.RejectionReason
		}
	} else {
		body["permissions"] = decision.Permissions
	}

	return ctx.JSON(fiber.StatusOK, body)
}

func (a *AccountsController) ApprovePost(ctx router.Context) error {
	accountID, actingID, err := a.decisionIDs(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	account, err := a.Service.Approve(ctx.Context(), accountID, actingID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, accountResponse(account))
}

// RejectPayload carries the reason recorded alongside a rejection.
type RejectPayload struct {
	Reason string `form:"reason" json:"reason"`
}

func (a *AccountsController) RejectPost(ctx router.Context) error {
	accountID, actingID, err := a.decisionIDs(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(RejectPayload)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": "failed to parse body",
		})
	}

	account, err := a.Service.Reject(ctx.Context(), accountID, actingID, payload.Reason)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, accountResponse(account))
}

// RolePayload carries a role assignment.
type RolePayload struct {
	Role        string   `form:"role" json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

func (a *AccountsController) RolePost(ctx router.Context) error {
	accountID, actingID, err := a.decisionIDs(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(RolePayload)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": "failed to parse body",
		})
	}

	account, err := a.Service.ChangeRole(ctx.Context(), accountID, actingID, payload.Role, payload.Permissions)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, accountResponse(account))
}

// ActivePayload toggles the soft-disable flag.
type ActivePayload struct {
	Active bool `form:"active" json:"active"`
}

func (a *AccountsController) ActivePost(ctx router.Context) error {
	accountID, actingID, err := a.decisionIDs(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(ActivePayload)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"error": "failed to parse body",
		})
	}

	account, err := a.Service.SetActive(ctx.Context(), accountID, actingID, payload.Active)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, accountResponse(account))
}

func (a *AccountsController) DeleteAccount(ctx router.Context) error {
	accountID, actingID, err := a.decisionIDs(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := a.Service.Delete(ctx.Context(), accountID, actingID); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]bool{"deleted": true})
}

func (a *AccountsController) decisionIDs(ctx router.Context) (accountID, actingID uuid.UUID, err error) {
	accountID, err = uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, goerrors.New("invalid account id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	actingID, err = a.actingID(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	return accountID, actingID, nil
}

// actingID resolves the acting account from the bearer session token.
func (a *AccountsController) actingID(ctx router.Context) (uuid.UUID, error) {
	if a.Tokens == nil {
		return uuid.Nil, goerrors.New("session tokens not configured", goerrors.CategoryInternal)
	}

	raw := strings.TrimSpace(strings.TrimPrefix(ctx.Header("Authorization"), "Bearer "))
	if raw == "" {
		return uuid.Nil, ErrUnauthorized.WithMetadata(map[string]any{
			"reason": "missing bearer token",
		})
	}

	claims, err := a.Tokens.Validate(raw)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return uuid.Nil, ErrUnauthorized.WithMetadata(map[string]any{
			"reason": "malformed subject claim",
		})
	}

	return id, nil
}

func (a *AccountsController) renderError(ctx router.Context, err error) error {
	status := statusForError(err)

	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("accounts controller error: %v", err)
	}

	return ctx.JSON(status, map[string]string{
		"error": denialMessage(err),
	})
}

func statusForError(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return fiber.StatusInternalServerError
	}

	switch rich.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryAuth:
		return fiber.StatusForbidden
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func denialMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Message
	}
	return err.Error()
}

func accountResponse(account *Account) map[string]any {
	if account == nil {
		return nil
	}

	body := map[string]any{
		"id":             account.ID.String(),
		"email":          account.Email,
		"first_name":     account.FirstName,
		"last_name":      account.LastName,
		"display_name":   account.DisplayName,
		"role":           account.Role,
		"permissions":    account.Permissions,
		"status":         account.Status,
		"is_active":      account.IsActive,
		"email_verified": account.EmailVerified,
		"created_at":     account.CreatedAt,
	}

	if account.ApprovedAt != nil {
		body["approved_at"] = account.ApprovedAt
		if account.ApprovedBy != nil {
			body["approved_by"] = account.ApprovedBy.String()
		}
	}

	if account.RejectedAt != nil {
		body["rejected_at"] = account.RejectedAt
		if account.RejectedBy != nil {
			body["rejected_by"] = account.RejectedBy.String()
		}
		if account.RejectionReason != "" {
			body["rejection_reason"] = account.RejectionReason
		}
	}

	return body
}

func accountListResponse(accounts []*Account) []map[string]any {
	out := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, accountResponse(account))
	}
	return out
}
