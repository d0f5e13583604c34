package accounts_test

import (
	"context"
	"database/sql"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-accounts"
)

// MockAccounts implements accounts.Accounts. The embedded repository
// interface covers the generic methods the tests never touch.
type MockAccounts struct {
	mock.Mock
	repository.Repository[*accounts.Account]
}

func (m *MockAccounts) Register(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	args := m.Called(ctx, account)
	return accountResult(args)
}

func (m *MockAccounts) RegisterTx(ctx context.Context, tx bun.IDB, account *accounts.Account) (*accounts.Account, error) {
	args := m.Called(ctx, tx, account)
	return accountResult(args)
}

func (m *MockAccounts) GetOrCreate(ctx context.Context, record *accounts.Account) (*accounts.Account, error) {
	args := m.Called(ctx, record)
	return accountResult(args)
}

func (m *MockAccounts) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *accounts.Account) (*accounts.Account, error) {
	args := m.Called(ctx, tx, record)
	return accountResult(args)
}

func (m *MockAccounts) Create(ctx context.Context, record *accounts.Account, criteria ...repository.InsertCriteria) (*accounts.Account, error) {
	args := m.Called(ctx, record)
	return accountResult(args)
}

func (m *MockAccounts) CreateTx(ctx context.Context, tx bun.IDB, record *accounts.Account, criteria ...repository.InsertCriteria) (*accounts.Account, error) {
	args := m.Called(ctx, tx, record)
	return accountResult(args)
}

func (m *MockAccounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*accounts.Account, error) {
	args := m.Called(ctx, identifier)
	return accountResult(args)
}

func (m *MockAccounts) GetByProviderID(ctx context.Context, providerID string) (*accounts.Account, error) {
	args := m.Called(ctx, providerID)
	return accountResult(args)
}

func (m *MockAccounts) ListByStatus(ctx context.Context, status accounts.AccountStatus) ([]*accounts.Account, error) {
	args := m.Called(ctx, status)
	return accountListResult(args)
}

func (m *MockAccounts) ListByRole(ctx context.Context, role accounts.Role) ([]*accounts.Account, error) {
	args := m.Called(ctx, role)
	return accountListResult(args)
}

func (m *MockAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, status accounts.AccountStatus, opts ...accounts.StatusUpdateOption) (*accounts.Account, error) {
	args := m.Called(ctx, id, status, opts)
	return accountResult(args)
}

func (m *MockAccounts) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status accounts.AccountStatus, opts ...accounts.StatusUpdateOption) (*accounts.Account, error) {
	args := m.Called(ctx, tx, id, status, opts)
	return accountResult(args)
}

func (m *MockAccounts) UpdateRole(ctx context.Context, id uuid.UUID, role accounts.Role, permissions []string) (*accounts.Account, error) {
	args := m.Called(ctx, id, role, permissions)
	return accountResult(args)
}

func (m *MockAccounts) UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName, displayName string) (*accounts.Account, error) {
	args := m.Called(ctx, id, firstName, lastName, displayName)
	return accountResult(args)
}

func (m *MockAccounts) SetActiveFlag(ctx context.Context, id uuid.UUID, active bool) (*accounts.Account, error) {
	args := m.Called(ctx, id, active)
	return accountResult(args)
}

func (m *MockAccounts) SetProviderID(ctx context.Context, id uuid.UUID, providerID string) (*accounts.Account, error) {
	args := m.Called(ctx, id, providerID)
	return accountResult(args)
}

func (m *MockAccounts) MarkEmailVerified(ctx context.Context, providerID string) (*accounts.Account, error) {
	args := m.Called(ctx, providerID)
	return accountResult(args)
}

func (m *MockAccounts) EnsureBootstrapFlags(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	args := m.Called(ctx, id)
	return accountResult(args)
}

func (m *MockAccounts) DeletePermanently(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAccounts) Approve(ctx context.Context, actor accounts.ActorRef, account *accounts.Account, opts ...accounts.TransitionOption) (*accounts.Account, error) {
	args := m.Called(ctx, actor, account, opts)
	return accountResult(args)
}

func (m *MockAccounts) Reject(ctx context.Context, actor accounts.ActorRef, account *accounts.Account, opts ...accounts.TransitionOption) (*accounts.Account, error) {
	args := m.Called(ctx, actor, account, opts)
	return accountResult(args)
}

func (m *MockAccounts) Deactivate(ctx context.Context, actor accounts.ActorRef, account *accounts.Account, opts ...accounts.TransitionOption) (*accounts.Account, error) {
	args := m.Called(ctx, actor, account, opts)
	return accountResult(args)
}

func (m *MockAccounts) Reinstate(ctx context.Context, actor accounts.ActorRef, account *accounts.Account, opts ...accounts.TransitionOption) (*accounts.Account, error) {
	args := m.Called(ctx, actor, account, opts)
	return accountResult(args)
}

func accountResult(args mock.Arguments) (*accounts.Account, error) {
	record, _ := args.Get(0).(*accounts.Account)
	return record, args.Error(1)
}

func accountListResult(args mock.Arguments) ([]*accounts.Account, error) {
	records, _ := args.Get(0).([]*accounts.Account)
	return records, args.Error(1)
}

// MockRepositoryManager implements accounts.RepositoryManager. RunInTx
// invokes the callback with a zero transaction so command handlers can be
// exercised without a database.
type MockRepositoryManager struct {
	accounts accounts.Accounts
}

func NewMockRepositoryManager(repo accounts.Accounts) *MockRepositoryManager {
	return &MockRepositoryManager{accounts: repo}
}

func (m *MockRepositoryManager) Validate() error { return nil }

func (m *MockRepositoryManager) MustValidate() {}

func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	return fn(ctx, bun.Tx{})
}

func (m *MockRepositoryManager) Accounts() accounts.Accounts {
	return m.accounts
}

// MockIdentityProvider implements accounts.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) Authenticate(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) SendVerificationEmail(ctx context.Context, providerID string) error {
	args := m.Called(ctx, providerID)
	return args.Error(0)
}

func (m *MockIdentityProvider) ApplyVerificationCode(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) ResetPassword(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockIdentityProvider) DeleteIdentity(ctx context.Context, providerID string) error {
	args := m.Called(ctx, providerID)
	return args.Error(0)
}

// MockMailer implements accounts.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to, subject, html, text string) error {
	args := m.Called(ctx, to, subject, html, text)
	return args.Error(0)
}

// MockActivitySink implements accounts.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// capturingSink collects events in order for assertions.
type capturingSink struct {
	events []accounts.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt accounts.ActivityEvent) error {
	c.events = append(c.events, evt)
	return nil
}

// testTokenConfig implements accounts.TokenConfig
type testTokenConfig struct {
	signingKey string
	expiration int
	issuer     string
	audience   []string
}

func (c testTokenConfig) GetSigningKey() string   { return c.signingKey }
func (c testTokenConfig) GetTokenExpiration() int { return c.expiration }
func (c testTokenConfig) GetIssuer() string       { return c.issuer }
func (c testTokenConfig) GetAudience() []string   { return c.audience }

func newTestTokenConfig() testTokenConfig {
	return testTokenConfig{
		signingKey: "test-signing-key-0123456789",
		expiration: 24,
		issuer:     "go-accounts-test",
		audience:   []string{"go-accounts"},
	}
}
