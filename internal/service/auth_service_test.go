package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotonoha/shadowing_service/internal/repository"
)

// memoryUserRepo is an in-memory UserRepository for tests.
type memoryUserRepo struct {
	users map[string]*repository.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*repository.User)}
}

func (m *memoryUserRepo) Create(ctx context.Context, user *repository.User) error {
	user.ID = uuid.New()
	m.users[user.Email] = user
	return nil
}

func (m *memoryUserRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	return m.users[email], nil
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewAuthService(newMemoryUserRepo(), "test-secret")

	reg, err := svc.Register(context.Background(), RegisterReq{
		Email:       "a@example.com",
		Password:    "hunter2!",
		DisplayName: "A",
	})
	require.NoError(t, err)
	require.NotNil(t, reg.User)
	assert.NotEmpty(t, reg.Token)
	assert.NotEqual(t, "hunter2!", reg.User.PasswordHash)

	login, err := svc.Login(context.Background(), LoginReq{
		Email:    "a@example.com",
		Password: "hunter2!",
	})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := NewAuthService(newMemoryUserRepo(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterReq{Email: "a@example.com", Password: "p1"})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterReq{Email: "a@example.com", Password: "p2"})
	require.Error(t, err)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := NewAuthService(newMemoryUserRepo(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterReq{Email: "a@example.com", Password: "correct"})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), LoginReq{Email: "a@example.com", Password: "wrong"})
	require.Error(t, err)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	svc := NewAuthService(newMemoryUserRepo(), "test-secret")

	_, err := svc.Login(context.Background(), LoginReq{Email: "ghost@example.com", Password: "x"})
	require.Error(t, err)
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(newMemoryUserRepo(), "test-secret")

	reg, err := svc.Register(context.Background(), RegisterReq{Email: "a@example.com", Password: "p"})
	require.NoError(t, err)

	userID, err := svc.ValidateToken(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID.String(), userID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthService(newMemoryUserRepo(), "secret-a")
	verifier := NewAuthService(newMemoryUserRepo(), "secret-b")

	reg, err := issuer.Register(context.Background(), RegisterReq{Email: "a@example.com", Password: "p"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(reg.Token)
	require.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewAuthService(newMemoryUserRepo(), "test-secret")

	_, err := svc.ValidateToken("not.a.token")
	require.Error(t, err)
}
