package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

type fakeUserRepo struct {
	users     map[string]*models.User
	lastLogin map[string]time.Time
}

func newFakeUserRepo(t *testing.T, email, password string, active bool) *fakeUserRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{ID: "u1", Email: email, PasswordHash: string(hash), FullName: "Coach", Active: active}
	return &fakeUserRepo{users: map[string]*models.User{email: user}, lastLogin: map[string]time.Time{}}
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := f.users[email]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	f.lastLogin[id] = ts
	return nil
}

type memoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memoryAttempts) Count(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], nil
}

func (m *memoryAttempts) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryAttempts) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return nil
}

func newAuthServiceForTest(t *testing.T, active bool) (*AuthService, *fakeUserRepo, *memoryAttempts) {
	repo := newFakeUserRepo(t, "coach@example.com", "s3cret!", active)
	attempts := &memoryAttempts{counts: map[string]int64{}}
	svc := NewAuthService(repo, attempts, nil, nil, AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "trainer-ledger-api",
		MaxAttempts:       3,
		AttemptWindow:     time.Minute,
	})
	return svc, repo, attempts
}

func TestAuthServiceSignIn(t *testing.T) {
	svc, repo, _ := newAuthServiceForTest(t, true)

	session, err := svc.SignIn(context.Background(), models.LoginRequest{Email: " Coach@Example.com ", Password: "s3cret!"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, int64(3600), session.ExpiresIn)
	assert.Equal(t, "u1", session.User.ID)
	assert.Contains(t, repo.lastLogin, "u1")

	claims, err := svc.ValidateToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "coach@example.com", claims.Email)
}

func TestAuthServiceSignInErrors(t *testing.T) {
	svc, _, _ := newAuthServiceForTest(t, true)

	_, err := svc.SignIn(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "x"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidEmailFormat)

	_, err = svc.SignIn(context.Background(), models.LoginRequest{Email: "coach@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredential)

	_, err = svc.SignIn(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "s3cret!"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredential)

	_, err = svc.SignIn(context.Background(), models.LoginRequest{Email: "coach@example.com"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredential)
}

func TestAuthServiceLocksAfterRepeatedFailures(t *testing.T) {
	svc, _, attempts := newAuthServiceForTest(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.SignIn(ctx, models.LoginRequest{Email: "coach@example.com", Password: "wrong"})
		assert.ErrorIs(t, err, appErrors.ErrInvalidCredential)
	}
	_, err := svc.SignIn(ctx, models.LoginRequest{Email: "coach@example.com", Password: "s3cret!"})
	assert.ErrorIs(t, err, appErrors.ErrTooManyAttempts)

	require.NoError(t, attempts.Delete(ctx, attemptKeyPrefix+"coach@example.com"))
	_, err = svc.SignIn(ctx, models.LoginRequest{Email: "coach@example.com", Password: "s3cret!"})
	require.NoError(t, err)
}

func TestAuthServiceSuccessResetsAttempts(t *testing.T) {
	svc, _, attempts := newAuthServiceForTest(t, true)
	ctx := context.Background()

	_, err := svc.SignIn(ctx, models.LoginRequest{Email: "coach@example.com", Password: "wrong"})
	require.Error(t, err)
	_, err = svc.SignIn(ctx, models.LoginRequest{Email: "coach@example.com", Password: "s3cret!"})
	require.NoError(t, err)

	count, err := attempts.Count(ctx, attemptKeyPrefix+"coach@example.com")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAuthServiceInactiveAccount(t *testing.T) {
	svc, _, _ := newAuthServiceForTest(t, false)
	_, err := svc.SignIn(context.Background(), models.LoginRequest{Email: "coach@example.com", Password: "s3cret!"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestAuthServiceValidateTokenRejectsForeignSignature(t *testing.T) {
	svc, _, _ := newAuthServiceForTest(t, true)
	other := NewAuthService(&fakeUserRepo{}, nil, nil, nil, AuthConfig{AccessTokenSecret: "other", Issuer: "trainer-ledger-api"})

	session, err := svc.SignIn(context.Background(), models.LoginRequest{Email: "coach@example.com", Password: "s3cret!"})
	require.NoError(t, err)
	_, err = other.ValidateToken(session.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceMe(t *testing.T) {
	svc, _, _ := newAuthServiceForTest(t, true)
	info, err := svc.Me(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Coach", info.FullName)

	_, err = svc.Me(context.Background(), "ghost")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
