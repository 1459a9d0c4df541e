package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

const attemptKeyPrefix = "auth:attempts:"

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// attemptCounter tracks failed sign-ins per email inside a rolling window.
type attemptCounter interface {
	Count(ctx context.Context, key string) (int64, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	MaxAttempts       int
	AttemptWindow     time.Duration
}

// AuthService signs trainers in and validates their access tokens.
type AuthService struct {
	repo      authUserRepository
	attempts  attemptCounter
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance. attempts may be nil to disable lockout.
func NewAuthService(repo authUserRepository, attempts attemptCounter, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.AttemptWindow <= 0 {
		config.AttemptWindow = 15 * time.Minute
	}
	return &AuthService{repo: repo, attempts: attempts, validator: validate, logger: logger, config: config}
}

// SignIn authenticates with email and password. Failures map to INVALID_EMAIL_FORMAT,
// INVALID_CREDENTIAL or TOO_MANY_ATTEMPTS.
func (s *AuthService) SignIn(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Var(email, "required,email"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidEmailFormat, "")
	}
	if req.Password == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "")
	}

	key := attemptKeyPrefix + email
	if s.locked(ctx, key) {
		return nil, appErrors.Clone(appErrors.ErrTooManyAttempts, "")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordFailure(ctx, key)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordFailure(ctx, key)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if s.attempts != nil {
		if err := s.attempts.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to reset sign-in attempts", zap.Error(err))
		}
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	issuedAt := time.Now().UTC()
	token, err := s.generateAccessToken(user, issuedAt)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	s.logger.Info("trainer signed in", zap.String("user_id", user.ID))
	return &models.Session{
		AccessToken: token,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    issuedAt,
		User:        userInfo(user),
	}, nil
}

// Me returns the profile behind a validated token.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user no longer exists")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	info := userInfo(user)
	return &info, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) locked(ctx context.Context, key string) bool {
	if s.attempts == nil {
		return false
	}
	count, err := s.attempts.Count(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read sign-in attempts", zap.Error(err))
		return false
	}
	return count >= int64(s.config.MaxAttempts)
}

func (s *AuthService) recordFailure(ctx context.Context, key string) {
	if s.attempts == nil {
		return
	}
	if _, err := s.attempts.Increment(ctx, key, s.config.AttemptWindow); err != nil {
		s.logger.Warn("failed to record sign-in attempt", zap.Error(err))
	}
}

func (s *AuthService) generateAccessToken(user *models.User, issuedAt time.Time) (string, error) {
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}

func userInfo(user *models.User) models.UserInfo {
	return models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName}
}
