package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/security"
	"custodial-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code" validate:"omitempty,len=6,numeric"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *LedgerService) issue(user *models.User) (*models.AuthResult, error) {
	if s.tokens == nil {
		return nil, fmt.Errorf("token manager not configured")
	}
	token, expiresAt, err := s.tokens.Issue(user.Id, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &models.AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// CreateUser registers a user with the given role. It backs both public
// registration and the adduser command.
func (s *LedgerService) CreateUser(ctx context.Context, req RegisterRequest, role string) (*models.User, error) {
	hash, err := security.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrWeakPassword) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, store.CreateUserParams{
		Id:           uuid.New().String(),
		Name:         strings.TrimSpace(req.Name),
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *LedgerService) Register(ctx context.Context, req RegisterRequest) (*models.AuthResult, error) {
	user, err := s.CreateUser(ctx, req, models.RoleUser)
	if err != nil {
		return nil, err
	}
	zap.L().Info("User registered", zap.String("user_id", user.Id))
	return s.issue(user)
}

// Login checks the password, refuses suspended users and requires a valid
// TOTP code from admins who enrolled one.
func (s *LedgerService) Login(ctx context.Context, req LoginRequest) (*models.AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !security.CheckPassword(user.PasswordHash, req.Password) {
		zap.L().Warn("Failed login attempt", zap.String("user_id", user.Id))
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, fmt.Errorf("%w: account %s", ErrForbidden, user.Status)
	}

	if user.IsAdmin() && user.TotpSecret != "" {
		if req.TOTPCode == "" {
			return nil, ErrTOTPRequired
		}
		secret, err := s.decrypt(user.TotpSecret)
		if err != nil {
			return nil, fmt.Errorf("unable to read totp secret: %w", err)
		}
		if !security.ValidateTOTP(req.TOTPCode, secret) {
			return nil, ErrInvalidCredentials
		}
	}

	return s.issue(user)
}

// EnrollTOTP generates a new second factor for an admin and stores it encrypted.
func (s *LedgerService) EnrollTOTP(ctx context.Context, userId string) (*security.TOTPKey, error) {
	user, err := s.store.GetUserById(ctx, userId)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return nil, fmt.Errorf("%w: totp is for admin accounts", ErrForbidden)
	}

	key, err := security.GenerateTOTP(s.totpIssuer, user.Email)
	if err != nil {
		return nil, err
	}
	sealed, err := s.encrypt(key.Secret)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetTotpSecret(ctx, user.Id, sealed); err != nil {
		return nil, err
	}

	zap.L().Info("TOTP enrolled", zap.String("user_id", user.Id))
	return key, nil
}

func (s *LedgerService) Profile(ctx context.Context, userId string) (*models.User, error) {
	return s.store.GetUserById(ctx, userId)
}

// Authenticate verifies a bearer token and that its user is still active.
func (s *LedgerService) Authenticate(ctx context.Context, token string) (*security.Claims, error) {
	if s.tokens == nil {
		return nil, fmt.Errorf("token manager not configured")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserById(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, security.ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, fmt.Errorf("%w: account %s", ErrForbidden, user.Status)
	}
	// role changes take effect without waiting for token expiry
	claims.Role = user.Role
	return claims, nil
}

func (s *LedgerService) encrypt(plaintext string) (string, error) {
	if s.encryptor == nil {
		return "", fmt.Errorf("encryption key not configured")
	}
	return s.encryptor.Encrypt(plaintext)
}

func (s *LedgerService) decrypt(sealed string) (string, error) {
	if s.encryptor == nil {
		return "", fmt.Errorf("encryption key not configured")
	}
	return s.encryptor.Decrypt(sealed)
}
