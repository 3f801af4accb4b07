package service

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/config"
)

// TokenType distinguishes learner vs proctor tokens.
type TokenType string

const (
	TokenTypeLearner TokenType = "learner"
	TokenTypeProctor TokenType = "proctor"
)

// Proctor permissions.
const (
	PermSessionsRead   = "sessions:read"
	PermSessionsCancel = "sessions:cancel"
	PermSessionsReview = "sessions:review"
	PermExamsPublish   = "exams:publish"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions,omitempty"` // Proctor only
}

// HasPermission reports whether the claims grant perm.
func (c *Claims) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// AuthService issues and validates JWTs. Identities come from the upstream
// identity provider; this service never sees passwords.
type AuthService struct {
	cfg *config.Config
	now func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg, now: time.Now}
}

// GenerateLearnerToken creates a JWT for a learner.
func (s *AuthService) GenerateLearnerToken(userID string) (string, error) {
	return s.sign(TokenTypeLearner, userID, nil)
}

// GenerateProctorToken creates a JWT for a proctor with permissions embedded.
func (s *AuthService) GenerateProctorToken(userID string, permissions []string) (string, error) {
	return s.sign(TokenTypeProctor, userID, permissions)
}

func (s *AuthService) sign(tt TokenType, userID string, permissions []string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := s.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:   tt,
		UserID:      userID,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
