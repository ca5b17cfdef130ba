package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
)

// TokenType distinguishes the bearer tokens the engine accepts.
type TokenType string

const (
	// TokenTypeCandidate is an authenticated user taking exams.
	TokenTypeCandidate TokenType = "candidate"
	// TokenTypeAdmin is a grader or exam owner.
	TokenTypeAdmin TokenType = "admin"
	// TokenTypeAttempt is scoped to a single attempt and handed out on start.
	TokenTypeAttempt TokenType = "attempt"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id,omitempty"`
	AttemptID string    `json:"attempt_id,omitempty"` // Attempt only
	ExamID    string    `json:"exam_id,omitempty"`    // Attempt only
}

// TokenService issues attempt tokens and validates every bearer token.
// User and admin tokens are minted by the auth layer with the same secret.
type TokenService struct {
	cfg   *config.Config
	clock Clock
}

// NewTokenService creates a new TokenService.
func NewTokenService(cfg *config.Config, clock Clock) *TokenService {
	return &TokenService{cfg: cfg, clock: clock}
}

// IssueAttemptToken creates a token scoped to one attempt. For timed attempts
// it expires with the attempt, plus a grace period to fetch the result.
func (s *TokenService) IssueAttemptToken(a *model.ExamAttempt) (string, error) {
	now := s.clock.Now()
	exp := now.Add(s.cfg.AttemptTokenExpiry)
	if a.ExpiresAt != nil {
		if limit := a.ExpiresAt.Add(time.Hour); limit.Before(exp) {
			exp = limit
		}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TokenType: TokenTypeAttempt,
		AttemptID: a.ID.String(),
		ExamID:    a.ExamID.String(),
	}
	if a.UserID != nil {
		claims.UserID = *a.UserID
	}
	return s.sign(claims)
}

// IssueUserToken creates a candidate or admin token. Used by tooling and
// tests; production logins happen elsewhere.
func (s *TokenService) IssueUserToken(t TokenType, userID int) (string, error) {
	if t != TokenTypeCandidate && t != TokenTypeAdmin {
		return "", fmt.Errorf("unsupported token type %q", t)
	}
	now := s.clock.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: t,
		UserID:    userID,
	}
	return s.sign(claims)
}

func (s *TokenService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *TokenService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// Candidate returns the authenticated candidate behind a candidate token.
func (c *Claims) Candidate() (model.Candidate, bool) {
	if c.TokenType != TokenTypeCandidate || c.UserID == 0 {
		return model.Candidate{}, false
	}
	id := c.UserID
	return model.Candidate{UserID: &id}, true
}

// CanAccessAttempt reports whether the token may act on attemptID.
func (c *Claims) CanAccessAttempt(attemptID uuid.UUID) bool {
	return c.TokenType == TokenTypeAttempt && c.AttemptID == attemptID.String()
}
