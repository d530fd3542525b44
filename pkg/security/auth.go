package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidToken is returned for malformed, expired or forged tokens
	ErrInvalidToken = errors.New("invalid session token")
	// ErrTokenMismatch is returned when a valid token names another user or session
	ErrTokenMismatch = errors.New("session token does not match request")
)

// TokenConfig holds session token configuration
type TokenConfig struct {
	Secret    string        `json:"jwt_secret" validate:"required,min=32"`
	Issuer    string        `json:"jwt_issuer" validate:"required"`
	Audience  string        `json:"jwt_audience"`
	TTL       time.Duration `json:"jwt_ttl" validate:"min=5m"`
	ClockSkew time.Duration `json:"jwt_clock_skew"`
}

// DefaultTokenConfig returns a configuration with a random per-process secret
func DefaultTokenConfig() *TokenConfig {
	return &TokenConfig{
		Secret:    generateRandomString(32),
		Issuer:    "rag-ingest",
		Audience:  "rag-ingest-api",
		TTL:       24 * time.Hour,
		ClockSkew: time.Minute,
	}
}

// Claims binds a token to one user and one upload session
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates session tokens
type TokenManager struct {
	config *TokenConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewTokenManager creates a token manager
func NewTokenManager(config *TokenConfig, logger zerolog.Logger) (*TokenManager, error) {
	if config == nil {
		config = DefaultTokenConfig()
	}
	if len(config.Secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 characters")
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}

	return &TokenManager{
		config: config,
		logger: logger.With().Str("component", "security").Logger(),
		now:    time.Now,
	}, nil
}

// Issue signs a token for the user and session. The token never outlives
// expiresAt when it is set.
func (tm *TokenManager) Issue(userID, sessionID string, expiresAt time.Time) (string, error) {
	now := tm.now()
	exp := now.Add(tm.config.TTL)
	if !expiresAt.IsZero() && expiresAt.Before(exp) {
		exp = expiresAt
	}

	claims := &Claims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateRandomString(8),
		},
	}
	if tm.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{tm.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(tm.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	tm.logger.Debug().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Time("expires_at", exp).
		Msg("Session token issued")
	return signed, nil
}

// Validate parses and verifies a token
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.config.Issuer),
		jwt.WithLeeway(tm.config.ClockSkew),
		jwt.WithTimeFunc(tm.now),
	}
	if tm.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(tm.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(tm.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authorize validates a token and checks it was issued for userID and sessionID
func (tm *TokenManager) Authorize(tokenString, userID, sessionID string) (*Claims, error) {
	claims, err := tm.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.UserID != userID || claims.SessionID != sessionID {
		tm.logger.Warn().
			Str("user_id", userID).
			Str("session_id", sessionID).
			Str("token_user_id", claims.UserID).
			Str("token_session_id", claims.SessionID).
			Msg("Session token mismatch")
		return nil, ErrTokenMismatch
	}
	return claims, nil
}

func generateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}
