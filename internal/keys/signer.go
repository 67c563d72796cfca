package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CloudReel/sentinel/internal/metrics"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrInvalidToken covers every validation failure a caller should treat
// the same way: expired, tampered, or signed with a revoked key.
var ErrInvalidToken = errors.New("keys: invalid signed url")

// SignedURLClaims is the payload of a playback token.
type SignedURLClaims struct {
	Resource string `json:"resource"`
	SignedAt string `json:"signedAt"`
	jwt.RegisteredClaims
}

// SignURL mints a time-limited token for a resource using the current
// signing key. The key id travels in the token header so validation can
// find the right key without trying each one.
func (m *Manager) SignURL(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	if resource == "" {
		return "", errors.New("keys: resource is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	key, err := m.CurrentKey(ctx)
	if err != nil {
		return "", err
	}

	now := m.clock.Now()
	claims := SignedURLClaims{
		Resource: resource,
		SignedAt: now.UTC().Format(time.RFC3339),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "sentinel",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	signed, err := token.SignedString(key.KeyData)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}

	if err := m.recordUsage(ctx, key.ID); err != nil {
		m.logger.Warn("signed url usage not recorded", zap.Error(err))
	}
	metrics.SignedURLs.Inc()
	return signed, nil
}

// Validate checks a signed URL token and returns its claims. Tokens signed
// with a deactivated or expired key fail even when the token itself has
// time left.
func (m *Manager) Validate(ctx context.Context, tokenString string) (*SignedURLClaims, error) {
	claims := &SignedURLClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock.Now),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing key id")
		}
		key, err := m.loadKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		if !key.IsActive {
			return nil, errors.New("key deactivated")
		}
		if m.clock.Now().After(key.ExpiresAt) {
			return nil, errors.New("key expired")
		}
		return key.KeyData, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// recordUsage bumps the usage counter on a key so the manager can rotate
// early when a key has signed enough tokens.
func (m *Manager) recordUsage(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := m.loadKey(ctx, keyID)
	if err != nil {
		return err
	}
	key.UsageCount++
	now := m.clock.Now()
	key.LastUsed = &now
	return m.save(ctx, key)
}
