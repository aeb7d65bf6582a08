package auth

import (
	"context"
	"time"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// TestJWTService exposes token minting with arbitrary expiry for tests.
type TestJWTService struct {
	*hmacJWTService
}

// NewTestJWTService creates a JWT service with an injectable clock.
func NewTestJWTService(secret string, lifetime time.Duration, timeFunc func() time.Time) *TestJWTService {
	if timeFunc == nil {
		timeFunc = time.Now
	}
	return &TestJWTService{&hmacJWTService{
		signingKey:    []byte(secret),
		tokenLifetime: lifetime,
		timeFunc:      timeFunc,
		clockSkew:     30 * time.Second,
	}}
}

// GenerateTokenWithExpiry signs an access token that expires at expiresAt.
func (s *TestJWTService) GenerateTokenWithExpiry(
	ctx context.Context,
	identity domain.Identity,
	expiresAt time.Time,
) (string, error) {
	return s.generate(ctx, identity, expiresAt)
}
