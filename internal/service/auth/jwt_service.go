package auth

import (
	"context"
	"time"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// TokenTypeAccess is the only token type accepted for connections.
const TokenTypeAccess = "access"

// JWTService defines operations for managing JWT access tokens.
type JWTService interface {
	// GenerateToken creates a signed access token for the identity.
	GenerateToken(ctx context.Context, identity domain.Identity) (string, error)

	// ValidateToken verifies signature and time claims and extracts the identity.
	// Errors are ErrMissingToken, ErrExpiredToken, ErrTokenNotYetValid,
	// ErrMissingIdentity, ErrWrongTokenType or ErrInvalidToken.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims holds the verified content of an access token.
type Claims struct {
	// Identity comes from the user_id claim, which may be a string or a number.
	Identity domain.Identity

	// TokenType is empty for tokens minted without a type claim.
	TokenType string

	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}
