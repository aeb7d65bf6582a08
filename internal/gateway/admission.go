package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/service/auth"
)

// Reason names why a connection was rejected.
type Reason string

// Rejection reasons
const (
	ReasonNoCredential      Reason = "no_credential"
	ReasonExpiredCredential Reason = "expired_credential"
	ReasonInvalidCredential Reason = "invalid_credential"
	ReasonInternalError     Reason = "internal_error"
)

// Close codes sent for each rejection reason.
const (
	CloseNoCredential      = 4001
	CloseExpiredCredential = 4002
	CloseInvalidCredential = 4003
	CloseInternalError     = 4500
)

// Code returns the websocket close code for the reason.
func (r Reason) Code() int {
	switch r {
	case ReasonNoCredential:
		return CloseNoCredential
	case ReasonExpiredCredential:
		return CloseExpiredCredential
	case ReasonInvalidCredential:
		return CloseInvalidCredential
	default:
		return CloseInternalError
	}
}

// Rejection is a refused admission.
type Rejection struct {
	Reason Reason
	Err    error
}

// Code returns the close code to send.
func (r *Rejection) Code() int {
	return r.Reason.Code()
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %v", r.Reason, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Admission is an accepted client.
type Admission struct {
	Identity  domain.Identity
	Anonymous bool
	ExpiresAt time.Time
}

// Policy decides how credentials are checked.
type Policy struct {
	// Mode is config.AuthModeStrict or config.AuthModePermissive.
	Mode string

	// AnonymousIdentity is assigned to credential-less clients in permissive mode.
	AnonymousIdentity domain.Identity
}

// PolicyFrom builds a Policy from loaded configuration.
func PolicyFrom(cfg config.AuthConfig) Policy {
	return Policy{
		Mode:              cfg.Mode,
		AnonymousIdentity: domain.Identity(cfg.AnonymousIdentity),
	}
}

// Admitter verifies credentials against a policy.
type Admitter struct {
	verifier auth.JWTService
	policy   Policy
}

// NewAdmitter creates an Admitter. An unknown mode is treated as strict.
func NewAdmitter(verifier auth.JWTService, policy Policy) *Admitter {
	if policy.Mode != config.AuthModePermissive {
		policy.Mode = config.AuthModeStrict
	}
	if policy.AnonymousIdentity.IsZero() {
		policy.AnonymousIdentity = "anonymous"
	}
	return &Admitter{verifier: verifier, policy: policy}
}

// Admit checks credential and returns either an admission or a rejection.
func (a *Admitter) Admit(ctx context.Context, credential string) (Admission, *Rejection) {
	if credential == "" {
		if a.policy.Mode == config.AuthModePermissive {
			return Admission{Identity: a.policy.AnonymousIdentity, Anonymous: true}, nil
		}
		return Admission{}, &Rejection{Reason: ReasonNoCredential, Err: auth.ErrMissingToken}
	}

	claims, err := a.verifier.ValidateToken(ctx, credential)
	if err != nil {
		return Admission{}, &Rejection{Reason: classify(err), Err: err}
	}
	if claims == nil || claims.Identity.IsZero() {
		return Admission{}, &Rejection{Reason: ReasonInvalidCredential, Err: auth.ErrMissingIdentity}
	}
	return Admission{Identity: claims.Identity, ExpiresAt: claims.ExpiresAt}, nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return ReasonNoCredential
	case errors.Is(err, auth.ErrExpiredToken):
		return ReasonExpiredCredential
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrMissingIdentity):
		return ReasonInvalidCredential
	default:
		return ReasonInternalError
	}
}

// CredentialFromRequest returns the token from the "token" query parameter,
// falling back to an "Authorization: Bearer" header.
func CredentialFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
