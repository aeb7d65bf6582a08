package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/taskrelay/internal/api/shared"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
)

// errInvalidBody marks request bodies that are not the JSON the handler expects.
var errInvalidBody = errors.New("invalid request body")

// requireIdentity extracts the authenticated identity placed in the context
// by the auth middleware. It writes a 401 response and returns false when
// there is none.
func requireIdentity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		logger.FromContext(r.Context()).Warn("identity not found in request context")
		HandleAPIError(w, r, ErrUnauthorized, "")
		return "", false
	}
	return identity, true
}

// decodeOptionalJSON decodes the body into v, treating an empty body as
// absent. It writes a 400 response and returns false on malformed input.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := shared.DecodeJSON(w, r, v)
	switch {
	case err == nil, errors.Is(err, shared.ErrEmptyBody):
		return true
	default:
		HandleAPIError(w, r, fmt.Errorf("%w: %v", errInvalidBody, err), "")
		return false
	}
}
