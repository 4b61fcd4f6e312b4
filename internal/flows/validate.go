package flows

import (
	"strings"

	"github.com/MrEthical07/credcore/jwt"
)

// ValidateDeps captures access token validation dependencies. Validation
// never touches a store.
type ValidateDeps struct {
	ValidateAccess  func(string) (*jwt.Claims, error)
	ErrTokenMissing error
}

// ParseBearer extracts the credential from an Authorization header value.
// The scheme match is case-insensitive; anything but a single non-empty
// credential after "Bearer" is rejected.
func ParseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// RunAuthenticate validates the bearer credential in header as an access token.
func RunAuthenticate(header string, deps ValidateDeps) (*jwt.Claims, error) {
	token, ok := ParseBearer(header)
	if !ok {
		return nil, deps.ErrTokenMissing
	}
	return deps.ValidateAccess(token)
}
