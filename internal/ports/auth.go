package ports

import "context"

type AuthClaims struct {
	UserID string
	Email  string
	Role   string
	Valid  bool
}

// AuthClient validates bearer tokens issued by the identity provider.
type AuthClient interface {
	ValidateToken(ctx context.Context, token string) (AuthClaims, error)
}

// Authorizer decides whether a role may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, role string, action string) error
}
