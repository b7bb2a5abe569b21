package middleware

import (
	"context"

	"github.com/angelmondragon/storefront/pkg/enums"
)

// Identity is the authenticated caller, taken from the access token.
type Identity struct {
	UserID string
	Email  string
	Role   enums.Role
}

type identityKey struct{}

// WithIdentity seeds the caller into ctx. Handler tests use it instead of
// minting tokens.
func WithIdentity(ctx context.Context, userID, email string, role enums.Role) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, Email: email, Role: role})
}

// IdentityFromContext reports ok=false for anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

func RoleFromContext(ctx context.Context) enums.Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

func EmailFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Email
}
