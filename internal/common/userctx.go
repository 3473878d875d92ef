package common

import (
	"context"
	"slices"
)

// UserContext holds the caller identity resolved from a bearer token.
// When absent (nil), the server operates in single-user mode.
type UserContext struct {
	UserID     string
	Portfolios []string // empty means all portfolios
	ReadOnly   bool
}

type contextKey int

const userContextKey contextKey = iota

// WithUserContext stores a UserContext in the request context.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

// UserContextFromContext retrieves the UserContext from context, or nil if absent.
func UserContextFromContext(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey).(*UserContext)
	return uc
}

// ResolveUserID returns the UserID from context, or "default" when no user context is present.
func ResolveUserID(ctx context.Context) string {
	if uc := UserContextFromContext(ctx); uc != nil && uc.UserID != "" {
		return uc.UserID
	}
	return "default"
}

// IsReadOnly reports whether the caller holds a read-only share token.
func IsReadOnly(ctx context.Context) bool {
	uc := UserContextFromContext(ctx)
	return uc != nil && uc.ReadOnly
}

// CanAccessPortfolio reports whether the caller may see the named portfolio.
func CanAccessPortfolio(ctx context.Context, portfolioID string) bool {
	uc := UserContextFromContext(ctx)
	if uc == nil || len(uc.Portfolios) == 0 {
		return true
	}
	return slices.Contains(uc.Portfolios, portfolioID)
}
