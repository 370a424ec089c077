package auth

import (
	"context"

	"mindgraph-backend/pkg/errors"
)

// contextKey is a private context key type.
type contextKey string

const (
	contextKeyUser          contextKey = "user"
	contextKeyAuthorization contextKey = "forwarded_authorization"
)

// UserContext is the authenticated caller extracted by the auth
// middleware.
type UserContext struct {
	UserID string
	Email  string
	Roles  []string
}

// WithUser stores the authenticated user on the context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

// GetUserFromContext extracts the authenticated user.
func GetUserFromContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(contextKeyUser).(*UserContext)
	if !ok || user == nil || user.UserID == "" {
		return nil, errors.NewUnauthorizedError("no authenticated user in context")
	}
	return user, nil
}

// WithForwardedAuthorization stores the caller's raw Authorization
// header so peer calls made on this request's behalf can carry it.
func WithForwardedAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKeyAuthorization, header)
}

// ForwardedAuthorization returns the caller's Authorization header, or
// empty when none was captured.
func ForwardedAuthorization(ctx context.Context) string {
	header, _ := ctx.Value(contextKeyAuthorization).(string)
	return header
}
