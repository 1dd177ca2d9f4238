package luckydraw

import "context"

// IdentityResolver supplies the authenticated user's numeric id
type IdentityResolver interface {
	CurrentUserID(ctx context.Context) (int64, error)
}

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user id
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext extracts the user id placed by WithUserID
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok && id > 0
}

// ContextIdentityResolver reads the user id from the request context
type ContextIdentityResolver struct{}

// NewContextIdentityResolver creates a resolver backed by WithUserID
func NewContextIdentityResolver() *ContextIdentityResolver {
	return &ContextIdentityResolver{}
}

// CurrentUserID returns ErrUnauthorized when the context has no user
func (ContextIdentityResolver) CurrentUserID(ctx context.Context) (int64, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return 0, ErrUnauthorized
	}
	return id, nil
}

// StaticIdentityResolver always resolves to the same user
type StaticIdentityResolver struct {
	UserID int64
}

// CurrentUserID returns the fixed user id
func (s StaticIdentityResolver) CurrentUserID(context.Context) (int64, error) {
	if s.UserID <= 0 {
		return 0, ErrUnauthorized
	}
	return s.UserID, nil
}
