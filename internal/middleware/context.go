package middleware

import (
	"context"

	"github.com/ghaggin/envelope/internal/model"
)

type childContextKey struct{}

type parentContextKey struct{}

// ChildFromContext returns the child id verified by Guard.Kids.
func ChildFromContext(ctx context.Context) (string, bool) {
	childID, ok := ctx.Value(childContextKey{}).(string)
	return childID, ok
}

// ParentFromContext returns the parent session checked by Guard.Parents.
func ParentFromContext(ctx context.Context) (*model.Session, bool) {
	session, ok := ctx.Value(parentContextKey{}).(*model.Session)
	return session, ok
}

func withChild(ctx context.Context, childID string) context.Context {
	return context.WithValue(ctx, childContextKey{}, childID)
}

func withParent(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, parentContextKey{}, session)
}
