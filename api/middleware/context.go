package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/internal/orders"
	"github.com/jmuthoni/samani-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the actor role into the context.
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}

// ActorFromContext rebuilds the authenticated actor for service calls.
func ActorFromContext(ctx context.Context) orders.Actor {
	actor := orders.Actor{Role: enums.UserRole(RoleFromContext(ctx))}
	if id, err := uuid.Parse(UserIDFromContext(ctx)); err == nil {
		actor.UserID = id
	}
	return actor
}
