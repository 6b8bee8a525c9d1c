// Package tenant carries the caller's tenant through a request context.
package tenant

import (
	"context"
	"strings"

	"github.com/garyjia/pieceflow/internal/domain/ledger"
)

type contextKey string

const tenantKey contextKey = "tenant"

// WithID returns a context scoped to tenantID
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, strings.TrimSpace(tenantID))
}

// FromContext returns the tenant carried by ctx.
// A missing or blank tenant is a validation error.
func FromContext(ctx context.Context) (string, error) {
	id, _ := ctx.Value(tenantKey).(string)
	if id == "" {
		return "", ledger.Invalid("tenant_id", "is required")
	}
	return id, nil
}
