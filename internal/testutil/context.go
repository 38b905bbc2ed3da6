package testutil

import (
	"context"

	"github.com/flexprice/subsync/internal/types"
)

const (
	TenantID = "tenant_test"
	UserID   = "user_test"
)

// SetupContext returns a context carrying the standard test identity
func SetupContext() context.Context {
	ctx := context.Background()
	ctx = types.SetTenantID(ctx, TenantID)
	ctx = types.SetUserID(ctx, UserID)
	ctx = types.SetRequestID(ctx, types.GenerateUUID())
	return ctx
}
