package service

import (
	"context"

	"transfer_cavity_lock/internal/models"
)

type identityKey struct{}

// WithIdentity attaches the signed-in account to ctx so commands issued
// under it are attributed in the event log.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the account attached by WithIdentity.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}
