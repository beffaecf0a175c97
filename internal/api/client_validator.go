package api

import (
	"context"

	"github.com/Checker-Finance/relay-adapter/internal/bridge"
)

// ResolverValidator implements ClientValidator by attempting to resolve
// the client's settings. If resolution succeeds (cache hit or AWS Secrets
// Manager lookup), the client is considered known.
type ResolverValidator struct {
	resolver bridge.ClientResolver
}

// NewResolverValidator creates a ClientValidator backed by a ClientResolver.
func NewResolverValidator(resolver bridge.ClientResolver) *ResolverValidator {
	return &ResolverValidator{resolver: resolver}
}

// IsKnownClient returns true if the client has valid settings.
func (v *ResolverValidator) IsKnownClient(ctx context.Context, clientID string) bool {
	_, err := v.resolver.Resolve(ctx, clientID)
	return err == nil
}
