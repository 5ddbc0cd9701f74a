package api

import (
	"context"

	"github.com/Checker-Finance/darkpool-adapter/internal/secrets"
)

// ResolverValidator implements ClientValidator by resolving the client's
// relayer credential. If resolution succeeds (cache hit or AWS Secrets
// Manager lookup), the client is considered known.
type ResolverValidator struct {
	source secrets.CredentialSource
}

// NewResolverValidator creates a ClientValidator backed by a CredentialSource.
func NewResolverValidator(source secrets.CredentialSource) *ResolverValidator {
	return &ResolverValidator{source: source}
}

// IsKnownClient returns true if a credential resolves for clientID.
func (v *ResolverValidator) IsKnownClient(ctx context.Context, clientID string) bool {
	_, err := v.source.Credential(ctx, clientID)
	return err == nil
}
