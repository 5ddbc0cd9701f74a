package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
	"github.com/Checker-Finance/darkpool-adapter/pkg/darkpool"
	pkgsecrets "github.com/Checker-Finance/darkpool-adapter/pkg/secrets"
)

// CredentialSource returns the relayer credential to sign a client's requests with.
type CredentialSource interface {
	Credential(ctx context.Context, clientID string) (darkpool.Credential, error)
	// Invalidate drops any cached credential for clientID.
	Invalidate(clientID string)
}

// StaticSource serves one credential for every client, e.g. from the environment.
type StaticSource struct {
	cred darkpool.Credential
}

func NewStaticSource(cred darkpool.Credential) *StaticSource {
	return &StaticSource{cred: cred}
}

func (s *StaticSource) Credential(context.Context, string) (darkpool.Credential, error) {
	return s.cred, nil
}

func (s *StaticSource) Invalidate(string) {}

// AWSResolver resolves per-client relayer credentials from AWS Secrets
// Manager, caching results locally to reduce API calls.
//
// Secret naming convention: {env}/{clientID}/{venue}
type AWSResolver struct {
	logger   *zap.Logger
	env      string
	venue    string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.CredentialCache
}

// NewAWSResolver constructs a multi-tenant credential resolver.
func NewAWSResolver(
	logger *zap.Logger,
	env string,
	venue string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.CredentialCache,
) *AWSResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AWSResolver{
		logger:   logger,
		env:      env,
		venue:    venue,
		provider: provider,
		cache:    cache,
	}
}

func (r *AWSResolver) secretName(clientID string) pkgsecrets.SecretName {
	return pkgsecrets.NewSecretName(r.env, clientID, r.venue)
}

// Credential fetches or returns the cached credential for clientID.
func (r *AWSResolver) Credential(ctx context.Context, clientID string) (darkpool.Credential, error) {
	name := r.secretName(clientID)
	cred, hit, err := r.cache.Load(name, func() (darkpool.Credential, error) {
		raw, err := r.provider.RelayerCredentials(ctx, name)
		if err != nil {
			r.logger.Warn("aws.secret_fetch_failed",
				zap.Stringer("key", name),
				zap.Error(err))
			return darkpool.Credential{}, err
		}
		cred, err := darkpool.NewCredential(raw.APIKey, raw.APISecret)
		if err != nil {
			return darkpool.Credential{}, fmt.Errorf("parse secret %s: %w", name, err)
		}
		r.logger.Info("aws.client_credentials_resolved",
			zap.String("client", name.ClientID),
			zap.String("venue", name.Venue),
			zap.Stringer("credential", cred),
		)
		return cred, nil
	})
	if hit {
		metrics.IncCacheHit("hit")
	} else {
		metrics.IncCacheHit("miss")
	}
	if err != nil {
		return darkpool.Credential{}, fmt.Errorf("resolve credentials for %q: %w", clientID, err)
	}
	return cred, nil
}

// Invalidate forces the next lookup for clientID to hit Secrets Manager.
func (r *AWSResolver) Invalidate(clientID string) {
	r.cache.Bust(r.secretName(clientID))
}

// DiscoverClients lists all client IDs that have secrets configured for
// this venue.
func (r *AWSResolver) DiscoverClients(ctx context.Context) ([]string, error) {
	names, err := r.provider.SecretNames(ctx, r.env, r.venue)
	if err != nil {
		return nil, fmt.Errorf("discover clients: %w", err)
	}

	clients := make([]string, 0, len(names))
	for _, n := range names {
		clients = append(clients, n.ClientID)
	}

	r.logger.Info("aws.clients_discovered",
		zap.Int("count", len(clients)),
		zap.Strings("clients", clients),
	)
	return clients, nil
}
