package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/relay-adapter/pkg/secrets"
)

// AWSResolver resolves per-client configuration from AWS Secrets Manager,
// caching parsed results locally. It is generic over the resolved type T.
//
// Secret naming convention: {env}/{clientID}/{venue}
type AWSResolver[T any] struct {
	logger   *zap.Logger
	env      string
	venue    string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
	parse    func(map[string]string) (T, error)
}

// NewAWSResolver constructs a resolver that uses parse to turn the raw secret map into T.
func NewAWSResolver[T any](
	logger *zap.Logger,
	env string,
	venue string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
	parse func(map[string]string) (T, error),
) *AWSResolver[T] {
	return &AWSResolver[T]{
		logger:   logger,
		env:      strings.ToLower(env),
		venue:    strings.ToLower(venue),
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

func (r *AWSResolver[T]) cacheKey(clientID string) string {
	return strings.ToLower(clientID + "|" + r.venue)
}

// SecretName returns the Secrets Manager key of a client.
func (r *AWSResolver[T]) SecretName(clientID string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, clientID, r.venue))
}

// Resolve returns the cached T for clientID or fetches and parses its secret.
func (r *AWSResolver[T]) Resolve(ctx context.Context, clientID string) (T, error) {
	var zero T
	if strings.TrimSpace(clientID) == "" {
		return zero, fmt.Errorf("client id is required")
	}

	key := r.cacheKey(clientID)
	if cfg, ok := r.cache.Get(key); ok {
		return cfg, nil
	}

	name := r.SecretName(clientID)
	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return zero, fmt.Errorf("resolve client config for %q: %w", clientID, err)
	}

	cfg, err := r.parse(raw)
	if err != nil {
		return zero, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, cfg)
	r.logger.Info("secrets.client_config_resolved",
		zap.String("client", clientID),
		zap.String("venue", r.venue))
	return cfg, nil
}

// Invalidate drops the cached entry so the next Resolve re-reads the secret.
func (r *AWSResolver[T]) Invalidate(clientID string) {
	r.cache.Bust(r.cacheKey(clientID))
}

// DiscoverClients lists the client ids that have a secret for this venue,
// i.e. names matching "{env}/{clientID}/{venue}".
func (r *AWSResolver[T]) DiscoverClients(ctx context.Context) ([]string, error) {
	prefix := r.env + "/"
	suffix := "/" + r.venue

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover clients: %w", err)
	}

	var clients []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if id != "" && !strings.Contains(id, "/") {
			clients = append(clients, id)
		}
	}

	r.logger.Info("secrets.clients_discovered",
		zap.String("venue", r.venue),
		zap.Int("count", len(clients)))
	return clients, nil
}
