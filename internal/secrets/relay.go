package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/internal/wallet"
	"github.com/Checker-Finance/relay-adapter/pkg/config"
	pkgsecrets "github.com/Checker-Finance/relay-adapter/pkg/secrets"
)

// Venue is the last segment of every relay secret name.
const Venue = "relay"

// ClientSettings is everything a bridge flow needs for one client.
//
// Secret JSON format:
//
//	{"api_key": "...", "base_url": "https://api.relay.link", "referrer": "acme",
//	 "signer_key": "0x...", "safe_owner_keys": "0x...,0x..."}
type ClientSettings struct {
	Relay         relay.ClientConfig
	SignerKey     string
	SafeOwnerKeys []string
}

// Signer returns the client's EOA / smart-account owner key.
func (s *ClientSettings) Signer() (*wallet.Signer, error) {
	if s.SignerKey == "" {
		return nil, fmt.Errorf("client %q has no signer key", s.Relay.ClientID)
	}
	return wallet.FromPrivateKeyHex(s.SignerKey)
}

// SafeOwners returns the Safe owner keys, falling back to the signer key.
func (s *ClientSettings) SafeOwners() ([]*wallet.Signer, error) {
	keys := s.SafeOwnerKeys
	if len(keys) == 0 && s.SignerKey != "" {
		keys = []string{s.SignerKey}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("client %q has no safe owner keys", s.Relay.ClientID)
	}
	out := make([]*wallet.Signer, 0, len(keys))
	for i, k := range keys {
		sg, err := wallet.FromPrivateKeyHex(k)
		if err != nil {
			return nil, fmt.Errorf("safe owner key %d: %w", i, err)
		}
		out = append(out, sg)
	}
	return out, nil
}

// RelayResolver resolves ClientSettings from AWS Secrets Manager.
type RelayResolver struct {
	inner *AWSResolver[ClientSettings]
}

// NewRelayResolver builds a resolver whose secrets fall back to the service-wide
// relay base URL, API key and referrer.
func NewRelayResolver(
	logger *zap.Logger,
	cfg *config.Config,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[ClientSettings],
) *RelayResolver {
	defaults := relay.ClientConfig{
		BaseURL:  cfg.RelayBaseURL,
		APIKey:   cfg.RelayAPIKey,
		Referrer: cfg.RelayReferrer,
	}
	parse := func(m map[string]string) (ClientSettings, error) {
		return ParseClientSettings(m, defaults)
	}
	return &RelayResolver{inner: NewAWSResolver(logger, cfg.Env, Venue, provider, cache, parse)}
}

// Resolve returns the settings of clientID with ClientID filled in.
func (r *RelayResolver) Resolve(ctx context.Context, clientID string) (*ClientSettings, error) {
	s, err := r.inner.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	s.Relay.ClientID = clientID
	return &s, nil
}

// Invalidate forgets the cached settings of clientID.
func (r *RelayResolver) Invalidate(clientID string) {
	r.inner.Invalidate(clientID)
}

// DiscoverClients lists all clients with a relay secret.
func (r *RelayResolver) DiscoverClients(ctx context.Context) ([]string, error) {
	return r.inner.DiscoverClients(ctx)
}

// ParseClientSettings reads a raw secret map; empty relay fields take defaults.
func ParseClientSettings(m map[string]string, defaults relay.ClientConfig) (ClientSettings, error) {
	s := ClientSettings{
		Relay: relay.ClientConfig{
			BaseURL:  firstNonEmpty(m["base_url"], defaults.BaseURL),
			APIKey:   firstNonEmpty(m["api_key"], defaults.APIKey),
			Referrer: firstNonEmpty(m["referrer"], defaults.Referrer),
		},
		SignerKey: strings.TrimSpace(m["signer_key"]),
	}
	if s.Relay.BaseURL == "" {
		return ClientSettings{}, fmt.Errorf("missing required field 'base_url'")
	}
	if s.SignerKey == "" {
		return ClientSettings{}, fmt.Errorf("missing required field 'signer_key'")
	}
	if _, err := wallet.FromPrivateKeyHex(s.SignerKey); err != nil {
		return ClientSettings{}, fmt.Errorf("invalid 'signer_key': %w", err)
	}
	for _, k := range strings.Split(m["safe_owner_keys"], ",") {
		if k = strings.TrimSpace(k); k != "" {
			s.SafeOwnerKeys = append(s.SafeOwnerKeys, k)
		}
	}
	return s, nil
}

// StaticResolver serves one fixed ClientSettings for every client id (relayctl, tests).
type StaticResolver struct {
	Settings ClientSettings
}

// Resolve returns a copy of the static settings tagged with clientID.
func (r *StaticResolver) Resolve(_ context.Context, clientID string) (*ClientSettings, error) {
	s := r.Settings
	s.Relay.ClientID = clientID
	return &s, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
