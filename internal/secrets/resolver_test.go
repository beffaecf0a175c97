package secrets

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/pkg/config"
	pkgsecrets "github.com/Checker-Finance/relay-adapter/pkg/secrets"
)

const (
	devKey   = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	ownerKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

// --- Mock Provider ---

type mockProvider struct {
	secrets     map[string]map[string]string
	secretNames []string
	err         error
	calls       int
}

func (m *mockProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.secrets[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("secret not found: %s", key)
}

func (m *mockProvider) ListSecrets(_ context.Context, _ string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.secretNames, nil
}

func newTestResolver(p pkgsecrets.Provider) *RelayResolver {
	cfg := &config.Config{
		Env:           "dev",
		RelayBaseURL:  "https://api.relay.link",
		RelayReferrer: "relay-adapter",
	}
	return NewRelayResolver(zap.NewNop(), cfg, p, pkgsecrets.NewCache[ClientSettings](5*time.Minute))
}

// --- Tests ---

func TestRelayResolver_FetchThenCache(t *testing.T) {
	mock := &mockProvider{secrets: map[string]map[string]string{
		"dev/client-001/relay": {
			"api_key":         "k-123",
			"signer_key":      devKey,
			"safe_owner_keys": devKey + ", " + ownerKey,
		},
	}}
	r := newTestResolver(mock)

	s, err := r.Resolve(context.Background(), "client-001")
	require.NoError(t, err)
	assert.Equal(t, "client-001", s.Relay.ClientID)
	assert.Equal(t, "k-123", s.Relay.APIKey)
	assert.Equal(t, "https://api.relay.link", s.Relay.BaseURL, "falls back to service default")
	assert.Equal(t, "relay-adapter", s.Relay.Referrer)
	assert.Len(t, s.SafeOwnerKeys, 2)
	assert.Equal(t, 1, mock.calls)

	_, err = r.Resolve(context.Background(), "CLIENT-001")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.calls, "cache key is case-insensitive")

	r.Invalidate("client-001")
	_, err = r.Resolve(context.Background(), "client-001")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.calls)
}

func TestRelayResolver_ProviderError(t *testing.T) {
	r := newTestResolver(&mockProvider{err: fmt.Errorf("aws: access denied")})
	s, err := r.Resolve(context.Background(), "client-001")
	assert.ErrorContains(t, err, "access denied")
	assert.Nil(t, s)
}

func TestRelayResolver_EmptyClientID(t *testing.T) {
	r := newTestResolver(&mockProvider{})
	_, err := r.Resolve(context.Background(), " ")
	assert.ErrorContains(t, err, "client id is required")
}

func TestParseClientSettings(t *testing.T) {
	defaults := relay.ClientConfig{BaseURL: "https://api.relay.link"}

	_, err := ParseClientSettings(map[string]string{}, defaults)
	assert.ErrorContains(t, err, "signer_key")

	_, err = ParseClientSettings(map[string]string{"signer_key": "0x1234"}, defaults)
	assert.ErrorContains(t, err, "invalid 'signer_key'")

	_, err = ParseClientSettings(map[string]string{"signer_key": devKey}, relay.ClientConfig{})
	assert.ErrorContains(t, err, "base_url")

	s, err := ParseClientSettings(map[string]string{"signer_key": devKey, "base_url": "https://testnets.relay.link"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "https://testnets.relay.link", s.Relay.BaseURL)
	assert.Empty(t, s.SafeOwnerKeys)
}

func TestClientSettings_Signers(t *testing.T) {
	s := ClientSettings{SignerKey: devKey}
	sg, err := s.Signer()
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", sg.Address().Hex())

	owners, err := s.SafeOwners()
	require.NoError(t, err)
	require.Len(t, owners, 1, "signer doubles as sole owner")

	s.SafeOwnerKeys = []string{devKey, ownerKey}
	owners, err = s.SafeOwners()
	require.NoError(t, err)
	assert.Len(t, owners, 2)

	_, err = (&ClientSettings{}).Signer()
	assert.Error(t, err)
}

func TestDiscoverClients(t *testing.T) {
	mock := &mockProvider{secretNames: []string{
		"dev/acme/relay",
		"dev/globex/relay",
		"dev/acme/rio",
		"dev/nested/path/relay",
		"prod/acme/relay",
	}}
	r := newTestResolver(mock)

	clients, err := r.DiscoverClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, clients)
}

func TestStaticResolver(t *testing.T) {
	r := &StaticResolver{Settings: ClientSettings{SignerKey: devKey}}
	s, err := r.Resolve(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, "cli", s.Relay.ClientID)
	assert.Equal(t, "", r.Settings.Relay.ClientID, "static settings are not mutated")
}
