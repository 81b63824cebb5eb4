package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/pkg/models"
)

type stubStore struct {
	identities []models.AgentIdentity
	err        error
	calls      int
}

func (s *stubStore) ListIdentities(ctx context.Context) ([]models.AgentIdentity, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.identities, nil
}

func (s *stubStore) GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error) {
	for i := range s.identities {
		if s.identities[i].TenantID == tenantID && s.identities[i].AgentID == agentID {
			return &s.identities[i], nil
		}
	}
	return nil, assert.AnError
}

func testIdentities() []models.AgentIdentity {
	return []models.AgentIdentity{
		{
			AgentID:      "exec-1",
			TenantID:     "t1",
			Role:         models.RoleExecutive,
			Capabilities: []models.Action{models.ActionPropose, models.ActionQuery},
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		{
			AgentID:      "jud-1",
			TenantID:     "t2",
			Role:         models.RoleJudicial,
			Capabilities: []models.Action{models.ActionValidate, models.ActionAudit},
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

func TestResolverReloadAndResolve(t *testing.T) {
	store := &stubStore{identities: testIdentities()}
	r := NewResolver(store, config.IdentityConfig{ReloadIntervalSeconds: 30}, logger.NopLogger())

	assert.Nil(t, r.Resolve("t1", "exec-1"), "empty before first reload")

	require.NoError(t, r.Reload(context.Background()))

	got := r.Resolve("t1", "exec-1")
	require.NotNil(t, got)
	assert.Equal(t, models.RoleExecutive, got.Role)
	assert.Equal(t, 2, r.Size())

	// Tenant scoping: the same agent id under another tenant does not match.
	assert.Nil(t, r.Resolve("t2", "exec-1"))
}

func TestResolverReloadFailureKeepsSnapshot(t *testing.T) {
	store := &stubStore{identities: testIdentities()}
	r := NewResolver(store, config.IdentityConfig{}, logger.NopLogger())

	require.NoError(t, r.Reload(context.Background()))
	require.NotNil(t, r.Resolve("t1", "exec-1"))

	store.err = assert.AnError
	require.Error(t, r.Reload(context.Background()))

	assert.NotNil(t, r.Resolve("t1", "exec-1"), "failed reload must not clear bindings")
}

type memRedemptions struct {
	seen map[string]bool
	err  error
}

func (m *memRedemptions) MarkRedeemed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func newTestTokenService() (*TokenService, *memRedemptions) {
	redemptions := &memRedemptions{}
	svc := NewTokenService(config.TokenConfig{
		SigningKey: "test-signing-key",
		TTL:        5 * time.Minute,
	}, redemptions)
	return svc, redemptions
}

func TestTokenMintAndRedeem(t *testing.T) {
	svc, _ := newTestTokenService()

	token, err := svc.Mint(context.Background(), "exec-1", "t1", "PROPOSE")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", token.AgentID)
	assert.Equal(t, models.ActionPropose, token.Action)

	claims, err := svc.Redeem(context.Background(), token.Token)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", claims.Subject)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, "PROPOSE", claims.Action)
}

func TestTokenSingleUse(t *testing.T) {
	svc, _ := newTestTokenService()

	token, err := svc.Mint(context.Background(), "exec-1", "t1", "PROPOSE")
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), token.Token)
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), token.Token)
	require.Error(t, err, "second redemption of the same token must fail")
}

func TestTokenExpiryRejected(t *testing.T) {
	svc, _ := newTestTokenService()

	token, err := svc.Mint(context.Background(), "exec-1", "t1", "PROPOSE")
	require.NoError(t, err)

	// Move the validation clock past the token TTL.
	svc.clock = func() time.Time { return time.Now().Add(10 * time.Minute) }

	_, err = svc.Redeem(context.Background(), token.Token)
	require.Error(t, err)
}

func TestTokenWrongKeyRejected(t *testing.T) {
	svc, _ := newTestTokenService()

	token, err := svc.Mint(context.Background(), "exec-1", "t1", "PROPOSE")
	require.NoError(t, err)

	other := NewTokenService(config.TokenConfig{SigningKey: "different-key"}, &memRedemptions{})
	_, err = other.Redeem(context.Background(), token.Token)
	require.Error(t, err)
}
