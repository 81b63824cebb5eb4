package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/pkg/errors"
	"concord/pkg/models"
)

type memRepository struct {
	identities map[string]*models.AgentIdentity
	rules      map[string]*models.EscalationRule
}

func newMemRepository() *memRepository {
	return &memRepository{
		identities: make(map[string]*models.AgentIdentity),
		rules:      make(map[string]*models.EscalationRule),
	}
}

func (r *memRepository) CreateIdentity(ctx context.Context, identity *models.AgentIdentity) error {
	key := identity.TenantID + "/" + identity.AgentID
	if _, ok := r.identities[key]; ok {
		return errors.ErrConflict
	}
	copied := *identity
	r.identities[key] = &copied
	return nil
}

func (r *memRepository) ListIdentities(ctx context.Context) ([]models.AgentIdentity, error) {
	var out []models.AgentIdentity
	for _, identity := range r.identities {
		out = append(out, *identity)
	}
	return out, nil
}

func (r *memRepository) GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error) {
	identity, ok := r.identities[tenantID+"/"+agentID]
	if !ok {
		return nil, nil
	}
	copied := *identity
	return &copied, nil
}

func (r *memRepository) UpdateIdentity(ctx context.Context, identity *models.AgentIdentity) error {
	key := identity.TenantID + "/" + identity.AgentID
	if _, ok := r.identities[key]; !ok {
		return errors.ErrNotFound
	}
	copied := *identity
	r.identities[key] = &copied
	return nil
}

func (r *memRepository) DeleteIdentity(ctx context.Context, tenantID, agentID string) error {
	delete(r.identities, tenantID+"/"+agentID)
	return nil
}

func (r *memRepository) CreateEscalationRule(ctx context.Context, rule *models.EscalationRule) error {
	for _, existing := range r.rules {
		if existing.Name == rule.Name {
			return errors.ErrConflict
		}
	}
	if rule.ID == "" {
		rule.ID = "rule-" + rule.Name
	}
	copied := *rule
	r.rules[rule.ID] = &copied
	return nil
}

func (r *memRepository) ListEscalationRules(ctx context.Context) ([]models.EscalationRule, error) {
	var out []models.EscalationRule
	for _, rule := range r.rules {
		out = append(out, *rule)
	}
	return out, nil
}

func (r *memRepository) GetEscalationRule(ctx context.Context, id string) (*models.EscalationRule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	copied := *rule
	return &copied, nil
}

func (r *memRepository) UpdateEscalationRule(ctx context.Context, rule *models.EscalationRule) error {
	if _, ok := r.rules[rule.ID]; !ok {
		return errors.ErrNotFound
	}
	copied := *rule
	r.rules[rule.ID] = &copied
	return nil
}

func (r *memRepository) DeleteEscalationRule(ctx context.Context, id string) error {
	delete(r.rules, id)
	return nil
}

type memChangeLog struct {
	entries []ChangeLog
}

func (c *memChangeLog) CreateChange(ctx context.Context, entry *ChangeLog) error {
	c.entries = append(c.entries, *entry)
	return nil
}

func (c *memChangeLog) ListChanges(ctx context.Context, subjectID *string, entityType string, limit int) ([]ChangeLog, error) {
	return c.entries, nil
}

func TestCreateIdentity(t *testing.T) {
	repo := newMemRepository()
	changes := &memChangeLog{}
	svc := NewService(repo, time.Hour, WithChangeLog(changes))

	identity, err := svc.CreateIdentity(context.Background(), CreateIdentityRequest{
		AgentID:      "exec-1",
		TenantID:     "t1",
		Role:         "EXECUTIVE",
		Capabilities: []string{"PROPOSE", "QUERY"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.RoleExecutive, identity.Role)
	assert.Equal(t, []models.Action{models.ActionPropose, models.ActionQuery}, identity.Capabilities)
	assert.WithinDuration(t, time.Now().Add(time.Hour), identity.ExpiresAt, time.Minute)

	require.Len(t, changes.entries, 1)
	assert.Equal(t, EntityIdentity, changes.entries[0].EntityType)
	assert.Equal(t, models.ActionCreate, changes.entries[0].Action)
	assert.Nil(t, changes.entries[0].OldValue)
	assert.NotNil(t, changes.entries[0].NewValue)
}

func TestCreateIdentityRejectsCapabilityOutsideRole(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	// VALIDATE is judicial; an executive binding must not carry it.
	_, err := svc.CreateIdentity(context.Background(), CreateIdentityRequest{
		AgentID:      "exec-1",
		TenantID:     "t1",
		Role:         "EXECUTIVE",
		Capabilities: []string{"VALIDATE"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestCreateIdentityRejectsUnknownRole(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	_, err := svc.CreateIdentity(context.Background(), CreateIdentityRequest{
		AgentID: "a1", TenantID: "t1", Role: "SUPERUSER",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestCreateIdentityConflict(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)
	req := CreateIdentityRequest{AgentID: "a1", TenantID: "t1", Role: "JUDICIAL"}

	_, err := svc.CreateIdentity(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.CreateIdentity(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestUpdateIdentity(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	_, err := svc.CreateIdentity(context.Background(), CreateIdentityRequest{
		AgentID: "a1", TenantID: "t1", Role: "EXECUTIVE",
		Capabilities: []string{"PROPOSE"},
	})
	require.NoError(t, err)

	caps := []string{"QUERY"}
	updated, err := svc.UpdateIdentity(context.Background(), "t1", "a1", UpdateIdentityRequest{
		Capabilities: &caps,
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Action{models.ActionQuery}, updated.Capabilities)
}

func TestUpdateIdentityRoleChangeChecksExistingCapabilities(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	_, err := svc.CreateIdentity(context.Background(), CreateIdentityRequest{
		AgentID: "a1", TenantID: "t1", Role: "EXECUTIVE",
		Capabilities: []string{"PROPOSE"},
	})
	require.NoError(t, err)

	// PROPOSE is not judicial; the role change must not slip it through.
	role := "JUDICIAL"
	_, err = svc.UpdateIdentity(context.Background(), "t1", "a1", UpdateIdentityRequest{Role: &role})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestGetIdentityNotFound(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	_, err := svc.GetIdentity(context.Background(), "t1", "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteIdentityRecordsChange(t *testing.T) {
	changes := &memChangeLog{}
	svc := NewService(newMemRepository(), time.Hour, WithChangeLog(changes))

	_, err := svc.CreateIdentity(context.Background(), CreateIdentityRequest{
		AgentID: "a1", TenantID: "t1", Role: "LEGISLATIVE",
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteIdentity(context.Background(), "t1", "a1"))

	require.Len(t, changes.entries, 2)
	assert.Equal(t, models.ActionDelete, changes.entries[1].Action)
	assert.NotNil(t, changes.entries[1].OldValue)
	assert.Nil(t, changes.entries[1].NewValue)
}

func TestCreateEscalationRule(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	rule, err := svc.CreateEscalationRule(context.Background(), CreateEscalationRuleRequest{
		Name:       "high-value-transfer",
		Expression: `composite_score > 0.9`,
		Priority:   10,
	})
	require.NoError(t, err)
	assert.True(t, rule.Enabled, "rules default to enabled")
	assert.NotEmpty(t, rule.ID)
}

func TestCreateEscalationRuleRejectsBrokenExpression(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	tests := []struct {
		name       string
		expression string
	}{
		{"syntax error", `composite_score >`},
		{"non-boolean result", `tenant_id`},
		{"unknown variable", `mystery_field > 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateEscalationRule(context.Background(), CreateEscalationRuleRequest{
				Name:       "r",
				Expression: tt.expression,
			})
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestUpdateEscalationRule(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	rule, err := svc.CreateEscalationRule(context.Background(), CreateEscalationRuleRequest{
		Name:       "r1",
		Expression: `degraded == true`,
	})
	require.NoError(t, err)

	enabled := false
	updated, err := svc.UpdateEscalationRule(context.Background(), rule.ID, UpdateEscalationRuleRequest{
		Enabled: &enabled,
	})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
}

func TestDeleteEscalationRuleNotFound(t *testing.T) {
	svc := NewService(newMemRepository(), time.Hour)

	err := svc.DeleteEscalationRule(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
