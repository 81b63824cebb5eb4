package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "concord/pkg/errors"
	"concord/pkg/models"
)

// Repository is the write side of the governance registry. The bus reads the
// same tables through its snapshot caches; this service is the only writer.
type Repository interface {
	CreateIdentity(ctx context.Context, identity *models.AgentIdentity) error
	ListIdentities(ctx context.Context) ([]models.AgentIdentity, error)
	GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error)
	UpdateIdentity(ctx context.Context, identity *models.AgentIdentity) error
	DeleteIdentity(ctx context.Context, tenantID, agentID string) error

	CreateEscalationRule(ctx context.Context, rule *models.EscalationRule) error
	ListEscalationRules(ctx context.Context) ([]models.EscalationRule, error)
	GetEscalationRule(ctx context.Context, id string) (*models.EscalationRule, error)
	UpdateEscalationRule(ctx context.Context, rule *models.EscalationRule) error
	DeleteEscalationRule(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateIdentity(ctx context.Context, identity *models.AgentIdentity) error {
	now := time.Now()
	if identity.IssuedAt.IsZero() {
		identity.IssuedAt = now
	}

	query := `
		INSERT INTO agent_identities (agent_id, tenant_id, role, capabilities, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		identity.AgentID, identity.TenantID, string(identity.Role),
		capabilityArray(identity.Capabilities), identity.IssuedAt, identity.ExpiresAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("identity for agent '%s' in tenant '%s' already exists", identity.AgentID, identity.TenantID))
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListIdentities(ctx context.Context) ([]models.AgentIdentity, error) {
	query := `
		SELECT agent_id, tenant_id, role, capabilities, issued_at, expires_at
		FROM agent_identities
		ORDER BY tenant_id, agent_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []models.AgentIdentity
	for rows.Next() {
		identity, err := scanIdentityRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}

	return identities, rows.Err()
}

func (r *PostgresRepository) GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error) {
	query := `
		SELECT agent_id, tenant_id, role, capabilities, issued_at, expires_at
		FROM agent_identities
		WHERE tenant_id = $1 AND agent_id = $2
	`

	row := r.db.QueryRowContext(ctx, query, tenantID, agentID)
	identity, err := scanIdentityRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	return identity, nil
}

func (r *PostgresRepository) UpdateIdentity(ctx context.Context, identity *models.AgentIdentity) error {
	query := `
		UPDATE agent_identities
		SET role = $1, capabilities = $2, expires_at = $3
		WHERE tenant_id = $4 AND agent_id = $5
	`

	res, err := r.db.ExecContext(ctx, query,
		string(identity.Role), capabilityArray(identity.Capabilities),
		identity.ExpiresAt, identity.TenantID, identity.AgentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}

	return requireRowsAffected(res, "identity not found")
}

func (r *PostgresRepository) DeleteIdentity(ctx context.Context, tenantID, agentID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM agent_identities WHERE tenant_id = $1 AND agent_id = $2`,
		tenantID, agentID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	return requireRowsAffected(res, "identity not found")
}

func (r *PostgresRepository) CreateEscalationRule(ctx context.Context, rule *models.EscalationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO escalation_rules (id, name, expression, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Expression,
		rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("rule with name '%s' already exists", rule.Name))
		}
		return fmt.Errorf("failed to create escalation rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListEscalationRules(ctx context.Context) ([]models.EscalationRule, error) {
	query := `
		SELECT id, name, expression, priority, enabled, created_at, updated_at
		FROM escalation_rules
		ORDER BY priority DESC, created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalation rules: %w", err)
	}
	defer rows.Close()

	var rules []models.EscalationRule
	for rows.Next() {
		var rule models.EscalationRule
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Expression,
			&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan escalation rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *PostgresRepository) GetEscalationRule(ctx context.Context, id string) (*models.EscalationRule, error) {
	query := `
		SELECT id, name, expression, priority, enabled, created_at, updated_at
		FROM escalation_rules
		WHERE id = $1
	`

	var rule models.EscalationRule
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rule.ID, &rule.Name, &rule.Expression,
		&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation rule: %w", err)
	}

	return &rule, nil
}

func (r *PostgresRepository) UpdateEscalationRule(ctx context.Context, rule *models.EscalationRule) error {
	rule.UpdatedAt = time.Now()

	query := `
		UPDATE escalation_rules
		SET name = $1, expression = $2, priority = $3, enabled = $4, updated_at = $5
		WHERE id = $6
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Expression,
		rule.Priority, rule.Enabled, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update escalation rule: %w", err)
	}

	return requireRowsAffected(res, "escalation rule not found")
}

func (r *PostgresRepository) DeleteEscalationRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM escalation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete escalation rule: %w", err)
	}

	return requireRowsAffected(res, "escalation rule not found")
}

func scanIdentityRow(scan func(...interface{}) error) (*models.AgentIdentity, error) {
	var identity models.AgentIdentity
	var role string
	var capabilities pq.StringArray

	err := scan(
		&identity.AgentID, &identity.TenantID, &role,
		&capabilities, &identity.IssuedAt, &identity.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := models.ParseRole(role)
	if err != nil {
		return nil, err
	}
	identity.Role = parsed

	identity.Capabilities = make([]models.Action, 0, len(capabilities))
	for _, c := range capabilities {
		action, err := models.ParseAction(c)
		if err != nil {
			return nil, err
		}
		identity.Capabilities = append(identity.Capabilities, action)
	}

	return &identity, nil
}

func capabilityArray(capabilities []models.Action) pq.StringArray {
	arr := make(pq.StringArray, len(capabilities))
	for i, c := range capabilities {
		arr[i] = string(c)
	}
	return arr
}

func requireRowsAffected(res sql.Result, notFoundMsg string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s", notFoundMsg)
	}
	return nil
}
