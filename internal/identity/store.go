// Package identity resolves sender identities to their governance role and
// capability set. The registry service owns the write side; the bus reads
// bindings through a periodically reloaded in-memory cache so the hot path
// never touches Postgres.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"concord/pkg/metrics"
	"concord/pkg/models"
)

type Store interface {
	ListIdentities(ctx context.Context) ([]models.AgentIdentity, error)
	GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.AgentIdentity, error) {
	query := `
		SELECT agent_id, tenant_id, role, capabilities, issued_at, expires_at
		FROM agent_identities
		ORDER BY tenant_id, agent_id
	`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	s.observe("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []models.AgentIdentity
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		identity, err := scanIdentity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}

	return identities, rows.Err()
}

func (s *PostgresStore) GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error) {
	query := `
		SELECT agent_id, tenant_id, role, capabilities, issued_at, expires_at
		FROM agent_identities
		WHERE tenant_id = $1 AND agent_id = $2
	`

	start := time.Now()
	row := s.db.QueryRowContext(ctx, query, tenantID, agentID)

	identity, err := scanIdentity(row.Scan)
	s.observe("get", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	return identity, nil
}

func scanIdentity(scan func(...interface{}) error) (*models.AgentIdentity, error) {
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

func (s *PostgresStore) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.IncDatabaseQuery("bus-service", "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration("bus-service", "postgres", operation, time.Since(start))
}
