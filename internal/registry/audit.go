package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChangeLog records every registry write with its before and after state.
// Governance changes are themselves governed; the log answers who widened an
// agent's capabilities and when.
type ChangeLog struct {
	ID         string                 `json:"id"`
	SubjectID  string                 `json:"subject_id"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	EntityType string                 `json:"entity_type"`
	Action     string                 `json:"action"`
	OldValue   map[string]interface{} `json:"old_value,omitempty"`
	NewValue   map[string]interface{} `json:"new_value,omitempty"`
	ChangedBy  string                 `json:"changed_by"`
	Timestamp  time.Time              `json:"timestamp"`
}

const (
	EntityIdentity       = "identity"
	EntityEscalationRule = "escalation_rule"
)

type ChangeLogRepository interface {
	CreateChange(ctx context.Context, entry *ChangeLog) error
	ListChanges(ctx context.Context, subjectID *string, entityType string, limit int) ([]ChangeLog, error)
}

type postgresChangeLog struct {
	db *sql.DB
}

func NewChangeLogRepository(db *sql.DB) ChangeLogRepository {
	return &postgresChangeLog{db: db}
}

func (r *postgresChangeLog) CreateChange(ctx context.Context, entry *ChangeLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	var oldValueJSON, newValueJSON []byte
	var err error
	if entry.OldValue != nil {
		if oldValueJSON, err = json.Marshal(entry.OldValue); err != nil {
			return fmt.Errorf("failed to marshal old value: %w", err)
		}
	}
	if entry.NewValue != nil {
		if newValueJSON, err = json.Marshal(entry.NewValue); err != nil {
			return fmt.Errorf("failed to marshal new value: %w", err)
		}
	}

	query := `
		INSERT INTO registry_changelog (id, subject_id, tenant_id, entity_type, action, old_value, new_value, changed_by, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.SubjectID, entry.TenantID, entry.EntityType, entry.Action,
		oldValueJSON, newValueJSON, entry.ChangedBy, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create changelog entry: %w", err)
	}

	return nil
}

func (r *postgresChangeLog) ListChanges(ctx context.Context, subjectID *string, entityType string, limit int) ([]ChangeLog, error) {
	var query string
	var args []interface{}

	switch {
	case subjectID != nil:
		query = `
			SELECT id, subject_id, tenant_id, entity_type, action, old_value, new_value, changed_by, timestamp
			FROM registry_changelog
			WHERE subject_id = $1
			ORDER BY timestamp DESC
			LIMIT $2
		`
		args = []interface{}{*subjectID, limit}
	case entityType != "":
		query = `
			SELECT id, subject_id, tenant_id, entity_type, action, old_value, new_value, changed_by, timestamp
			FROM registry_changelog
			WHERE entity_type = $1
			ORDER BY timestamp DESC
			LIMIT $2
		`
		args = []interface{}{entityType, limit}
	default:
		query = `
			SELECT id, subject_id, tenant_id, entity_type, action, old_value, new_value, changed_by, timestamp
			FROM registry_changelog
			ORDER BY timestamp DESC
			LIMIT $1
		`
		args = []interface{}{limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changelog: %w", err)
	}
	defer rows.Close()

	var entries []ChangeLog
	for rows.Next() {
		var entry ChangeLog
		var oldValueJSON, newValueJSON []byte

		if err := rows.Scan(
			&entry.ID, &entry.SubjectID, &entry.TenantID, &entry.EntityType, &entry.Action,
			&oldValueJSON, &newValueJSON, &entry.ChangedBy, &entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan changelog entry: %w", err)
		}

		if len(oldValueJSON) > 0 {
			if err := json.Unmarshal(oldValueJSON, &entry.OldValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal old value: %w", err)
			}
		}
		if len(newValueJSON) > 0 {
			if err := json.Unmarshal(newValueJSON, &entry.NewValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal new value: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
