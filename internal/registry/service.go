package registry

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "concord/pkg/errors"
	"concord/pkg/models"
)

type Service interface {
	CreateIdentity(ctx context.Context, req CreateIdentityRequest) (*models.AgentIdentity, error)
	ListIdentities(ctx context.Context) ([]models.AgentIdentity, error)
	GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error)
	UpdateIdentity(ctx context.Context, tenantID, agentID string, req UpdateIdentityRequest) (*models.AgentIdentity, error)
	DeleteIdentity(ctx context.Context, tenantID, agentID string) error

	CreateEscalationRule(ctx context.Context, req CreateEscalationRuleRequest) (*models.EscalationRule, error)
	ListEscalationRules(ctx context.Context) ([]models.EscalationRule, error)
	GetEscalationRule(ctx context.Context, id string) (*models.EscalationRule, error)
	UpdateEscalationRule(ctx context.Context, id string, req UpdateEscalationRuleRequest) (*models.EscalationRule, error)
	DeleteEscalationRule(ctx context.Context, id string) error

	ListChanges(ctx context.Context, subjectID *string, entityType string, limit int) ([]ChangeLog, error)
}

const defaultBindingTTL = 24 * time.Hour

type service struct {
	repo       Repository
	changes    ChangeLogRepository
	events     *ConfigEventProducer
	bindingTTL time.Duration
}

type ServiceOption func(*service)

func WithChangeLog(changes ChangeLogRepository) ServiceOption {
	return func(s *service) {
		s.changes = changes
	}
}

func WithConfigEvents(events *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.events = events
	}
}

func NewService(repo Repository, bindingTTL time.Duration, opts ...ServiceOption) Service {
	s := &service{
		repo:       repo,
		bindingTTL: bindingTTL,
	}
	if s.bindingTTL <= 0 {
		s.bindingTTL = defaultBindingTTL
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) CreateIdentity(ctx context.Context, req CreateIdentityRequest) (*models.AgentIdentity, error) {
	if err := ValidateIdentity(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	role, _ := models.ParseRole(req.Role)
	capabilities := make([]models.Action, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		action, _ := models.ParseAction(c)
		capabilities = append(capabilities, action)
	}

	ttl := s.bindingTTL
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}

	now := time.Now()
	identity := &models.AgentIdentity{
		AgentID:      req.AgentID,
		TenantID:     req.TenantID,
		Role:         role,
		Capabilities: capabilities,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}

	if err := s.repo.CreateIdentity(ctx, identity); err != nil {
		if pkgerrors.IsConflict(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordChange(ctx, bindingKey(identity), identity.TenantID, EntityIdentity, models.ActionCreate, nil, toMap(identity))
	s.publishIdentityEvent(ctx, models.ActionCreate, identity.TenantID, identity.AgentID)

	return identity, nil
}

func (s *service) ListIdentities(ctx context.Context) ([]models.AgentIdentity, error) {
	identities, err := s.repo.ListIdentities(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return identities, nil
}

func (s *service) GetIdentity(ctx context.Context, tenantID, agentID string) (*models.AgentIdentity, error) {
	identity, err := s.repo.GetIdentity(ctx, tenantID, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if identity == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("agent_id", agentID).WithDetail("tenant_id", tenantID)
	}
	return identity, nil
}

func (s *service) UpdateIdentity(ctx context.Context, tenantID, agentID string, req UpdateIdentityRequest) (*models.AgentIdentity, error) {
	identity, err := s.repo.GetIdentity(ctx, tenantID, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if identity == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("agent_id", agentID).WithDetail("tenant_id", tenantID)
	}

	if err := ValidateUpdateIdentity(identity, req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	oldValue := toMap(identity)

	if req.Role != nil {
		role, _ := models.ParseRole(*req.Role)
		identity.Role = role
	}
	if req.Capabilities != nil {
		capabilities := make([]models.Action, 0, len(*req.Capabilities))
		for _, c := range *req.Capabilities {
			action, _ := models.ParseAction(c)
			capabilities = append(capabilities, action)
		}
		identity.Capabilities = capabilities
	}
	if req.ExpiresInSeconds != nil {
		identity.ExpiresAt = time.Now().Add(time.Duration(*req.ExpiresInSeconds) * time.Second)
	}

	if err := s.repo.UpdateIdentity(ctx, identity); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordChange(ctx, bindingKey(identity), identity.TenantID, EntityIdentity, models.ActionUpdate, oldValue, toMap(identity))
	s.publishIdentityEvent(ctx, models.ActionUpdate, identity.TenantID, identity.AgentID)

	return identity, nil
}

func (s *service) DeleteIdentity(ctx context.Context, tenantID, agentID string) error {
	identity, err := s.repo.GetIdentity(ctx, tenantID, agentID)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if identity == nil {
		return pkgerrors.ErrNotFound.WithDetail("agent_id", agentID).WithDetail("tenant_id", tenantID)
	}

	if err := s.repo.DeleteIdentity(ctx, tenantID, agentID); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordChange(ctx, bindingKey(identity), tenantID, EntityIdentity, models.ActionDelete, toMap(identity), nil)
	s.publishIdentityEvent(ctx, models.ActionDelete, tenantID, agentID)

	return nil
}

func (s *service) CreateEscalationRule(ctx context.Context, req CreateEscalationRuleRequest) (*models.EscalationRule, error) {
	if err := ValidateEscalationRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule := &models.EscalationRule{
		Name:       req.Name,
		Expression: req.Expression,
		Priority:   req.Priority,
		Enabled:    enabledValue(req.Enabled),
	}

	if err := s.repo.CreateEscalationRule(ctx, rule); err != nil {
		if pkgerrors.IsConflict(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordChange(ctx, rule.ID, "", EntityEscalationRule, models.ActionCreate, nil, toMap(rule))
	s.publishRuleEvent(ctx, models.ActionCreate, rule.ID)

	return rule, nil
}

func (s *service) ListEscalationRules(ctx context.Context) ([]models.EscalationRule, error) {
	rules, err := s.repo.ListEscalationRules(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return rules, nil
}

func (s *service) GetEscalationRule(ctx context.Context, id string) (*models.EscalationRule, error) {
	rule, err := s.repo.GetEscalationRule(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if rule == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return rule, nil
}

func (s *service) UpdateEscalationRule(ctx context.Context, id string, req UpdateEscalationRuleRequest) (*models.EscalationRule, error) {
	if err := ValidateUpdateEscalationRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule, err := s.repo.GetEscalationRule(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if rule == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}

	oldValue := toMap(rule)

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Expression != nil {
		rule.Expression = *req.Expression
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := s.repo.UpdateEscalationRule(ctx, rule); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordChange(ctx, rule.ID, "", EntityEscalationRule, models.ActionUpdate, oldValue, toMap(rule))
	s.publishRuleEvent(ctx, models.ActionUpdate, rule.ID)

	return rule, nil
}

func (s *service) DeleteEscalationRule(ctx context.Context, id string) error {
	rule, err := s.repo.GetEscalationRule(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if rule == nil {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}

	if err := s.repo.DeleteEscalationRule(ctx, id); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordChange(ctx, id, "", EntityEscalationRule, models.ActionDelete, toMap(rule), nil)
	s.publishRuleEvent(ctx, models.ActionDelete, id)

	return nil
}

func (s *service) ListChanges(ctx context.Context, subjectID *string, entityType string, limit int) ([]ChangeLog, error) {
	if s.changes == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "changelog not enabled")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	entries, err := s.changes.ListChanges(ctx, subjectID, entityType, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return entries, nil
}

func (s *service) recordChange(ctx context.Context, subjectID, tenantID, entityType, action string, oldValue, newValue map[string]interface{}) {
	if s.changes == nil {
		return
	}
	_ = s.changes.CreateChange(ctx, &ChangeLog{
		SubjectID:  subjectID,
		TenantID:   tenantID,
		EntityType: entityType,
		Action:     action,
		OldValue:   oldValue,
		NewValue:   newValue,
		ChangedBy:  changedBy(ctx),
	})
}

func (s *service) publishIdentityEvent(ctx context.Context, action, tenantID, agentID string) {
	if s.events != nil {
		_ = s.events.PublishIdentityEvent(ctx, action, tenantID, agentID, changedBy(ctx))
	}
}

func (s *service) publishRuleEvent(ctx context.Context, action, ruleID string) {
	if s.events != nil {
		_ = s.events.PublishEscalationRuleEvent(ctx, action, ruleID, changedBy(ctx))
	}
}

func bindingKey(identity *models.AgentIdentity) string {
	return identity.TenantID + "/" + identity.AgentID
}

func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func enabledValue(enabled *bool) bool {
	if enabled == nil {
		return true
	}
	return *enabled
}

func changedBy(ctx context.Context) string {
	if userID := ctx.Value("user_id"); userID != nil {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return "system"
}
