package identity

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// Resolver is the bus's read path for identity bindings. It holds an
// immutable snapshot behind an atomic pointer; readers never block and a
// reload swaps the whole map at once.
type Resolver struct {
	store    Store
	interval time.Duration
	logger   logger.Logger

	bindings atomic.Pointer[map[string]*models.AgentIdentity]
}

func NewResolver(store Store, cfg config.IdentityConfig, log logger.Logger) *Resolver {
	interval := time.Duration(cfg.ReloadIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	r := &Resolver{
		store:    store,
		interval: interval,
		logger:   log,
	}
	empty := make(map[string]*models.AgentIdentity)
	r.bindings.Store(&empty)
	return r
}

func bindingKey(tenantID, agentID string) string {
	return tenantID + "/" + agentID
}

// Resolve returns the binding in force for the sender, or nil when the sender
// is unknown. Expiry is the enforcer's call, not the resolver's.
func (r *Resolver) Resolve(tenantID, agentID string) *models.AgentIdentity {
	bindings := *r.bindings.Load()
	return bindings[bindingKey(tenantID, agentID)]
}

// Reload replaces the snapshot with the registry's current state.
func (r *Resolver) Reload(ctx context.Context) error {
	identities, err := r.store.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload identity bindings: %w", err)
	}

	bindings := make(map[string]*models.AgentIdentity, len(identities))
	for i := range identities {
		identity := identities[i]
		bindings[bindingKey(identity.TenantID, identity.AgentID)] = &identity
	}

	r.bindings.Store(&bindings)
	metrics.SetIdentityCacheSize(len(bindings))

	r.logger.InfowCtx(ctx, "Identity bindings reloaded",
		"count", len(bindings),
	)
	return nil
}

// Run reloads on a fixed interval until the context is cancelled. Reload
// failures keep the previous snapshot; a stale binding set beats an empty one.
func (r *Resolver) Run(ctx context.Context) error {
	if err := r.Reload(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Reload(ctx); err != nil {
				r.logger.ErrorwCtx(ctx, "Identity reload failed, keeping previous snapshot",
					"error", err,
				)
			}
		}
	}
}

// Size reports the number of cached bindings.
func (r *Resolver) Size() int {
	return len(*r.bindings.Load())
}
