package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"concord/internal/config"
	"concord/internal/constants"
	"concord/pkg/errors"
	"concord/pkg/models"
)

// TokenClaims scope a minted token to one agent, one tenant and one action.
type TokenClaims struct {
	TenantID string `json:"tenant_id"`
	Action   string `json:"action"`
	jwt.RegisteredClaims
}

// RedemptionStore records token redemptions. MarkRedeemed returns true only
// for the first redemption of an id.
type RedemptionStore interface {
	MarkRedeemed(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// RedisRedemptions keeps redemption records in Redis so every bus instance
// sees the same single-use state.
type RedisRedemptions struct {
	client *redis.Client
}

func NewRedisRedemptions(client *redis.Client) *RedisRedemptions {
	return &RedisRedemptions{client: client}
}

func (r *RedisRedemptions) MarkRedeemed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	key := constants.CacheKeyPrefixToken + id
	return r.client.SetNX(ctx, key, time.Now().Format(time.RFC3339), ttl).Result()
}

// TokenService mints and redeems the scoped tokens handed out on approved
// deliberations. Tokens are single-use: redemption is recorded under the
// token id, and a second redemption of the same id is refused.
type TokenService struct {
	signingKey  []byte
	ttl         time.Duration
	redemptions RedemptionStore
	clock       func() time.Time
}

func NewTokenService(cfg config.TokenConfig, redemptions RedemptionStore) *TokenService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenService{
		signingKey:  []byte(cfg.SigningKey),
		ttl:         ttl,
		redemptions: redemptions,
		clock:       time.Now,
	}
}

// Mint issues a token permitting exactly one execution of the named action.
func (s *TokenService) Mint(ctx context.Context, agentID, tenantID, action string) (*models.ScopedToken, error) {
	now := s.clock()
	expires := now.Add(s.ttl)

	claims := TokenClaims{
		TenantID: tenantID,
		Action:   action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign scoped token: %w", err)
	}

	return &models.ScopedToken{
		Token:     signed,
		AgentID:   agentID,
		TenantID:  tenantID,
		Action:    models.Action(action),
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

// Redeem validates a token and consumes it. The Redis key outlives the token
// by its own TTL, so a replay after expiry fails on the signature check and a
// replay before expiry fails on the redemption record.
func (s *TokenService) Redeem(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(s.clock))
	if err != nil {
		return nil, errors.ErrUnauthorized.WithCause(err).WithDetail("reason", "invalid token")
	}
	if !token.Valid || claims.ID == "" {
		return nil, errors.ErrUnauthorized.WithDetail("reason", "invalid token")
	}

	firstUse, err := s.redemptions.MarkRedeemed(ctx, claims.ID, 2*s.ttl)
	if err != nil {
		return nil, errors.ErrDependencyUnavailable.
			WithCause(err).
			WithDetail("dependency", constants.DependencyRedis)
	}
	if !firstUse {
		return nil, errors.ErrUnauthorized.WithDetail("reason", "token already redeemed")
	}

	return claims, nil
}
