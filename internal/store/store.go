package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

const (
	flowKeyPrefix  = "darkpool:flow:"
	flowLockPrefix = "darkpool:flow:lock:"
	activeFlowsKey = "darkpool:flows:active"
	marketsKey     = "darkpool:markets"
)

// FlowRetention is how long a flow record stays in Redis after its last update.
const FlowRetention = 24 * time.Hour

// ErrFlowLocked is returned by LockFlow when another holder owns the flow.
var ErrFlowLocked = errors.New("flow is locked by another operation")

// releaseLockScript deletes the lock only if it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store caches match flows in Redis and keeps the flow ledger in Postgres.
type Store interface {
	SaveFlow(ctx context.Context, rec model.FlowRecord) error
	GetFlow(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error)
	LockFlow(ctx context.Context, id uuid.UUID, ttl time.Duration) (func(), error)
	ActiveFlowIDs(ctx context.Context) ([]uuid.UUID, error)
	RecordTransition(ctx context.Context, tr model.FlowTransition) error
	SetMarkets(ctx context.Context, markets []model.MarketInfo, ttl time.Duration) error
	GetMarkets(ctx context.Context) ([]model.MarketInfo, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store. Postgres is
// optional; without it the ledger writes are skipped.
func NewHybrid(redisAddr string, redisDB int, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

func flowKey(id uuid.UUID) string { return flowKeyPrefix + id.String() }

// SaveFlow caches rec and tracks it in the active set until it reaches a
// terminal state. The Postgres row is upserted when a pool is configured.
func (s *HybridStore) SaveFlow(ctx context.Context, rec model.FlowRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode flow %s: %w", rec.ID, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, flowKey(rec.ID), data, FlowRetention)
	if rec.State.Terminal() {
		pipe.SRem(ctx, activeFlowsKey, rec.ID.String())
	} else {
		pipe.SAdd(ctx, activeFlowsKey, rec.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("store.redis.save_flow_failed", zap.String("flow_id", rec.ID.String()), zap.Error(err))
		return fmt.Errorf("cache flow %s: %w", rec.ID, err)
	}

	if s.PG == nil {
		return nil
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO darkpool.match_flow (
			flow_id, client_id, state, base_mint, quote_mint, side,
			tx_hash, reject_reason, record, created_at, updated_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)
		ON CONFLICT (flow_id)
		DO UPDATE SET
			state = EXCLUDED.state,
			tx_hash = EXCLUDED.tx_hash,
			reject_reason = EXCLUDED.reject_reason,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at;
	`, rec.ID, rec.ClientID, string(rec.State), rec.Order.BaseMint, rec.Order.QuoteMint, string(rec.Order.Side),
		rec.TxHash, rec.RejectReason, data, rec.CreatedAt, rec.UpdatedAt, nullTime(rec.ExpiresAt))
	if err != nil {
		s.logger.Error("store.pg.upsert_flow_failed", zap.String("flow_id", rec.ID.String()), zap.Error(err))
	}
	return err
}

// GetFlow returns the flow with id, reading Redis first and falling back to
// Postgres. It returns nil, nil when the flow is unknown.
func (s *HybridStore) GetFlow(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error) {
	data, err := s.redis.Get(ctx, flowKey(id)).Bytes()
	switch {
	case err == nil:
		var rec model.FlowRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode cached flow %s: %w", id, err)
		}
		return &rec, nil
	case !errors.Is(err, redis.Nil):
		return nil, err
	}

	if s.PG == nil {
		return nil, nil
	}
	if err := s.PG.QueryRow(ctx, `
		SELECT record FROM darkpool.match_flow WHERE flow_id = $1 LIMIT 1;
	`, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetFlow scan failed: %w", err)
	}
	var rec model.FlowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", id, err)
	}
	return &rec, nil
}

// LockFlow takes an exclusive lease on a flow, shared by every process using
// the same Redis. The lease expires after ttl if never released. The returned
// func releases it and is safe to call more than once.
func (s *HybridStore) LockFlow(ctx context.Context, id uuid.UUID, ttl time.Duration) (func(), error) {
	key := flowLockPrefix + id.String()
	token := uuid.NewString()

	ok, err := s.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock flow %s: %w", id, err)
	}
	if !ok {
		return nil, ErrFlowLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseLockScript.Run(ctx, s.redis, []string{key}, token).Err(); err != nil {
				s.logger.Warn("store.redis.unlock_flow_failed", zap.String("flow_id", id.String()), zap.Error(err))
			}
		})
	}, nil
}

// ActiveFlowIDs lists the flows that have not reached a terminal state.
func (s *HybridStore) ActiveFlowIDs(ctx context.Context) ([]uuid.UUID, error) {
	members, err := s.redis.SMembers(ctx, activeFlowsKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			s.logger.Warn("store.redis.bad_active_flow_id", zap.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RecordTransition appends an immutable row to darkpool.flow_transition.
func (s *HybridStore) RecordTransition(ctx context.Context, tr model.FlowTransition) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO darkpool.flow_transition (
			flow_id, client_id, from_state, to_state, reason, tx_hash, recorded_at
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
	`, tr.FlowID, tr.ClientID, string(tr.From), string(tr.To), tr.Reason, tr.TxHash, tr.At)
	if err != nil {
		s.logger.Error("store.pg.insert_transition_failed", zap.Error(err))
	}
	return err
}

// SetMarkets caches the relayer's market list.
func (s *HybridStore) SetMarkets(ctx context.Context, markets []model.MarketInfo, ttl time.Duration) error {
	return s.SetJSON(ctx, marketsKey, markets, ttl)
}

// GetMarkets returns the cached market list, or nil on a cache miss.
func (s *HybridStore) GetMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	var markets []model.MarketInfo
	if err := s.GetJSON(ctx, marketsKey, &markets); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return markets, nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
