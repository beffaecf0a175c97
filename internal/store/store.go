package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/history"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

const (
	recordKeyPrefix = "bridge:req:"
	pendingKey      = "bridge:pending"
	archiveLimit    = 500
)

// ErrNotFound is returned when neither Redis nor Postgres knows a request id.
var ErrNotFound = errors.New("bridge record not found")

// Store defines the contract for caching and persisting bridge records.
type Store interface {
	SaveRecord(ctx context.Context, rec *model.BridgeRecord) error
	GetRecord(ctx context.Context, requestID string) (*model.BridgeRecord, error)
	ApplyStatus(ctx context.Context, evt model.StatusEvent) (*model.BridgeRecord, error)
	ListPending(ctx context.Context) ([]model.BridgeRecord, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Archive is the durable half of the store (history.Writer in production).
type Archive interface {
	Upsert(ctx context.Context, rec *model.BridgeRecord) error
	ApplyEvent(ctx context.Context, evt model.StatusEvent) error
	Get(ctx context.Context, requestID string) (*model.BridgeRecord, error)
	ListNonFinal(ctx context.Context, limit int) ([]model.BridgeRecord, error)
}

// HybridStore keeps hot records in Redis and writes through to Postgres.
type HybridStore struct {
	redis   *redis.Client
	PG      *pgxpool.Pool
	archive Archive
	ttl     time.Duration
	logger  *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Options configures NewHybrid.
type Options struct {
	RedisAddr string
	RedisDB   int
	RedisPass string
	PGURL     string
	PGPool    PGPoolConfig
	RecordTTL time.Duration
	Source    string
}

// NewHybrid creates a Redis-first, Postgres-backed store. An empty PGURL runs Redis only.
func NewHybrid(opts Options, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		DB:       opts.RedisDB,
		Password: opts.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := New(rdb, nil, opts.RecordTTL, logger)
	if opts.PGURL == "" {
		return s, nil
	}

	cfg, err := pgxpool.ParseConfig(opts.PGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	applyPoolConfig(cfg, opts.PGPool)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.PG = pool
	s.archive = history.NewWriter(pool, logger, opts.Source)
	return s, nil
}

// New wraps an existing Redis client; archive may be nil.
func New(rdb *redis.Client, archive Archive, ttl time.Duration, logger *zap.Logger) *HybridStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStore{redis: rdb, archive: archive, ttl: ttl, logger: logger}
}

func applyPoolConfig(cfg *pgxpool.Config, pc PGPoolConfig) {
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}
	if pc.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = pc.HealthCheckPeriod
	}
}

func recordKey(requestID string) string {
	return recordKeyPrefix + requestID
}

// SaveRecord writes rec to Redis, maintains the pending set and upserts the archive row.
func (s *HybridStore) SaveRecord(ctx context.Context, rec *model.BridgeRecord) error {
	if rec == nil || rec.RequestID == "" {
		return fmt.Errorf("record without request id")
	}
	if err := s.cache(ctx, rec); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.Upsert(ctx, rec); err != nil {
			s.logger.Warn("store.archive_upsert_failed",
				zap.String("request_id", rec.RequestID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *HybridStore) cache(ctx context.Context, rec *model.BridgeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.RequestID, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, recordKey(rec.RequestID), data, s.ttl)
	if rec.Final || rec.TimedOut {
		pipe.SRem(ctx, pendingKey, rec.RequestID)
	} else {
		pipe.SAdd(ctx, pendingKey, rec.RequestID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("store.redis.save_failed",
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
		return fmt.Errorf("save record %s: %w", rec.RequestID, err)
	}
	return nil
}

// GetRecord reads Redis first and falls back to the archive, re-caching what it finds.
func (s *HybridStore) GetRecord(ctx context.Context, requestID string) (*model.BridgeRecord, error) {
	data, err := s.redis.Get(ctx, recordKey(requestID)).Bytes()
	switch {
	case err == nil:
		var rec model.BridgeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", requestID, err)
		}
		return &rec, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("get record %s: %w", requestID, err)
	}

	if s.archive == nil {
		return nil, ErrNotFound
	}
	rec, err := s.archive.Get(ctx, requestID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.cache(ctx, rec); err != nil {
		s.logger.Warn("store.recache_failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return rec, nil
}

// ApplyStatus folds a status event into the stored record. Final records are
// never reopened and error events leave the status untouched. A timeout event
// marks the record timed out, which takes it off the pending list.
func (s *HybridStore) ApplyStatus(ctx context.Context, evt model.StatusEvent) (*model.BridgeRecord, error) {
	rec, err := s.GetRecord(ctx, evt.RequestID)
	if errors.Is(err, ErrNotFound) {
		rec = &model.BridgeRecord{
			RequestID: evt.RequestID,
			ClientID:  evt.ClientID,
			Flow:      evt.Flow,
			CreatedAt: evt.Timestamp,
		}
	} else if err != nil {
		return nil, err
	}

	if rec.Final {
		return rec, nil
	}
	if evt.TimedOut {
		rec.TimedOut = true
		rec.UpdatedAt = evt.Timestamp
		if rec.Status == "" {
			rec.Status = evt.Status
		}
		return s.persistStatus(ctx, rec, evt)
	}
	if evt.Error != "" || evt.Status == "" {
		return rec, nil
	}

	rec.Status = evt.Status
	if len(evt.InTxHashes) > 0 {
		rec.InTxHashes = evt.InTxHashes
	}
	if len(evt.TxHashes) > 0 {
		rec.TxHashes = evt.TxHashes
	}
	rec.Final = evt.Final
	rec.UpdatedAt = evt.Timestamp
	return s.persistStatus(ctx, rec, evt)
}

func (s *HybridStore) persistStatus(ctx context.Context, rec *model.BridgeRecord, evt model.StatusEvent) (*model.BridgeRecord, error) {
	if err := s.cache(ctx, rec); err != nil {
		return nil, err
	}
	if s.archive != nil {
		if err := s.archive.ApplyEvent(ctx, evt); err != nil {
			s.logger.Warn("store.archive_status_failed",
				zap.String("request_id", evt.RequestID),
				zap.Error(err))
		}
	}
	return rec, nil
}

// ListPending returns every record that is neither final nor timed out, oldest
// first. Redis ids whose record expired are dropped from the pending set; the
// archive fills gaps left by a flushed Redis.
func (s *HybridStore) ListPending(ctx context.Context) ([]model.BridgeRecord, error) {
	ids, err := s.redis.SMembers(ctx, pendingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending ids: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	var out []model.BridgeRecord

	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = recordKey(id)
		}
		vals, err := s.redis.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load pending records: %w", err)
		}
		var stale []any
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				stale = append(stale, ids[i])
				continue
			}
			var rec model.BridgeRecord
			if err := json.Unmarshal([]byte(str), &rec); err != nil {
				s.logger.Warn("store.pending_decode_failed", zap.String("request_id", ids[i]), zap.Error(err))
				continue
			}
			if rec.Final || rec.TimedOut {
				stale = append(stale, ids[i])
				continue
			}
			seen[rec.RequestID] = struct{}{}
			out = append(out, rec)
		}
		if len(stale) > 0 {
			if err := s.redis.SRem(ctx, pendingKey, stale...).Err(); err != nil {
				s.logger.Warn("store.pending_prune_failed", zap.Error(err))
			}
		}
	}

	if s.archive != nil {
		recs, err := s.archive.ListNonFinal(ctx, archiveLimit)
		if err != nil {
			s.logger.Warn("store.archive_pending_failed", zap.Error(err))
		}
		for _, rec := range recs {
			if rec.Final || rec.TimedOut {
				continue
			}
			if _, ok := seen[rec.RequestID]; !ok {
				out = append(out, rec)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
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
