package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "tunegrab:session:"
	pingTimeout  = 5 * time.Second
	// watchRetries bounds optimistic transactions lost to a concurrent writer.
	watchRetries = 5
)

// Redis is a Store shared by several bot processes.
type Redis struct {
	log     *slog.Logger
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

var _ Store = (*Redis)(nil)

// NewRedis connects to cfg.Session.RedisAddr and verifies the connection.
func NewRedis(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Session.RedisAddr,
		Password: cfg.Session.RedisPassword,
		DB:       cfg.Session.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()

		return nil, fmt.Errorf("ping redis %s: %w", cfg.Session.RedisAddr, err)
	}

	return &Redis{
		log:     log.With(slog.String("package", "session"), slog.String("backend", config.SessionBackendRedis)),
		client:  client,
		ttl:     cfg.Session.TTL,
		metrics: metrics,
	}, nil
}

// Put implements Store. Redis expires the key after the configured TTL.
func (r *Redis) Put(ctx context.Context, sessionID int64, p entity.Pending) error {
	data, err := encodePending(p)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, redisKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	r.metrics.RecordSessionStored()

	return nil
}

// PutIfAbsentOrOwned implements Store. The key is watched so a selection
// stored between the read and the write aborts the transaction.
func (r *Redis) PutIfAbsentOrOwned(ctx context.Context, sessionID int64, p entity.Pending) (bool, error) {
	data, err := encodePending(p)
	if err != nil {
		return false, err
	}

	key := redisKey(sessionID)
	stored := false

	err = r.watch(ctx, key, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, sessionID)
		if err == nil && cur.MessageID != p.MessageID {
			stored = false

			return nil
		}

		if err != nil && !errors.Is(err, errs.ErrSessionExpired) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)

			return nil
		})
		stored = err == nil

		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis conditional set: %w", err)
	}

	if stored {
		r.metrics.RecordSessionStored()
	}

	return stored, nil
}

// TakeFor implements Store. The entry is deleted inside a watched
// transaction, so two presses on the same keyboard cannot both start an
// acquisition.
func (r *Redis) TakeFor(ctx context.Context, sessionID int64, messageID int) (entity.Pending, error) {
	key := redisKey(sessionID)

	var p entity.Pending

	err := r.watch(ctx, key, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		if cur.MessageID != messageID {
			return errs.ErrSessionExpired
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)

			return nil
		}); err != nil {
			return err
		}

		p = cur

		return nil
	})
	if errors.Is(err, errs.ErrSessionExpired) {
		r.metrics.RecordSessionExpired()

		return entity.Pending{}, err
	}

	if err != nil {
		return entity.Pending{}, fmt.Errorf("redis take: %w", err)
	}

	return p, nil
}

// watch runs fn in a WATCH transaction on key, retrying when another client
// changed the key before EXEC.
func (r *Redis) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	var err error

	for range watchRetries {
		err = r.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return err
}

// load reads the entry under watch. A corrupt entry is dropped and reported
// as expired.
func (r *Redis) load(ctx context.Context, tx *redis.Tx, sessionID int64) (entity.Pending, error) {
	data, err := tx.Get(ctx, redisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.Pending{}, errs.ErrSessionExpired
	}

	if err != nil {
		return entity.Pending{}, fmt.Errorf("redis get: %w", err)
	}

	var p entity.Pending
	if err := json.Unmarshal(data, &p); err != nil {
		r.log.WarnContext(ctx, "corrupt pending entry", slog.Int64("session", sessionID), slog.Any("error", err))

		if delErr := tx.Del(ctx, redisKey(sessionID)).Err(); delErr != nil {
			return entity.Pending{}, fmt.Errorf("redis del: %w", delErr)
		}

		return entity.Pending{}, fmt.Errorf("%w: %w", errs.ErrSessionExpired, err)
	}

	return p, nil
}

func encodePending(p entity.Pending) ([]byte, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pending: %w", err)
	}

	return data, nil
}

// Clear implements Store.
func (r *Redis) Clear(ctx context.Context, sessionID int64) error {
	if err := r.client.Del(ctx, redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.client.Close()
}

func redisKey(sessionID int64) string {
	return keyPrefix + strconv.FormatInt(sessionID, 10)
}
