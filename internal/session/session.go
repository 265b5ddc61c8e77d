// Package session keeps the pending selection of each chat between the link
// message and the button press. A session holds at most one pending entry,
// bound to the message whose keyboard it answers. Storing a new selection
// replaces the old, so a late press on a stale keyboard finds an entry of
// another message and is reported as expired.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/observability"
)

// Store maps a session (a chat user) to its pending selection.
type Store interface {
	// Put stores p for sessionID, replacing any previous entry.
	Put(ctx context.Context, sessionID int64, p entity.Pending) error
	// PutIfAbsentOrOwned stores p only when the session is empty or holds an
	// entry of the same message. It reports whether p was stored.
	PutIfAbsentOrOwned(ctx context.Context, sessionID int64, p entity.Pending) (bool, error)
	// TakeFor returns and removes the entry bound to messageID. Missing,
	// expired or foreign entries yield errs.ErrSessionExpired and are left alone.
	TakeFor(ctx context.Context, sessionID int64, messageID int) (entity.Pending, error)
	// Clear removes the entry if present.
	Clear(ctx context.Context, sessionID int64) error
	Close() error
}

// New builds the store selected by cfg.Session.Backend.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) (Store, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		return NewRedis(ctx, log, cfg, metrics)
	case config.SessionBackendMemory, "":
		return NewMemory(log, cfg.Session.TTL, metrics), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

type entry struct {
	pending   entity.Pending
	expiresAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	log     *slog.Logger
	ttl     time.Duration
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[int64]entry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an in-memory store. A zero ttl keeps entries until taken.
func NewMemory(log *slog.Logger, ttl time.Duration, metrics *observability.Metrics) *Memory {
	return &Memory{
		log:     log.With(slog.String("package", "session"), slog.String("backend", config.SessionBackendMemory)),
		ttl:     ttl,
		metrics: metrics,
		entries: make(map[int64]entry),
	}
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, sessionID int64, p entity.Pending) error {
	e := m.newEntry(p)

	m.mu.Lock()
	m.entries[sessionID] = e
	m.mu.Unlock()

	m.stored(ctx, sessionID, e.pending)

	return nil
}

// PutIfAbsentOrOwned implements Store.
func (m *Memory) PutIfAbsentOrOwned(ctx context.Context, sessionID int64, p entity.Pending) (bool, error) {
	e := m.newEntry(p)

	m.mu.Lock()
	cur, ok := m.entries[sessionID]
	if ok && !cur.expired(time.Now()) && cur.pending.MessageID != p.MessageID {
		m.mu.Unlock()
		m.log.DebugContext(ctx, "pending kept, owned by another message",
			slog.Int64("session", sessionID), slog.Int("owner", cur.pending.MessageID))

		return false, nil
	}

	m.entries[sessionID] = e
	m.mu.Unlock()

	m.stored(ctx, sessionID, e.pending)

	return true, nil
}

// TakeFor implements Store.
func (m *Memory) TakeFor(ctx context.Context, sessionID int64, messageID int) (entity.Pending, error) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]

	live := ok && !e.expired(time.Now())
	if ok && !live {
		delete(m.entries, sessionID)
	}

	owned := live && e.pending.MessageID == messageID
	if owned {
		delete(m.entries, sessionID)
	}
	m.mu.Unlock()

	if !owned {
		m.metrics.RecordSessionExpired()
		m.log.DebugContext(ctx, "no pending selection for message", slog.Int64("session", sessionID),
			slog.Int("message", messageID), slog.Bool("found", live))

		return entity.Pending{}, errs.ErrSessionExpired
	}

	return e.pending, nil
}

func (m *Memory) newEntry(p entity.Pending) entry {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = time.Now().Add(m.ttl)
	}

	return entry{pending: p, expiresAt: expiresAt}
}

func (m *Memory) stored(ctx context.Context, sessionID int64, p entity.Pending) {
	m.metrics.RecordSessionStored()
	m.log.DebugContext(ctx, "pending stored", slog.Int64("session", sessionID), slog.Any("pending", p))
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context, sessionID int64) error {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()

	return nil
}

// Len returns the number of stored entries, expired ones included until the janitor runs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

// StartJanitor drops expired entries every interval until ctx is done.
func (m *Memory) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.purge(now); n > 0 {
				m.log.DebugContext(ctx, "expired sessions purged", slog.Int("count", n))
			}
		}
	}
}

func (m *Memory) purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	for id, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, id)

			removed++
		}
	}

	return removed
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
