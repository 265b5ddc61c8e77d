package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testURL = "https://youtu.be/abc"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryPutTake(t *testing.T) {
	t.Parallel()

	metrics := observability.New(prometheus.NewRegistry())
	store := NewMemory(discard(), time.Hour, metrics)
	ctx := t.Context()

	if err := store.Put(ctx, 1, entity.Pending{URL: testURL, Kind: entity.PendingSelection}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := store.TakeFor(ctx, 1, 0)
	if err != nil {
		t.Fatalf("TakeFor() failed: %v", err)
	}

	if got.URL != testURL || got.CreatedAt.IsZero() {
		t.Errorf("TakeFor() = %+v", got)
	}

	if _, err := store.TakeFor(ctx, 1, 0); !errors.Is(err, errs.ErrSessionExpired) {
		t.Errorf("second TakeFor() error = %v, want ErrSessionExpired", err)
	}

	if got := testutil.ToFloat64(metrics.SessionsExpired); got != 1 {
		t.Errorf("expired counter = %v, want 1", got)
	}
}

func TestMemoryReplacesStaleEntry(t *testing.T) {
	t.Parallel()

	store := NewMemory(discard(), time.Hour, nil)
	ctx := t.Context()

	_ = store.Put(ctx, 7, entity.Pending{URL: "https://youtu.be/old", Kind: entity.PendingSelection})
	_ = store.Put(ctx, 7, entity.Pending{URL: "https://youtu.be/new", Kind: entity.PendingSelection})

	got, err := store.TakeFor(ctx, 7, 0)
	if err != nil {
		t.Fatalf("TakeFor() failed: %v", err)
	}

	if got.URL != "https://youtu.be/new" {
		t.Errorf("TakeFor().URL = %q, want the newest link", got.URL)
	}

	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestMemorySessionsAreIsolated(t *testing.T) {
	t.Parallel()

	store := NewMemory(discard(), time.Hour, nil)
	ctx := t.Context()

	var wg sync.WaitGroup

	for id := range int64(50) {
		wg.Go(func() {
			_ = store.Put(ctx, id, entity.Pending{URL: testURL, Attempt: int(id)})
		})
	}

	wg.Wait()

	for id := range int64(50) {
		got, err := store.TakeFor(ctx, id, 0)
		if err != nil {
			t.Fatalf("TakeFor(%d) failed: %v", id, err)
		}

		if got.Attempt != int(id) {
			t.Errorf("session %d got entry of session %d", id, got.Attempt)
		}
	}
}

func TestMemoryClear(t *testing.T) {
	t.Parallel()

	store := NewMemory(discard(), time.Hour, nil)
	ctx := t.Context()

	_ = store.Put(ctx, 3, entity.Pending{URL: testURL})

	if err := store.Clear(ctx, 3); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}

	if _, err := store.TakeFor(ctx, 3, 0); !errors.Is(err, errs.ErrSessionExpired) {
		t.Errorf("TakeFor() after Clear() error = %v", err)
	}
}

func TestMemoryMessageOwnership(t *testing.T) {
	t.Parallel()

	selection := entity.Pending{URL: "https://youtu.be/new", Kind: entity.PendingSelection, MessageID: 20}
	retry := entity.Pending{URL: testURL, Kind: entity.PendingRetry, Quality: entity.QualityLow, MessageID: 10}

	tests := []struct {
		name       string
		existing   *entity.Pending
		put        entity.Pending
		wantStored bool
		takeFrom   int
		wantURL    string
	}{
		{
			name:       "empty session accepts the retry",
			put:        retry,
			wantStored: true,
			takeFrom:   10,
			wantURL:    testURL,
		},
		{
			name:       "newer selection of another message is kept",
			existing:   &selection,
			put:        retry,
			wantStored: false,
			takeFrom:   20,
			wantURL:    "https://youtu.be/new",
		},
		{
			name:       "entry of the same message is replaced",
			existing:   &entity.Pending{URL: "https://youtu.be/stale", Kind: entity.PendingSelection, MessageID: 10},
			put:        retry,
			wantStored: true,
			takeFrom:   10,
			wantURL:    testURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := NewMemory(discard(), time.Hour, nil)
			ctx := t.Context()

			if tt.existing != nil {
				_ = store.Put(ctx, 1, *tt.existing)
			}

			stored, err := store.PutIfAbsentOrOwned(ctx, 1, tt.put)
			if err != nil {
				t.Fatalf("PutIfAbsentOrOwned() failed: %v", err)
			}

			if stored != tt.wantStored {
				t.Errorf("PutIfAbsentOrOwned() = %v, want %v", stored, tt.wantStored)
			}

			got, err := store.TakeFor(ctx, 1, tt.takeFrom)
			if err != nil {
				t.Fatalf("TakeFor() failed: %v", err)
			}

			if got.URL != tt.wantURL {
				t.Errorf("TakeFor().URL = %q, want %q", got.URL, tt.wantURL)
			}
		})
	}
}

func TestMemoryTakeForLeavesForeignEntry(t *testing.T) {
	t.Parallel()

	store := NewMemory(discard(), time.Hour, nil)
	ctx := t.Context()

	_ = store.Put(ctx, 1, entity.Pending{URL: testURL, Kind: entity.PendingSelection, MessageID: 20})

	if _, err := store.TakeFor(ctx, 1, 10); !errors.Is(err, errs.ErrSessionExpired) {
		t.Fatalf("TakeFor() of a stale keyboard error = %v, want ErrSessionExpired", err)
	}

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want the newer entry kept", store.Len())
	}

	got, err := store.TakeFor(ctx, 1, 20)
	if err != nil {
		t.Fatalf("TakeFor() of the current keyboard failed: %v", err)
	}

	if got.URL != testURL || got.MessageID != 20 {
		t.Errorf("TakeFor() = %+v", got)
	}
}

func TestMemoryPutIfAbsentOrOwnedReplacesExpired(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := NewMemory(discard(), time.Minute, nil)
		ctx := t.Context()

		_ = store.Put(ctx, 1, entity.Pending{URL: "https://youtu.be/old", MessageID: 20})

		time.Sleep(2 * time.Minute)

		stored, err := store.PutIfAbsentOrOwned(ctx, 1, entity.Pending{URL: testURL, Kind: entity.PendingRetry, MessageID: 10})
		if err != nil || !stored {
			t.Fatalf("PutIfAbsentOrOwned() = %v, %v, want an expired entry replaced", stored, err)
		}

		got, err := store.TakeFor(ctx, 1, 10)
		if err != nil || got.URL != testURL {
			t.Errorf("TakeFor() = %+v, %v", got, err)
		}
	})
}

func TestMemoryTTL(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := NewMemory(discard(), time.Minute, nil)
		ctx := t.Context()

		_ = store.Put(ctx, 1, entity.Pending{URL: testURL})
		_ = store.Put(ctx, 2, entity.Pending{URL: testURL})

		time.Sleep(30 * time.Second)

		if _, err := store.TakeFor(ctx, 1, 0); err != nil {
			t.Errorf("TakeFor() before TTL failed: %v", err)
		}

		time.Sleep(31 * time.Second)

		if _, err := store.TakeFor(ctx, 2, 0); !errors.Is(err, errs.ErrSessionExpired) {
			t.Errorf("TakeFor() after TTL error = %v, want ErrSessionExpired", err)
		}
	})
}

func TestMemoryJanitor(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := NewMemory(discard(), time.Minute, nil)

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		_ = store.Put(ctx, 1, entity.Pending{URL: testURL})

		go store.StartJanitor(ctx, 30*time.Second)

		time.Sleep(45 * time.Second)
		synctest.Wait()

		if store.Len() != 1 {
			t.Fatalf("Len() = %d before expiry, want 1", store.Len())
		}

		time.Sleep(time.Minute)
		synctest.Wait()

		if store.Len() != 0 {
			t.Errorf("Len() = %d after expiry, want 0", store.Len())
		}

		cancel()
		synctest.Wait()
	})
}

func TestNewPicksBackend(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Session: config.Session{Backend: config.SessionBackendMemory, TTL: time.Minute}}

	store, err := New(t.Context(), discard(), cfg, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, ok := store.(*Memory); !ok {
		t.Errorf("New() = %T, want *Memory", store)
	}

	cfg.Session.Backend = "etcd"
	if _, err := New(t.Context(), discard(), cfg, nil); err == nil {
		t.Error("New() accepted an unknown backend")
	}
}

func TestRedisKey(t *testing.T) {
	t.Parallel()

	if got := redisKey(-100123); got != "tunegrab:session:-100123" {
		t.Errorf("redisKey() = %q", got)
	}
}

// TestRedisRoundTrip runs against a real server when TUNEGRAB_TEST_REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TUNEGRAB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TUNEGRAB_TEST_REDIS_ADDR not set")
	}

	cfg := &config.Config{Session: config.Session{Backend: config.SessionBackendRedis, TTL: time.Minute, RedisAddr: addr}}

	store, err := NewRedis(t.Context(), discard(), cfg, nil)
	if err != nil {
		t.Fatalf("NewRedis() failed: %v", err)
	}
	defer store.Close()

	ctx := t.Context()
	id := time.Now().UnixNano()

	if err := store.Put(ctx, id, entity.Pending{URL: testURL, Kind: entity.PendingRetry, Quality: entity.QualityLow, Attempt: 2}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := store.TakeFor(ctx, id, 0)
	if err != nil {
		t.Fatalf("TakeFor() failed: %v", err)
	}

	if got.Kind != entity.PendingRetry || got.Quality != entity.QualityLow || got.Attempt != 2 {
		t.Errorf("TakeFor() = %+v", got)
	}

	if _, err := store.TakeFor(ctx, id, 0); !errors.Is(err, errs.ErrSessionExpired) {
		t.Errorf("second TakeFor() error = %v, want ErrSessionExpired", err)
	}

	_ = store.Put(ctx, id, entity.Pending{URL: "https://youtu.be/new", Kind: entity.PendingSelection, MessageID: 20})

	stored, err := store.PutIfAbsentOrOwned(ctx, id, entity.Pending{URL: testURL, Kind: entity.PendingRetry, MessageID: 10})
	if err != nil || stored {
		t.Errorf("PutIfAbsentOrOwned() over a newer selection = %v, %v, want false", stored, err)
	}

	if _, err := store.TakeFor(ctx, id, 10); !errors.Is(err, errs.ErrSessionExpired) {
		t.Errorf("TakeFor() of a stale keyboard error = %v, want ErrSessionExpired", err)
	}

	got, err = store.TakeFor(ctx, id, 20)
	if err != nil || got.URL != "https://youtu.be/new" {
		t.Errorf("TakeFor() of the current keyboard = %+v, %v", got, err)
	}
}
