package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/synctest"
	"time"

	"tunegrab/internal/consts"
)

func TestStartJanitor(t *testing.T) {
	const (
		interval = time.Minute
		ttl      = time.Hour
	)

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		ws := newWorkspace(t)
		now := time.Now()

		orphan := ws.NewTemp(consts.PrefixAudio).Path("m4a.part")
		fresh := ws.NewTemp(consts.PrefixAudio).Path("m4a")
		foreign := filepath.Join(ws.Dir(), "notes.txt")

		for path, mtime := range map[string]time.Time{
			orphan:  now.Add(-2 * ttl),
			fresh:   now,
			foreign: now.Add(-2 * ttl),
		} {
			touch(t, path)

			if err := os.Chtimes(path, mtime, mtime); err != nil {
				t.Fatalf("chtimes %s: %v", path, err)
			}
		}

		done := make(chan struct{})

		go func() {
			ws.StartJanitor(ctx, interval, ttl)
			close(done)
		}()

		time.Sleep(interval + time.Second)
		synctest.Wait()

		if _, err := os.Stat(orphan); !os.IsNotExist(err) {
			t.Errorf("orphan %s was not removed", orphan)
		}

		if _, err := os.Stat(fresh); err != nil {
			t.Errorf("fresh artifact removed: %v", err)
		}

		if _, err := os.Stat(foreign); err != nil {
			t.Errorf("file without temp prefix removed: %v", err)
		}

		cancel()
		<-done
	})
}

func TestStartJanitorDisabled(t *testing.T) {
	ws := newWorkspace(t)

	done := make(chan struct{})

	go func() {
		ws.StartJanitor(t.Context(), 0, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartJanitor with zero interval must return immediately")
	}
}
