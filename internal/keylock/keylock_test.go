package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"printkiosk/internal/config"
	"printkiosk/internal/services"
)

func TestLocalSerialisesSameKey(t *testing.T) {
	locker := NewLocal()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "report.pdf")
			if err != nil {
				t.Errorf("Lock returned error: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen.Load())
	}
	if locker.Len() != 0 {
		t.Fatalf("expected entries to be dropped, %d remain", locker.Len())
	}
}

func TestLocalDistinctKeysDoNotBlock(t *testing.T) {
	locker := NewLocal()
	unlockA, err := locker.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	unlockB()
}

func TestLocalHonoursContext(t *testing.T) {
	locker := NewLocal()
	unlock, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if locker.Len() != 0 {
		t.Fatalf("expected no entries after release, got %d", locker.Len())
	}
}

type fakeLease struct {
	mu       sync.Mutex
	holders  map[string]string
	attempts int
	released int
	fail     error
}

func (f *fakeLease) acquire(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail != nil {
		return false, f.fail
	}
	if f.holders == nil {
		f.holders = make(map[string]string)
	}
	if _, held := f.holders[key]; held {
		return false, nil
	}
	f.holders[key] = token
	return true, nil
}

func (f *fakeLease) release(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holders[key] == token {
		delete(f.holders, key)
		f.released++
	}
	return nil
}

func (f *fakeLease) hold(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holders == nil {
		f.holders = make(map[string]string)
	}
	f.holders[key] = "other-process"
}

func (f *fakeLease) drop(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.holders, key)
}

func TestRedisWaitsForRemoteHolder(t *testing.T) {
	backend := &fakeLease{}
	locker := newRedis(backend, WithPrefix("test:"))
	backend.hold("test:flyer.pdf")

	go func() {
		time.Sleep(40 * time.Millisecond)
		backend.drop("test:flyer.pdf")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	unlock, err := locker.Lock(ctx, "flyer.pdf")
	if err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}
	backend.mu.Lock()
	attempts := backend.attempts
	backend.mu.Unlock()
	if attempts < 2 {
		t.Fatalf("expected polling while the key was held, attempts=%d", attempts)
	}
	unlock()
	unlock()
	if backend.released != 1 {
		t.Fatalf("expected a single release, got %d", backend.released)
	}
}

func TestRedisBackendFailureIsUnavailable(t *testing.T) {
	backend := &fakeLease{fail: errors.New("connection refused")}
	locker := newRedis(backend)
	if _, err := locker.Lock(context.Background(), "k"); !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if locker.local.Len() != 0 {
		t.Fatal("local lock leaked after backend failure")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default()
	locker, err := New(&cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := locker.(*Local); !ok {
		t.Fatalf("expected local locker, got %T", locker)
	}

	cfg.Locking.Backend = "redis"
	cfg.Locking.RedisAddr = "127.0.0.1:1"
	locker, err = New(&cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := locker.(*Redis); !ok {
		t.Fatalf("expected redis locker, got %T", locker)
	}

	cfg.Locking.Backend = "zookeeper"
	if _, err := New(&cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
