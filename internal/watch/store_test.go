package watch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), srv
}

func newSQLiteStore(t *testing.T, clk clock.Clock) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "state", "watch.db"), clk)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStores_basic_operations(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewInMemoryStore(nil) },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t, nil) },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			key := StateKey(7)

			if _, ok, err := s.Get(ctx, key); err != nil || ok {
				t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
			}
			if err := s.Set(ctx, key, []byte(`{"a":1}`), time.Hour); err != nil {
				t.Fatal(err)
			}
			if err := s.Set(ctx, key, []byte(`{"a":2}`), time.Hour); err != nil {
				t.Fatal(err)
			}
			got, ok, err := s.Get(ctx, key)
			if err != nil || !ok || string(got) != `{"a":2}` {
				t.Fatalf("expected overwritten value, got %q ok=%v err=%v", got, ok, err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := s.Get(ctx, key); ok {
				t.Error("expected key gone after delete")
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Errorf("deleting a missing key: %v", err)
			}
		})
	}
}

func TestInMemoryStore_ttl(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	s := NewInMemoryStore(mock)

	_ = s.Set(ctx, "short", []byte("x"), time.Minute)
	_ = s.Set(ctx, "forever", []byte("y"), 0)

	mock.Add(59 * time.Second)
	if _, ok, _ := s.Get(ctx, "short"); !ok {
		t.Fatal("expired too early")
	}
	mock.Add(time.Second)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("expected expiry after the ttl")
	}
	if s.Len() != 1 {
		t.Errorf("expected expired entry dropped on read, have %d", s.Len())
	}
	mock.Add(1000 * time.Hour)
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Error("entry without ttl expired")
	}
}

func TestInMemoryStore_copies_values(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(nil)
	v := []byte("abc")
	_ = s.Set(ctx, "k", v, 0)
	v[0] = 'z'
	got, _, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased the caller's slice: %q", got)
	}
}

func TestSQLiteStore_ttl_and_sweep(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Set(epoch)
	s := newSQLiteStore(t, mock)

	_ = s.Set(ctx, "a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "b", []byte("2"), time.Hour)
	_ = s.Set(ctx, "c", []byte("3"), 0)

	mock.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("expected a expired")
	}
	if _, ok, _ := s.Get(ctx, "b"); !ok {
		t.Error("expected b alive")
	}

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 row swept, got %d", n)
	}

	mock.Add(2 * time.Hour)
	if n, _ := s.Sweep(ctx); n != 1 {
		t.Errorf("expected b swept, got %d", n)
	}
	if _, ok, _ := s.Get(ctx, "c"); !ok {
		t.Error("row without ttl swept")
	}
}

func TestSQLiteStore_survives_reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "watch.db")

	s, err := OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, StateKey(1), []byte("saved"), time.Hour); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, ok, err := s.Get(ctx, StateKey(1))
	if err != nil || !ok || string(got) != "saved" {
		t.Errorf("expected value after reopen, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestRedisStore_ttl(t *testing.T) {
	ctx := context.Background()
	s, srv := newRedisStore(t)

	if err := s.Set(ctx, StateKey(3), []byte("x"), DefaultStateTTL); err != nil {
		t.Fatal(err)
	}
	if ttl := srv.TTL(StateKey(3)); ttl != DefaultStateTTL {
		t.Errorf("expected ttl %v, got %v", DefaultStateTTL, ttl)
	}

	srv.FastForward(DefaultStateTTL)
	if _, ok, err := s.Get(ctx, StateKey(3)); err != nil || ok {
		t.Errorf("expected key expired, got ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_unreachable(t *testing.T) {
	s, srv := newRedisStore(t)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := s.Get(ctx, "k"); err == nil {
		t.Error("expected an error from a closed server")
	}
}
