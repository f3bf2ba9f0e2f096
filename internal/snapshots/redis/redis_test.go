package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
)

func TestStore_Key(t *testing.T) {
	s := New(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}))
	defer s.Close()
	if got := s.Key("alice"); got != "numtrack:ledger:alice" {
		t.Errorf("Key = %q", got)
	}

	custom := New(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), WithPrefix("t:"), WithTTL(time.Hour))
	defer custom.Close()
	if got := custom.Key("bob"); got != "t:bob" {
		t.Errorf("Key with prefix = %q", got)
	}
	if custom.ttl != time.Hour {
		t.Errorf("ttl = %v", custom.ttl)
	}
}

func TestStore_ValidatesBeforeNetwork(t *testing.T) {
	s := New(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}))
	defer s.Close()
	ctx := context.Background()

	if _, err := s.LoadSnapshot(ctx, "bad owner"); !errors.Is(err, snapshots.ErrInvalidOwner) {
		t.Errorf("LoadSnapshot: expected ErrInvalidOwner, got %v", err)
	}
	if err := s.DeleteSnapshot(ctx, ""); !errors.Is(err, snapshots.ErrInvalidOwner) {
		t.Errorf("DeleteSnapshot: expected ErrInvalidOwner, got %v", err)
	}
	bad := ledger.Snapshot{Entries: map[core.Label][]float64{"1": {1}}}
	if err := s.SaveSnapshot(ctx, "alice", bad); !errors.Is(err, ledger.ErrInvalidLabel) {
		t.Errorf("SaveSnapshot: expected ErrInvalidLabel, got %v", err)
	}
}

func TestNewFromURL_InvalidURL(t *testing.T) {
	if _, err := NewFromURL(context.Background(), "http://localhost:6379"); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}
