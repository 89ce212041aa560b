package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func entry(i int) Entry {
	start := time.Date(2026, 1, 1, 9, 0, i, 0, time.UTC)
	return Entry{
		ID:           fmt.Sprintf("s-%d", i),
		Outcome:      OutcomeSuccess,
		PhaseReached: "complete",
		StartedAt:    start,
		EndedAt:      start.Add(20 * time.Second),
		DurationMs:   20000,
	}
}

func TestRedisRecorder_RecordAndRecent(t *testing.T) {
	mr, client := newTestRedis(t)
	rec := NewRedisRecorder(client, "kioskd:sessions", 3, time.Hour)
	defer rec.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := rec.Record(ctx, entry(i)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (capped)", len(got))
	}
	if got[0].ID != "s-5" || got[2].ID != "s-3" {
		t.Errorf("order = %s..%s, want newest first", got[0].ID, got[2].ID)
	}

	if ttl := mr.TTL("kioskd:sessions"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	limited, _ := rec.Recent(ctx, 1)
	if len(limited) != 1 || limited[0].ID != "s-5" {
		t.Errorf("Recent(1) = %+v", limited)
	}
}

func TestRedisRecorder_SkipsCorruptEntries(t *testing.T) {
	mr, client := newTestRedis(t)
	rec := NewRedisRecorder(client, "h", 10, 0)
	ctx := context.Background()

	rec.Record(ctx, entry(1))
	mr.Lpush("h", "{not json")

	got, err := rec.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "s-1" {
		t.Errorf("Recent() = %+v", got)
	}
	if mr.TTL("h") != 0 {
		t.Error("zero ttl should not set expiry")
	}
}

func TestRedisRecorder_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	rec := NewRedisRecorder(client, "h", 10, 0)
	mr.Close()

	if err := rec.Record(context.Background(), entry(1)); err == nil {
		t.Error("expected error with redis down")
	}
}

func TestDialRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	client, err := DialRedis(context.Background(), mr.Addr(), 0)
	if err != nil {
		t.Fatalf("DialRedis() error = %v", err)
	}
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := DialRedis(ctx, "127.0.0.1:1", 0); err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestFileRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.json")
	rec, err := NewFileRecorder(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	empty, err := rec.Recent(ctx, 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("Recent() on empty = %v, %v", empty, err)
	}

	for i := 1; i <= 3; i++ {
		if err := rec.Record(ctx, entry(i)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := rec.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "s-3" || got[1].ID != "s-2" {
		t.Errorf("Recent() = %+v", got)
	}
	if !got[0].StartedAt.Equal(entry(3).StartedAt) {
		t.Error("timestamps should round-trip")
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".tmp-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	if err := r.Record(context.Background(), entry(1)); err != nil {
		t.Error(err)
	}
	if got, _ := r.Recent(context.Background(), 1); got != nil {
		t.Error("NopRecorder should return nothing")
	}
}
