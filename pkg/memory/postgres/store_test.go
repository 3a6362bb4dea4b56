package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if EARSHOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EARSHOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EARSHOT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on an empty table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS session_entries"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_WriteAndGetRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, text := range []string{"one", "two", "three"} {
		err := store.WriteEntry(ctx, memory.TranscriptEntry{
			SessionID: "s1",
			Seq:       uint64(i),
			Backend:   "mock",
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Duration:  time.Second,
		})
		if err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}

	got, err := store.GetRecent(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("GetRecent = %+v, want [two three]", got)
	}
	if got[1].Seq != 2 || got[1].Duration != time.Second || got[1].Backend != "mock" {
		t.Errorf("entry = %+v", got[1])
	}
}

func TestStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []memory.TranscriptEntry{
		{SessionID: "a", Text: "Turn on the lights"},
		{SessionID: "a", Text: "what time is it"},
		{SessionID: "b", Text: "lights off"},
	}
	for _, e := range entries {
		if err := store.WriteEntry(ctx, e); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}

	got, err := store.Search(ctx, memory.SearchOpts{Query: "LIGHTS"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search(LIGHTS) = %d entries, want 2", len(got))
	}

	got, err = store.Search(ctx, memory.SearchOpts{Query: "lights", SessionID: "b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "lights off" {
		t.Errorf("Search(session b) = %+v", got)
	}
}
