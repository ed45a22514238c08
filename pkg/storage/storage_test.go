package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/grmlab/gramscope/pkg/gram"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func day(s string) time.Time {
	ts, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return ts
}

func TestAccountRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	acct := gram.Account{ID: "42", Username: "alice", FullName: "Alice", SessionBlob: "sealed"}
	if err := db.UpsertAccount(ctx, acct); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	got, err := db.GetAccount(ctx, "42")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Username != "alice" || got.SessionBlob != "sealed" {
		t.Fatalf("got %+v", got)
	}
	if got.LastSyncAt != nil {
		t.Fatal("fresh account should have no last sync")
	}

	// Upsert refreshes in place.
	acct.Username = "alice_renamed"
	acct.SessionBlob = "sealed2"
	if err := db.UpsertAccount(ctx, acct); err != nil {
		t.Fatalf("second UpsertAccount: %v", err)
	}
	got, err = db.GetAccount(ctx, "42")
	if err != nil {
		t.Fatalf("GetAccount after upsert: %v", err)
	}
	if got.Username != "alice_renamed" || got.SessionBlob != "sealed2" {
		t.Fatalf("upsert did not refresh: %+v", got)
	}

	accounts, err := db.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("ListAccounts returned %d rows", len(accounts))
	}
}

func TestGetAccountNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetAccount(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchLastSync(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertAccount(ctx, gram.Account{ID: "42", Username: "alice", SessionBlob: "s"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	when := day("2026-08-30 10:00")
	if err := db.TouchLastSync(ctx, "42", when); err != nil {
		t.Fatalf("TouchLastSync: %v", err)
	}

	got, err := db.GetAccount(ctx, "42")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(when) {
		t.Fatalf("last sync = %v, want %v", got.LastSyncAt, when)
	}
}

func TestClearSession(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertAccount(ctx, gram.Account{ID: "42", Username: "alice", SessionBlob: "sealed"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if err := db.ClearSession(ctx, "42"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	got, err := db.GetAccount(ctx, "42")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.SessionBlob != "" {
		t.Fatalf("session blob not cleared: %q", got.SessionBlob)
	}
}

func TestPreviousFollowersNeedsTwoDates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// No history at all.
	users, err := db.PreviousFollowers(ctx, "42")
	if err != nil {
		t.Fatalf("PreviousFollowers: %v", err)
	}
	if users != nil {
		t.Fatalf("expected nil with no history, got %v", users)
	}

	// One date is still not enough to diff.
	snap := gram.Snapshot{
		AccountID:  "42",
		CapturedAt: day("2026-08-29 09:00"),
		Followers:  []gram.User{{ID: "a", Username: "amy"}},
	}
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	users, err = db.PreviousFollowers(ctx, "42")
	if err != nil {
		t.Fatalf("PreviousFollowers: %v", err)
	}
	if users != nil {
		t.Fatalf("expected nil with a single date, got %v", users)
	}
}

func TestPreviousFollowersPicksSecondMostRecentDate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	save := func(capturedAt time.Time, followers ...gram.User) {
		t.Helper()
		if err := db.SaveSnapshot(ctx, gram.Snapshot{
			AccountID:  "42",
			CapturedAt: capturedAt,
			Followers:  followers,
		}); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	save(day("2026-08-27 09:00"), gram.User{ID: "old", Username: "old"})
	save(day("2026-08-28 09:00"), gram.User{ID: "mid", Username: "mid"})
	save(day("2026-08-29 09:00"), gram.User{ID: "new", Username: "new"})

	users, err := db.PreviousFollowers(ctx, "42")
	if err != nil {
		t.Fatalf("PreviousFollowers: %v", err)
	}
	if len(users) != 1 || users[0].ID != "mid" {
		t.Fatalf("expected the 2026-08-28 snapshot, got %v", users)
	}
}

func TestSaveSnapshotFoldsSameDay(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	morning := gram.Snapshot{
		AccountID:  "42",
		CapturedAt: day("2026-08-29 09:00"),
		Followers:  []gram.User{{ID: "a", Username: "amy"}, {ID: "b", Username: "bob"}},
	}
	evening := gram.Snapshot{
		AccountID:  "42",
		CapturedAt: day("2026-08-29 21:00"),
		Followers:  []gram.User{{ID: "a", Username: "amy"}},
	}
	if err := db.SaveSnapshot(ctx, morning); err != nil {
		t.Fatalf("SaveSnapshot morning: %v", err)
	}
	if err := db.SaveSnapshot(ctx, evening); err != nil {
		t.Fatalf("SaveSnapshot evening: %v", err)
	}

	if err := db.UpsertAccount(ctx, gram.Account{ID: "42", Username: "alice", SessionBlob: "s"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("GetStats returned %d rows", len(stats))
	}
	if stats[0].SnapshotDays != 1 {
		t.Fatalf("snapshot days = %d, want 1 (same-day syncs must fold)", stats[0].SnapshotDays)
	}
	if stats[0].FollowerRows != 1 {
		t.Fatalf("follower rows = %d, want 1 (evening sync replaces morning)", stats[0].FollowerRows)
	}
}

func TestAnalyticsCache(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.CachedAnalytics(ctx, "42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first sync, got %v", err)
	}

	report := gram.Report{
		Overview: gram.Overview{TotalFollowers: 2, Mutual: 1},
		Mutual:   []gram.User{{ID: "a", Username: "amy"}},
	}
	if err := db.UpsertAnalytics(ctx, "42", report); err != nil {
		t.Fatalf("UpsertAnalytics: %v", err)
	}

	got, err := db.CachedAnalytics(ctx, "42")
	if err != nil {
		t.Fatalf("CachedAnalytics: %v", err)
	}
	if got.Overview.TotalFollowers != 2 || len(got.Mutual) != 1 {
		t.Fatalf("got %+v", got)
	}

	// Second upsert overwrites, never accumulates.
	report.Overview.TotalFollowers = 5
	if err := db.UpsertAnalytics(ctx, "42", report); err != nil {
		t.Fatalf("second UpsertAnalytics: %v", err)
	}
	got, err = db.CachedAnalytics(ctx, "42")
	if err != nil {
		t.Fatalf("CachedAnalytics after overwrite: %v", err)
	}
	if got.Overview.TotalFollowers != 5 {
		t.Fatalf("cache not overwritten: %+v", got.Overview)
	}
}
