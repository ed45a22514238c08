// Package storage persists accounts, relationship snapshots, and the cached
// analytics report in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grmlab/gramscope/pkg/gram"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// dateLayout is the UTC calendar-date bucket snapshots are grouped by.
// Multiple syncs on the same day overwrite each other's rows, so "the
// previous snapshot" always means a strictly earlier date. The analytics
// diff baseline depends on this granularity; do not change it silently.
const dateLayout = "2006-01-02"

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS accounts (
  id            TEXT PRIMARY KEY,
  username      TEXT NOT NULL,
  full_name     TEXT,
  avatar_url    TEXT,
  session_blob  TEXT NOT NULL,
  created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_sync_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts(username);
CREATE TABLE IF NOT EXISTS follower_snapshots (
  id            INTEGER PRIMARY KEY,
  account_id    TEXT NOT NULL,
  snapshot_date TEXT NOT NULL,
  captured_at   DATETIME NOT NULL,
  user_id       TEXT NOT NULL,
  username      TEXT NOT NULL,
  full_name     TEXT,
  avatar_url    TEXT,
  is_verified   INTEGER NOT NULL DEFAULT 0 CHECK (is_verified IN (0,1)),
  is_private    INTEGER NOT NULL DEFAULT 0 CHECK (is_private IN (0,1))
);
CREATE INDEX IF NOT EXISTS idx_follower_snap ON follower_snapshots(account_id, snapshot_date);
CREATE TABLE IF NOT EXISTS following_snapshots (
  id            INTEGER PRIMARY KEY,
  account_id    TEXT NOT NULL,
  snapshot_date TEXT NOT NULL,
  captured_at   DATETIME NOT NULL,
  user_id       TEXT NOT NULL,
  username      TEXT NOT NULL,
  full_name     TEXT,
  avatar_url    TEXT,
  is_verified   INTEGER NOT NULL DEFAULT 0 CHECK (is_verified IN (0,1)),
  is_private    INTEGER NOT NULL DEFAULT 0 CHECK (is_private IN (0,1))
);
CREATE INDEX IF NOT EXISTS idx_following_snap ON following_snapshots(account_id, snapshot_date);
CREATE TABLE IF NOT EXISTS analytics_cache (
  id          INTEGER PRIMARY KEY,
  account_id  TEXT NOT NULL UNIQUE,
  data        TEXT NOT NULL,
  computed_at DATETIME NOT NULL
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Ping verifies the database is reachable; used by readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// UpsertAccount inserts or refreshes the stored account record, including the
// sealed session blob.
func (d *DB) UpsertAccount(ctx context.Context, a gram.Account) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO accounts(id, username, full_name, avatar_url, session_blob, created_at, updated_at)
VALUES(?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  username = excluded.username,
  full_name = excluded.full_name,
  avatar_url = excluded.avatar_url,
  session_blob = excluded.session_blob,
  updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Username, nullIfEmpty(a.FullName), nullIfEmpty(a.AvatarURL), a.SessionBlob)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.ID, err)
	}
	return nil
}

func (d *DB) GetAccount(ctx context.Context, id string) (*gram.Account, error) {
	row := d.sql.QueryRowContext(ctx, `
SELECT id, username, full_name, avatar_url, session_blob, created_at, updated_at, last_sync_at
FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	return a, nil
}

// ListAccounts returns every stored account.
func (d *DB) ListAccounts(ctx context.Context) ([]gram.Account, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, username, full_name, avatar_url, session_blob, created_at, updated_at, last_sync_at
FROM accounts ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gram.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAccount(scan func(...any) error) (*gram.Account, error) {
	var (
		a                   gram.Account
		fullName, avatarURL sql.NullString
		created, updated    time.Time
		lastSync            sql.NullTime
	)
	if err := scan(&a.ID, &a.Username, &fullName, &avatarURL, &a.SessionBlob, &created, &updated, &lastSync); err != nil {
		return nil, err
	}
	a.FullName = fullName.String
	a.AvatarURL = avatarURL.String
	a.CreatedAt = created
	a.UpdatedAt = updated
	if lastSync.Valid {
		t := lastSync.Time
		a.LastSyncAt = &t
	}
	return &a, nil
}

// TouchLastSync records a successful sync completion time.
func (d *DB) TouchLastSync(ctx context.Context, accountID string, t time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE accounts SET last_sync_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		t.UTC(), accountID)
	if err != nil {
		return fmt.Errorf("touching last sync for %s: %w", accountID, err)
	}
	return nil
}

// ClearSession drops the stored session blob on logout. The account row and
// its snapshot history stay.
func (d *DB) ClearSession(ctx context.Context, accountID string) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE accounts SET session_blob = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		accountID)
	if err != nil {
		return fmt.Errorf("clearing session for %s: %w", accountID, err)
	}
	return nil
}

// SaveSnapshot persists both relationship lists in one transaction. Rows from
// the same UTC date are replaced first so repeated syncs within a day fold
// into a single bucket.
func (d *DB) SaveSnapshot(ctx context.Context, snap gram.Snapshot) (err error) {
	date := snap.CapturedAt.UTC().Format(dateLayout)

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"follower_snapshots", "following_snapshots"} {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE account_id = ? AND snapshot_date = ?`,
			snap.AccountID, date); err != nil {
			return fmt.Errorf("clearing %s for %s: %w", table, date, err)
		}
	}

	insert := func(table string, users []gram.User) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO `+table+`(account_id, snapshot_date, captured_at, user_id, username, full_name, avatar_url, is_verified, is_private)
VALUES(?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range users {
			if _, err := stmt.ExecContext(ctx, snap.AccountID, date, snap.CapturedAt.UTC(),
				u.ID, u.Username, nullIfEmpty(u.FullName), nullIfEmpty(u.AvatarURL),
				boolToInt(u.IsVerified), boolToInt(u.IsPrivate)); err != nil {
				return err
			}
		}
		return nil
	}
	if err = insert("follower_snapshots", snap.Followers); err != nil {
		return fmt.Errorf("saving follower snapshot: %w", err)
	}
	if err = insert("following_snapshots", snap.Following); err != nil {
		return fmt.Errorf("saving following snapshot: %w", err)
	}
	return tx.Commit()
}

// PreviousFollowers returns the follower list from the second most recent
// snapshot date. nil with no error means there is no history to diff against
// yet (first sync, or only today's data).
func (d *DB) PreviousFollowers(ctx context.Context, accountID string) ([]gram.User, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT DISTINCT snapshot_date FROM follower_snapshots
WHERE account_id = ? ORDER BY snapshot_date DESC LIMIT 2`, accountID)
	if err != nil {
		return nil, err
	}
	var dates []string
	for rows.Next() {
		var dt string
		if err := rows.Scan(&dt); err != nil {
			rows.Close()
			return nil, err
		}
		dates = append(dates, dt)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(dates) < 2 {
		return nil, nil
	}

	userRows, err := d.sql.QueryContext(ctx, `
SELECT DISTINCT user_id, username, full_name, avatar_url, is_verified, is_private
FROM follower_snapshots WHERE account_id = ? AND snapshot_date = ?`, accountID, dates[1])
	if err != nil {
		return nil, err
	}
	defer userRows.Close()

	var users []gram.User
	for userRows.Next() {
		var (
			u                   gram.User
			fullName, avatarURL sql.NullString
			verified, private   int
		)
		if err := userRows.Scan(&u.ID, &u.Username, &fullName, &avatarURL, &verified, &private); err != nil {
			return nil, err
		}
		u.FullName = fullName.String
		u.AvatarURL = avatarURL.String
		u.IsVerified = verified == 1
		u.IsPrivate = private == 1
		users = append(users, u)
	}
	return users, userRows.Err()
}

// UpsertAnalytics overwrites the single cached report for an account.
func (d *DB) UpsertAnalytics(ctx context.Context, accountID string, report gram.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = d.sql.ExecContext(ctx, `
INSERT INTO analytics_cache(account_id, data, computed_at) VALUES(?,?,?)
ON CONFLICT(account_id) DO UPDATE SET data = excluded.data, computed_at = excluded.computed_at`,
		accountID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("caching analytics for %s: %w", accountID, err)
	}
	return nil
}

// CachedAnalytics loads the live report, or ErrNotFound before the first
// successful sync.
func (d *DB) CachedAnalytics(ctx context.Context, accountID string) (*gram.Report, error) {
	var data string
	err := d.sql.QueryRowContext(ctx,
		`SELECT data FROM analytics_cache WHERE account_id = ?`, accountID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var report gram.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("decoding cached report: %w", err)
	}
	return &report, nil
}

// SnapshotStats summarizes stored history for the db stats command.
type SnapshotStats struct {
	AccountID     string
	Username      string
	SnapshotDays  int
	FollowerRows  int
	FollowingRows int
}

func (d *DB) GetStats(ctx context.Context) ([]SnapshotStats, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT a.id, a.username,
  (SELECT COUNT(DISTINCT snapshot_date) FROM follower_snapshots f WHERE f.account_id = a.id),
  (SELECT COUNT(*) FROM follower_snapshots f WHERE f.account_id = a.id),
  (SELECT COUNT(*) FROM following_snapshots g WHERE g.account_id = a.id)
FROM accounts a ORDER BY a.username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []SnapshotStats
	for rows.Next() {
		var s SnapshotStats
		if err := rows.Scan(&s.AccountID, &s.Username, &s.SnapshotDays, &s.FollowerRows, &s.FollowingRows); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
