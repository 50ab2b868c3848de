package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"clanktonmint/pricing"
)

// Source identifies who vouched for a flag delta.
type Source string

const (
	// SourceAsserted marks client self-reports. They are intent, not proof.
	SourceAsserted Source = "asserted"
	// SourceVerified marks facts confirmed against the follow graph.
	SourceVerified Source = "verified"
)

var (
	// ErrInvalidAddress is returned for anything that is not a 0x hex wallet address.
	ErrInvalidAddress = errors.New("invalid wallet address")
	// ErrUnavailable wraps storage failures. Callers may retry.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Record is the durable per-wallet discount state. A wallet that has never been
// seen has a valid zero record: all flags false.
type Record struct {
	Address   string
	Flags     pricing.Flags
	UpdatedAt time.Time
}

// AuditEntry is one row of the append-only action log. It exists for analytics
// and is never consulted for pricing.
type AuditEntry struct {
	Address    string
	Action     string
	Source     Source
	ObservedAt time.Time
}

// NormalizeAddress validates and lower-cases a wallet address. Exactly one
// ledger record exists per normalized address.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}

// Store persists discount records and the action audit log in SQLite.
type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

const filePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// fileDSN converts a filesystem path into an on-disk SQLite DSN. The busy
// timeout makes writers queue on the database lock instead of failing with
// SQLITE_BUSY, which is what lets concurrent merges for one address serialize.
func fileDSN(path string) string {
	return fmt.Sprintf("file:%s?%s", path, filePragmas)
}

// NewStore opens (and migrates) the SQLite database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fileDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// modernc's driver serializes per connection, not per database; a single
	// connection keeps writers queued rather than racing for the file lock.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, nowFn: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS discounts (
            address TEXT PRIMARY KEY,
            casted INTEGER NOT NULL DEFAULT 0,
            recasted INTEGER NOT NULL DEFAULT 0,
            tweeted INTEGER NOT NULL DEFAULT 0,
            follows_creator INTEGER NOT NULL DEFAULT 0,
            follows_artist INTEGER NOT NULL DEFAULT 0,
            in_channel INTEGER NOT NULL DEFAULT 0,
            farcaster_pro INTEGER NOT NULL DEFAULT 0,
            early_fid INTEGER NOT NULL DEFAULT 0,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS discount_actions (
            address TEXT NOT NULL,
            action TEXT NOT NULL,
            source TEXT NOT NULL,
            observed_at TIMESTAMP NOT NULL,
            PRIMARY KEY (address, action)
        );`,
		`CREATE TABLE IF NOT EXISTS notification_tokens (
            fid INTEGER PRIMARY KEY,
            token TEXT NOT NULL,
            address TEXT,
            updated_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate ledger db: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() time.Time { return s.nowFn().UTC() }

// Get returns the discount record for the address. Unseen addresses yield the
// zero record rather than an error.
func (s *Store) Get(ctx context.Context, address string) (Record, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return Record{}, err
	}
	const query = `SELECT casted, recasted, tweeted, follows_creator, follows_artist,
        in_channel, farcaster_pro, early_fid, updated_at FROM discounts WHERE address = ?`
	row := s.db.QueryRowContext(ctx, query, normalized)
	rec := Record{Address: normalized}
	err = row.Scan(
		&rec.Flags.Casted, &rec.Flags.Recasted, &rec.Flags.Tweeted,
		&rec.Flags.FollowsCreator, &rec.Flags.FollowsArtist, &rec.Flags.InChannel,
		&rec.Flags.FarcasterPro, &rec.Flags.EarlyFID, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: read %s: %v", ErrUnavailable, normalized, err)
	}
	return rec, nil
}

// Merge ORs the true flags of delta into the stored record. The upsert is a
// single statement, so concurrent merges for one address commute and never lose
// an update; flags only ever move from false to true here. Re-applying the same
// delta is a no-op.
func (s *Store) Merge(ctx context.Context, address string, delta pricing.Flags, source Source) (Record, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return Record{}, err
	}
	const stmt = `INSERT INTO discounts (
            address, casted, recasted, tweeted, follows_creator, follows_artist,
            in_channel, farcaster_pro, early_fid, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(address) DO UPDATE SET
            casted = MAX(discounts.casted, excluded.casted),
            recasted = MAX(discounts.recasted, excluded.recasted),
            tweeted = MAX(discounts.tweeted, excluded.tweeted),
            follows_creator = MAX(discounts.follows_creator, excluded.follows_creator),
            follows_artist = MAX(discounts.follows_artist, excluded.follows_artist),
            in_channel = MAX(discounts.in_channel, excluded.in_channel),
            farcaster_pro = MAX(discounts.farcaster_pro, excluded.farcaster_pro),
            early_fid = MAX(discounts.early_fid, excluded.early_fid),
            updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, stmt, normalized,
		delta.Casted, delta.Recasted, delta.Tweeted,
		delta.FollowsCreator, delta.FollowsArtist, delta.InChannel,
		delta.FarcasterPro, delta.EarlyFID, s.now(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("%w: merge %s (%s): %v", ErrUnavailable, normalized, source, err)
	}
	return s.Get(ctx, normalized)
}

// AppendAudit records an action observation with set-once semantics: retries
// and duplicate reports of the same (address, action) pair do not double count.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) error {
	normalized, err := NormalizeAddress(entry.Address)
	if err != nil {
		return err
	}
	observed := entry.ObservedAt
	if observed.IsZero() {
		observed = s.now()
	}
	const stmt = `INSERT OR IGNORE INTO discount_actions (address, action, source, observed_at)
        VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, normalized, entry.Action, string(entry.Source), observed.UTC()); err != nil {
		return fmt.Errorf("%w: audit %s/%s: %v", ErrUnavailable, normalized, entry.Action, err)
	}
	return nil
}

// AuditTrail returns the recorded actions for an address, oldest first.
func (s *Store) AuditTrail(ctx context.Context, address string) ([]AuditEntry, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	const query = `SELECT action, source, observed_at FROM discount_actions
        WHERE address = ? ORDER BY observed_at ASC, action ASC`
	rows, err := s.db.QueryContext(ctx, query, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: audit trail %s: %v", ErrUnavailable, normalized, err)
	}
	defer rows.Close()
	var entries []AuditEntry
	for rows.Next() {
		entry := AuditEntry{Address: normalized}
		var source string
		if err := rows.Scan(&entry.Action, &source, &entry.ObservedAt); err != nil {
			return nil, fmt.Errorf("%w: scan audit row: %v", ErrUnavailable, err)
		}
		entry.Source = Source(source)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: audit trail %s: %v", ErrUnavailable, normalized, err)
	}
	return entries, nil
}

// Clear resets every flag for the address. This is the only path that moves a
// flag from true back to false and is reserved for administrative use.
func (s *Store) Clear(ctx context.Context, address string) error {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	const stmt = `UPDATE discounts SET casted = 0, recasted = 0, tweeted = 0,
        follows_creator = 0, follows_artist = 0, in_channel = 0,
        farcaster_pro = 0, early_fid = 0, updated_at = ? WHERE address = ?`
	if _, err := s.db.ExecContext(ctx, stmt, s.now(), normalized); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrUnavailable, normalized, err)
	}
	return nil
}

// NotificationToken is a push token registered by a mini-app user.
type NotificationToken struct {
	FID       int64
	Token     string
	Address   string
	UpdatedAt time.Time
}

// PutNotificationToken upserts the token for a fid. A re-registration replaces
// the token but keeps a previously supplied address when the new one is empty.
func (s *Store) PutNotificationToken(ctx context.Context, fid int64, token, address string) error {
	if fid <= 0 {
		return errors.New("fid must be positive")
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("token required")
	}
	if strings.TrimSpace(address) != "" {
		normalized, err := NormalizeAddress(address)
		if err != nil {
			return err
		}
		address = normalized
	}
	const stmt = `INSERT INTO notification_tokens (fid, token, address, updated_at)
        VALUES (?, ?, NULLIF(?, ''), ?)
        ON CONFLICT(fid) DO UPDATE SET
            token = excluded.token,
            address = COALESCE(NULLIF(excluded.address, ''), notification_tokens.address),
            updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, stmt, fid, strings.TrimSpace(token), address, s.now()); err != nil {
		return fmt.Errorf("%w: register token fid=%d: %v", ErrUnavailable, fid, err)
	}
	return nil
}

// GetNotificationToken fetches the registered token for a fid, if any.
func (s *Store) GetNotificationToken(ctx context.Context, fid int64) (NotificationToken, bool, error) {
	const query = `SELECT fid, token, COALESCE(address, ''), updated_at FROM notification_tokens WHERE fid = ?`
	row := s.db.QueryRowContext(ctx, query, fid)
	var rec NotificationToken
	err := row.Scan(&rec.FID, &rec.Token, &rec.Address, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotificationToken{}, false, nil
	}
	if err != nil {
		return NotificationToken{}, false, fmt.Errorf("%w: read token fid=%d: %v", ErrUnavailable, fid, err)
	}
	return rec, true, nil
}
