package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "sqlite: connect %s", dsn)
	}
	return &SQLiteStore{db: db}, nil
}

func withPragmas(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return eris.Wrap(err, "sqlite: query applied migrations")
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close() //nolint:errcheck
			return eris.Wrap(err, "sqlite: scan migration row")
		}
		applied[name] = true
	}
	rows.Close() //nolint:errcheck

	pending, err := pendingMigrations("sqlite", applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		zap.L().Info("applying migration", zap.String("component", "store.migrate"), zap.String("file", m.name))
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", m.name)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", m.name); err != nil {
			return eris.Wrapf(err, "sqlite: record migration %s", m.name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetProduct(ctx context.Context, barcode string) (*model.SharedEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM shared_products WHERE barcode = ?`,
		barcode,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get product %s", barcode)
	}
	return e, nil
}

const sqliteInsertProduct = `INSERT INTO shared_products (` + productColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (barcode) DO NOTHING`

func (s *SQLiteStore) InsertProduct(ctx context.Context, entry model.SharedEntry) (bool, error) {
	entry = prepareEntry(entry, uuid.NewString)
	res, err := s.db.ExecContext(ctx, sqliteInsertProduct, entryArgs(entry)...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert product %s", entry.Barcode)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) BackfillProduct(ctx context.Context, barcode string, b model.Backfill, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE shared_products SET
		   contributor_count = contributor_count + 1,
		   last_verified_at = ?,
		   brand     = CASE WHEN COALESCE(brand, '') = '' THEN ? ELSE brand END,
		   category  = CASE WHEN COALESCE(category, '') = '' THEN ? ELSE category END,
		   size      = CASE WHEN COALESCE(size, '') = '' THEN ? ELSE size END,
		   image_url = CASE WHEN COALESCE(image_url, '') = '' THEN ? ELSE image_url END
		 WHERE barcode = ?`,
		at.UTC(), b.Brand, b.Category, b.Size, b.ImageURL, barcode,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: backfill product %s", barcode)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]model.SharedEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM shared_products ORDER BY last_verified_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent products")
	}
	defer rows.Close()

	var out []model.SharedEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list recent iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{BySource: make(map[model.Source]int)}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(contributor_count), 0) FROM shared_products`,
	).Scan(&st.Products, &st.Contributions); err != nil {
		return nil, eris.Wrap(err, "sqlite: count products")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT original_source, COUNT(*) FROM shared_products GROUP BY original_source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by source")
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		st.BySource[model.Source(src)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: count by source iterate")
	}

	st.PendingFailures, err = s.CountDLQ(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) SeedProducts(ctx context.Context, entries []model.SharedEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: seed: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsertProduct)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: seed: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var total int64
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, entryArgs(prepareEntry(e, uuid.NewString))...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed product %s", e.Barcode)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: seed: commit")
	}
	return total, nil
}

// Failed contributions. next_retry_at is stored as unix millis so the due
// check is a numeric comparison.

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	recordJSON, err := json.Marshal(entry.Record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq record")
	}
	attrJSON, err := json.Marshal(entry.Attribution)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq attribution")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO failed_contributions
		 (id, barcode, record, attribution, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.Record.Barcode, string(recordJSON), string(attrJSON), entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UnixMilli(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, record, attribution, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM failed_contributions
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UnixMilli()}

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var recordJSON, attrJSON string
		var nextMillis int64
		if err := rows.Scan(&e.ID, &recordJSON, &attrJSON, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &nextMillis, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.NextRetryAt = time.UnixMilli(nextMillis).UTC()
		if err := json.Unmarshal([]byte(recordJSON), &e.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq record")
		}
		if err := json.Unmarshal([]byte(attrJSON), &e.Attribution); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq attribution")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE failed_contributions
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UnixMilli(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_contributions WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_contributions`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
