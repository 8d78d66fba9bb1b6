package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/db"
	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resilience"
)

// migrationLockID serializes concurrent Migrate calls across deploys.
const migrationLockID = 7301776

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies pending embedded migrations under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	pending, err := pendingMigrations("postgres", applied)
	if err != nil {
		return err
	}

	for _, m := range pending {
		log.Info("applying migration", zap.String("file", m.name))
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", m.name)
		}
		if _, err := s.pool.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", m.name); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", m.name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

// Close releases the pool if the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, barcode string) (*model.SharedEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM shared_products WHERE barcode = $1`,
		barcode,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get product %s", barcode)
	}
	return e, nil
}

func (s *PostgresStore) InsertProduct(ctx context.Context, entry model.SharedEntry) (bool, error) {
	entry = prepareEntry(entry, uuid.NewString)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO shared_products (`+productColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (barcode) DO NOTHING`,
		entryArgs(entry)...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert product %s", entry.Barcode)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) BackfillProduct(ctx context.Context, barcode string, b model.Backfill, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE shared_products SET
		   contributor_count = contributor_count + 1,
		   last_verified_at = $2,
		   brand     = CASE WHEN COALESCE(brand, '') = '' THEN $3 ELSE brand END,
		   category  = CASE WHEN COALESCE(category, '') = '' THEN $4 ELSE category END,
		   size      = CASE WHEN COALESCE(size, '') = '' THEN $5 ELSE size END,
		   image_url = CASE WHEN COALESCE(image_url, '') = '' THEN $6 ELSE image_url END
		 WHERE barcode = $1`,
		barcode, at.UTC(), b.Brand, b.Category, b.Size, b.ImageURL,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: backfill product %s", barcode)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]model.SharedEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM shared_products ORDER BY last_verified_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent products")
	}
	defer rows.Close()

	var out []model.SharedEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list recent iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{BySource: make(map[model.Source]int)}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(contributor_count), 0) FROM shared_products`,
	).Scan(&st.Products, &st.Contributions); err != nil {
		return nil, eris.Wrap(err, "postgres: count products")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT original_source, COUNT(*) FROM shared_products GROUP BY original_source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by source")
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		st.BySource[model.Source(src)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: count by source iterate")
	}

	st.PendingFailures, err = s.CountDLQ(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) SeedProducts(ctx context.Context, entries []model.SharedEntry) (int64, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryArgs(prepareEntry(e, uuid.NewString)))
	}
	n, err := db.BulkInsert(ctx, s.pool, db.InsertConfig{
		Table:        "shared_products",
		Columns:      productColumnList,
		ConflictKeys: []string{"barcode"},
	}, rows)
	return n, eris.Wrap(err, "postgres: seed products")
}

// Failed contributions

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	recordJSON, err := json.Marshal(entry.Record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq record")
	}
	attrJSON, err := json.Marshal(entry.Attribution)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq attribution")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO failed_contributions
		 (id, barcode, record, attribution, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, retry_count = $7, next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.Record.Barcode, recordJSON, attrJSON, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, record, attribution, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM failed_contributions
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var recordJSON, attrJSON []byte
		if err := rows.Scan(&e.ID, &recordJSON, &attrJSON, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(recordJSON, &e.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq record")
		}
		if err := json.Unmarshal(attrJSON, &e.Attribution); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq attribution")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE failed_contributions
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM failed_contributions WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM failed_contributions`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
