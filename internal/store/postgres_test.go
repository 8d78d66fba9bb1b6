package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresFromPool(mock), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_GetProduct_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, barcode, name, .* FROM shared_products WHERE barcode = \$1`).
		WithArgs("000000000000").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetProduct(context.Background(), "000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProduct_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM shared_products WHERE barcode = \$1`).
		WithArgs("028200003843").
		WillReturnRows(pgxmock.NewRows(productColumnList).AddRow(
			"id-1", "028200003843", "Marlboro Red Box", "", "Tobacco", "", "20 ct", "", price(9.49),
			3, "upc_itemdb", "user-1", "fr-9", now, now,
		))

	got, err := s.GetProduct(context.Background(), "028200003843")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Marlboro Red Box", got.Name)
	assert.Equal(t, 3, got.ContributorCount)
	assert.Equal(t, model.SourceGenericDB, got.OriginalSource)
	require.NotNil(t, got.AvgPrice)
	assert.InDelta(t, 9.49, *got.AvgPrice, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProduct_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM shared_products`).WithArgs("028200003843").WillReturnError(assert.AnError)

	_, err := s.GetProduct(context.Background(), "028200003843")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get product 028200003843")
}

func TestPostgresStore_InsertProduct(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"new row", 1, true},
		{"conflict", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			mock.ExpectExec(`INSERT INTO shared_products .* ON CONFLICT \(barcode\) DO NOTHING`).
				WithArgs(anyArgs(len(productColumnList))...).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			inserted, err := s.InsertProduct(context.Background(), marlboro())
			require.NoError(t, err)
			assert.Equal(t, tt.want, inserted)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_BackfillProduct(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE shared_products SET\s+contributor_count = contributor_count \+ 1`).
		WithArgs("028200003843", at, "Philip Morris", "", "20 ct", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	matched, err := s.BackfillProduct(context.Background(), "028200003843",
		model.Backfill{Brand: "Philip Morris", Size: "20 ct"}, at)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecent_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`ORDER BY last_verified_at DESC LIMIT \$1`).
		WithArgs(DefaultRecentLimit).
		WillReturnRows(pgxmock.NewRows(productColumnList).
			AddRow("id-1", "049000028911", "Coca-Cola 20oz", "Coca-Cola", "Beverages", "", "20oz", "", nil,
				1, "barcode_spider", "", "", now, now))

	got, err := s.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].AvgPrice)
	assert.Equal(t, "Coca-Cola", got[0].Brand)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(contributor_count\), 0\) FROM shared_products`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(3, 7))
	mock.ExpectQuery(`GROUP BY original_source`).
		WillReturnRows(pgxmock.NewRows([]string{"original_source", "count"}).
			AddRow("barcode_spider", 2).
			AddRow("merchant", 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM failed_contributions`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Products)
	assert.Equal(t, 7, st.Contributions)
	assert.Equal(t, 2, st.BySource[model.SourceSpider])
	assert.Equal(t, 1, st.BySource[model.SourceMerchant])
	assert.Equal(t, 4, st.PendingFailures)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SeedProducts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_shared_products"}, productColumnList).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "shared_products" .* ON CONFLICT \("barcode"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.SeedProducts(context.Background(), []model.SharedEntry{
		marlboro(),
		{Barcode: "012000001291", Name: "Pepsi 20oz", OriginalSource: model.SourceMerchant},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_shared_products.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS failed_contributions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_failed_contributions.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DequeueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rec, err := json.Marshal(model.ProductRecord{Barcode: "028200003843", Found: true, Name: "Marlboro Red Box"})
	require.NoError(t, err)
	attr, err := json.Marshal(model.Attribution{UserID: "user-1"})
	require.NoError(t, err)

	mock.ExpectQuery(`FROM failed_contributions\s+WHERE next_retry_at <= now\(\) AND retry_count < max_retries AND error_type = \$1`).
		WithArgs(resilience.ErrorTransient, 5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "record", "attribution", "error", "error_type", "retry_count", "max_retries",
			"next_retry_at", "created_at", "last_failed_at",
		}).AddRow("dlq-1", rec, attr, "deadlock", resilience.ErrorTransient, 1, 5, now, now, now))

	entries, err := s.DequeueDLQ(context.Background(), resilience.DLQFilter{ErrorType: resilience.ErrorTransient, Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Marlboro Red Box", entries[0].Record.Name)
	assert.Equal(t, "user-1", entries[0].Attribution.UserID)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementDLQRetry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE failed_contributions`).
		WithArgs(pgxmock.AnyArg(), "boom", "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementDLQRetry(context.Background(), "ghost", time.Now(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq entry not found")
}

func TestPostgresStore_EnqueueAndRemoveDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO failed_contributions .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM failed_contributions WHERE id = \$1`).WithArgs("dlq-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.EnqueueDLQ(context.Background(), resilience.DLQEntry{
		ID:     "dlq-1",
		Record: model.ProductRecord{Barcode: "028200003843", Found: true, Name: "Marlboro"},
	}))
	require.NoError(t, s.RemoveDLQ(context.Background(), "dlq-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PingAndClose(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing()

	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
