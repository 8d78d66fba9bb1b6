// Package store persists the shared product cache: one row per barcode,
// contributed to by every resolution that reaches an external catalog and
// by merchants entering products by hand.
package store

import (
	"context"
	"time"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resilience"
)

// DefaultRecentLimit bounds ListRecent when the caller passes no limit.
const DefaultRecentLimit = 50

// Stats summarizes the shared cache.
type Stats struct {
	Products        int                  `json:"products"`
	Contributions   int                  `json:"contributions"`
	BySource        map[model.Source]int `json:"by_source"`
	PendingFailures int                  `json:"pending_failures"`
}

// Store defines the persistence interface for the shared product cache.
type Store interface {
	// Shared products. GetProduct returns (nil, nil) on a miss.
	GetProduct(ctx context.Context, barcode string) (*model.SharedEntry, error)
	// InsertProduct creates the row if no row exists for the barcode and
	// reports whether it did. An existing row is left untouched.
	InsertProduct(ctx context.Context, entry model.SharedEntry) (bool, error)
	// BackfillProduct bumps the contributor count, refreshes the verification
	// time, and fills empty brand, category, size and image_url columns in a
	// single row update. It reports whether a row matched.
	BackfillProduct(ctx context.Context, barcode string, b model.Backfill, at time.Time) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]model.SharedEntry, error)
	Stats(ctx context.Context) (*Stats, error)
	// SeedProducts inserts catalog entries that are not yet cached and
	// returns how many rows were written.
	SeedProducts(ctx context.Context, entries []model.SharedEntry) (int64, error)

	// Failed contributions
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const productColumns = `id, barcode, name, brand, category, description, size, image_url, avg_price,
	contributor_count, original_source, contributed_by_user, contributed_by_franchise,
	last_verified_at, created_at`

var productColumnList = []string{
	"id", "barcode", "name", "brand", "category", "description", "size", "image_url", "avg_price",
	"contributor_count", "original_source", "contributed_by_user", "contributed_by_franchise",
	"last_verified_at", "created_at",
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*model.SharedEntry, error) {
	var e model.SharedEntry
	var source string
	if err := row.Scan(
		&e.ID, &e.Barcode, &e.Name, &e.Brand, &e.Category, &e.Description, &e.Size, &e.ImageURL, &e.AvgPrice,
		&e.ContributorCount, &source, &e.ContributedByUser, &e.ContributedByFranchise,
		&e.LastVerifiedAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.OriginalSource = model.Source(source)
	return &e, nil
}

// entryArgs returns the insert arguments in productColumnList order.
func entryArgs(e model.SharedEntry) []any {
	return []any{
		e.ID, e.Barcode, e.Name, e.Brand, e.Category, e.Description, e.Size, e.ImageURL, e.AvgPrice,
		e.ContributorCount, string(e.OriginalSource), e.ContributedByUser, e.ContributedByFranchise,
		e.LastVerifiedAt, e.CreatedAt,
	}
}

// prepareEntry fills the defaults a new row needs.
func prepareEntry(e model.SharedEntry, newID func() string) model.SharedEntry {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.ContributorCount <= 0 {
		e.ContributorCount = 1
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastVerifiedAt.IsZero() {
		e.LastVerifiedAt = e.CreatedAt
	}
	return e
}
