// Package contrib feeds resolved products back into the shared cache.
//
// A contribution inserts the product if the barcode is new and otherwise
// backfills empty fields on the existing row. Writes never surface errors to
// the caller: transient failures are retried, and a contribution that still
// fails is parked in the failed-contribution queue for Replay.
package contrib

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resilience"
)

const (
	// DefaultWriteTimeout bounds one detached contribution, retries included.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultMaxReplays is how many times a parked contribution is replayed
	// before it is left for an operator.
	DefaultMaxReplays = 5
)

// Store is the slice of the shared cache store the writer needs.
type Store interface {
	InsertProduct(ctx context.Context, entry model.SharedEntry) (bool, error)
	BackfillProduct(ctx context.Context, barcode string, b model.Backfill, at time.Time) (bool, error)
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// Outcome labels a finished contribution.
type Outcome string

// Contribution outcomes.
const (
	OutcomeInserted   Outcome = "inserted"
	OutcomeBackfilled Outcome = "backfilled"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Config tunes the writer.
type Config struct {
	WriteTimeout time.Duration
	Retry        resilience.RetryConfig
	MaxReplays   int
	// OnOutcome, when set, is called once per contribution.
	OnOutcome func(Outcome)
}

// Writer is the shared cache writer.
type Writer struct {
	store Store
	cfg   Config
	now   func() time.Time

	// mu guards closed and every wg.Add, so Close never races a Submit.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWriter creates a Writer. Zero config values take defaults.
func NewWriter(st Store, cfg Config) *Writer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("contrib", "contribute")
	}
	if cfg.MaxReplays <= 0 {
		cfg.MaxReplays = DefaultMaxReplays
	}
	return &Writer{store: st, cfg: cfg, now: time.Now}
}

// Submit contributes rec in the background. It returns immediately; the
// write runs on its own context so it outlives the request that found the
// product.
// After Close, submissions are dropped and reported as skipped.
func (w *Writer) Submit(rec model.ProductRecord, attr model.Attribution) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		zap.L().Warn("contrib: writer closed, contribution dropped",
			zap.String("barcode", rec.Barcode),
			zap.String("source", string(rec.Source)),
		)
		w.report(OutcomeSkipped)
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
		defer cancel()
		w.Contribute(ctx, rec, attr)
	}()
}

// Wait blocks until every submitted contribution has finished.
func (w *Writer) Wait() {
	w.wg.Wait()
}

// Close rejects further submissions and waits for the pending ones.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
}

// Contribute writes rec to the shared cache. Misses and nameless records
// are skipped. Errors are logged and the contribution is parked; nothing is
// returned.
func (w *Writer) Contribute(ctx context.Context, rec model.ProductRecord, attr model.Attribution) {
	if !rec.Found || strings.TrimSpace(rec.Name) == "" {
		w.report(OutcomeSkipped)
		return
	}

	outcome, err := w.write(ctx, rec, attr)
	if err == nil {
		zap.L().Debug("contrib: product contributed",
			zap.String("barcode", rec.Barcode),
			zap.String("source", string(rec.Source)),
			zap.String("outcome", string(outcome)),
		)
		w.report(outcome)
		return
	}

	w.report(OutcomeFailed)
	zap.L().Warn("contrib: contribution failed",
		zap.String("barcode", rec.Barcode),
		zap.String("source", string(rec.Source)),
		zap.Error(err),
	)
	w.park(rec, attr, err)
}

// write runs one insert-or-backfill under the retry policy.
func (w *Writer) write(ctx context.Context, rec model.ProductRecord, attr model.Attribution) (Outcome, error) {
	var outcome Outcome
	err := resilience.Do(ctx, w.cfg.Retry, func(ctx context.Context) error {
		now := w.now().UTC()
		inserted, err := w.store.InsertProduct(ctx, newEntry(rec, attr, now))
		if err != nil {
			return eris.Wrap(err, "contrib: insert product")
		}
		if inserted {
			outcome = OutcomeInserted
			return nil
		}

		matched, err := w.store.BackfillProduct(ctx, rec.Barcode, model.BackfillFrom(rec), now)
		if err != nil {
			return eris.Wrap(err, "contrib: backfill product")
		}
		if !matched {
			// The row vanished between insert and backfill.
			return resilience.NewTransientError(eris.Errorf("contrib: product %s disappeared", rec.Barcode), 0)
		}
		outcome = OutcomeBackfilled
		return nil
	})
	return outcome, err
}

// park queues a failed contribution for Replay. The enqueue gets its own
// short context since ctx may already be spent.
func (w *Writer) park(rec model.ProductRecord, attr model.Attribution, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := w.now().UTC()
	entry := resilience.DLQEntry{
		Record:       rec,
		Attribution:  attr,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		MaxRetries:   w.cfg.MaxReplays,
		NextRetryAt:  resilience.NextRetryAt(now, 0),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := w.store.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Error("contrib: park failed contribution",
			zap.String("barcode", rec.Barcode),
			zap.Error(err),
		)
	}
}

// ReplayResult summarizes one Replay pass.
type ReplayResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Replay retries up to limit due parked contributions. Successful entries
// are removed; failures are rescheduled with a longer delay until their
// replay budget runs out.
func (w *Writer) Replay(ctx context.Context, limit int) (*ReplayResult, error) {
	entries, err := w.store.DequeueDLQ(ctx, resilience.DLQFilter{Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "contrib: dequeue failed contributions")
	}

	res := &ReplayResult{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "contrib: replay interrupted")
		}
		res.Attempted++

		outcome, werr := w.write(ctx, e.Record, e.Attribution)
		if werr == nil {
			res.Succeeded++
			w.report(outcome)
			if err := w.store.RemoveDLQ(ctx, e.ID); err != nil {
				return res, eris.Wrapf(err, "contrib: remove replayed %s", e.ID)
			}
			continue
		}

		res.Failed++
		next := resilience.NextRetryAt(w.now().UTC(), e.RetryCount+1)
		if err := w.store.IncrementDLQRetry(ctx, e.ID, next, werr.Error()); err != nil {
			return res, eris.Wrapf(err, "contrib: reschedule %s", e.ID)
		}
		zap.L().Warn("contrib: replay failed",
			zap.String("id", e.ID),
			zap.String("barcode", e.Record.Barcode),
			zap.Int("retry_count", e.RetryCount+1),
			zap.Error(werr),
		)
	}
	return res, nil
}

func (w *Writer) report(o Outcome) {
	if w.cfg.OnOutcome != nil {
		w.cfg.OnOutcome(o)
	}
}

// newEntry builds the row for a first contribution.
func newEntry(rec model.ProductRecord, attr model.Attribution, at time.Time) model.SharedEntry {
	src := rec.Source
	if src == "" || src == model.SourceSharedCache {
		src = model.SourceMerchant
	}
	return model.SharedEntry{
		Barcode:                rec.Barcode,
		Name:                   strings.TrimSpace(rec.Name),
		Brand:                  strings.TrimSpace(rec.Brand),
		Category:               strings.TrimSpace(rec.Category),
		Description:            strings.TrimSpace(rec.Description),
		Size:                   strings.TrimSpace(rec.Size),
		ImageURL:               strings.TrimSpace(rec.ImageURL),
		AvgPrice:               rec.SuggestedPrice,
		ContributorCount:       1,
		OriginalSource:         src,
		ContributedByUser:      attr.UserID,
		ContributedByFranchise: attr.FranchiseID,
		LastVerifiedAt:         at,
		CreatedAt:              at,
	}
}
