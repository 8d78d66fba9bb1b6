package resilience

import (
	"time"

	"github.com/sells-group/sku-lookup/internal/model"
)

// Error classes stored on dead-letter entries.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry is a shared cache contribution that failed every write attempt
// and is parked for a later replay.
type DLQEntry struct {
	ID           string              `json:"id"`
	Record       model.ProductRecord `json:"record"`
	Attribution  model.Attribution   `json:"attribution"`
	Error        string              `json:"error"`
	ErrorType    string              `json:"error_type"`
	RetryCount   int                 `json:"retry_count"`
	MaxRetries   int                 `json:"max_retries"`
	NextRetryAt  time.Time           `json:"next_retry_at"`
	CreatedAt    time.Time           `json:"created_at"`
	LastFailedAt time.Time           `json:"last_failed_at"`
}

// DLQFilter selects due dead-letter entries.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry has replay attempts left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError returns ErrorTransient or ErrorPermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}

// dlqBackoff spaces replays out: 1m, 2m, 4m, ... capped at 6h.
var dlqBackoff = RetryConfig{
	InitialBackoff: time.Minute,
	MaxBackoff:     6 * time.Hour,
	Multiplier:     2,
}

// NextRetryAt returns when an entry that has failed retryCount replays
// becomes due again.
func NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(computeBackoff(retryCount, dlqBackoff))
}
