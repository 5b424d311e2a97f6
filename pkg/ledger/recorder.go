// Package ledger records append-only financial and audit events.
//
// Recording is best-effort by design: a failed QUOTE or AUDIT append is
// logged and counted but never fails the operation it describes. Settlement
// entries are the one exception and go through the synchronous Append path,
// because there the entry is the operation's outcome.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/internal/metrics"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
)

const appendTimeout = 10 * time.Second

// Recorder writes ledger entries through the registry store.
type Recorder struct {
	store  registrystore.LedgerStore
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a ledger recorder.
func NewRecorder(store registrystore.LedgerStore, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

func stamp(entry *registry.LedgerEntry) {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

// Append writes an entry synchronously. Used when the entry is the primary
// outcome of the operation (settlement).
func (r *Recorder) Append(ctx context.Context, entry *registry.LedgerEntry) error {
	stamp(entry)
	return r.store.AppendLedgerEntry(ctx, entry)
}

// Record writes an entry asynchronously. Failures are logged and counted;
// they never propagate to the caller.
func (r *Recorder) Record(entry *registry.LedgerEntry) {
	stamp(entry)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := r.store.AppendLedgerEntry(ctx, entry); err != nil {
			metrics.LedgerAppendFailures.Inc()
			r.logger.Error("Dropped ledger entry",
				zap.String("entry_id", entry.EntryID),
				zap.String("type", string(entry.Type)),
				zap.Error(err))
		}
	}()
}

// Close waits for in-flight asynchronous appends to finish.
func (r *Recorder) Close() {
	r.wg.Wait()
}
