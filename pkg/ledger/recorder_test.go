package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

type mockLedgerStore struct {
	mu      sync.Mutex
	entries []*registry.LedgerEntry
	err     error
}

func (m *mockLedgerStore) AppendLedgerEntry(_ context.Context, entry *registry.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockLedgerStore) GetLedgerEntry(context.Context, string) (*registry.LedgerEntry, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLedgerStore) ListLedgerEntries(context.Context, registry.EntryType, int) ([]*registry.LedgerEntry, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLedgerStore) appended() []*registry.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*registry.LedgerEntry(nil), m.entries...)
}

func TestRecorder_AppendStampsEntry(t *testing.T) {
	store := &mockLedgerStore{}
	rec := NewRecorder(store, zap.NewNop())

	entry := &registry.LedgerEntry{Type: registry.EntryTypeSettlement, ChainID: 1}
	if err := rec.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	if entry.EntryID == "" {
		t.Error("expected entry_id to be generated")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected created_at to be stamped")
	}

	got := store.appended()
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
}

func TestRecorder_AppendKeepsCallerIDs(t *testing.T) {
	store := &mockLedgerStore{}
	rec := NewRecorder(store, zap.NewNop())

	entry := &registry.LedgerEntry{EntryID: "fixed-id", Type: registry.EntryTypeAudit}
	if err := rec.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if entry.EntryID != "fixed-id" {
		t.Errorf("expected caller-provided entry_id to survive, got %s", entry.EntryID)
	}
}

func TestRecorder_AppendPropagatesError(t *testing.T) {
	storeErr := errors.New("connection refused")
	rec := NewRecorder(&mockLedgerStore{err: storeErr}, zap.NewNop())

	err := rec.Append(context.Background(), &registry.LedgerEntry{Type: registry.EntryTypeSettlement})
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestRecorder_RecordAsync(t *testing.T) {
	store := &mockLedgerStore{}
	rec := NewRecorder(store, zap.NewNop())

	for i := 0; i < 5; i++ {
		rec.Record(&registry.LedgerEntry{Type: registry.EntryTypeQuote, ChainID: 1})
	}
	rec.Close()

	got := store.appended()
	if len(got) != 5 {
		t.Fatalf("expected 5 entries after Close, got %d", len(got))
	}
	for _, e := range got {
		if e.EntryID == "" {
			t.Error("expected every async entry to carry an entry_id")
		}
	}
}

func TestRecorder_RecordSwallowsError(t *testing.T) {
	rec := NewRecorder(&mockLedgerStore{err: errors.New("boom")}, zap.NewNop())

	// must not panic and must not block Close
	rec.Record(&registry.LedgerEntry{Type: registry.EntryTypeAudit})
	rec.Close()
}

func TestRecorder_ReusableAfterClose(t *testing.T) {
	store := &mockLedgerStore{}
	rec := NewRecorder(store, zap.NewNop())

	rec.Record(&registry.LedgerEntry{Type: registry.EntryTypeRebalance})
	rec.Close()

	rec.Record(&registry.LedgerEntry{Type: registry.EntryTypeRebalance})
	rec.Close()

	if got := len(store.appended()); got != 2 {
		t.Fatalf("expected 2 entries across both rounds, got %d", got)
	}
}
