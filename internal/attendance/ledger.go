package attendance

import (
	"context"
	"sort"
	"sync"
)

// Ledger is the append-only store of accepted submissions.
// Append must fail with ErrDuplicateSubmission when a record with the same
// slot and device fingerprint exists, even under concurrent callers.
type Ledger interface {
	Append(ctx context.Context, rec Record) (Record, error)
	Exists(ctx context.Context, slot, fingerprint string) (bool, error)
	ListBySlot(ctx context.Context, slot string) ([]Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	// Purge deletes the records of slot, or every record when slot is empty.
	Purge(ctx context.Context, slot string) (int64, error)
}

type ledgerKey struct {
	slot        string
	fingerprint string
}

// MemoryLedger is an in-process Ledger for tests and dev.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record
	seen    map[ledgerKey]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[ledgerKey]struct{})}
}

func (l *MemoryLedger) Append(_ context.Context, rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey{rec.Slot, rec.DeviceFingerprint}
	if _, dup := l.seen[k]; dup {
		return Record{}, ErrDuplicateSubmission
	}
	l.seen[k] = struct{}{}
	l.records = append(l.records, rec)
	return rec, nil
}

func (l *MemoryLedger) Exists(_ context.Context, slot, fingerprint string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[ledgerKey{slot, fingerprint}]
	return ok, nil
}

func (l *MemoryLedger) ListBySlot(_ context.Context, slot string) ([]Record, error) {
	return l.list(func(r Record) bool { return r.Slot == slot }), nil
}

func (l *MemoryLedger) ListAll(_ context.Context) ([]Record, error) {
	return l.list(func(Record) bool { return true }), nil
}

func (l *MemoryLedger) Purge(_ context.Context, slot string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	var n int64
	for _, r := range l.records {
		if slot == "" || r.Slot == slot {
			delete(l.seen, ledgerKey{r.Slot, r.DeviceFingerprint})
			n++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return n, nil
}

// list returns matching records, newest first; ties keep reverse insertion order.
func (l *MemoryLedger) list(match func(Record) bool) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, len(l.records))
	for i := len(l.records) - 1; i >= 0; i-- {
		if match(l.records[i]) {
			out = append(out, l.records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}
