package store

import (
	"context"
	"sync"
)

// MemoryLedger is a process-local Ledger, used in tests and for dry runs.
type MemoryLedger struct {
	mu   sync.Mutex
	done map[string]struct{}
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger, optionally pre-seeded.
func NewMemoryLedger(hashes ...string) *MemoryLedger {
	l := &MemoryLedger{done: make(map[string]struct{}, len(hashes))}
	for _, h := range hashes {
		l.done[h] = struct{}{}
	}
	return l
}

// DoneHashes implements Ledger.
func (l *MemoryLedger) DoneHashes(_ context.Context, hashes []string) (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		if _, ok := l.done[h]; ok {
			out[h] = true
		}
	}
	return out, nil
}

// MarkDone implements Ledger.
func (l *MemoryLedger) MarkDone(_ context.Context, hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.done[hash]; ok {
		return false, nil
	}
	l.done[hash] = struct{}{}
	return true, nil
}

// Len returns the number of recorded hashes.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}
