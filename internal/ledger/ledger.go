// Package ledger remembers which invoices have already been saved, both by the
// UI affordance they were reached through and by the content that was written.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"amazon-invoices/internal/components/assert"
	"amazon-invoices/internal/components/chrono"
)

// Key is the logical identity of an invoice affordance.
type Key struct {
	OrderID string
	Label   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.OrderID, k.Label)
}

// ParseKey is the inverse of Key.String. Order ids never contain ':' so the
// first separator splits the two halves.
func ParseKey(s string) (Key, error) {
	orderID, label, ok := strings.Cut(s, ":")
	if !ok || orderID == "" {
		return Key{}, fmt.Errorf("ledger: malformed key %q", s)
	}
	return Key{OrderID: orderID, Label: label}, nil
}

// Record is where and when a key was saved.
type Record struct {
	Key       Key
	Path      string
	Signature string
	Timestamp time.Time
}

// Backend persists records across runs.
type Backend interface {
	Load(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Signature is the content signature used for duplicate detection.
func Signature(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ledger indexes records by logical key and by content signature. It is not
// safe for concurrent use, the pipeline that owns it is sequential.
type Ledger struct {
	backend Backend
	time    chrono.TimeAPI

	byKey map[string]Record
	bySig map[string]Record
}

// Open loads every record the backend already holds.
func Open(ctx context.Context, backend Backend, time chrono.TimeAPI) (*Ledger, error) {
	assert.NotNil(backend)
	assert.NotNil(time)

	l := &Ledger{
		backend: backend,
		time:    time,
		byKey:   map[string]Record{},
		bySig:   map[string]Record{},
	}
	records, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}
	for _, rec := range records {
		l.index(rec)
	}
	return l, nil
}

func (l *Ledger) index(rec Record) {
	l.byKey[rec.Key.String()] = rec
	if rec.Signature == "" {
		return
	}
	// the first path a signature was written to stays canonical
	if _, exists := l.bySig[rec.Signature]; !exists {
		l.bySig[rec.Signature] = rec
	}
}

// SeenKey reports whether the affordance has been saved before.
func (l *Ledger) SeenKey(key Key) (Record, bool) {
	rec, ok := l.byKey[key.String()]
	return rec, ok
}

// SeenSignature reports whether identical bytes have been saved before.
func (l *Ledger) SeenSignature(signature string) (Record, bool) {
	rec, ok := l.bySig[signature]
	return rec, ok
}

// Commit indexes rec and flushes it to the backend. The in-memory index is
// updated even when the flush fails so the current run still deduplicates.
func (l *Ledger) Commit(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.time.Now()
	}
	l.index(rec)
	if err := l.backend.Append(ctx, rec); err != nil {
		return fmt.Errorf("ledger: flush %s: %w", rec.Key, err)
	}
	return nil
}

// Records returns every record ordered by key.
func (l *Ledger) Records() []Record {
	out := make([]Record, 0, len(l.byKey))
	for _, rec := range l.byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (l *Ledger) Len() int {
	return len(l.byKey)
}

func (l *Ledger) Close() error {
	return l.backend.Close()
}

// MemoryBackend keeps records for the lifetime of the process only.
type MemoryBackend struct {
	records []Record
}

func (m *MemoryBackend) Load(context.Context) ([]Record, error) {
	return append([]Record(nil), m.records...), nil
}

func (m *MemoryBackend) Append(_ context.Context, rec Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
