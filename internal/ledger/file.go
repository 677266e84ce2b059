package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type fileEntry struct {
	Path      string    `json:"path"`
	Timestamp timestamp `json:"timestamp"`
	Signature string    `json:"signature,omitempty"`
}

// timestamp also accepts the zone-less ISO form ledgers written by older
// tooling contain ("2024-01-20T10:11:12.123456"), read as local time.
type timestamp time.Time

func (t timestamp) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		parsed, err = time.ParseInLocation("2006-01-02T15:04:05.999999999", raw, time.Local)
	}
	if err != nil {
		return err
	}
	*t = timestamp(parsed)
	return nil
}

// FileBackend stores the ledger as one JSON object mapping
// "<order_id>:<label>" to {path, timestamp, signature}. The whole file is
// rewritten through a temporary file and a rename after every append.
type FileBackend struct {
	path    string
	entries map[string]fileEntry
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, entries: map[string]fileEntry{}}
}

func (f *FileBackend) Load(context.Context) ([]Record, error) {
	contents, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, nil
	}

	entries := map[string]fileEntry{}
	if err := json.Unmarshal(contents, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}

	records := make([]Record, 0, len(entries))
	for rawKey, entry := range entries {
		// unparseable keys are kept so the next flush writes them back
		f.entries[rawKey] = entry
		key, err := ParseKey(rawKey)
		if err != nil {
			continue
		}
		records = append(records, Record{
			Key:       key,
			Path:      entry.Path,
			Signature: entry.Signature,
			Timestamp: time.Time(entry.Timestamp),
		})
	}
	return records, nil
}

func (f *FileBackend) Append(_ context.Context, rec Record) error {
	f.entries[rec.Key.String()] = fileEntry{
		Path:      rec.Path,
		Timestamp: timestamp(rec.Timestamp),
		Signature: rec.Signature,
	}
	return f.flush()
}

func (f *FileBackend) flush() error {
	contents, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileBackend) Close() error { return nil }
