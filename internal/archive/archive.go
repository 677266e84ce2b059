// Package archive files invoices into month-year bucket directories.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"amazon-invoices/internal/components/assert"
)

// UnknownBucket collects invoices whose order date could not be normalized.
const UnknownBucket = "unknown"

// Archive owns the output root. Bucket directories are created lazily, at most
// once per key, and never removed.
type Archive struct {
	root    string
	prefix  string
	buckets map[string]string
}

func New(root, prefix string) *Archive {
	assert.NotEmptyStr(root)
	assert.NotEmptyStr(prefix)
	return &Archive{
		root:    root,
		prefix:  prefix,
		buckets: map[string]string{},
	}
}

func (a *Archive) Root() string {
	return a.root
}

// Buckets returns the bucket keys created (or reused) during this run.
func (a *Archive) Buckets() []string {
	keys := make([]string, 0, len(a.buckets))
	for k := range a.buckets {
		keys = append(keys, k)
	}
	return keys
}

// Bucket returns the directory for key, creating it on first use.
func (a *Archive) Bucket(key string) (string, error) {
	if dir, ok := a.buckets[key]; ok {
		return dir, nil
	}
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("archive: invalid bucket key %q", key)
	}

	dir := filepath.Join(a.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create bucket %s: %w", key, err)
	}
	a.buckets[key] = dir
	return dir, nil
}

var unsafeChars = strings.NewReplacer("/", "-", `\`, "-", ":", "-", " ", "_")

// FileName is `<prefix>_<order_id>_<sequence>.pdf`.
func (a *Archive) FileName(orderID string, sequence int) string {
	return fmt.Sprintf("%s_%s_%d.pdf", a.prefix, unsafeChars.Replace(orderID), sequence)
}

// Outcome of a Place call.
type Outcome int

const (
	// Written means the bytes were written to a new file.
	Written Outcome = iota
	// AlreadyPresent means a file with identical bytes already sat at the path.
	AlreadyPresent
)

// Place writes data into bucketKey under the name for (orderID, sequence).
// When a different file already occupies that name the sequence is bumped to
// the next free slot, an identical file is left untouched.
func (a *Archive) Place(bucketKey, orderID string, sequence int, data []byte) (string, Outcome, error) {
	dir, err := a.Bucket(bucketKey)
	if err != nil {
		return "", Written, err
	}

	for seq := sequence; ; seq++ {
		path := filepath.Join(dir, a.FileName(orderID, seq))
		existing, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, Written, writeAtomic(path, data)
		}
		if err != nil {
			return "", Written, fmt.Errorf("archive: inspect %s: %w", path, err)
		}
		if bytes.Equal(existing, data) {
			return path, AlreadyPresent, nil
		}
	}
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	return nil
}
