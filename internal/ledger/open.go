package ledger

import (
	"context"
	"path/filepath"
	"strings"

	"amazon-invoices/internal/components/chrono"
)

// OpenPath picks a backend from the shape of location: libsql:// urls and
// files ending in .db/.sqlite use SQLBackend, anything else is a JSON file.
func OpenPath(ctx context.Context, location string, time chrono.TimeAPI) (*Ledger, error) {
	backend, err := backendFor(ctx, location)
	if err != nil {
		return nil, err
	}
	l, err := Open(ctx, backend, time)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return l, nil
}

func backendFor(ctx context.Context, location string) (Backend, error) {
	switch {
	case strings.HasPrefix(location, "libsql://"):
		return OpenSQLBackend(ctx, "libsql", location)
	case location == ":memory:":
		return OpenSQLBackend(ctx, "sqlite", location)
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLBackend(ctx, "sqlite", location)
	}
	return NewFileBackend(location), nil
}
