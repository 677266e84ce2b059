package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// SQLBackend stores records in a sqlite (or libsql) table, one row per key.
// Every row is tagged with the id of the run that wrote it.
type SQLBackend struct {
	db    *sql.DB
	runId string
}

// OpenSQLBackend opens (and migrates) the database. driver is "sqlite" for
// local files or "libsql" for remote libsql:// urls.
func OpenSQLBackend(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite serializes writers anyway, one connection also keeps :memory: coherent
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLBackend{db: db, runId: uuid.NewString()}, nil
}

func (s *SQLBackend) RunId() string {
	return s.runId
}

func (s *SQLBackend) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`select order_id, label, path, signature, saved_at from saved_invoice order by saved_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var savedAt int64
		err := rows.Scan(&rec.Key.OrderID, &rec.Key.Label, &rec.Path, &rec.Signature, &savedAt)
		if err != nil {
			return nil, err
		}
		rec.Timestamp = time.UnixMilli(savedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLBackend) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into saved_invoice(key, order_id, label, path, signature, saved_at, run_id)
		values (?, ?, ?, ?, ?, ?, ?)
		on conflict(key) do update set
			path = excluded.path,
			signature = excluded.signature,
			saved_at = excluded.saved_at,
			run_id = excluded.run_id`,
		rec.Key.String(),
		rec.Key.OrderID,
		rec.Key.Label,
		rec.Path,
		rec.Signature,
		rec.Timestamp.UnixMilli(),
		s.runId,
	)
	return err
}

func (s *SQLBackend) Close() error {
	return s.db.Close()
}
