package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type postgresStore struct {
	db *sql.DB
}

func openPostgres(dsn string) (*postgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("history: postgres dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	store := &postgresStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) RecordBatch(ctx context.Context, b Batch) error {
	if len(b.Changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sheet_changes (
			batch_id, source, at, metric, period_key, old_value, new_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range b.Changes {
		_, err = stmt.ExecContext(
			ctx,
			b.ID,
			b.Source,
			b.At.UTC(),
			c.Metric,
			c.Period.Key(),
			encodeValue(c.Old),
			encodeValue(c.New),
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *postgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, source, at, metric, period_key, old_value, new_value
		FROM sheet_changes
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			oldValue sql.NullString
			newValue sql.NullString
		)
		if err := rows.Scan(&e.BatchID, &e.Source, &e.At, &e.Metric, &e.Period, &oldValue, &newValue); err != nil {
			return nil, err
		}
		if e.Old, err = decodeValue(oldValue); err != nil {
			return nil, err
		}
		if e.New, err = decodeValue(newValue); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *postgresStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sheet_changes (
			id BIGSERIAL PRIMARY KEY,
			batch_id TEXT NOT NULL,
			source TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			metric TEXT NOT NULL,
			period_key TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sheet_changes_batch ON sheet_changes (batch_id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}
