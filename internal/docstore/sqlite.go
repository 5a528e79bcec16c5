package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps documents in a single-file SQLite database. Writes are
// serialized through one connection.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/tempo.db"
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, collection, id string, out any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection=? AND id=?`, collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("decode document %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, doc any) error {
	return s.Batch(ctx, []Mutation{SetDoc(collection, id, doc)})
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Batch(ctx, []Mutation{UpdateDoc(collection, id, fields)})
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	return s.Batch(ctx, []Mutation{DeleteDoc(collection, id)})
}

func (s *SQLiteStore) Batch(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, m := range mutations {
		if err := applySQLiteMutation(ctx, tx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func applySQLiteMutation(ctx context.Context, tx *sql.Tx, m Mutation) error {
	switch m.Kind {
	case MutationSet:
		data, err := encodeObject(m.Doc)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET data=excluded.data, updated_at=CURRENT_TIMESTAMP`,
			m.Collection, m.ID, string(data),
		); err != nil {
			return fmt.Errorf("set document: %w", err)
		}
	case MutationUpdate:
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT data FROM documents WHERE collection=? AND id=?`, m.Collection, m.ID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read document for update: %w", err)
		}
		merged, err := mergeFields([]byte(current), m.Fields)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET data=?, updated_at=CURRENT_TIMESTAMP WHERE collection=? AND id=?`,
			string(merged), m.Collection, m.ID,
		); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
	case MutationDelete:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection=? AND id=?`, m.Collection, m.ID,
		); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
	default:
		return fmt.Errorf("unsupported mutation kind %q", m.Kind)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	args := []any{collection}
	where := []string{"collection=?"}
	for _, f := range filters {
		clause, clauseArgs := sqliteClause(f)
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}
	args = append(args, effectiveLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE `+strings.Join(where, " AND ")+` ORDER BY rowid LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, Document{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return out, nil
}

// sqliteClause renders one filter. Times are compared through julianday, which
// keeps millisecond precision.
func sqliteClause(f normalizedFilter) (string, []any) {
	path := "$." + f.field
	op := sqlOperator(f.op)

	switch f.kind {
	case kindStringSet:
		if len(f.set) == 0 {
			return "0", nil
		}
		args := []any{path, path}
		for _, v := range f.set {
			args = append(args, v)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.set)), ",")
		return "(json_type(data, ?)='text' AND json_extract(data, ?) IN (" + placeholders + "))", args
	case kindNumber:
		return "(json_type(data, ?) IN ('integer','real') AND json_extract(data, ?) " + op + " ?)",
			[]any{path, path, f.num}
	case kindBool:
		want := "false"
		if f.b {
			want = "true"
		}
		return "(json_type(data, ?) IN ('true','false') AND json_type(data, ?) " + op + " ?)",
			[]any{path, path, want}
	case kindTime:
		return "(json_type(data, ?)='text' AND julianday(json_extract(data, ?)) " + op + " julianday(?))",
			[]any{path, path, f.t.Format(time.RFC3339Nano)}
	default:
		return "(json_type(data, ?)='text' AND json_extract(data, ?) " + op + " ?)",
			[]any{path, path, f.str}
	}
}
