package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps documents as JSONB rows in a single table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			seq BIGSERIAL,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_seq ON documents (collection, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string, out any) error {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection=$1 AND id=$2`,
		collection, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode document %q: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc any) error {
	return applyPostgresMutation(ctx, s.pool, SetDoc(collection, id, doc))
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return applyPostgresMutation(ctx, s.pool, UpdateDoc(collection, id, fields))
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	return applyPostgresMutation(ctx, s.pool, DeleteDoc(collection, id))
}

func (s *PostgresStore) Batch(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, m := range mutations {
			if err := applyPostgresMutation(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func applyPostgresMutation(ctx context.Context, db pgExecer, m Mutation) error {
	switch m.Kind {
	case MutationSet:
		data, err := encodeObject(m.Doc)
		if err != nil {
			return err
		}
		_, err = db.Exec(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (collection, id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`,
			m.Collection, m.ID, string(data),
		)
		if err != nil {
			return fmt.Errorf("set document: %w", err)
		}
	case MutationUpdate:
		patch, err := json.Marshal(m.Fields)
		if err != nil {
			return fmt.Errorf("encode update: %w", err)
		}
		tag, err := db.Exec(ctx,
			`UPDATE documents SET data = data || $3::jsonb, updated_at=now()
			 WHERE collection=$1 AND id=$2`,
			m.Collection, m.ID, string(patch),
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, ErrNotFound)
		}
	case MutationDelete:
		if _, err := db.Exec(ctx,
			`DELETE FROM documents WHERE collection=$1 AND id=$2`,
			m.Collection, m.ID,
		); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
	default:
		return fmt.Errorf("unsupported mutation kind %q", m.Kind)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	args := []any{collection}
	where := []string{"collection=$1"}
	for _, f := range filters {
		clause, clauseArgs := postgresClause(f, len(args)+1)
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}
	args = append(args, effectiveLimit(q.Limit))

	query := fmt.Sprintf(
		`SELECT id, data FROM documents WHERE %s ORDER BY seq LIMIT $%d`,
		strings.Join(where, " AND "), len(args),
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return out, nil
}

// postgresClause renders one filter starting at placeholder $n. Typed casts
// are guarded by jsonb_typeof so a field of the wrong type never matches.
func postgresClause(f normalizedFilter, n int) (string, []any) {
	field := fmt.Sprintf("$%d::text", n)
	value := fmt.Sprintf("$%d", n+1)
	op := sqlOperator(f.op)

	switch f.kind {
	case kindStringSet:
		return fmt.Sprintf("(data->>%s) = ANY(%s::text[])", field, value), []any{f.field, f.set}
	case kindNumber:
		return fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(data->%s)='number' THEN (data->>%s)::double precision END) %s %s::double precision",
			field, field, op, value,
		), []any{f.field, f.num}
	case kindBool:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(data->%s)='boolean' THEN (data->>%s)::boolean END) %s %s::boolean",
			field, field, op, value,
		), []any{f.field, f.b}
	case kindTime:
		return fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(data->%s)='string' THEN (data->>%s)::timestamptz END) %s %s::timestamptz",
			field, field, op, value,
		), []any{f.field, f.t}
	default:
		return fmt.Sprintf(
			`(CASE WHEN jsonb_typeof(data->%s)='string' THEN (data->>%s) END) COLLATE "C" %s %s::text`,
			field, field, op, value,
		), []any{f.field, f.str}
	}
}

func sqlOperator(op Op) string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	default:
		return string(op)
	}
}
