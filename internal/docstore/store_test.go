package docstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTask struct {
	Title    string     `json:"title"`
	Status   string     `json:"status"`
	Priority int        `json:"priority"`
	Done     bool       `json:"done"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	stores := map[string]Store{"memory": NewMemoryStore()}

	sqlite, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	stores["sqlite"] = sqlite

	if url := os.Getenv("TEMPO_TEST_DATABASE_URL"); url != "" {
		pg, err := NewPostgresStore(ctx, url)
		require.NoError(t, err)
		_, err = pg.pool.Exec(ctx, `DELETE FROM documents WHERE collection LIKE 'users/test-%'`)
		require.NoError(t, err)
		stores["postgres"] = pg
	}

	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			col := UserCollection("test-"+name, "tasks")

			var missing testTask
			require.ErrorIs(t, store.Get(ctx, col, "nope", &missing), ErrNotFound)

			require.NoError(t, store.Set(ctx, col, "t1", testTask{Title: "Write report", Status: "pending", Priority: 1}))
			require.NoError(t, store.Set(ctx, col, "t2", testTask{Title: "Call Bob", Status: "completed", Priority: 3, Done: true}))
			require.NoError(t, store.Set(ctx, col, "t3", testTask{Title: "Plan trip", Status: "in_progress", Priority: 2}))

			var got testTask
			require.NoError(t, store.Get(ctx, col, "t1", &got))
			assert.Equal(t, "Write report", got.Title)

			require.NoError(t, store.Update(ctx, col, "t1", map[string]any{"status": "completed"}))
			require.NoError(t, store.Get(ctx, col, "t1", &got))
			assert.Equal(t, "completed", got.Status)
			assert.Equal(t, "Write report", got.Title)

			err := store.Update(ctx, col, "missing", map[string]any{"status": "x"})
			require.True(t, errors.Is(err, ErrNotFound))

			docs, err := store.List(ctx, col, Query{})
			require.NoError(t, err)
			require.Len(t, docs, 3)
			assert.Equal(t, []string{"t1", "t2", "t3"}, ids(docs))

			docs, err = store.List(ctx, col, Query{Filters: []Filter{Where("status", OpIn, []string{"pending", "in_progress"})}})
			require.NoError(t, err)
			assert.Equal(t, []string{"t3"}, ids(docs))

			docs, err = store.List(ctx, col, Query{Filters: []Filter{Where("priority", OpGte, 2)}})
			require.NoError(t, err)
			assert.Equal(t, []string{"t2", "t3"}, ids(docs))

			docs, err = store.List(ctx, col, Query{Filters: []Filter{Where("done", OpEq, true)}})
			require.NoError(t, err)
			assert.Equal(t, []string{"t2"}, ids(docs))

			docs, err = store.List(ctx, col, Query{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, docs, 1)

			require.NoError(t, store.Delete(ctx, col, "t2"))
			require.NoError(t, store.Delete(ctx, col, "t2"))
			docs, err = store.List(ctx, col, Query{})
			require.NoError(t, err)
			assert.Equal(t, []string{"t1", "t3"}, ids(docs))
		})
	}
}

func TestStoreTimeFilters(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			col := UserCollection("test-"+name, "time")
			early := base.Add(-time.Hour)
			late := base.Add(time.Hour)

			require.NoError(t, store.Set(ctx, col, "early", testTask{Title: "a", DueDate: &early}))
			require.NoError(t, store.Set(ctx, col, "late", testTask{Title: "b", DueDate: &late}))
			require.NoError(t, store.Set(ctx, col, "undated", testTask{Title: "c"}))

			docs, err := store.List(ctx, col, Query{Filters: []Filter{Where("dueDate", OpLt, base)}})
			require.NoError(t, err)
			assert.Equal(t, []string{"early"}, ids(docs))

			docs, err = store.List(ctx, col, Query{Filters: []Filter{Where("dueDate", OpGte, base)}})
			require.NoError(t, err)
			assert.Equal(t, []string{"late"}, ids(docs))
		})
	}
}

func TestBatchIsAllOrNothing(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			col := UserCollection("test-"+name, "batch")
			require.NoError(t, store.Set(ctx, col, "keep", testTask{Title: "keep"}))

			err := store.Batch(ctx, []Mutation{
				DeleteDoc(col, "keep"),
				SetDoc(col, "new", testTask{Title: "new"}),
				UpdateDoc(col, "ghost", map[string]any{"title": "x"}),
			})
			require.ErrorIs(t, err, ErrNotFound)

			var got testTask
			require.NoError(t, store.Get(ctx, col, "keep", &got))
			require.ErrorIs(t, store.Get(ctx, col, "new", &got), ErrNotFound)

			require.NoError(t, store.Batch(ctx, []Mutation{
				DeleteDoc(col, "keep"),
				SetDoc(col, "new", testTask{Title: "new"}),
			}))
			require.ErrorIs(t, store.Get(ctx, col, "keep", &got), ErrNotFound)
			require.NoError(t, store.Get(ctx, col, "new", &got))
		})
	}
}

func TestInvalidQueries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.List(ctx, "c", Query{Filters: []Filter{Where("bad field", OpEq, "x")}})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = store.List(ctx, "c", Query{Filters: []Filter{Where("status", OpIn, "pending")}})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = store.List(ctx, "c", Query{Filters: []Filter{Where("done", OpLt, true)}})
	require.ErrorIs(t, err, ErrInvalidQuery)

	require.Error(t, store.Set(ctx, "c", "id", []string{"not", "an", "object"}))
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "auto", "", "")
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Mode())

	s, err = NewStore(ctx, "sqlite", "", ":memory:")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Mode())
	require.NoError(t, s.Close())

	_, err = NewStore(ctx, "postgres", "", "")
	require.Error(t, err)

	_, err = NewStore(ctx, "cassandra", "", "")
	require.Error(t, err)
}

func ids(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
