package docstore

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks the backend once at startup. "auto" uses postgres when a
// database URL is configured and falls back to in-memory otherwise.
func NewStore(ctx context.Context, backend, databaseURL, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "auto":
		if strings.TrimSpace(databaseURL) == "" {
			return NewMemoryStore(), nil
		}
		return NewPostgresStore(ctx, databaseURL)
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if strings.TrimSpace(databaseURL) == "" {
			return nil, fmt.Errorf("postgres storage requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, databaseURL)
	case "sqlite":
		return NewSQLiteStore(ctx, sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", backend)
	}
}
