package store

import (
	"context"
	"log/slog"
	"time"
)

// Open connects to Postgres and falls back to the in-memory store when the
// database is unreachable. The returned close func is never nil.
func Open(ctx context.Context, logger *slog.Logger, dsn string) (JobStore, func() error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pg, err := NewPostgresJobStore(connectCtx, dsn)
	if err != nil {
		logger.Warn("postgres unavailable, using in-memory job store", "err", err)
		return NewMemoryJobStore(), func() error { return nil }
	}
	return pg, pg.Close
}
