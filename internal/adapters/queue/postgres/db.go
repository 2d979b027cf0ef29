package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open abre un pool a Postgres usando pgx (database/sql).
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	// los workers mantienen pocas conexiones: una por consumidor más el enqueue
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tenure_tasks (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL,
	task         TEXT NOT NULL,
	data         JSONB NOT NULL,
	attempts     INT NOT NULL DEFAULT 0,
	locked_until TIMESTAMPTZ NULL,
	enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tenure_tasks_queue_idx ON tenure_tasks (queue, enqueued_at);
`

// Migrate crea la tabla de tareas si no existe.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
