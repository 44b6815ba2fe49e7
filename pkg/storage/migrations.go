package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var sqliteMigrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS households (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		phone      TEXT NOT NULL,
		grid       TEXT NOT NULL,
		at_risk    BOOLEAN NOT NULL DEFAULT 1,
		contacts   TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_households_grid ON households(grid);

	CREATE TABLE IF NOT EXISTS alerts (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL DEFAULT '',
		household_id       TEXT NOT NULL REFERENCES households(id),
		day                TEXT NOT NULL,
		heat_level         TEXT NOT NULL,
		wbgt               REAL NOT NULL DEFAULT 0.0,
		status             TEXT NOT NULL CHECK(status IN ('open', 'unanswered', 'ok', 'tired', 'help', 'escalated')),
		first_triggered_at DATETIME NOT NULL,
		closed_at          DATETIME,
		in_progress        BOOLEAN NOT NULL DEFAULT 0,
		stages             TEXT NOT NULL DEFAULT '{}',
		updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_day_status ON alerts(day, status);
	CREATE INDEX IF NOT EXISTS idx_alerts_household ON alerts(household_id, day);

	CREATE TABLE IF NOT EXISTS call_logs (
		id               TEXT PRIMARY KEY,
		alert_id         TEXT NOT NULL REFERENCES alerts(id),
		attempt          INTEGER NOT NULL,
		result           TEXT NOT NULL,
		digit            TEXT NOT NULL DEFAULT '',
		duration_sec     INTEGER NOT NULL DEFAULT 0,
		provider_call_id TEXT NOT NULL DEFAULT '',
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_call_logs_alert ON call_logs(alert_id, attempt);
	CREATE INDEX IF NOT EXISTS idx_call_logs_provider ON call_logs(provider_call_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id                  TEXT PRIMARY KEY,
		alert_id            TEXT NOT NULL REFERENCES alerts(id),
		channel             TEXT NOT NULL CHECK(channel IN ('phone', 'sms', 'chat-push')),
		recipient           TEXT NOT NULL,
		status              TEXT NOT NULL,
		provider_message_id TEXT NOT NULL DEFAULT '',
		delivered_at        DATETIME,
		content             TEXT NOT NULL DEFAULT '{}',
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_provider ON notifications(provider_message_id);`,
}

var postgresMigrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS households (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		phone      TEXT NOT NULL,
		grid       TEXT NOT NULL,
		at_risk    BOOLEAN NOT NULL DEFAULT TRUE,
		contacts   TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_households_grid ON households(grid);

	CREATE TABLE IF NOT EXISTS alerts (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL DEFAULT '',
		household_id       TEXT NOT NULL REFERENCES households(id),
		day                TEXT NOT NULL,
		heat_level         TEXT NOT NULL,
		wbgt               DOUBLE PRECISION NOT NULL DEFAULT 0,
		status             TEXT NOT NULL CHECK(status IN ('open', 'unanswered', 'ok', 'tired', 'help', 'escalated')),
		first_triggered_at TIMESTAMPTZ NOT NULL,
		closed_at          TIMESTAMPTZ,
		in_progress        BOOLEAN NOT NULL DEFAULT FALSE,
		stages             TEXT NOT NULL DEFAULT '{}',
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_day_status ON alerts(day, status);
	CREATE INDEX IF NOT EXISTS idx_alerts_household ON alerts(household_id, day);

	CREATE TABLE IF NOT EXISTS call_logs (
		id               TEXT PRIMARY KEY,
		alert_id         TEXT NOT NULL REFERENCES alerts(id),
		attempt          INTEGER NOT NULL,
		result           TEXT NOT NULL,
		digit            TEXT NOT NULL DEFAULT '',
		duration_sec     INTEGER NOT NULL DEFAULT 0,
		provider_call_id TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_call_logs_alert ON call_logs(alert_id, attempt);
	CREATE INDEX IF NOT EXISTS idx_call_logs_provider ON call_logs(provider_call_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id                  TEXT PRIMARY KEY,
		alert_id            TEXT NOT NULL REFERENCES alerts(id),
		channel             TEXT NOT NULL CHECK(channel IN ('phone', 'sms', 'chat-push')),
		recipient           TEXT NOT NULL,
		status              TEXT NOT NULL,
		provider_message_id TEXT NOT NULL DEFAULT '',
		delivered_at        TIMESTAMPTZ,
		content             TEXT NOT NULL DEFAULT '{}',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_provider ON notifications(provider_message_id);`,
}

func migrationsFor(d Dialect) []string {
	if d == Postgres {
		return postgresMigrations
	}
	return sqliteMigrations
}

// runMigrations applies pending schema migrations.
func runMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	// Ensure migration tracking table exists
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	migrations := migrationsFor(d)
	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, d.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
