package repository

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // Required for file source
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// NewDB connects to the configured database. dbType is "postgres" or
// "sqlite".
func NewDB(dbType, dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	switch dbType {
	case "postgres":
	case "sqlite":
		// Pragmas go in the DSN so every pooled connection gets them.
		if dataSourceName != ":memory:" {
			dataSourceName += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		}
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	db, err := sqlx.Connect(dbType, dataSourceName)
	if err != nil {
		return nil, err
	}
	if dbType == "sqlite" {
		// One writer keeps sqlite from returning SQLITE_BUSY, and an
		// in-memory database only exists on its own connection.
		db.SetMaxOpenConns(1)
	}

	logger.Info("Successfully connected to the database!", zap.String("type", dbType))
	return db, nil
}

// MigrateDB brings the schema up to date. Postgres runs the versioned
// migrations under migrationsPath; sqlite applies the embedded schema.
func MigrateDB(db *sqlx.DB, migrationsPath string) error {
	if db.DriverName() == "sqlite" {
		return migrateSQLite(db)
	}

	logrus.Info("Applying database migrations...")
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "crisis_engine", driver)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}

	logrus.Info("Database migrations applied successfully.")
	return nil
}

func migrateSQLite(db *sqlx.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS subjects (
		id         TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS signal_samples (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id  TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		kind        TEXT NOT NULL,
		value       REAL NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signal_samples_subject ON signal_samples (subject_id, kind, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS text_entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id  TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		ciphertext  TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_text_entries_subject ON text_entries (subject_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS behavioral_patterns (
		pattern_id      TEXT PRIMARY KEY,
		subject_id      TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		type            TEXT NOT NULL,
		frequency       INTEGER NOT NULL,
		severity        REAL NOT NULL,
		duration_days   INTEGER NOT NULL,
		last_occurrence TIMESTAMP NOT NULL,
		trend           TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS social_interactions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id  TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		type        TEXT NOT NULL,
		count       INTEGER NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_social_interactions_subject ON social_interactions (subject_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS assessments (
		id                    TEXT PRIMARY KEY,
		subject_id            TEXT NOT NULL,
		assessed_at           TIMESTAMP NOT NULL,
		risk_score            REAL NOT NULL,
		risk_level            TEXT NOT NULL,
		confidence            REAL NOT NULL,
		contributing_factors  TEXT NOT NULL,
		components            TEXT NOT NULL,
		requires_human_review BOOLEAN NOT NULL,
		model_version         TEXT NOT NULL,
		degraded              TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_subject ON assessments (subject_id, assessed_at)`,
	`CREATE TABLE IF NOT EXISTS review_records (
		id                TEXT PRIMARY KEY,
		assessment_id     TEXT NOT NULL UNIQUE,
		subject_id        TEXT NOT NULL,
		risk_level        TEXT NOT NULL,
		reviewer          TEXT,
		status            TEXT NOT NULL,
		verdict           TEXT,
		actual_risk_level TEXT,
		notes             TEXT,
		requested_at      TIMESTAMP NOT NULL,
		resolved_at       TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_records_status ON review_records (status)`,
	`CREATE TABLE IF NOT EXISTS calibrations (
		subject_id      TEXT PRIMARY KEY,
		trend_weight    REAL NOT NULL,
		pattern_weight  REAL NOT NULL,
		text_weight     REAL NOT NULL,
		false_positives INTEGER NOT NULL DEFAULT 0,
		updated_at      TIMESTAMP NOT NULL
	)`,
}
