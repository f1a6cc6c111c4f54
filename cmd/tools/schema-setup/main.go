// cmd/tools/schema-setup/main.go

// schema-setup creates or updates the engine's postgres tables. It is
// idempotent and safe to run on every deploy.
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"civigo/internal/common/config"
	"civigo/internal/common/database"
	"civigo/internal/common/logger"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL,
		service_category TEXT,
		submitted_at TIMESTAMPTZ NOT NULL,
		redaction_passed BOOLEAN,
		assigned_officer_id BIGINT,
		escalation_count INT NOT NULL DEFAULT 0,
		attempt_count INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ,
		pinned_reason TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications (status, submitted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_officer ON applications (assigned_officer_id) WHERE assigned_officer_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS applicants (
		application_id BIGINT PRIMARY KEY REFERENCES applications (id),
		name TEXT NOT NULL,
		age INT NOT NULL,
		address TEXT NOT NULL,
		email TEXT,
		phone TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		application_id BIGINT NOT NULL REFERENCES applications (id),
		blob_ref TEXT NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_application ON documents (application_id)`,

	`CREATE TABLE IF NOT EXISTS application_tokens (
		token_hash TEXT PRIMARY KEY,
		application_id BIGINT NOT NULL UNIQUE REFERENCES applications (id),
		issued_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS officers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		department TEXT NOT NULL,
		hierarchy_level INT NOT NULL,
		workload_count INT NOT NULL DEFAULT 0 CHECK (workload_count >= 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_officers_selection ON officers (department, hierarchy_level, workload_count) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS assignment_records (
		id UUID PRIMARY KEY,
		application_id BIGINT NOT NULL REFERENCES applications (id),
		officer_id BIGINT NOT NULL REFERENCES officers (id),
		assigned_at TIMESTAMPTZ NOT NULL,
		released_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assignment_records_application ON assignment_records (application_id, assigned_at)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		application_id BIGINT NOT NULL REFERENCES applications (id),
		event TEXT NOT NULL,
		channel TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT,
		body TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications (created_at) WHERE status = 'PENDING'`,
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, stmt := range statements {
		if _, err := pg.DB.ExecContext(ctx, stmt); err != nil {
			zapLog.Fatal("schema statement failed", zap.Error(err), zap.String("statement", stmt))
		}
	}
	zapLog.Info("schema is up to date", zap.Int("statements", len(statements)))
}
