package store

// schema returns the DDL statements for the given dialect ("sqlite",
// "postgres", or "mysql"): driver-specific SQL behind one shared call
// site.
func schema(dialect string) []string {
	autoincrement := "INTEGER"
	textType := "TEXT"
	timestampType := "TIMESTAMP"
	switch dialect {
	case "postgres":
		textType = "TEXT"
		timestampType = "TIMESTAMPTZ"
	case "mysql":
		textType = "VARCHAR(191)"
		timestampType = "DATETIME"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id ` + textType + ` PRIMARY KEY,
			owner_id ` + textType + ` NOT NULL,
			prompt TEXT NOT NULL,
			genre ` + textType + `,
			target_length_words ` + autoincrement + ` NOT NULL,
			voice ` + textType + `,
			mode ` + textType + ` NOT NULL,
			status ` + textType + ` NOT NULL,
			phase ` + textType + `,
			progress ` + autoincrement + ` NOT NULL DEFAULT 0,
			error TEXT,
			payment_ref ` + textType + `,
			share_token ` + textType + `,
			cover_status ` + textType + `,
			created_at ` + timestampType + ` NOT NULL,
			updated_at ` + timestampType + ` NOT NULL,
			started_at ` + timestampType + `,
			ended_at ` + timestampType + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			job_id ` + textType + ` NOT NULL,
			phase ` + textType + ` NOT NULL,
			idx ` + autoincrement + ` NOT NULL,
			payload TEXT NOT NULL,
			fingerprint ` + textType + ` NOT NULL,
			tokens_in ` + autoincrement + ` NOT NULL DEFAULT 0,
			tokens_out ` + autoincrement + ` NOT NULL DEFAULT 0,
			duration_ms ` + autoincrement + ` NOT NULL DEFAULT 0,
			created_at ` + timestampType + ` NOT NULL,
			PRIMARY KEY (job_id, phase, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			fingerprint ` + textType + ` PRIMARY KEY,
			scope ` + textType + ` NOT NULL,
			location TEXT NOT NULL,
			content_hash ` + textType + ` NOT NULL,
			created_at ` + timestampType + ` NOT NULL,
			last_hit_at ` + timestampType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS manuscripts (
			job_id ` + textType + ` PRIMARY KEY,
			title TEXT NOT NULL,
			blurb TEXT,
			payload TEXT NOT NULL,
			created_at ` + timestampType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leases (
			resource ` + textType + ` PRIMARY KEY,
			owner ` + textType + ` NOT NULL,
			expires_at ` + timestampType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			id ` + textType + ` PRIMARY KEY,
			job_id ` + textType + ` NOT NULL,
			available_at ` + timestampType + ` NOT NULL,
			visible_until ` + timestampType + `,
			attempts ` + autoincrement + ` NOT NULL DEFAULT 0,
			created_at ` + timestampType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_available ON queue_items (available_at)`,
		`CREATE TABLE IF NOT EXISTS step_attempts (
			job_id ` + textType + ` NOT NULL,
			phase ` + textType + ` NOT NULL,
			idx ` + autoincrement + ` NOT NULL,
			attempts ` + autoincrement + ` NOT NULL DEFAULT 0,
			updated_at ` + timestampType + ` NOT NULL,
			PRIMARY KEY (job_id, phase, idx)
		)`,
	}
}
