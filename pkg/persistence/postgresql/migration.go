package postgresql

// migrations returns the ordered schema migrations for the automation engine.
// The (status, resume_at) index on automation_runs keeps the scheduler's
// due-run scan cheap.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS automations (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(64) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				revision INTEGER NOT NULL DEFAULT 0,
				nodes JSONB NOT NULL DEFAULT '[]',
				total_runs BIGINT NOT NULL DEFAULT 0,
				completed_runs BIGINT NOT NULL DEFAULT 0,
				failed_runs BIGINT NOT NULL DEFAULT 0,
				last_run_status VARCHAR(32),
				last_run_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_automations_trigger
				ON automations (trigger_type) WHERE is_active;

			CREATE TABLE IF NOT EXISTS automation_revisions (
				automation_id UUID NOT NULL,
				revision INTEGER NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (automation_id, revision)
			);

			CREATE TABLE IF NOT EXISTS automation_runs (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				revision INTEGER NOT NULL,
				status VARCHAR(32) NOT NULL,
				trigger_type VARCHAR(64) NOT NULL,
				payload JSONB,
				resume_at TIMESTAMP WITH TIME ZONE,
				current_node_id VARCHAR(255),
				execution_log JSONB NOT NULL DEFAULT '[]',
				node_results JSONB,
				retry_of_run_id UUID,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_automation_runs_due
				ON automation_runs (status, resume_at);

			CREATE INDEX IF NOT EXISTS idx_automation_runs_automation
				ON automation_runs (automation_id, created_at DESC);
		`,
	}
}
