package postgresql

// migrations returns the ordered schema migrations for the flow store.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flows (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'draft',
				current_version_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);
			CREATE INDEX IF NOT EXISTS idx_flows_tenant ON flows (tenant_id) WHERE deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS flow_versions (
				id UUID PRIMARY KEY,
				flow_id UUID NOT NULL REFERENCES flows (id),
				version INTEGER NOT NULL CHECK (version >= 1),
				is_published BOOLEAN NOT NULL DEFAULT FALSE,
				graph JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (flow_id, version)
			);

			CREATE TABLE IF NOT EXISTS flow_runs (
				id UUID PRIMARY KEY,
				flow_id UUID NOT NULL,
				version_id UUID NOT NULL REFERENCES flow_versions (id),
				tenant_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				input JSONB,
				context JSONB,
				wait_until TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_flow_runs_flow ON flow_runs (flow_id);
			CREATE INDEX IF NOT EXISTS idx_flow_runs_due ON flow_runs (wait_until) WHERE status = 'waiting';

			CREATE TABLE IF NOT EXISTS flow_events (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL,
				type TEXT NOT NULL,
				node_id TEXT,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				payload JSONB
			);
			CREATE INDEX IF NOT EXISTS idx_flow_events_run ON flow_events (run_id, timestamp);

			CREATE TABLE IF NOT EXISTS flow_templates (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				graph JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
