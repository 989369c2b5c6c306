package sqlstore

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
	kind       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	tenant_id  TEXT    NOT NULL,
	scope_key  TEXT    NOT NULL,
	doc        BLOB    NOT NULL,
	updated_ns INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
)`,
	`CREATE INDEX IF NOT EXISTS entities_tenant_scope ON entities (kind, tenant_id, scope_key)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
	seq                INTEGER PRIMARY KEY AUTOINCREMENT,
	id                 TEXT    NOT NULL UNIQUE,
	tenant_id          TEXT    NOT NULL,
	ts_ns              INTEGER NOT NULL,
	actor_id           TEXT    NOT NULL,
	actor_type         TEXT    NOT NULL,
	action             TEXT    NOT NULL,
	resource_id        TEXT    NOT NULL,
	resource_type      TEXT    NOT NULL,
	payload            TEXT    NOT NULL,
	decision_policy_id TEXT    NOT NULL,
	decision_outcome   TEXT    NOT NULL,
	decision_reason    TEXT    NOT NULL,
	metadata           TEXT    NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_tenant_ts ON audit_events (tenant_id, ts_ns)`,
	`CREATE TRIGGER IF NOT EXISTS audit_events_no_update
BEFORE UPDATE ON audit_events
BEGIN
	SELECT RAISE(ABORT, 'audit events are immutable');
END`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
	kind       TEXT   NOT NULL,
	id         TEXT   NOT NULL,
	tenant_id  TEXT   NOT NULL,
	scope_key  TEXT   NOT NULL,
	doc        BYTEA  NOT NULL,
	updated_ns BIGINT NOT NULL,
	PRIMARY KEY (kind, id)
)`,
	`CREATE INDEX IF NOT EXISTS entities_tenant_scope ON entities (kind, tenant_id, scope_key)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
	seq                BIGSERIAL PRIMARY KEY,
	id                 TEXT   NOT NULL UNIQUE,
	tenant_id          TEXT   NOT NULL,
	ts_ns              BIGINT NOT NULL,
	actor_id           TEXT   NOT NULL,
	actor_type         TEXT   NOT NULL,
	action             TEXT   NOT NULL,
	resource_id        TEXT   NOT NULL,
	resource_type      TEXT   NOT NULL,
	payload            JSONB  NOT NULL,
	decision_policy_id TEXT   NOT NULL,
	decision_outcome   TEXT   NOT NULL,
	decision_reason    TEXT   NOT NULL,
	metadata           JSONB  NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_tenant_ts ON audit_events (tenant_id, ts_ns)`,
	`CREATE OR REPLACE FUNCTION audit_events_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit events are immutable';
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_events_no_update ON audit_events`,
	`CREATE TRIGGER audit_events_no_update BEFORE UPDATE ON audit_events
	FOR EACH ROW EXECUTE FUNCTION audit_events_immutable()`,
}

// schema returns the migration statements for dialect.
func schema(dialect Dialect) []string {
	if dialect == Postgres {
		return postgresSchema
	}
	return sqliteSchema
}
