package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crm_pipelines (
    id          uuid PRIMARY KEY,
    user_id     uuid NOT NULL,
    name        text NOT NULL,
    description text,
    position    integer NOT NULL DEFAULT 0,
    is_default  boolean NOT NULL DEFAULT false,
    created_at  timestamptz NOT NULL DEFAULT now(),
    updated_at  timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS crm_pipelines_one_default
    ON crm_pipelines (user_id) WHERE is_default;

CREATE TABLE IF NOT EXISTS crm_stages (
    id             uuid PRIMARY KEY,
    user_id        uuid NOT NULL,
    pipeline_id    uuid REFERENCES crm_pipelines (id) ON DELETE RESTRICT,
    name           text NOT NULL,
    color          text NOT NULL,
    chatwoot_label text,
    position       integer NOT NULL,
    created_at     timestamptz NOT NULL DEFAULT now(),
    CONSTRAINT crm_stages_position_unique UNIQUE (pipeline_id, position) DEFERRABLE INITIALLY DEFERRED
);
CREATE INDEX IF NOT EXISTS crm_stages_user_idx ON crm_stages (user_id);

CREATE TABLE IF NOT EXISTS clientes (
    id                  uuid PRIMARY KEY,
    user_id             uuid NOT NULL,
    name                text NOT NULL,
    phone               text NOT NULL DEFAULT '',
    email               text NOT NULL DEFAULT '',
    chatwoot_contact_id bigint,
    chatwoot_synced_at  timestamptz
);

CREATE TABLE IF NOT EXISTS crm_deals (
    id                       uuid PRIMARY KEY,
    user_id                  uuid NOT NULL,
    client_id                uuid REFERENCES clientes (id) ON DELETE SET NULL,
    stage_id                 uuid NOT NULL REFERENCES crm_stages (id) ON DELETE RESTRICT,
    chatwoot_conversation_id bigint,
    title                    text NOT NULL,
    value                    numeric(14, 2) NOT NULL DEFAULT 0,
    expected_close_date      date,
    notes                    text,
    sync_token               uuid,
    last_sync_source         text CHECK (last_sync_source IN ('crm', 'chatwoot')),
    position                 integer NOT NULL DEFAULT 0,
    created_at               timestamptz NOT NULL DEFAULT now(),
    updated_at               timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS crm_deals_user_idx ON crm_deals (user_id);
CREATE INDEX IF NOT EXISTS crm_deals_stage_idx ON crm_deals (stage_id);
CREATE INDEX IF NOT EXISTS crm_deals_conversation_idx ON crm_deals (user_id, chatwoot_conversation_id);

CREATE TABLE IF NOT EXISTS sync_outbox (
    id              uuid PRIMARY KEY,
    user_id         uuid NOT NULL,
    action          text NOT NULL,
    deal_id         uuid,
    payload         jsonb NOT NULL,
    status          text NOT NULL DEFAULT 'pending',
    attempts        integer NOT NULL DEFAULT 0,
    next_attempt_at timestamptz NOT NULL DEFAULT now(),
    last_error      text NOT NULL DEFAULT '',
    last_warning    text NOT NULL DEFAULT '',
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sync_outbox_due_idx ON sync_outbox (status, next_attempt_at);

CREATE OR REPLACE FUNCTION crm_notify_change() RETURNS trigger AS $$
DECLARE
    rec RECORD;
BEGIN
    IF TG_OP = 'DELETE' THEN
        rec := OLD;
    ELSE
        rec := NEW;
    END IF;
    PERFORM pg_notify(TG_ARGV[0], json_build_object(
        'table', TG_TABLE_NAME,
        'op', TG_OP,
        'owner_id', rec.user_id,
        'id', rec.id)::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`

var notifiedTables = []string{"crm_pipelines", "crm_stages", "crm_deals"}

// Migrate creates the schema and installs change triggers publishing on
// channel.
func Migrate(ctx context.Context, db *sql.DB, channel string) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, table := range notifiedTables {
		trigger := pq.QuoteIdentifier(table + "_notify")
		stmt := fmt.Sprintf(`
DROP TRIGGER IF EXISTS %[1]s ON %[2]s;
CREATE TRIGGER %[1]s AFTER INSERT OR UPDATE OR DELETE ON %[2]s
    FOR EACH ROW EXECUTE FUNCTION crm_notify_change(%[3]s);`,
			trigger, pq.QuoteIdentifier(table), pq.QuoteLiteral(channel))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("install trigger on %s: %w", table, err)
		}
	}
	return nil
}
