// Package postgres implements store.Store on PostgreSQL with the
// pgvector extension, for hosted multi-tenant deployments.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCore = `
CREATE TABLE IF NOT EXISTS tenants (
    id            TEXT         PRIMARY KEY,
    name          TEXT         NOT NULL,
    system_prompt TEXT         NOT NULL DEFAULT '',
    model         TEXT         NOT NULL DEFAULT '',
    enabled_tools JSONB        NOT NULL DEFAULT '{}',
    bot_token     TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS custom_tools (
    id               TEXT         PRIMARY KEY,
    tenant_id        TEXT         NOT NULL,
    name             TEXT         NOT NULL,
    display_name     TEXT         NOT NULL DEFAULT '',
    description      TEXT         NOT NULL DEFAULT '',
    endpoint_url     TEXT         NOT NULL,
    http_method      TEXT         NOT NULL DEFAULT 'POST',
    auth_type        TEXT         NOT NULL DEFAULT 'none',
    auth_value       TEXT         NOT NULL DEFAULT '',
    parameters       JSONB        NOT NULL DEFAULT '{}',
    request_template JSONB,
    response_mapping JSONB,
    timeout_seconds  INTEGER      NOT NULL DEFAULT 0,
    error_count      INTEGER      NOT NULL DEFAULT 0,
    last_error       TEXT         NOT NULL DEFAULT '',
    last_test_at     TIMESTAMPTZ,
    last_test_result TEXT         NOT NULL DEFAULT '',
    is_enabled       BOOLEAN      NOT NULL DEFAULT true,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_custom_tools_tenant ON custom_tools (tenant_id);

CREATE TABLE IF NOT EXISTS execution_logs (
    id                TEXT         PRIMARY KEY,
    tool_id           TEXT         NOT NULL,
    tenant_id         TEXT         NOT NULL,
    input             TEXT         NOT NULL,
    output            TEXT         NOT NULL DEFAULT '',
    status_code       INTEGER      NOT NULL DEFAULT 0,
    error_message     TEXT         NOT NULL DEFAULT '',
    execution_time_ms BIGINT       NOT NULL,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_execution_logs_tool ON execution_logs (tool_id, created_at);

CREATE TABLE IF NOT EXISTS knowledge_entries (
    id         TEXT         PRIMARY KEY,
    tenant_id  TEXT         NOT NULL,
    content    TEXT         NOT NULL,
    tags       TEXT[]       NOT NULL DEFAULT '{}',
    source     TEXT         NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_tenant ON knowledge_entries (tenant_id, created_at);

CREATE TABLE IF NOT EXISTS chat_messages (
    id         TEXT         PRIMARY KEY,
    tenant_id  TEXT         NOT NULL,
    chat_id    TEXT         NOT NULL DEFAULT '',
    sender     TEXT         NOT NULL DEFAULT '',
    text       TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_tenant ON chat_messages (tenant_id, created_at);

CREATE TABLE IF NOT EXISTS claim_tokens (
    token      TEXT         PRIMARY KEY,
    tenant_id  TEXT         NOT NULL,
    member_id  TEXT         NOT NULL,
    expires_at TIMESTAMPTZ  NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blobs (
    key          TEXT         PRIMARY KEY,
    content_type TEXT         NOT NULL,
    data         BYTEA        NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlMembers returns the members DDL with the embedding dimension
// substituted. The dimension is fixed at schema creation time.
func ddlMembers(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS members (
    id               TEXT         PRIMARY KEY,
    tenant_id        TEXT         NOT NULL,
    telegram_user_id BIGINT       NOT NULL DEFAULT 0,
    username         TEXT         NOT NULL DEFAULT '',
    display_name     TEXT         NOT NULL DEFAULT '',
    bio              TEXT         NOT NULL DEFAULT '',
    interests        TEXT[]       NOT NULL DEFAULT '{}',
    embedding        vector(%d),
    claimed_at       TIMESTAMPTZ,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_members_tenant ON members (tenant_id);

CREATE INDEX IF NOT EXISTS idx_members_embedding
    ON members USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates all tables and indexes. It is idempotent and safe to
// call on every start. The vector extension must already exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlCore, ddlMembers(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
