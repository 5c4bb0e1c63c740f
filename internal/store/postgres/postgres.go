package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/jackmielke/agentdash/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements [store.Store] on a pgx connection pool. All
// operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, installs the vector extension if needed,
// registers pgvector types on every pooled connection and runs
// [Migrate].
//
// embeddingDimensions must match the embedding model used for member
// profiles (1536 for text-embedding-3-small, 768 for nomic-embed-text).
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	// The vector type must exist before AfterConnect can register it.
	boot, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	_, err = boot.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	boot.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create vector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate ID: %w", err)
	}
	return id.String(), nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// --- tenants ---

// GetTenant implements [store.TenantStore].
func (s *Store) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	var t store.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, system_prompt, model, enabled_tools, bot_token, created_at
		 FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.SystemPrompt, &t.Model, &t.EnabledTools, &t.BotToken, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err, "tenant "+id)
	}
	return &t, nil
}

// SaveTenant implements [store.TenantStore].
func (s *Store) SaveTenant(ctx context.Context, t *store.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, system_prompt, model, enabled_tools, bot_token, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     name          = EXCLUDED.name,
		     system_prompt = EXCLUDED.system_prompt,
		     model         = EXCLUDED.model,
		     enabled_tools = EXCLUDED.enabled_tools,
		     bot_token     = EXCLUDED.bot_token`,
		t.ID, t.Name, t.SystemPrompt, t.Model, t.EnabledTools, t.BotToken, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save tenant: %w", err)
	}
	return nil
}

// --- custom tools ---

const customToolColumns = `id, tenant_id, name, display_name, description, endpoint_url,
	http_method, auth_type, auth_value, parameters, request_template, response_mapping,
	timeout_seconds, error_count, last_error, last_test_at, last_test_result, is_enabled,
	created_at, updated_at`

func scanCustomTool(row pgx.Row) (*store.CustomTool, error) {
	var (
		t        store.CustomTool
		reqTmpl  []byte
		respMap  []byte
		lastTest *time.Time
	)
	if err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.DisplayName, &t.Description, &t.EndpointURL,
		&t.HTTPMethod, &t.AuthType, &t.AuthValue, &t.Parameters, &reqTmpl, &respMap,
		&t.TimeoutSeconds, &t.ErrorCount, &t.LastError, &lastTest, &t.LastTestResult, &t.IsEnabled,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(reqTmpl) > 0 {
		t.RequestTemplate = json.RawMessage(reqTmpl)
	}
	if len(respMap) > 0 {
		t.ResponseMapping = &store.ResponseMapping{}
		if err := json.Unmarshal(respMap, t.ResponseMapping); err != nil {
			return nil, fmt.Errorf("decode response mapping for tool %s: %w", t.ID, err)
		}
	}
	t.LastTestAt = derefTime(lastTest)
	return &t, nil
}

// ListCustomTools implements [store.CustomToolStore].
func (s *Store) ListCustomTools(ctx context.Context, tenantID string) ([]*store.CustomTool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+customToolColumns+` FROM custom_tools WHERE tenant_id = $1 ORDER BY created_at, id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list custom tools: %w", err)
	}
	tools, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.CustomTool, error) {
		return scanCustomTool(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan custom tools: %w", err)
	}
	return tools, nil
}

// GetCustomTool implements [store.CustomToolStore].
func (s *Store) GetCustomTool(ctx context.Context, tenantID, id string) (*store.CustomTool, error) {
	t, err := scanCustomTool(s.pool.QueryRow(ctx,
		`SELECT `+customToolColumns+` FROM custom_tools WHERE tenant_id = $1 AND id = $2`,
		tenantID, id))
	if err != nil {
		return nil, notFound(err, "custom tool "+id)
	}
	return t, nil
}

// SaveCustomTool implements [store.CustomToolStore].
func (s *Store) SaveCustomTool(ctx context.Context, t *store.CustomTool) error {
	if t.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		t.ID = id
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	var reqTmpl, respMap []byte
	if len(t.RequestTemplate) > 0 {
		reqTmpl = t.RequestTemplate
	}
	if t.ResponseMapping != nil {
		b, err := json.Marshal(t.ResponseMapping)
		if err != nil {
			return fmt.Errorf("encode response mapping: %w", err)
		}
		respMap = b
	}
	params := t.Parameters
	if params == nil {
		params = map[string]store.Parameter{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO custom_tools (`+customToolColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 ON CONFLICT (id) DO UPDATE SET
		     name             = EXCLUDED.name,
		     display_name     = EXCLUDED.display_name,
		     description      = EXCLUDED.description,
		     endpoint_url     = EXCLUDED.endpoint_url,
		     http_method      = EXCLUDED.http_method,
		     auth_type        = EXCLUDED.auth_type,
		     auth_value       = EXCLUDED.auth_value,
		     parameters       = EXCLUDED.parameters,
		     request_template = EXCLUDED.request_template,
		     response_mapping = EXCLUDED.response_mapping,
		     timeout_seconds  = EXCLUDED.timeout_seconds,
		     is_enabled       = EXCLUDED.is_enabled,
		     updated_at       = EXCLUDED.updated_at`,
		t.ID, t.TenantID, t.Name, t.DisplayName, t.Description, t.EndpointURL,
		t.HTTPMethod, t.AuthType, t.AuthValue, params, reqTmpl, respMap,
		t.TimeoutSeconds, t.ErrorCount, t.LastError, nullTime(t.LastTestAt), t.LastTestResult, t.IsEnabled,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save custom tool: %w", err)
	}
	return nil
}

// RecordToolSuccess implements [store.CustomToolStore].
func (s *Store) RecordToolSuccess(ctx context.Context, id string, at time.Time, result string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE custom_tools
		 SET error_count = 0, last_error = '', last_test_at = $2, last_test_result = $3, updated_at = $2
		 WHERE id = $1`,
		id, at, result)
	if err != nil {
		return fmt.Errorf("postgres store: record tool success: %w", err)
	}
	return nil
}

// RecordToolFailure implements [store.CustomToolStore].
func (s *Store) RecordToolFailure(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE custom_tools
		 SET error_count = error_count + 1, last_error = $2, updated_at = $3
		 WHERE id = $1`,
		id, errMsg, at)
	if err != nil {
		return fmt.Errorf("postgres store: record tool failure: %w", err)
	}
	return nil
}

// --- execution logs ---

// AppendExecutionLog implements [store.ExecutionLogStore].
func (s *Store) AppendExecutionLog(ctx context.Context, e *store.ExecutionLog) error {
	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_logs
		     (id, tool_id, tenant_id, input, output, status_code, error_message, execution_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ToolID, e.TenantID, e.Input, e.Output, e.StatusCode, e.ErrorMessage,
		e.ExecutionTimeMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: insert execution log: %w", err)
	}
	return nil
}

// ListExecutionLogs implements [store.ExecutionLogStore].
func (s *Store) ListExecutionLogs(ctx context.Context, toolID string, limit int) ([]*store.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tool_id, tenant_id, input, output, status_code, error_message, execution_time_ms, created_at
		 FROM execution_logs WHERE tool_id = $1 ORDER BY created_at DESC LIMIT $2`,
		toolID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list execution logs: %w", err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.ExecutionLog, error) {
		var e store.ExecutionLog
		err := row.Scan(&e.ID, &e.ToolID, &e.TenantID, &e.Input, &e.Output, &e.StatusCode,
			&e.ErrorMessage, &e.ExecutionTimeMs, &e.CreatedAt)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan execution logs: %w", err)
	}
	return logs, nil
}

// --- knowledge ---

// AddKnowledge implements [store.KnowledgeStore].
func (s *Store) AddKnowledge(ctx context.Context, e *store.KnowledgeEntry) error {
	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_entries (id, tenant_id, content, tags, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TenantID, e.Content, nonNil(e.Tags), e.Source, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: insert knowledge entry: %w", err)
	}
	return nil
}

// ListKnowledge implements [store.KnowledgeStore].
func (s *Store) ListKnowledge(ctx context.Context, tenantID string, limit int) ([]*store.KnowledgeEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, content, tags, source, created_at
		 FROM knowledge_entries WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list knowledge: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.KnowledgeEntry, error) {
		var e store.KnowledgeEntry
		err := row.Scan(&e.ID, &e.TenantID, &e.Content, &e.Tags, &e.Source, &e.CreatedAt)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan knowledge: %w", err)
	}
	return entries, nil
}

// --- chat history ---

// AppendChatMessage implements [store.ChatStore].
func (s *Store) AppendChatMessage(ctx context.Context, m *store.ChatMessage) error {
	if m.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, tenant_id, chat_id, sender, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.TenantID, m.ChatID, m.Sender, m.Text, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: insert chat message: %w", err)
	}
	return nil
}

// ListChatMessages implements [store.ChatStore].
func (s *Store) ListChatMessages(ctx context.Context, tenantID string, since time.Time, limit int) ([]*store.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, chat_id, sender, text, created_at
		 FROM chat_messages WHERE tenant_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT $3`,
		tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list chat messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.ChatMessage, error) {
		var m store.ChatMessage
		err := row.Scan(&m.ID, &m.TenantID, &m.ChatID, &m.Sender, &m.Text, &m.CreatedAt)
		return &m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan chat messages: %w", err)
	}
	return msgs, nil
}

// --- members ---

const memberColumns = `id, tenant_id, telegram_user_id, username, display_name, bio, interests,
	embedding, claimed_at, created_at`

func scanMember(row pgx.Row, extra ...any) (*store.Member, error) {
	var (
		m       store.Member
		vec     *pgvector.Vector
		claimed *time.Time
	)
	dest := []any{&m.ID, &m.TenantID, &m.TelegramUserID, &m.Username, &m.DisplayName, &m.Bio,
		&m.Interests, &vec, &claimed, &m.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if vec != nil {
		m.Embedding = vec.Slice()
	}
	m.ClaimedAt = derefTime(claimed)
	return &m, nil
}

// SaveMember implements [store.MemberStore].
func (s *Store) SaveMember(ctx context.Context, m *store.Member) error {
	if m.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var vec *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO members (`+memberColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     telegram_user_id = EXCLUDED.telegram_user_id,
		     username         = EXCLUDED.username,
		     display_name     = EXCLUDED.display_name,
		     bio              = EXCLUDED.bio,
		     interests        = EXCLUDED.interests,
		     embedding        = EXCLUDED.embedding,
		     claimed_at       = EXCLUDED.claimed_at`,
		m.ID, m.TenantID, m.TelegramUserID, m.Username, m.DisplayName, m.Bio, nonNil(m.Interests),
		vec, nullTime(m.ClaimedAt), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save member: %w", err)
	}
	return nil
}

// GetMemberByTelegramID implements [store.MemberStore].
func (s *Store) GetMemberByTelegramID(ctx context.Context, tenantID string, telegramUserID int64) (*store.Member, error) {
	m, err := scanMember(s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE tenant_id = $1 AND telegram_user_id = $2`,
		tenantID, telegramUserID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("member with telegram id %d", telegramUserID))
	}
	return m, nil
}

// FindMembers implements [store.MemberStore].
func (s *Store) FindMembers(ctx context.Context, tenantID, query string, limit int) ([]*store.Member, error) {
	pattern := "%" + escapeLike(strings.TrimPrefix(query, "@")) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE tenant_id = $1 AND (username ILIKE $2 OR display_name ILIKE $2)
		 ORDER BY display_name LIMIT $3`,
		tenantID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: find members: %w", err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Member, error) {
		return scanMember(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan members: %w", err)
	}
	return members, nil
}

// SearchMembers implements [store.MemberStore] with the HNSW cosine
// index. Results are ordered by ascending cosine distance.
func (s *Store) SearchMembers(ctx context.Context, tenantID string, vec []float32, limit int) ([]store.MemberMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+`, embedding <=> $2 AS distance
		 FROM   members
		 WHERE  tenant_id = $1 AND embedding IS NOT NULL
		 ORDER  BY distance
		 LIMIT  $3`,
		tenantID, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search members: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.MemberMatch, error) {
		var distance float64
		m, err := scanMember(row, &distance)
		if err != nil {
			return store.MemberMatch{}, err
		}
		return store.MemberMatch{Member: *m, Similarity: float32(1 - distance)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan member matches: %w", err)
	}
	return matches, nil
}

// --- claim tokens ---

// CreateClaimToken implements [store.ClaimStore].
func (s *Store) CreateClaimToken(ctx context.Context, t *store.ClaimToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claim_tokens (token, tenant_id, member_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.Token, t.TenantID, t.MemberID, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: insert claim token: %w", err)
	}
	return nil
}

// GetClaimToken implements [store.ClaimStore].
func (s *Store) GetClaimToken(ctx context.Context, token string) (*store.ClaimToken, error) {
	var t store.ClaimToken
	err := s.pool.QueryRow(ctx,
		`SELECT token, tenant_id, member_id, expires_at, created_at FROM claim_tokens WHERE token = $1`,
		token,
	).Scan(&t.Token, &t.TenantID, &t.MemberID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err, "claim token")
	}
	return &t, nil
}

// --- blobs ---

// PutBlob implements [store.BlobStore].
func (s *Store) PutBlob(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (key, content_type, data) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET content_type = EXCLUDED.content_type, data = EXCLUDED.data`,
		key, contentType, data)
	if err != nil {
		return fmt.Errorf("postgres store: put blob: %w", err)
	}
	return nil
}

// GetBlob implements [store.BlobStore].
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	var (
		data []byte
		ct   string
	)
	err := s.pool.QueryRow(ctx, `SELECT data, content_type FROM blobs WHERE key = $1`, key).Scan(&data, &ct)
	if err != nil {
		return nil, "", notFound(err, "blob "+key)
	}
	return data, ct, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
