package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jackmielke/agentdash/internal/embeddings"
)

// Compile-time interface check.
var _ Store = (*SQLite)(nil)

// SQLite implements [Store] on a single SQLite database, with blobs
// kept as files under a directory. All methods are safe for concurrent
// use (SQLite serializes writes).
type SQLite struct {
	db      *sql.DB
	blobDir string
}

// OpenSQLite opens (creating if needed) the database at dbPath with the
// mattn/go-sqlite3 driver and stores blobs under blobDir.
func OpenSQLite(dbPath, blobDir string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewSQLite(db, blobDir)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an open database, running migrations on first use.
// The caller may pass a database opened with any SQLite driver.
func NewSQLite(db *sql.DB, blobDir string) (*SQLite, error) {
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	s := &SQLite{db: db, blobDir: blobDir}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		enabled_tools TEXT NOT NULL DEFAULT '{}',
		bot_token     TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS custom_tools (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		name             TEXT NOT NULL,
		display_name     TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		endpoint_url     TEXT NOT NULL,
		http_method      TEXT NOT NULL DEFAULT 'POST',
		auth_type        TEXT NOT NULL DEFAULT 'none',
		auth_value       TEXT NOT NULL DEFAULT '',
		parameters       TEXT NOT NULL DEFAULT '{}',
		request_template TEXT,
		response_mapping TEXT,
		timeout_seconds  INTEGER NOT NULL DEFAULT 0,
		error_count      INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		last_test_at     TEXT,
		last_test_result TEXT NOT NULL DEFAULT '',
		is_enabled       INTEGER NOT NULL DEFAULT 1,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_custom_tools_tenant ON custom_tools(tenant_id);

	CREATE TABLE IF NOT EXISTS execution_logs (
		id                TEXT PRIMARY KEY,
		tool_id           TEXT NOT NULL,
		tenant_id         TEXT NOT NULL,
		input             TEXT NOT NULL,
		output            TEXT NOT NULL DEFAULT '',
		status_code       INTEGER NOT NULL DEFAULT 0,
		error_message     TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL,
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_execution_logs_tool ON execution_logs(tool_id, created_at);

	CREATE TABLE IF NOT EXISTS knowledge_entries (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		content    TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		source     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_tenant ON knowledge_entries(tenant_id, created_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		chat_id    TEXT NOT NULL DEFAULT '',
		sender     TEXT NOT NULL DEFAULT '',
		text       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_tenant ON chat_messages(tenant_id, created_at);

	CREATE TABLE IF NOT EXISTS members (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		telegram_user_id INTEGER NOT NULL DEFAULT 0,
		username         TEXT NOT NULL DEFAULT '',
		display_name     TEXT NOT NULL DEFAULT '',
		bio              TEXT NOT NULL DEFAULT '',
		interests        TEXT NOT NULL DEFAULT '[]',
		embedding        BLOB,
		claimed_at       TEXT,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_members_tenant ON members(tenant_id);

	CREATE TABLE IF NOT EXISTS claim_tokens (
		token      TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		member_id  TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// newID returns a time-ordered UUIDv7 string.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate ID: %w", err)
	}
	return id.String(), nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

// --- tenants ---

// GetTenant returns the tenant with the given id, or [ErrNotFound].
func (s *SQLite) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var (
		t       Tenant
		enabled string
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, system_prompt, model, enabled_tools, bot_token, created_at
		 FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.SystemPrompt, &t.Model, &enabled, &t.BotToken, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	if err := json.Unmarshal([]byte(enabled), &t.EnabledTools); err != nil {
		return nil, fmt.Errorf("decode enabled tools for tenant %s: %w", id, err)
	}
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// SaveTenant inserts or replaces a tenant.
func (s *SQLite) SaveTenant(ctx context.Context, t *Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	enabled, err := json.Marshal(t.EnabledTools)
	if err != nil {
		return fmt.Errorf("encode enabled tools: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, system_prompt, model, enabled_tools, bot_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			system_prompt = excluded.system_prompt,
			model = excluded.model,
			enabled_tools = excluded.enabled_tools,
			bot_token = excluded.bot_token`,
		t.ID, t.Name, t.SystemPrompt, t.Model, string(enabled), t.BotToken, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

// --- custom tools ---

const customToolColumns = `id, tenant_id, name, display_name, description, endpoint_url,
	http_method, auth_type, auth_value, parameters, request_template, response_mapping,
	timeout_seconds, error_count, last_error, last_test_at, last_test_result, is_enabled,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomTool(row rowScanner) (*CustomTool, error) {
	var (
		t                CustomTool
		params           string
		reqTmpl, respMap sql.NullString
		lastTest         sql.NullString
		enabled          int
		created, updated string
	)
	if err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.DisplayName, &t.Description, &t.EndpointURL,
		&t.HTTPMethod, &t.AuthType, &t.AuthValue, &params, &reqTmpl, &respMap,
		&t.TimeoutSeconds, &t.ErrorCount, &t.LastError, &lastTest, &t.LastTestResult, &enabled,
		&created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &t.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters for tool %s: %w", t.ID, err)
	}
	if reqTmpl.Valid && reqTmpl.String != "" {
		t.RequestTemplate = json.RawMessage(reqTmpl.String)
	}
	if respMap.Valid && respMap.String != "" {
		t.ResponseMapping = &ResponseMapping{}
		if err := json.Unmarshal([]byte(respMap.String), t.ResponseMapping); err != nil {
			return nil, fmt.Errorf("decode response mapping for tool %s: %w", t.ID, err)
		}
	}
	t.LastTestAt = parseNullTime(lastTest)
	t.IsEnabled = enabled != 0
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// ListCustomTools returns every custom tool of a tenant, enabled or
// not, ordered by creation time.
func (s *SQLite) ListCustomTools(ctx context.Context, tenantID string) ([]*CustomTool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+customToolColumns+` FROM custom_tools WHERE tenant_id = ? ORDER BY created_at, id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("query custom tools: %w", err)
	}
	defer rows.Close()

	var tools []*CustomTool
	for rows.Next() {
		t, err := scanCustomTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom tool: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// GetCustomTool returns one tool of a tenant, or [ErrNotFound].
func (s *SQLite) GetCustomTool(ctx context.Context, tenantID, id string) (*CustomTool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customToolColumns+` FROM custom_tools WHERE tenant_id = ? AND id = ?`,
		tenantID, id)
	t, err := scanCustomTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("custom tool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query custom tool: %w", err)
	}
	return t, nil
}

// SaveCustomTool inserts or updates a custom tool definition. An empty
// ID is assigned a new UUIDv7.
func (s *SQLite) SaveCustomTool(ctx context.Context, t *CustomTool) error {
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

	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	var reqTmpl, respMap sql.NullString
	if len(t.RequestTemplate) > 0 {
		reqTmpl = sql.NullString{String: string(t.RequestTemplate), Valid: true}
	}
	if t.ResponseMapping != nil {
		b, err := json.Marshal(t.ResponseMapping)
		if err != nil {
			return fmt.Errorf("encode response mapping: %w", err)
		}
		respMap = sql.NullString{String: string(b), Valid: true}
	}
	enabled := 0
	if t.IsEnabled {
		enabled = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO custom_tools (`+customToolColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			description = excluded.description,
			endpoint_url = excluded.endpoint_url,
			http_method = excluded.http_method,
			auth_type = excluded.auth_type,
			auth_value = excluded.auth_value,
			parameters = excluded.parameters,
			request_template = excluded.request_template,
			response_mapping = excluded.response_mapping,
			timeout_seconds = excluded.timeout_seconds,
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at`,
		t.ID, t.TenantID, t.Name, t.DisplayName, t.Description, t.EndpointURL,
		t.HTTPMethod, t.AuthType, t.AuthValue, string(params), reqTmpl, respMap,
		t.TimeoutSeconds, t.ErrorCount, t.LastError, formatNullTime(t.LastTestAt), t.LastTestResult, enabled,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save custom tool: %w", err)
	}
	return nil
}

// RecordToolSuccess clears the failure counters of a tool.
func (s *SQLite) RecordToolSuccess(ctx context.Context, id string, at time.Time, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE custom_tools
		 SET error_count = 0, last_error = '', last_test_at = ?, last_test_result = ?, updated_at = ?
		 WHERE id = ?`,
		formatTime(at), result, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("record tool success: %w", err)
	}
	return nil
}

// RecordToolFailure increments the error counter of a tool in a single
// statement so concurrent runs do not lose updates.
func (s *SQLite) RecordToolFailure(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE custom_tools
		 SET error_count = error_count + 1, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		errMsg, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("record tool failure: %w", err)
	}
	return nil
}

// --- execution logs ---

// AppendExecutionLog inserts one audit record.
func (s *SQLite) AppendExecutionLog(ctx context.Context, e *ExecutionLog) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs
			(id, tool_id, tenant_id, input, output, status_code, error_message, execution_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ToolID, e.TenantID, e.Input, e.Output, e.StatusCode, e.ErrorMessage,
		e.ExecutionTimeMs, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

// ListExecutionLogs returns up to limit records for a tool, newest first.
func (s *SQLite) ListExecutionLogs(ctx context.Context, toolID string, limit int) ([]*ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool_id, tenant_id, input, output, status_code, error_message, execution_time_ms, created_at
		 FROM execution_logs WHERE tool_id = ? ORDER BY created_at DESC LIMIT ?`,
		toolID, limit)
	if err != nil {
		return nil, fmt.Errorf("query execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*ExecutionLog
	for rows.Next() {
		var (
			e       ExecutionLog
			created string
		)
		if err := rows.Scan(&e.ID, &e.ToolID, &e.TenantID, &e.Input, &e.Output, &e.StatusCode,
			&e.ErrorMessage, &e.ExecutionTimeMs, &created); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		e.CreatedAt = parseTime(created)
		logs = append(logs, &e)
	}
	return logs, rows.Err()
}

// --- knowledge ---

// AddKnowledge inserts a knowledge entry.
func (s *SQLite) AddKnowledge(ctx context.Context, e *KnowledgeEntry) error {
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
	tags, err := json.Marshal(nonNilStrings(e.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_entries (id, tenant_id, content, tags, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Content, string(tags), e.Source, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert knowledge entry: %w", err)
	}
	return nil
}

// ListKnowledge returns up to limit entries, newest first.
func (s *SQLite) ListKnowledge(ctx context.Context, tenantID string, limit int) ([]*KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, content, tags, source, created_at
		 FROM knowledge_entries WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	var entries []*KnowledgeEntry
	for rows.Next() {
		var (
			e             KnowledgeEntry
			tags, created string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Content, &tags, &e.Source, &created); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		_ = json.Unmarshal([]byte(tags), &e.Tags)
		e.CreatedAt = parseTime(created)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- chat history ---

// AppendChatMessage inserts a chat message.
func (s *SQLite) AppendChatMessage(ctx context.Context, m *ChatMessage) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, tenant_id, chat_id, sender, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.ChatID, m.Sender, m.Text, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns up to limit messages since the given time,
// newest first.
func (s *SQLite) ListChatMessages(ctx context.Context, tenantID string, since time.Time, limit int) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, chat_id, sender, text, created_at
		 FROM chat_messages WHERE tenant_id = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT ?`,
		tenantID, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		var (
			m       ChatMessage
			created string
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ChatID, &m.Sender, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// --- members ---

const memberColumns = `id, tenant_id, telegram_user_id, username, display_name, bio, interests,
	embedding, claimed_at, created_at`

func scanMember(row rowScanner) (*Member, error) {
	var (
		m         Member
		interests string
		emb       []byte
		claimed   sql.NullString
		created   string
	)
	if err := row.Scan(&m.ID, &m.TenantID, &m.TelegramUserID, &m.Username, &m.DisplayName, &m.Bio,
		&interests, &emb, &claimed, &created); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(interests), &m.Interests)
	m.Embedding = decodeVector(emb)
	m.ClaimedAt = parseNullTime(claimed)
	m.CreatedAt = parseTime(created)
	return &m, nil
}

// SaveMember inserts or replaces a member profile.
func (s *SQLite) SaveMember(ctx context.Context, m *Member) error {
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
	interests, err := json.Marshal(nonNilStrings(m.Interests))
	if err != nil {
		return fmt.Errorf("encode interests: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO members (`+memberColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.TelegramUserID, m.Username, m.DisplayName, m.Bio, string(interests),
		encodeVector(m.Embedding), formatNullTime(m.ClaimedAt), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

// GetMemberByTelegramID returns the member linked to a Telegram user,
// or [ErrNotFound].
func (s *SQLite) GetMemberByTelegramID(ctx context.Context, tenantID string, telegramUserID int64) (*Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE tenant_id = ? AND telegram_user_id = ?`,
		tenantID, telegramUserID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member with telegram id %d: %w", telegramUserID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query member: %w", err)
	}
	return m, nil
}

// FindMembers returns members whose username or display name contains
// query, case-insensitively.
func (s *SQLite) FindMembers(ctx context.Context, tenantID, query string, limit int) ([]*Member, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimPrefix(query, "@"))) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE tenant_id = ? AND (lower(username) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\')
		 ORDER BY display_name LIMIT ?`,
		tenantID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// SearchMembers ranks every member with an embedding in process. This
// is adequate for community-sized tenants; the postgres backend uses a
// vector index instead.
func (s *SQLite) SearchMembers(ctx context.Context, tenantID string, vec []float32, limit int) ([]MemberMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE tenant_id = ? AND embedding IS NOT NULL`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("query member embeddings: %w", err)
	}
	defer rows.Close()

	var (
		members []*Member
		vectors [][]float32
	)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if len(m.Embedding) != len(vec) {
			continue
		}
		members = append(members, m)
		vectors = append(vectors, m.Embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top := embeddings.TopK(vec, vectors, limit)
	matches := make([]MemberMatch, len(top))
	for i, sc := range top {
		matches[i] = MemberMatch{Member: *members[sc.Index], Similarity: sc.Score}
	}
	return matches, nil
}

// --- claim tokens ---

// CreateClaimToken stores a new claim token.
func (s *SQLite) CreateClaimToken(ctx context.Context, t *ClaimToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claim_tokens (token, tenant_id, member_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.TenantID, t.MemberID, formatTime(t.ExpiresAt), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert claim token: %w", err)
	}
	return nil
}

// GetClaimToken returns a claim token, or [ErrNotFound].
func (s *SQLite) GetClaimToken(ctx context.Context, token string) (*ClaimToken, error) {
	var (
		t                ClaimToken
		expires, created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, tenant_id, member_id, expires_at, created_at FROM claim_tokens WHERE token = ?`,
		token,
	).Scan(&t.Token, &t.TenantID, &t.MemberID, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query claim token: %w", err)
	}
	t.ExpiresAt = parseTime(expires)
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// --- blobs ---

var blobKeyRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func (s *SQLite) blobPath(key string) (string, error) {
	if !blobKeyRE.MatchString(key) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.blobDir, key), nil
}

// PutBlob writes data under key. The content type is derived from the
// key's extension on read, so keys should carry one.
func (s *SQLite) PutBlob(_ context.Context, key, _ string, data []byte) error {
	path, err := s.blobPath(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

// GetBlob reads the blob stored under key, or returns [ErrNotFound].
func (s *SQLite) GetBlob(_ context.Context, key string) ([]byte, string, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read blob: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, nil
}

// --- helpers ---

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
