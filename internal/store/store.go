// Package store defines the records AgentDash persists and the storage
// interfaces the agent core consumes. Two backends implement [Store]:
// [SQLite] for single-node installs and package postgres for hosted
// deployments with pgvector.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed lookup matches no record.
var ErrNotFound = errors.New("not found")

// Auth types for custom tools.
const (
	AuthNone   = "none"
	AuthAPIKey = "api_key"
	AuthBearer = "bearer"
)

// Tenant is a community with its own bot, tools, knowledge and history.
type Tenant struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Model        string          `json:"model,omitempty"`
	EnabledTools map[string]bool `json:"enabled_tools"`
	BotToken     string          `json:"bot_token,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Parameter describes one argument of a custom tool.
type Parameter struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ResponseMapping selects how a custom tool's response body is shown
// to the model: "json" (pretty-printed body) or "template".
type ResponseMapping struct {
	Format   string `json:"format"`
	Template string `json:"template,omitempty"`
}

// CustomTool is a tenant-defined tool backed by an external HTTP API.
// Health fields (ErrorCount, LastError, LastTestAt, LastTestResult) are
// written by the executor after every call.
type CustomTool struct {
	ID              string               `json:"id"`
	TenantID        string               `json:"tenant_id"`
	Name            string               `json:"name"`
	DisplayName     string               `json:"display_name,omitempty"`
	Description     string               `json:"description"`
	EndpointURL     string               `json:"endpoint_url"`
	HTTPMethod      string               `json:"http_method"`
	AuthType        string               `json:"auth_type"`
	AuthValue       string               `json:"auth_value,omitempty"`
	Parameters      map[string]Parameter `json:"parameters"`
	RequestTemplate json.RawMessage      `json:"request_template,omitempty"`
	ResponseMapping *ResponseMapping     `json:"response_mapping,omitempty"`
	TimeoutSeconds  int                  `json:"timeout_seconds,omitempty"`
	ErrorCount      int                  `json:"error_count"`
	LastError       string               `json:"last_error,omitempty"`
	LastTestAt      time.Time            `json:"last_test_at,omitzero"`
	LastTestResult  string               `json:"last_test_result,omitempty"`
	IsEnabled       bool                 `json:"is_enabled"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// ExecutionLog is one audit record of a custom tool call.
type ExecutionLog struct {
	ID              string    `json:"id"`
	ToolID          string    `json:"tool_id"`
	TenantID        string    `json:"tenant_id"`
	Input           string    `json:"input"`
	Output          string    `json:"output,omitempty"`
	StatusCode      int       `json:"status_code,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// KnowledgeEntry is a note in a tenant's knowledge base.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is one message in a tenant's group chat history.
type ChatMessage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a community member profile.
type Member struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	TelegramUserID int64     `json:"telegram_user_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	DisplayName    string    `json:"display_name"`
	Bio            string    `json:"bio,omitempty"`
	Interests      []string  `json:"interests,omitempty"`
	Embedding      []float32 `json:"-"`
	ClaimedAt      time.Time `json:"claimed_at,omitzero"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberMatch is a member ranked by similarity to a query embedding.
type MemberMatch struct {
	Member     Member
	Similarity float32
}

// ClaimToken lets a Telegram user claim an unclaimed profile.
type ClaimToken struct {
	Token     string    `json:"token"`
	TenantID  string    `json:"tenant_id"`
	MemberID  string    `json:"member_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantStore reads and writes tenant settings.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	SaveTenant(ctx context.Context, t *Tenant) error
}

// CustomToolStore holds tenant-defined tools and their health fields.
// Health updates are single-row writes.
type CustomToolStore interface {
	ListCustomTools(ctx context.Context, tenantID string) ([]*CustomTool, error)
	GetCustomTool(ctx context.Context, tenantID, id string) (*CustomTool, error)
	SaveCustomTool(ctx context.Context, t *CustomTool) error
	// RecordToolSuccess resets ErrorCount and LastError and stamps the
	// last test time and result.
	RecordToolSuccess(ctx context.Context, id string, at time.Time, result string) error
	// RecordToolFailure increments ErrorCount and sets LastError.
	RecordToolFailure(ctx context.Context, id string, at time.Time, errMsg string) error
}

// ExecutionLogStore is the append-only custom tool audit trail.
type ExecutionLogStore interface {
	AppendExecutionLog(ctx context.Context, e *ExecutionLog) error
	ListExecutionLogs(ctx context.Context, toolID string, limit int) ([]*ExecutionLog, error)
}

// KnowledgeStore holds knowledge base entries.
type KnowledgeStore interface {
	AddKnowledge(ctx context.Context, e *KnowledgeEntry) error
	// ListKnowledge returns up to limit entries, newest first.
	ListKnowledge(ctx context.Context, tenantID string, limit int) ([]*KnowledgeEntry, error)
}

// ChatStore holds group chat history.
type ChatStore interface {
	AppendChatMessage(ctx context.Context, m *ChatMessage) error
	// ListChatMessages returns up to limit messages created at or after
	// since, newest first.
	ListChatMessages(ctx context.Context, tenantID string, since time.Time, limit int) ([]*ChatMessage, error)
}

// MemberStore holds member profiles.
type MemberStore interface {
	SaveMember(ctx context.Context, m *Member) error
	GetMemberByTelegramID(ctx context.Context, tenantID string, telegramUserID int64) (*Member, error)
	// FindMembers matches query against username and display name,
	// case-insensitively.
	FindMembers(ctx context.Context, tenantID, query string, limit int) ([]*Member, error)
	// SearchMembers ranks members with an embedding by cosine
	// similarity to vec, most similar first.
	SearchMembers(ctx context.Context, tenantID string, vec []float32, limit int) ([]MemberMatch, error)
}

// ClaimStore issues profile claim tokens.
type ClaimStore interface {
	CreateClaimToken(ctx context.Context, t *ClaimToken) error
	GetClaimToken(ctx context.Context, token string) (*ClaimToken, error)
}

// BlobStore keeps binary objects such as generated images.
type BlobStore interface {
	PutBlob(ctx context.Context, key, contentType string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, string, error)
}

// Store is the full storage surface.
type Store interface {
	TenantStore
	CustomToolStore
	ExecutionLogStore
	KnowledgeStore
	ChatStore
	MemberStore
	ClaimStore
	BlobStore
	Close() error
}
