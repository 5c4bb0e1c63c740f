package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/store/postgres"
)

const testEmbeddingDim = 3

// testDSN returns the test database DSN from the environment, or skips
// the test if AGENTDASH_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("AGENTDASH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGENTDASH_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, table := range []string{
		"tenants", "custom_tools", "execution_logs", "knowledge_entries",
		"chat_messages", "members", "claim_tokens", "blobs",
	} {
		if _, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
	conn.Close(ctx)

	st, err := postgres.New(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCustomToolHealth(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tool := &store.CustomTool{
		TenantID:    "t1",
		Name:        "lookup",
		EndpointURL: "https://api.example.com",
		HTTPMethod:  "GET",
		AuthType:    store.AuthNone,
		Parameters:  map[string]store.Parameter{"q": {Type: "string", Required: true}},
		IsEnabled:   true,
	}
	if err := st.SaveCustomTool(ctx, tool); err != nil {
		t.Fatalf("SaveCustomTool: %v", err)
	}

	now := time.Now()
	if err := st.RecordToolFailure(ctx, tool.ID, now, "HTTP 500"); err != nil {
		t.Fatalf("RecordToolFailure: %v", err)
	}
	got, err := st.GetCustomTool(ctx, "t1", tool.ID)
	if err != nil {
		t.Fatalf("GetCustomTool: %v", err)
	}
	if got.ErrorCount != 1 || got.LastError != "HTTP 500" {
		t.Errorf("health = (%d, %q), want (1, HTTP 500)", got.ErrorCount, got.LastError)
	}
	if !got.Parameters["q"].Required {
		t.Error("parameter required flag lost")
	}

	if err := st.RecordToolSuccess(ctx, tool.ID, now, "ok"); err != nil {
		t.Fatalf("RecordToolSuccess: %v", err)
	}
	got, _ = st.GetCustomTool(ctx, "t1", tool.ID)
	if got.ErrorCount != 0 || got.LastError != "" {
		t.Errorf("health not reset: (%d, %q)", got.ErrorCount, got.LastError)
	}
}

func TestSearchMembers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*store.Member{
		{TenantID: "t1", Username: "ada", DisplayName: "Ada", Embedding: []float32{1, 0, 0}},
		{TenantID: "t1", Username: "alan", DisplayName: "Alan", Embedding: []float32{0, 1, 0}},
		{TenantID: "t1", Username: "nobody", DisplayName: "No Vector"},
	} {
		if err := st.SaveMember(ctx, m); err != nil {
			t.Fatalf("SaveMember: %v", err)
		}
	}

	matches, err := st.SearchMembers(ctx, "t1", []float32{0.9, 0.1, 0}, 5)
	if err != nil {
		t.Fatalf("SearchMembers: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Member.Username != "ada" {
		t.Errorf("best match = %q, want ada", matches[0].Member.Username)
	}
}

func TestNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetTenant(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTenant err = %v, want ErrNotFound", err)
	}
	if _, _, err := st.GetBlob(ctx, "missing.png"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetBlob err = %v, want ErrNotFound", err)
	}
}
