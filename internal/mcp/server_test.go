package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/docsearch/internal/embeddings"
	"github.com/fyrsmithlabs/docsearch/internal/pipeline"
	"github.com/fyrsmithlabs/docsearch/internal/telemetry"
	"github.com/fyrsmithlabs/docsearch/internal/vectorstore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testEnv struct {
	session  *mcp.ClientSession
	embedder *embeddings.TestProvider
	tel      *telemetry.TestTelemetry
	logs     *observer.ObservedLogs
}

// setupTestServer wires a real pipeline (test embedder, in-memory chromem)
// into the MCP server and connects a client over in-memory transports.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	emb := embeddings.NewTestProvider(32)
	repo, err := vectorstore.NewChromemRepository(vectorstore.ChromemConfig{
		Collection: "file_docs",
		Dimension:  32,
	}, zap.NewNop())
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Config{}, emb, repo)
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	tel := telemetry.NewTestTelemetry()

	s, err := NewServer(&Config{
		Logger:  logger,
		Metrics: NewMetrics(tel.Meter("test"), logger),
	}, p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = s.Serve(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
	})
	return &testEnv{session: session, embedder: emb, tel: tel, logs: logs}
}

func (e *testEnv) call(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := e.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	return res
}

func structured[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, "tool returned error: %s", text(res))
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func text(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestListTools(t *testing.T) {
	env := setupTestServer(t)

	res, err := env.session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ingest_documents", "search_documents", "list_documents"}, names)
}

func TestIngestSearchList(t *testing.T) {
	env := setupTestServer(t)

	ingested := structured[ingestOutput](t, env.call(t, "ingest_documents", map[string]any{
		"files": []map[string]any{
			{"filename": "cats.txt", "content": "the cat sat on the mat"},
			{"filename": "money.txt", "content": "quarterly revenue grew"},
		},
	}))
	assert.Len(t, ingested.IDs, 2)
	assert.NotEmpty(t, ingested.BatchID)

	found := structured[searchOutput](t, env.call(t, "search_documents", map[string]any{"search_text": "cat"}))
	require.Len(t, found.Results, 2)
	assert.Equal(t, "cats.txt", found.Results[0].Filename)
	assert.Equal(t, "the cat sat on the mat", found.Results[0].Text)

	listed := structured[listOutput](t, env.call(t, "list_documents", map[string]any{}))
	require.Len(t, listed.Documents, 2)
	ids := []string{listed.Documents[0].ID, listed.Documents[1].ID}
	assert.ElementsMatch(t, ingested.IDs, ids)

	page := structured[listOutput](t, env.call(t, "list_documents", map[string]any{"offset": 1, "limit": 1}))
	require.Len(t, page.Documents, 1)
	assert.Equal(t, listed.Documents[1], page.Documents[0])
}

func TestIngest_Base64(t *testing.T) {
	env := setupTestServer(t)

	ok := structured[ingestOutput](t, env.call(t, "ingest_documents", map[string]any{
		"files": []map[string]any{
			{"filename": "a.txt", "content": base64.StdEncoding.EncodeToString([]byte("alpha")), "base64": true},
		},
	}))
	assert.Len(t, ok.IDs, 1)

	res := env.call(t, "ingest_documents", map[string]any{
		"files": []map[string]any{
			{"filename": "good.txt", "content": "fine"},
			{"filename": "badfile.bin", "content": base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe}), "base64": true},
		},
	})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "Cannot decode 'badfile.bin'.")

	listed := structured[listOutput](t, env.call(t, "list_documents", map[string]any{}))
	assert.Len(t, listed.Documents, 1)

	res = env.call(t, "ingest_documents", map[string]any{
		"files": []map[string]any{{"filename": "x.txt", "content": "%%%", "base64": true}},
	})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "Invalid base64 content for 'x.txt'.")
}

func TestIngest_Empty(t *testing.T) {
	env := setupTestServer(t)

	res := env.call(t, "ingest_documents", map[string]any{"files": []map[string]any{}})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "No files provided.")
}

func TestSearch_Errors(t *testing.T) {
	env := setupTestServer(t)

	res := env.call(t, "search_documents", map[string]any{"search_text": "  "})
	assert.True(t, res.IsError)

	env.embedder.Fail(errors.New("model unavailable"))
	res = env.call(t, "search_documents", map[string]any{"search_text": "cat"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "Embedding error: model unavailable")

	assert.Equal(t, 2, env.logs.FilterMessage("tool call failed").Len())
}

func TestSearch_EmptyRepository(t *testing.T) {
	env := setupTestServer(t)

	found := structured[searchOutput](t, env.call(t, "search_documents", map[string]any{"search_text": "anything"}))
	assert.NotNil(t, found.Results)
	assert.Empty(t, found.Results)
}

func TestList_NegativeWindow(t *testing.T) {
	env := setupTestServer(t)

	res := env.call(t, "list_documents", map[string]any{"offset": -1})
	assert.True(t, res.IsError)
}

func TestToolCallsAreMetered(t *testing.T) {
	env := setupTestServer(t)

	env.call(t, "search_documents", map[string]any{"search_text": "x"})
	env.call(t, "search_documents", map[string]any{"search_text": ""})

	assert.Equal(t, int64(2), env.tel.CounterValue(t, "docsearch.mcp.tool.invocations_total"))
	assert.Equal(t, int64(1), env.tel.CounterValue(t, "docsearch.mcp.tool.errors_total"))
}
