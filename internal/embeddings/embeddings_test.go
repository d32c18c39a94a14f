package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fyrsmithlabs/docsearch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTEIServer returns a fake TEI server producing dim-length vectors whose
// first component is the input length.
func newTEIServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		require.Equal(t, "/embed", r.URL.Path)

		var req struct {
			Inputs json.RawMessage `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var texts []string
		if err := json.Unmarshal(req.Inputs, &texts); err != nil {
			var one string
			require.NoError(t, json.Unmarshal(req.Inputs, &one))
			texts = []string{one}
		}

		out := make([][]float32, len(texts))
		for i, text := range texts {
			v := make([]float32, dim)
			v[0] = float32(len(text))
			out[i] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	srv := newTEIServer(t, 4, nil)
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/", Model: "custom", Dimension: 4})
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"a", "bbb", ""})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(3), vectors[1][0])
	assert.Equal(t, float32(0), vectors[2][0], "empty documents are embedded")
	assert.Equal(t, 4, p.Dimension())
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	srv := newTEIServer(t, 4, nil)
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	v, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(5), v[0])

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestTEIProvider_SendsAPIKey(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([][]float32{{1, 2}})
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	_, err = p.EmbedQuery(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Bearer k", auth.Load())
}

func TestNewTEIProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_ProbesUnknownDimension(t *testing.T) {
	var calls atomic.Int32
	srv := newTEIServer(t, 7, &calls)
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider: "tei",
		BaseURL:  srv.URL,
		Model:    "some/unlisted-model",
	}, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 7, p.Dimension())
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewProvider_KnownModelSkipsProbe(t *testing.T) {
	var calls atomic.Int32
	srv := newTEIServer(t, 384, &calls)
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider: "tei",
		BaseURL:  srv.URL,
		Model:    "sentence-transformers/all-MiniLM-L6-v2",
	})
	require.NoError(t, err)

	assert.Equal(t, 384, p.Dimension())
	assert.Zero(t, calls.Load())
}

func TestNewProvider_ExplicitDimension(t *testing.T) {
	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider:  "tei",
		BaseURL:   "http://127.0.0.1:1",
		Model:     "whatever",
		Dimension: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, p.Dimension())
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Provider: "word2vec"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_ProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewProvider(context.Background(), ProviderConfig{
		Provider: "tei",
		BaseURL:  srv.URL,
		Model:    "unlisted",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestOpenAIProvider(t *testing.T) {
	var auth, model atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		require.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		model.Store(req.Model)

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, in := range req.Input {
			data[i] = item{Object: "embedding", Embedding: []float32{float32(len(in)), 0, 1}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL:   srv.URL,
		Model:     "text-embedding-3-small",
		APIKey:    "sk-test",
		Dimension: 3,
	})
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(2), vectors[0][0])
	assert.Equal(t, float32(4), vectors[1][0])
	assert.Equal(t, "text-embedding-3-small", model.Load())

	v, err := p.EmbedQuery(context.Background(), "xyz")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 1}, v)
	assert.Equal(t, "Bearer sk-test", auth.Load())
	assert.Equal(t, "text-embedding-3-small", model.Load())
	assert.Equal(t, 3, p.Dimension())
}

func TestNewOpenAIProvider_Validation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewOpenAIProvider(OpenAIConfig{BaseURL: "http://x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type stubProvider struct {
	err error
	dim int
}

func (s *stubProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]float32, s.dim), nil
}

func (s *stubProvider) Dimension() int { return s.dim }
func (s *stubProvider) Close() error   { return nil }

func TestInstrumented_RecordsMetricsAndSpans(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	stub := &stubProvider{dim: 3}
	p := NewInstrumented(stub, "m", tel.Meter("test"), tel.Tracer("test"), nil)

	_, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	stub.err = errors.New("boom")
	_, err = p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)

	tel.AssertSpanExists(t, "embeddings.EmbedDocuments")
	tel.AssertSpanExists(t, "embeddings.EmbedQuery")
	assert.Equal(t, int64(1), tel.CounterValue(t, "docsearch.embedding.errors_total"))
	assert.Equal(t, int64(2), tel.CounterValue(t, "docsearch.embedding.texts_total"), "failed calls are not counted as embedded texts")

	_, ok := tel.FindMetric(t, "docsearch.embedding.duration_seconds")
	assert.True(t, ok)
	assert.Equal(t, 3, p.Dimension())
}

func TestModelDimension(t *testing.T) {
	dim, ok := ModelDimension("sentence-transformers/all-MiniLM-L6-v2")
	assert.True(t, ok)
	assert.Equal(t, 384, dim)

	_, ok = ModelDimension("unknown")
	assert.False(t, ok)

	assert.False(t, usesInstructionPrefixes("sentence-transformers/all-MiniLM-L6-v2"))
	assert.True(t, usesInstructionPrefixes("BAAI/bge-small-en-v1.5"))
}
