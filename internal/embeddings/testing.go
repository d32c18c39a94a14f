package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// TestProvider is a deterministic bag-of-words embedder for tests. Texts
// that share words are closer than texts that do not. Component 0 is a
// constant bias so no vector is ever zero.
type TestProvider struct {
	dim int

	mu sync.Mutex
	// DocumentsErr and QueryErr are returned by the next calls when set.
	DocumentsErr error
	QueryErr     error
	// WrongDimension makes every vector one component too long.
	WrongDimension bool

	documentCalls int
	queryCalls    int
}

// NewTestProvider creates a TestProvider producing dim-length vectors.
func NewTestProvider(dim int) *TestProvider {
	if dim < 2 {
		dim = 2
	}
	return &TestProvider{dim: dim}
}

func (p *TestProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.documentCalls++
	if p.DocumentsErr != nil {
		return nil, p.DocumentsErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *TestProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queryCalls++
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	return p.vector(text), nil
}

func (p *TestProvider) Dimension() int { return p.dim }

func (p *TestProvider) Close() error { return nil }

// Calls returns how many document and query calls were made.
func (p *TestProvider) Calls() (documents, queries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.documentCalls, p.queryCalls
}

// Fail sets the error returned by every following call.
func (p *TestProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DocumentsErr = err
	p.QueryErr = err
}

func (p *TestProvider) vector(text string) []float32 {
	n := p.dim
	if p.WrongDimension {
		n++
	}
	v := make([]float32, n)
	v[0] = 1
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[1+int(h.Sum32()%uint32(p.dim-1))] += 2
	}
	return v
}

var _ Provider = (*TestProvider)(nil)
