package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docsearch/internal/client"
)

func stubServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ingest/":
			_, _ = w.Write([]byte(`{"status":"Documents uploaded successfully","ids":["id-1"]}`))
		case "/query/":
			_, _ = w.Write([]byte(`{"results":[{"filename":"a.txt","score":0.125,"text":"line one\nline two"}]}`))
		case "/database/":
			_, _ = w.Write([]byte(`{"documents":[{"id":"id-1","filename":"a.txt","text":"hello"}]}`))
		case "/health":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable","documents":0,"error":"Database error: down"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunIngest(t *testing.T) {
	c := client.New(stubServer(t).URL, "")
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	var out bytes.Buffer
	require.NoError(t, runIngest(context.Background(), &out, c, []string{path}))
	assert.Contains(t, out.String(), "Documents uploaded successfully (1 files)")
	assert.Contains(t, out.String(), "id-1  a.txt")

	err := runIngest(context.Background(), &out, c, []string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.ErrorContains(t, err, "failed to read file")
}

func TestRunQuery(t *testing.T) {
	c := client.New(stubServer(t).URL, "")

	var out bytes.Buffer
	require.NoError(t, runQuery(context.Background(), &out, c, "line"))
	assert.Equal(t, "1. a.txt (distance 0.1250)\n   line one line two\n", out.String())
}

func TestRunList(t *testing.T) {
	c := client.New(stubServer(t).URL, "")

	var out bytes.Buffer
	require.NoError(t, runList(context.Background(), &out, c, 0, 0))
	assert.Contains(t, out.String(), "FILENAME")
	assert.Contains(t, out.String(), "id-1")
}

func TestRunHealth_Unavailable(t *testing.T) {
	c := client.New(stubServer(t).URL, "")

	var out bytes.Buffer
	err := runHealth(context.Background(), &out, c)
	require.Error(t, err)
	assert.Contains(t, out.String(), "Status: unavailable")
	assert.Contains(t, out.String(), "Error: Database error: down")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\nb", 10))
	assert.Equal(t, "abcd...", preview("abcdefghij", 7))
}

func TestResolvedServerURL(t *testing.T) {
	serverURL = ""
	t.Setenv("DOCSEARCH_URL", "")
	assert.Equal(t, defaultServerURL, resolvedServerURL())

	t.Setenv("DOCSEARCH_URL", "http://env:1")
	assert.Equal(t, "http://env:1", resolvedServerURL())

	serverURL = "http://flag:2"
	t.Cleanup(func() { serverURL = "" })
	assert.Equal(t, "http://flag:2", resolvedServerURL())
}
