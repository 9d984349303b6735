package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
)

func RepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate testutil source file")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

// SchemaDir is the directory of legacy X-ARF schema fixtures.
func SchemaDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(RepoRoot(t), "core", "schema", "testdata")
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func AssertGoldenJSON(t *testing.T, repoRelativePath string, value any) {
	t.Helper()
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		t.Fatalf("marshal golden json: %v", err)
	}
	encoded = append(encoded, '\n')

	goldenPath := filepath.Join(RepoRoot(t), filepath.FromSlash(repoRelativePath))
	if os.Getenv("UPDATE_GOLDEN") == "1" {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o750); err != nil {
			t.Fatalf("create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, encoded, 0o600); err != nil {
			t.Fatalf("update golden fixture: %v", err)
		}
		return
	}

	// #nosec G304 -- path is resolved from repo root plus test-owned relative fixture.
	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Fatalf("read golden fixture %s: %v", goldenPath, err)
	}
	if bytes.Equal(normalizeNewlines(expected), encoded) {
		return
	}

	t.Fatalf(
		"golden mismatch for %s\nexpected:\n%s\nactual:\n%s\nset UPDATE_GOLDEN=1 to refresh fixtures",
		goldenPath,
		string(expected),
		string(encoded),
	)
}

func FormatJSON(raw []byte) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	encoded, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return string(raw)
	}
	return fmt.Sprintf("%s\n", string(encoded))
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}

// SchemaServer serves the schema fixtures over http and counts requests.
type SchemaServer struct {
	*httptest.Server
	hits atomic.Int64
}

func NewSchemaServer(t *testing.T) *SchemaServer {
	t.Helper()
	server := &SchemaServer{}
	files := http.FileServer(http.Dir(SchemaDir(t)))
	server.Server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		server.hits.Add(1)
		files.ServeHTTP(writer, request)
	}))
	t.Cleanup(server.Close)
	return server
}

// SchemaURL returns the location of one fixture by file name.
func (s *SchemaServer) SchemaURL(name string) string {
	return s.Server.URL + "/" + name
}

func (s *SchemaServer) Hits() int64 {
	return s.hits.Load()
}
