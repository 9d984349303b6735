package testutil

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNormalizeNewlines(t *testing.T) {
	input := []byte("{\r\n  \"ok\": true\r\n}\r\n")
	expected := []byte("{\n  \"ok\": true\n}\n")

	actual := normalizeNewlines(input)
	if !bytes.Equal(actual, expected) {
		t.Fatalf("unexpected newline normalization: got=%q want=%q", string(actual), string(expected))
	}
}

func TestRepoRootContainsGoMod(t *testing.T) {
	root := RepoRoot(t)
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("expected go.mod at repo root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(SchemaDir(t), "abuse_login-attack_0.1.2.json")); err != nil {
		t.Fatalf("expected schema fixture: %v", err)
	}
}

func TestWriteFileAndMustReadFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "output.json")
	WriteFile(t, target, []byte(`{"ok":true}`))
	got := MustReadFile(t, target)
	if string(got) != `{"ok":true}` {
		t.Fatalf("unexpected file content: %q", string(got))
	}
}

func TestFormatJSON(t *testing.T) {
	formatted := FormatJSON([]byte(`{"ok":true}`))
	if !strings.Contains(formatted, "\"ok\": true") {
		t.Fatalf("expected pretty-printed json, got=%q", formatted)
	}

	raw := "not-json"
	if got := FormatJSON([]byte(raw)); got != raw {
		t.Fatalf("expected raw passthrough for invalid json, got=%q", got)
	}
}

func TestSchemaServerServesFixtures(t *testing.T) {
	server := NewSchemaServer(t)
	response, err := http.Get(server.SchemaURL("abuse_minimal_0.1.0.json"))
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if response.StatusCode != http.StatusOK || !bytes.Contains(body, []byte(`"Reported-From"`)) {
		t.Fatalf("unexpected schema response %d: %s", response.StatusCode, body)
	}
	if server.Hits() != 1 {
		t.Fatalf("expected one hit, got %d", server.Hits())
	}
}

func TestGoldenHelpersRoundTrip(t *testing.T) {
	repoRoot := RepoRoot(t)
	name := strings.ReplaceAll(strings.ToLower(t.Name()), "/", "_")
	relativePath := filepath.Join(
		"internal",
		"testutil",
		"testdata",
		"tmp_"+name+"_"+time.Now().UTC().Format("20060102150405")+".json",
	)
	fullPath := filepath.Join(repoRoot, relativePath)
	t.Cleanup(func() {
		_ = os.Remove(fullPath)
		_ = os.Remove(filepath.Dir(fullPath))
	})

	payload := map[string]any{"ok": true, "count": 1}
	t.Setenv("UPDATE_GOLDEN", "1")
	AssertGoldenJSON(t, relativePath, payload)
	t.Setenv("UPDATE_GOLDEN", "")
	AssertGoldenJSON(t, relativePath, payload)
}
