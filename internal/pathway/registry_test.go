package pathway

import (
	"os"
	"path/filepath"
	"testing"
)

func writePathwayFile(t *testing.T, dir, relPath, content string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o600); err != nil {
		t.Fatalf("write pathway file: %v", err)
	}
}

func TestRegisterBuildsPathwayMap(t *testing.T) {
	dir := t.TempDir()
	writePathwayFile(t, dir, "greet.yaml", `
name: greet
prompt:
  - role: user
    content: "hello {{name}}"
`)

	r := NewRegistry()
	pathways, err := r.Register(dir)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := pathways["greet"]; !ok {
		t.Fatalf("expected greet pathway to be registered, got %v", pathways)
	}
}

func TestRegisterSkipsSharedDirFromPathwayMap(t *testing.T) {
	dir := t.TempDir()
	writePathwayFile(t, dir, "shared/base.yaml", `
name: base
prompt:
  - role: system
    content: "you are an assistant"
`)
	writePathwayFile(t, dir, "greet.yaml", `
name: greet
base: base
prompt:
  - role: user
    content: "hi"
`)

	r := NewRegistry()
	pathways, err := r.Register(dir)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := pathways["base"]; ok {
		t.Fatalf("base pathway should not be registered as a directly invocable pathway")
	}

	resolved, ok := r.Resolve("greet")
	if !ok {
		t.Fatalf("expected greet to resolve")
	}
	if len(resolved.Prompt) != 1 || resolved.Prompt[0].Content != "hi" {
		t.Fatalf("got prompt %+v, want override's own prompt", resolved.Prompt)
	}
}

func TestRegisterFirstToolNameWins(t *testing.T) {
	dir := t.TempDir()
	writePathwayFile(t, dir, "first.yaml", `
name: first
prompt:
  - role: user
    content: "do it"
toolDefinition:
  type: function
  enabled: true
  function:
    name: dothing
    description: does the thing
    parameters: '{"type":"object"}'
`)
	writePathwayFile(t, dir, "second.yaml", `
name: second
prompt:
  - role: user
    content: "do it too"
toolDefinition:
  type: function
  enabled: true
  function:
    name: DoThing
    description: also does the thing
    parameters: '{"type":"object"}'
`)

	r := NewRegistry()
	if _, err := r.Register(dir); err != nil {
		t.Fatalf("Register: %v", err)
	}

	names := r.AllToolNames()
	if len(names) != 1 {
		t.Fatalf("got %d tool names, want 1 (case-insensitive dedup), got %v", len(names), names)
	}
	p, ok := r.ToolPathway("dothing")
	if !ok || p.Name != "first" {
		t.Fatalf("expected first-registered pathway to win, got %+v", p)
	}
}

func TestRegisterSkipsInvalidToolDefinition(t *testing.T) {
	dir := t.TempDir()
	writePathwayFile(t, dir, "broken.yaml", `
name: broken
prompt:
  - role: user
    content: "x"
toolDefinition:
  type: function
  enabled: true
  function:
    name: ""
    description: missing name
    parameters: '{}'
`)

	r := NewRegistry()
	if _, err := r.Register(dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(r.AllToolNames()) != 0 {
		t.Fatalf("expected no tools registered for an invalid tool definition")
	}
}

func TestRegisterSkipsMalformedParameterSchema(t *testing.T) {
	dir := t.TempDir()
	writePathwayFile(t, dir, "malformed.yaml", `
name: malformed
prompt:
  - role: user
    content: "x"
toolDefinition:
  type: function
  enabled: true
  function:
    name: malformedtool
    description: parameters is not a valid JSON Schema document
    parameters: '{"type":"not-a-real-type"}'
`)

	r := NewRegistry()
	if _, err := r.Register(dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(r.AllToolNames()) != 0 {
		t.Fatalf("expected no tools registered for a malformed parameters schema")
	}
}
