package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, file, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const echoManifest = `
name: echo_word
description: Echo a word back.
schema: '{"type":"object","properties":{"word":{"type":"string"}},"required":["word"]}'
command: ["echo", "{word}"]
risk: low
tags: [utility]
`

func TestScanDiscoversManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "echo.tool.yaml", echoManifest)
	writeManifest(t, dir, "notes.txt", "not a manifest")

	r := NewRegistry()
	if err := Scan(r, []string{dir, filepath.Join(dir, "missing")}, nil); err != nil {
		t.Fatal(err)
	}

	tool, err := r.LoadOnDemand("echo_word")
	if err != nil {
		t.Fatalf("scanned tool not discovered: %v", err)
	}
	if tool.Description() != "Echo a word back." {
		t.Errorf("description = %q", tool.Description())
	}
	if got := r.MetadataFor("echo_word"); got.Risk != "low" || len(got.Tags) != 1 {
		t.Errorf("metadata not loaded: %+v", got)
	}
}

func TestScanLaterDirectoryOverrides(t *testing.T) {
	base := t.TempDir()
	user := t.TempDir()
	writeManifest(t, base, "echo.tool.yaml", echoManifest)
	writeManifest(t, user, "echo.tool.yaml", `
name: echo_word
description: User override.
command: ["echo", "override"]
risk: high
`)

	r := NewRegistry()
	if err := Scan(r, []string{base, user}, nil); err != nil {
		t.Fatal(err)
	}
	tool, err := r.LoadOnDemand("echo_word")
	if err != nil {
		t.Fatal(err)
	}
	if tool.Description() != "User override." {
		t.Errorf("later directory did not override: %q", tool.Description())
	}
	if r.MetadataFor("echo_word").Risk != "high" {
		t.Error("metadata not overridden")
	}
}

func TestScanSkipsMalformedManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.tool.yaml", "name: [unclosed")
	writeManifest(t, dir, "nocmd.tool.yaml", "name: nocmd\ndescription: missing command")
	writeManifest(t, dir, "good.tool.yaml", echoManifest)

	r := NewRegistry()
	if err := Scan(r, []string{dir}, nil); err != nil {
		t.Fatal(err)
	}
	names := r.Names()
	if len(names) != 1 || names[0] != "echo_word" {
		t.Fatalf("expected only the good manifest, got %v", names)
	}
}

func TestScriptToolExecutesCommand(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "echo.tool.yaml", echoManifest)

	r := NewRegistry()
	if err := Scan(r, []string{dir}, nil); err != nil {
		t.Fatal(err)
	}
	tool, err := r.LoadOnDemand("echo_word")
	if err != nil {
		t.Fatal(err)
	}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"word":"hello"}`), &Session{WorkspacePath: dir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello" {
		t.Errorf("output = %q, want hello", res.Content)
	}
}

func TestScriptToolCommandFailure(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "fail.tool.yaml", `
name: always_fail
description: Fails.
command: ["sh", "-c", "echo doomed >&2; exit 3"]
`)
	r := NewRegistry()
	if err := Scan(r, []string{dir}, nil); err != nil {
		t.Fatal(err)
	}
	tool, err := r.LoadOnDemand("always_fail")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`), nil); err == nil {
		t.Fatal("expected execution error")
	}
}
