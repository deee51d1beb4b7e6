package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, root, dir, manifest string) {
	t.Helper()
	full := filepath.Join(root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(full, ManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFindsManifests(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "pdf-builder", "id: pdf-builder\nname: PDF Builder\ndescription: Builds PDFs\nversion: 1.2.0\n")
	if err := os.MkdirAll(filepath.Join(root, "not-a-skill"), 0o755); err != nil {
		t.Fatal(err)
	}

	cat := Discover([]string{root, filepath.Join(root, "missing")}, nil)

	s, ok := cat.Get("pdf-builder")
	if !ok {
		t.Fatal("skill not discovered")
	}
	if s.Version != "1.2.0" || s.Path == "" {
		t.Errorf("skill fields wrong: %+v", s)
	}
	if cat.Has("not-a-skill") {
		t.Error("directory without manifest treated as skill")
	}
	if got := len(cat.List()); got != 1 {
		t.Errorf("List() len = %d", got)
	}
}

func TestDiscoverLaterRootOverrides(t *testing.T) {
	builtin := t.TempDir()
	user := t.TempDir()
	writeSkill(t, builtin, "reporter", "id: reporter\ndescription: builtin\n")
	writeSkill(t, user, "reporter", "id: reporter\ndescription: user copy\n")

	cat := Discover([]string{builtin, user}, nil)
	s, _ := cat.Get("reporter")
	if s.Description != "user copy" {
		t.Fatalf("later root did not override: %q", s.Description)
	}
}

func TestDiscoverSkipsInvalidManifests(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "broken", "id: [oops")
	writeSkill(t, root, "anon", "name: no id here\n")
	writeSkill(t, root, "ok", "id: ok\n")

	cat := Discover([]string{root}, nil)
	if len(cat.List()) != 1 || !cat.Has("ok") {
		t.Fatalf("expected only valid skill, got %v", cat.List())
	}
	// Name defaults to id when omitted.
	s, _ := cat.Get("ok")
	if s.Name != "ok" {
		t.Errorf("name default = %q", s.Name)
	}
}
