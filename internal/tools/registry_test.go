package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/loom/pkg/models"
)

// stubTool is a minimal in-test tool.
type stubTool struct {
	name   string
	schema string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Schema() json.RawMessage {
	if s.schema == "" {
		return nil
	}
	return json.RawMessage(s.schema)
}
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage, sess *Session) (*Result, error) {
	return &Result{Content: "ok"}, nil
}

func TestRegisterEnabledIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "alpha"}, DefaultMetadata())

	if err := r.RegisterEnabled("alpha"); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterEnabled("alpha"); err != nil {
		t.Fatalf("second promotion should be a no-op, got %v", err)
	}
	if _, ok := r.Get("alpha"); !ok {
		t.Error("enabled tool not retrievable")
	}
}

func TestRegisterEnabledUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterEnabled("ghost"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestLoadOnDemandPromotes(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "optional"}, DefaultMetadata())

	if _, ok := r.Get("optional"); ok {
		t.Fatal("discovered tool should not be directly gettable")
	}
	tool, err := r.LoadOnDemand("optional")
	if err != nil || tool == nil {
		t.Fatalf("promotion failed: %v", err)
	}
	if _, ok := r.Get("optional"); !ok {
		t.Error("tool not enabled after on-demand load")
	}
	if _, err := r.LoadOnDemand("nope"); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestLaterRegistrationOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "conv", schema: `{"type":"object"}`}, Metadata{Risk: "low", AvailableToSubagent: true})
	r.Register(&stubTool{name: "conv", schema: `{"type":"object","required":["x"]}`}, Metadata{Risk: "high", AvailableToSubagent: false})

	if got := r.MetadataFor("conv").Risk; got != "high" {
		t.Errorf("metadata not overridden: %s", got)
	}
	if err := r.ValidateArgs("conv", json.RawMessage(`{}`)); err == nil {
		t.Error("override's stricter schema not in effect")
	}
}

func TestSetMetadataOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "fetch"}, DefaultMetadata())

	// Undeclared tools carry an undeclared risk until configured.
	if got := r.MetadataFor("fetch").Risk; got != "unknown" {
		t.Fatalf("default risk = %q", got)
	}

	meta := r.MetadataFor("fetch")
	meta.Risk = "medium"
	meta.Category = "network"
	meta.AvailableToSubagent = false
	if err := r.SetMetadata("fetch", meta); err != nil {
		t.Fatal(err)
	}
	got := r.MetadataFor("fetch")
	if got.Risk != "medium" || got.Category != "network" || got.AvailableToSubagent {
		t.Errorf("metadata not replaced: %+v", got)
	}

	if err := r.SetMetadata("ghost", meta); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestVisibleForFiltersSubagentTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "safe"}, Metadata{AvailableToSubagent: true})
	r.Register(&stubTool{name: "delegate"}, Metadata{AvailableToSubagent: false})
	for _, n := range []string{"safe", "delegate"} {
		if err := r.RegisterEnabled(n); err != nil {
			t.Fatal(err)
		}
	}

	host := models.NewAgentState("host")
	if got := len(r.VisibleFor(host)); got != 2 {
		t.Fatalf("host should see both tools, got %d", got)
	}

	child := models.NewAgentState(models.SubagentContextPrefix + "abc")
	visible := r.VisibleFor(child)
	if len(visible) != 1 || visible[0].Name() != "safe" {
		names := make([]string, 0, len(visible))
		for _, v := range visible {
			names = append(names, v.Name())
		}
		t.Fatalf("subagent catalog = %v, want [safe]", names)
	}
}

func TestVisibleForIncludesSessionTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "core"}, DefaultMetadata())
	r.Register(&stubTool{name: "extra"}, DefaultMetadata())
	if err := r.RegisterEnabled("core"); err != nil {
		t.Fatal(err)
	}

	state := models.NewAgentState("t1")
	state.SessionTools = []string{"extra"}

	visible := r.VisibleFor(state)
	if len(visible) != 2 {
		t.Fatalf("expected core+extra, got %d tools", len(visible))
	}
}

func TestValidateArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{
		name:   "read_file",
		schema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	}, DefaultMetadata())
	r.Register(&stubTool{name: "schemaless"}, DefaultMetadata())

	if err := r.ValidateArgs("read_file", json.RawMessage(`{"path":"a.txt"}`)); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := r.ValidateArgs("read_file", json.RawMessage(`{}`)); err == nil {
		t.Error("missing required property accepted")
	}
	if err := r.ValidateArgs("read_file", json.RawMessage(`{"path":42}`)); err == nil {
		t.Error("wrong type accepted")
	}
	if err := r.ValidateArgs("schemaless", json.RawMessage(`{"anything":true}`)); err != nil {
		t.Errorf("schemaless tool should accept anything: %v", err)
	}
	if err := r.ValidateArgs("ghost", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}
