package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/pkg/models"
)

func testSession(t *testing.T) *tools.Session {
	t.Helper()
	return &tools.Session{
		State:         models.NewAgentState("t1"),
		WorkspacePath: t.TempDir(),
	}
}

func TestRegisterAllDiscoversWithoutEnabling(t *testing.T) {
	r := tools.NewRegistry()
	if err := RegisterAll(r); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"now", "read_file", "write_file", "list_dir", "http_fetch", "run_shell", "todo_write", AskHumanName, DoneAndReportName} {
		// Discovered but not enabled; the tools config drives enablement.
		if _, ok := r.Get(name); ok {
			t.Errorf("builtin %s enabled before configuration", name)
		}
		if err := r.RegisterEnabled(name); err != nil {
			t.Errorf("builtin %s not discovered: %v", name, err)
		}
		if _, ok := r.Get(name); !ok {
			t.Errorf("builtin %s not enabled after promotion", name)
		}
	}
	if r.MetadataFor(AskHumanName).AvailableToSubagent {
		t.Error("ask_human must not be available to subagents")
	}
	if r.MetadataFor("run_shell").Category != "exec" {
		t.Errorf("run_shell category = %q", r.MetadataFor("run_shell").Category)
	}
}

func TestNowReturnsISO8601UTC(t *testing.T) {
	res, err := (&NowTool{}).Execute(context.Background(), json.RawMessage(`{}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := time.Parse(time.RFC3339, res.Content)
	if err != nil {
		t.Fatalf("output %q is not RFC 3339: %v", res.Content, err)
	}
	if !strings.HasSuffix(res.Content, "Z") {
		t.Errorf("default output not UTC: %q", res.Content)
	}
	if d := time.Since(parsed); d < 0 || d > time.Minute {
		t.Errorf("reported time drifted: %q", res.Content)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	sess := testSession(t)
	w := &WriteFileTool{}
	rd := &ReadFileTool{}

	if _, err := w.Execute(context.Background(), json.RawMessage(`{"path":"outputs/report.md","content":"# Findings"}`), sess); err != nil {
		t.Fatal(err)
	}
	res, err := rd.Execute(context.Background(), json.RawMessage(`{"path":"outputs/report.md"}`), sess)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "# Findings" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	sess := testSession(t)
	rd := &ReadFileTool{}
	for _, path := range []string{"../outside.txt", "../../etc/passwd", "/etc/passwd"} {
		args, _ := json.Marshal(map[string]string{"path": path})
		if _, err := rd.Execute(context.Background(), args, sess); err == nil {
			t.Errorf("path %q should be rejected", path)
		}
	}
}

func TestListDir(t *testing.T) {
	sess := testSession(t)
	if err := os.MkdirAll(filepath.Join(sess.WorkspacePath, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sess.WorkspacePath, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := (&ListDirTool{}).Execute(context.Background(), json.RawMessage(`{}`), sess)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "a.txt") || !strings.Contains(res.Content, "outputs/") {
		t.Errorf("listing missing entries:\n%s", res.Content)
	}
}

func TestRunShell(t *testing.T) {
	sess := testSession(t)
	res, err := (&RunShellTool{}).Execute(context.Background(), json.RawMessage(`{"command":"echo hi there"}`), sess)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "hi there") {
		t.Errorf("output = %q", res.Content)
	}
	if _, err := (&RunShellTool{}).Execute(context.Background(), json.RawMessage(`{"command":"exit 2"}`), sess); err == nil {
		t.Error("nonzero exit should be an error")
	}
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	res, err := (&HTTPFetchTool{Client: srv.Client()}).Execute(context.Background(), args, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "payload") {
		t.Errorf("body missing: %q", res.Content)
	}
}

func TestTodoWriteNormalizes(t *testing.T) {
	args := json.RawMessage(`{"todos":[
		{"content":"first","status":"in_progress"},
		{"content":"second","status":"in_progress"},
		{"content":"third","status":"bogus"}
	]}`)
	res, err := (&TodoWriteTool{}).Execute(context.Background(), args, testSession(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Update == nil || len(res.Update.ReplaceTodos) != 3 {
		t.Fatalf("expected todo replacement update, got %+v", res.Update)
	}
	todos := res.Update.ReplaceTodos
	if todos[0].Status != models.TodoInProgress || todos[1].Status != models.TodoPending || todos[2].Status != models.TodoPending {
		t.Errorf("normalization failed: %+v", todos)
	}
	for _, td := range todos {
		if td.ID == "" {
			t.Error("todo id not assigned")
		}
	}
}

func TestAskHumanDirectExecutionFails(t *testing.T) {
	if _, err := (&AskHumanTool{}).Execute(context.Background(), json.RawMessage(`{"question":"?"}`), nil); err == nil {
		t.Fatal("direct execution must fail; the dispatcher owns this tool")
	}
}

func TestParseAskHumanArgs(t *testing.T) {
	if _, err := ParseAskHumanArgs(json.RawMessage(`{}`)); err == nil {
		t.Error("question should be required")
	}
	a, err := ParseAskHumanArgs(json.RawMessage(`{"question":"which db?","default":"sqlite"}`))
	if err != nil {
		t.Fatal(err)
	}
	if a.Question != "which db?" || a.Default != "sqlite" {
		t.Errorf("parsed args wrong: %+v", a)
	}
}

func TestDoneAndReport(t *testing.T) {
	res, err := (&DoneAndReportTool{}).Execute(context.Background(), json.RawMessage(`{"report":"all done"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "all done" {
		t.Errorf("report = %q", res.Content)
	}
	if _, err := (&DoneAndReportTool{}).Execute(context.Background(), json.RawMessage(`{}`), nil); err == nil {
		t.Error("empty report should fail")
	}
}
