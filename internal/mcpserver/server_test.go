package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/docgate/internal/audit"
	"github.com/starford/docgate/internal/enforcer"
	"github.com/starford/docgate/internal/guard"
	"github.com/starford/docgate/internal/storage"
	"github.com/starford/docgate/internal/templates"
	"github.com/starford/docgate/internal/testutil"
)

const (
	apiTemplate = testutil.APITemplate
	validDoc    = testutil.ValidAPIDoc
)

func testServer(t *testing.T, policy guard.Policy) (*Server, string) {
	t.Helper()
	return testServerWith(t, policy, Options{})
}

func testServerWith(t *testing.T, policy guard.Policy, opts Options) (*Server, string) {
	t.Helper()

	ws := testutil.TestWorkspace(t, nil)
	src, err := templates.NewSource(templates.Options{PrimaryDir: ws.Templates})
	if err != nil {
		t.Fatal(err)
	}
	w, err := storage.NewWriter(storage.WriterOptions{Root: ws.Sandbox})
	if err != nil {
		t.Fatal(err)
	}
	db := testutil.TestAuditDB(t)

	enf, err := enforcer.New(enforcer.Options{Templates: src, Writer: w, Sink: db, Policy: policy})
	if err != nil {
		t.Fatal(err)
	}
	opts.TemplateIDs = src.IDs
	opts.Events = db
	return New(enf, opts), ws.Sandbox
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "validate_document":
		result, err = srv.validateDocument(ctx, req)
	case "write_document":
		result, err = srv.writeDocument(ctx, req)
	case "mark_generated":
		result, err = srv.markGenerated(ctx, req)
	case "get_template":
		result, err = srv.getTemplate(ctx, req)
	case "cleanup_guards":
		result, err = srv.cleanupGuards(ctx, req)
	case "recent_events":
		result, err = srv.recentEvents(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeResult(t *testing.T, r *mcp.CallToolResult) enforcer.Result {
	t.Helper()
	var res enforcer.Result
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	return res
}

func TestValidateDocument(t *testing.T) {
	srv, sandbox := testServer(t, guard.PolicyAdvisory)

	r := callTool(t, srv, "validate_document", map[string]interface{}{
		"template_id": "api",
		"content":     validDoc,
	})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	res := decodeResult(t, r)
	if !res.Success || !res.Outcome.Valid {
		t.Errorf("expected valid document, got %+v", res.Outcome)
	}
	if entries, _ := os.ReadDir(sandbox); len(entries) != 0 {
		t.Errorf("validate_document wrote %d entries", len(entries))
	}
}

func TestValidateDocumentReportsViolations(t *testing.T) {
	srv, _ := testServer(t, guard.PolicyAdvisory)

	doc := strings.Replace(validDoc, "## API", "## Interface", 1)
	r := callTool(t, srv, "validate_document", map[string]interface{}{
		"template_id": "api",
		"content":     doc,
		"tier":        "TIER_1",
	})
	if r.IsError {
		t.Fatal("blocked validation is a result, not a tool error")
	}
	res := decodeResult(t, r)
	if res.Kind != "validation_blocked" {
		t.Errorf("kind = %q", res.Kind)
	}
	if len(res.Outcome.Violations) == 0 || res.Outcome.Violations[0].Suggestion == "" {
		t.Errorf("violations = %+v", res.Outcome.Violations)
	}
}

func TestValidateDocumentBadTier(t *testing.T) {
	srv, _ := testServer(t, guard.PolicyAdvisory)
	r := callTool(t, srv, "validate_document", map[string]interface{}{
		"template_id": "api", "content": validDoc, "tier": "TIER_9",
	})
	if !r.IsError {
		t.Error("expected error for unknown tier")
	}
}

func TestWriteDocument(t *testing.T) {
	srv, sandbox := testServer(t, guard.PolicyAdvisory)

	args := map[string]interface{}{
		"template_id": "api",
		"target":      "docs/api.md",
		"content":     validDoc,
	}
	r := callTool(t, srv, "write_document", args)
	if r.IsError {
		t.Fatalf("write failed: %s", resultText(r))
	}
	got, err := os.ReadFile(filepath.Join(sandbox, "docs", "api.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != validDoc {
		t.Errorf("written content differs")
	}

	r = callTool(t, srv, "write_document", args)
	res := decodeResult(t, r)
	if res.Duplicate == nil || !res.Duplicate.IsDuplicate {
		t.Errorf("second write should be a duplicate: %s", resultText(r))
	}

	r = callTool(t, srv, "recent_events", map[string]interface{}{"limit": 3.0})
	var events []audit.Event
	if err := json.Unmarshal([]byte(resultText(r)), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Stage != audit.StageDuplicateSuppressed {
		t.Errorf("recent events = %+v", events)
	}
}

func TestConfiguredFixDefaults(t *testing.T) {
	doc := strings.Replace(validDoc, "version: 1.2.0\n", "", 1)

	srv, sandbox := testServerWith(t, guard.PolicyAdvisory, Options{AutoFix: true, Preview: true})
	res := decodeResult(t, callTool(t, srv, "validate_document", map[string]interface{}{
		"template_id": "api", "content": doc,
	}))
	if !strings.Contains(res.Outcome.Diff, "+version: 1.0.0") {
		t.Errorf("preview default not applied, diff = %q", res.Outcome.Diff)
	}

	res = decodeResult(t, callTool(t, srv, "validate_document", map[string]interface{}{
		"template_id": "api", "content": doc, "preview": false,
	}))
	if !strings.Contains(res.Outcome.Patched, "version: 1.0.0") {
		t.Errorf("explicit preview=false ignored: %+v", res.Outcome)
	}

	r := callTool(t, srv, "write_document", map[string]interface{}{
		"template_id": "api", "target": "docs/api.md", "content": doc,
	})
	if r.IsError {
		t.Fatalf("write failed: %s", resultText(r))
	}
	got, err := os.ReadFile(filepath.Join(sandbox, "docs", "api.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "version: 1.0.0") {
		t.Errorf("auto_fix default not applied to write:\n%s", got)
	}

	plain, _ := testServer(t, guard.PolicyAdvisory)
	res = decodeResult(t, callTool(t, plain, "validate_document", map[string]interface{}{
		"template_id": "api", "content": doc,
	}))
	if res.Outcome.Patched != "" || res.Outcome.Diff != "" {
		t.Errorf("fixes applied without auto_fix: %+v", res.Outcome)
	}
}

func TestWriteDocumentRejectsTraversal(t *testing.T) {
	srv, _ := testServer(t, guard.PolicyAdvisory)
	r := callTool(t, srv, "write_document", map[string]interface{}{
		"template_id": "api",
		"target":      "../../etc/passwd.md",
		"content":     validDoc,
	})
	if !r.IsError {
		t.Fatal("expected error")
	}
	if !strings.Contains(resultText(r), "path_security_violation") {
		t.Errorf("result = %s", resultText(r))
	}
}

func TestMarkGeneratedThenStrictWrite(t *testing.T) {
	srv, _ := testServer(t, guard.PolicyStrict)
	args := map[string]interface{}{"template_id": "api", "target": "docs/api.md", "content": validDoc}

	if r := callTool(t, srv, "write_document", args); !r.IsError {
		t.Fatal("strict policy should block an unmarked write")
	}

	r := callTool(t, srv, "mark_generated", map[string]interface{}{"target": "docs/api.md", "template_id": "api"})
	if r.IsError || !strings.HasPrefix(resultText(r), "marked: ") {
		t.Fatalf("mark_generated = %s", resultText(r))
	}
	if r := callTool(t, srv, "write_document", args); r.IsError {
		t.Fatalf("marked write failed: %s", resultText(r))
	}
}

func TestGetTemplate(t *testing.T) {
	srv, _ := testServer(t, guard.PolicyAdvisory)

	r := callTool(t, srv, "get_template", map[string]interface{}{"template_id": "api"})
	var view struct {
		Content string `json:"content"`
		Schema  struct {
			Sections []struct {
				Name     string `json:"name"`
				Required bool   `json:"required"`
			} `json:"sections"`
		} `json:"schema"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &view); err != nil {
		t.Fatal(err)
	}
	if view.Content != apiTemplate {
		t.Errorf("content = %q", view.Content)
	}
	if len(view.Schema.Sections) < 3 || view.Schema.Sections[1].Name != "API" {
		t.Errorf("sections = %+v", view.Schema.Sections)
	}

	r = callTool(t, srv, "get_template", map[string]interface{}{"template_id": "missing"})
	if !r.IsError {
		t.Error("expected error for unknown template")
	}
}

func TestCleanupGuards(t *testing.T) {
	srv, _ := testServer(t, guard.PolicyAdvisory)
	callTool(t, srv, "write_document", map[string]interface{}{
		"template_id": "api", "target": "docs/api.md", "content": validDoc,
	})
	time.Sleep(10 * time.Millisecond)

	r := callTool(t, srv, "cleanup_guards", map[string]interface{}{"max_age_seconds": 0.001})
	var stats enforcer.CleanupStats
	if err := json.Unmarshal([]byte(resultText(r)), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Duplicates != 1 {
		t.Errorf("duplicates evicted = %d, want 1", stats.Duplicates)
	}
}

func TestResources(t *testing.T) {
	srv, _ := testServer(t, guard.PolicyAdvisory)

	contents, err := srv.readCatalogResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, `"local_templates"`) || !strings.Contains(text, `"api"`) {
		t.Errorf("catalog = %s", text)
	}

	contents, err = srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text = contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "### adr") || !strings.Contains(text, "Required sections: Overview, API, Examples") {
		t.Errorf("contract missing template details")
	}
}
