// Package mcpserver exposes docgate's enforcement flow as MCP tools for
// agents, served over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/docgate/internal/apperr"
	"github.com/starford/docgate/internal/audit"
	"github.com/starford/docgate/internal/enforcer"
	"github.com/starford/docgate/internal/models"
)

// EventLog lists recent audit events.
type EventLog interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Options wires optional collaborators.
type Options struct {
	Version     string
	TemplateIDs func() []string // local template ids for the catalog resource
	Events      EventLog        // nil hides the recent_events tool
	AutoFix     bool            // default for auto_fix when a call omits it
	Preview     bool            // default for preview on validate_document
}

// Server wraps the MCP server with docgate tools.
type Server struct {
	mcp     *server.MCPServer
	enf     *enforcer.Enforcer
	ids     func() []string
	events  EventLog
	autoFix bool
	preview bool
}

// New creates a new MCP server with all docgate tools registered.
func New(enf *enforcer.Enforcer, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.TemplateIDs == nil {
		opts.TemplateIDs = func() []string { return nil }
	}
	s := &Server{
		enf:     enf,
		ids:     opts.TemplateIDs,
		events:  opts.Events,
		autoFix: opts.AutoFix,
		preview: opts.Preview,
	}

	s.mcp = server.NewMCPServer(
		"docgate",
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	tierOpt := mcp.WithString("tier",
		mcp.Description("Strictness: TIER_1 (default, strictest), TIER_2 or TIER_3"),
		mcp.Enum(string(models.Tier1), string(models.Tier2), string(models.Tier3)))

	s.mcp.AddTool(mcp.NewTool("validate_document",
		mcp.WithDescription("Validate a Markdown document against a template without writing it. "+
			"Returns validity, confidence, completeness and every violation with a suggestion. "+
			"Read docgate://contract for the rules."),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("Template id, e.g. api, adr, readme")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full Markdown document including front matter")),
		mcp.WithString("template_version", mcp.Description("Pinned template version (required for remote templates)")),
		tierOpt,
		mcp.WithBoolean("auto_fix", mcp.Description("Repair auto-fixable violations and return the patched document")),
		mcp.WithBoolean("preview", mcp.Description("With auto_fix: return a unified diff instead of the patched document")),
	), s.validateDocument)

	s.mcp.AddTool(mcp.NewTool("write_document",
		mcp.WithDescription("Validate a Markdown document and, if no blocking violation remains, write it "+
			"atomically inside the sandbox. Identical repeated writes are suppressed."),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("Template id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Path relative to the sandbox root, ending in .md")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full Markdown document including front matter")),
		mcp.WithString("template_version", mcp.Description("Pinned template version")),
		tierOpt,
		mcp.WithBoolean("auto_fix", mcp.Description("Repair auto-fixable violations before writing")),
	), s.writeDocument)

	s.mcp.AddTool(mcp.NewTool("mark_generated",
		mcp.WithDescription("Record that a document for target was generated. Required before "+
			"write_document when the workflow policy is STRICT."),
		mcp.WithString("target", mcp.Required(), mcp.Description("Path the document will be written to")),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("Template the document was generated from")),
	), s.markGenerated)

	s.mcp.AddTool(mcp.NewTool("get_template",
		mcp.WithDescription("Return a template's content together with its derived schema: required "+
			"sections in order, heading levels and front matter fields."),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("Template id")),
		mcp.WithString("template_version", mcp.Description("Pinned template version")),
	), s.getTemplate)

	s.mcp.AddTool(mcp.NewTool("cleanup_guards",
		mcp.WithDescription("Evict stale duplicate-write and workflow records."),
		mcp.WithNumber("max_age_seconds", mcp.Description("Evict duplicate records older than this (default: the duplicate window)")),
	), s.cleanupGuards)

	if s.events != nil {
		s.mcp.AddTool(mcp.NewTool("recent_events",
			mcp.WithDescription("List the most recent audit events, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 50)")),
		), s.recentEvents)
	}

	s.mcp.AddResource(
		mcp.NewResource(CatalogURI, "Template Catalog",
			mcp.WithResourceDescription("Known template ids with their required sections and front matter fields."),
			mcp.WithMIMEType("application/json"),
		),
		s.readCatalogResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Document Contract",
			mcp.WithResourceDescription("Rules every document must satisfy before docgate writes it."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// Serve speaks MCP over in/out until ctx is cancelled or in reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func parseTier(req mcp.CallToolRequest) (models.Tier, error) {
	return models.ParseTier(req.GetString("tier", ""))
}

func (s *Server) validateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tier, err := parseTier(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := s.enf.Enforce(ctx, enforcer.Request{
		TemplateID:      id,
		TemplateVersion: req.GetString("template_version", ""),
		Content:         content,
		Tier:            tier,
		AutoFix:         req.GetBool("auto_fix", s.autoFix),
		Preview:         req.GetBool("preview", s.preview),
		DryRun:          true,
	})
	return resultJSON(res, res.Kind != apperr.KindNone && res.Kind != apperr.KindValidationBlocked)
}

func (s *Server) writeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tier, err := parseTier(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := s.enf.Enforce(ctx, enforcer.Request{
		TemplateID:      id,
		TemplateVersion: req.GetString("template_version", ""),
		Target:          target,
		Content:         content,
		Tier:            tier,
		AutoFix:         req.GetBool("auto_fix", s.autoFix),
	})
	return resultJSON(res, !res.Success)
}

func (s *Server) markGenerated(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := s.enf.MarkGenerated(target, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("marked: %s", path)), nil
}

type templateView struct {
	Template *models.Template `json:"template"`
	Content  string           `json:"content"`
	Schema   *models.Schema   `json:"schema"`
}

func (s *Server) getTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tmpl, sch, err := s.enf.Describe(ctx, id, req.GetString("template_version", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return resultJSON(templateView{Template: tmpl, Content: tmpl.Content, Schema: sch}, false)
}

func (s *Server) cleanupGuards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxAge := time.Duration(req.GetFloat("max_age_seconds", 0) * float64(time.Second))
	return resultJSON(s.enf.Cleanup(maxAge), false)
}

func (s *Server) recentEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events, err := s.events.Recent(ctx, int(req.GetFloat("limit", 50)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return resultJSON(events, false)
}

func (s *Server) readCatalogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(struct {
		Catalog any      `json:"catalog"`
		Local   []string `json:"local_templates"`
	}{Catalog: s.enf.Catalog().Templates, Local: s.ids()}, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: CatalogURI, MIMEType: "application/json", Text: string(out)},
	}, nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: ContractURI, MIMEType: "text/markdown", Text: RenderContract(s.enf.Catalog())},
	}, nil
}

func resultJSON(v any, isError bool) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if isError {
		return mcp.NewToolResultError(string(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
