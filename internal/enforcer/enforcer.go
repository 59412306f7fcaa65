// Package enforcer sequences template resolution, schema derivation,
// validation, the guards and the secure write for one document.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/docgate/internal/apperr"
	"github.com/starford/docgate/internal/audit"
	"github.com/starford/docgate/internal/clock"
	"github.com/starford/docgate/internal/guard"
	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/parser"
	"github.com/starford/docgate/internal/schema"
	"github.com/starford/docgate/internal/storage"
	"github.com/starford/docgate/internal/validation"
)

// TemplateResolver resolves a template by id and optional version.
type TemplateResolver interface {
	Get(ctx context.Context, id, version string) (*models.Template, error)
}

// Request is one validate-and-write call.
type Request struct {
	TemplateID      string      `json:"template_id"`
	TemplateVersion string      `json:"template_version,omitempty"`
	Target          string      `json:"target"`
	Content         string      `json:"content"`
	Tier            models.Tier `json:"tier,omitempty"`
	AutoFix         bool        `json:"auto_fix,omitempty"`
	Preview         bool        `json:"preview,omitempty"`
	DryRun          bool        `json:"dry_run,omitempty"`
}

// DuplicateInfo explains why a write was suppressed.
type DuplicateInfo struct {
	IsDuplicate bool          `json:"is_duplicate"`
	Reason      string        `json:"reason"`
	Age         time.Duration `json:"age"`
	Cached      *Result       `json:"cached_result,omitempty"`
}

// Result is returned on every path. Kind is empty on success.
type Result struct {
	RunID      string               `json:"run_id"`
	Success    bool                 `json:"success"`
	Kind       apperr.Kind          `json:"kind,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Suggestion string               `json:"suggestion,omitempty"`
	Template   *models.Template     `json:"template,omitempty"`
	Outcome    *validation.Outcome  `json:"outcome,omitempty"`
	Path       string               `json:"path,omitempty"`
	Write      *storage.WriteResult `json:"write,omitempty"`
	Duplicate  *DuplicateInfo       `json:"duplicate,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
	Events     []audit.Event        `json:"events,omitempty"`
}

// Options configures an Enforcer.
type Options struct {
	Templates TemplateResolver
	Catalog   *schema.Catalog // nil means the built-in catalog
	Writer    storage.Persister
	Sink      audit.Sink // nil means log-only
	Tier      models.Tier
	Policy    guard.Policy
	Guards    GuardOptions
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Enforcer runs the enforcement flow. It is safe for concurrent use.
type Enforcer struct {
	templates TemplateResolver
	writer    storage.Persister
	engine    *validation.Engine
	sink      audit.Sink
	tier      models.Tier
	policy    guard.Policy
	clock     clock.Clock
	logger    *slog.Logger
	state     *State
}

// New creates an Enforcer with fresh state.
func New(opts Options) (*Enforcer, error) {
	if opts.Templates == nil {
		return nil, errors.New("enforcer: template resolver is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("enforcer: writer is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Catalog == nil {
		cat, err := schema.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("enforcer: %w", err)
		}
		opts.Catalog = cat
	}
	if opts.Sink == nil {
		opts.Sink = audit.Log{Logger: opts.Logger}
	}
	if opts.Tier == "" {
		opts.Tier = models.Tier1
	}
	if opts.Policy == "" {
		opts.Policy = guard.PolicyAdvisory
	}
	c := clock.Or(opts.Clock)

	return &Enforcer{
		templates: opts.Templates,
		writer:    opts.Writer,
		engine:    validation.NewEngine(c, opts.Logger),
		sink:      opts.Sink,
		tier:      opts.Tier,
		policy:    opts.Policy,
		clock:     c,
		logger:    opts.Logger,
		state:     NewState(schema.NewBuilder(opts.Catalog, opts.Logger), opts.Guards, c),
	}, nil
}

// Enforce validates req.Content against its template and, unless blocked,
// previewed or dry-run, writes it to req.Target.
func (e *Enforcer) Enforce(ctx context.Context, req Request) (res *Result) {
	res = &Result{RunID: uuid.NewString()}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("enforcer: recovered panic",
				slog.String("run_id", res.RunID), slog.String("panic", fmt.Sprint(r)))
			res.Success = false
			res.Kind = apperr.KindInternal
			res.Reason = fmt.Sprintf("internal error: %v", r)
			res.Suggestion = "retry the call; if it keeps failing, report it with the run id"
		}
	}()

	tier := req.Tier
	if tier == "" {
		tier = e.tier
	}

	tmpl, err := e.templates.Get(ctx, req.TemplateID, req.TemplateVersion)
	if err != nil {
		e.emit(ctx, res, req, audit.StageSchemaDerived, audit.StatusFailed, err.Error())
		return e.fail(res, err)
	}
	res.Template = tmpl

	s, err := e.state.Schemas.Build(tmpl.ID, tmpl.Content)
	if err != nil {
		e.emit(ctx, res, req, audit.StageSchemaDerived, audit.StatusFailed, err.Error())
		return e.fail(res, err)
	}
	e.emit(ctx, res, req, audit.StageSchemaDerived, audit.StatusOK,
		fmt.Sprintf("checksum=%s required=%s", short(s.Checksum), strings.Join(s.RequiredSections(), ",")))

	out := e.engine.Validate(parser.Parse(req.Content), s, validation.Options{
		Tier:    tier,
		AutoFix: req.AutoFix,
		Preview: req.Preview,
	})
	out.Provenance.TemplateVersion = tmpl.Version
	out.Provenance.Source = tmpl.Provenance
	res.Outcome = out

	status := audit.StatusOK
	if !out.Valid {
		status = audit.StatusFailed
	}
	e.emit(ctx, res, req, audit.StageValidationRun, status,
		fmt.Sprintf("valid=%t confidence=%.2f completeness=%.2f violations=%d",
			out.Valid, out.Confidence, out.Completeness, len(out.Violations)))

	if !out.Valid {
		return e.blocked(res)
	}

	if req.DryRun || req.Preview {
		res.Success = true
		res.Warnings = append(res.Warnings, "dry run: nothing written")
		return res
	}

	content := req.Content
	if out.Patched != "" {
		content = out.Patched
	}

	path, err := e.writer.Resolve(req.Target)
	if err != nil {
		e.emit(ctx, res, req, audit.StageWriteAttempted, audit.StatusOK, "")
		e.emit(ctx, res, req, audit.StageWriteFailed, audit.StatusFailed, err.Error())
		return e.fail(res, err)
	}
	res.Path = path

	chk, claim, err := e.state.Duplicates.Claim(ctx, path, content)
	if err != nil {
		return e.fail(res, apperr.Wrap(apperr.KindWriteIO, err,
			"gave up waiting for a concurrent write to the same path", "retry the call"))
	}
	defer claim.Release()
	if chk.IsDuplicate {
		res.Duplicate = &DuplicateInfo{IsDuplicate: true, Reason: chk.Reason, Age: chk.Age, Cached: chk.Cached.clone()}
		if chk.Cached != nil {
			res.Write = res.Duplicate.Cached.Write
			res.Success = chk.Cached.Success
		}
		e.emit(ctx, res, req, audit.StageDuplicateSuppressed, audit.StatusSkipped, chk.Reason)
		e.logger.Info("enforcer: duplicate write suppressed", slog.String("path", path))
		return res
	}

	if !e.state.Workflow.IsMarked(path) {
		switch e.policy {
		case guard.PolicyStrict:
			out.Add(models.Violation{
				Type:       models.ViolationWorkflowNotGenerated,
				Severity:   models.SeverityBlocker,
				Path:       "workflow",
				Message:    fmt.Sprintf("no generation was recorded for %s", req.Target),
				Suggestion: "mark the document as generated before writing it",
			})
			return e.blocked(res)
		default:
			e.logger.Warn("enforcer: write without generation marker",
				slog.String("path", path), slog.String("policy", string(e.policy)))
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("no generation was recorded for %s; writing under %s policy", req.Target, e.policy))
		}
	}
	if chk.RapidChange {
		res.Warnings = append(res.Warnings, chk.Reason)
	}

	e.emit(ctx, res, req, audit.StageWriteAttempted, audit.StatusOK, fmt.Sprintf("bytes=%d", len(content)))
	wr := e.writer.Write([]byte(content), path)
	res.Write = &wr
	res.Warnings = append(res.Warnings, wr.Warnings...)
	if !wr.Success {
		e.emit(ctx, res, req, audit.StageWriteFailed, audit.StatusFailed, strings.Join(wr.Errors, "; "))
		res.Kind = wr.Kind
		res.Reason = strings.Join(wr.Errors, "; ")
		res.Suggestion = "check file system permissions and free space under the sandbox root"
		return res
	}

	e.emit(ctx, res, req, audit.StageWriteSucceeded, audit.StatusOK, fmt.Sprintf("bytes=%d", wr.Bytes))
	res.Success = true

	claim.Commit(res.clone())
	e.state.Workflow.Clear(path)
	e.logger.Info("enforcer: document written",
		slog.String("path", path),
		slog.String("template", tmpl.ID),
		slog.String("run_id", res.RunID))
	return res
}

// MarkGenerated records that a document for target was generated from
// templateID.
func (e *Enforcer) MarkGenerated(target, templateID string) (string, error) {
	path, err := e.writer.Resolve(target)
	if err != nil {
		return "", err
	}
	e.state.Workflow.Mark(path, templateID)
	return path, nil
}

// Describe resolves a template and its schema.
func (e *Enforcer) Describe(ctx context.Context, id, version string) (*models.Template, *models.Schema, error) {
	tmpl, err := e.templates.Get(ctx, id, version)
	if err != nil {
		return nil, nil, err
	}
	s, err := e.state.Schemas.Build(tmpl.ID, tmpl.Content)
	if err != nil {
		return nil, nil, err
	}
	return tmpl, s, nil
}

// Catalog returns the catalog behind the schema builder.
func (e *Enforcer) Catalog() *schema.Catalog { return e.state.Schemas.Catalog() }

// Cleanup evicts stale guard records. maxAge <= 0 means the duplicate window.
func (e *Enforcer) Cleanup(maxAge time.Duration) CleanupStats {
	stats := e.state.cleanup(maxAge)
	e.logger.Debug("enforcer: cleanup",
		slog.Int("duplicates", stats.Duplicates), slog.Int("workflow", stats.Workflow))
	return stats
}

// Reset drops all cached state.
func (e *Enforcer) Reset() { e.state.reset() }

// clone copies r deeply enough that the caller and the duplicate cache never
// share mutable state.
func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Template != nil {
		t := *r.Template
		c.Template = &t
	}
	c.Outcome = r.Outcome.Clone()
	if r.Write != nil {
		w := *r.Write
		w.Errors = slices.Clone(r.Write.Errors)
		w.Warnings = slices.Clone(r.Write.Warnings)
		c.Write = &w
	}
	if r.Duplicate != nil {
		d := *r.Duplicate
		c.Duplicate = &d
	}
	c.Warnings = slices.Clone(r.Warnings)
	c.Events = slices.Clone(r.Events)
	return &c
}

func (e *Enforcer) fail(res *Result, err error) *Result {
	res.Success = false
	res.Kind = apperr.KindOf(err)
	res.Reason = err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) {
		res.Reason = ae.Reason
	}
	res.Suggestion = apperr.SuggestionOf(err)
	return res
}

func (e *Enforcer) blocked(res *Result) *Result {
	blockers := res.Outcome.Blockers()
	res.Success = false
	res.Kind = apperr.KindValidationBlocked
	res.Reason = fmt.Sprintf("%d blocking violation(s)", len(blockers))
	if len(blockers) > 0 {
		res.Reason += ": " + blockers[0].Message
		res.Suggestion = blockers[0].Suggestion
	}
	return res
}

func (e *Enforcer) emit(ctx context.Context, res *Result, req Request, stage, status, detail string) {
	ev := audit.NewEvent(e.clock.Now(), res.RunID, stage, status)
	ev.Path = req.Target
	if res.Path != "" {
		ev.Path = res.Path
	}
	ev.TemplateID = req.TemplateID
	ev.Detail = detail
	res.Events = append(res.Events, ev)
	if err := e.sink.Record(ctx, ev); err != nil {
		e.logger.Warn("enforcer: audit sink failed",
			slog.String("stage", stage), slog.String("error", err.Error()))
	}
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
