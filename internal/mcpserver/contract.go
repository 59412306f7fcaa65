package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/schema"
)

// Resource URIs.
const (
	CatalogURI  = "docgate://catalog"
	ContractURI = "docgate://contract"
)

const contractRules = `# docgate Document Contract

Every document written through docgate MUST pass validation against its
template. Documents with a BLOCKER violation are never written.

## Rules

1. **Front matter is mandatory.** A ` + "`---`" + ` delimited YAML block must open the
   document. Required fields must be present and non-empty; typed fields must
   match their type, pattern and allowed values.
2. **Required sections** must appear as headings (case-insensitive), in the
   catalog order below. Missing sections block TIER_1 writes; wrong order is
   FIXABLE and never blocks.
3. **Heading levels** must not skip (e.g. ` + "`#`" + ` straight to ` + "`###`" + `) and should match
   the template's level for the same heading.
4. **Completeness**: a section counts as filled when it carries more than 50
   words of prose, a list or a table (fenced code does not count). The share of
   filled sections must reach 0.80 (TIER_1), 0.60 (TIER_2) or 0.30 (TIER_3).
5. **Paths** are relative to the sandbox root, end in ` + "`.md`" + ` and never contain ` + "`..`" + `.

## Severities

| Severity | Effect | Confidence penalty |
|---|---|---|
| BLOCKER | write refused | 0.30 |
| FIXABLE | reported, write allowed | 0.10 |
| WARN | reported | 0.05 |

Call ` + "`validate_document`" + ` with ` + "`auto_fix`" + ` to add missing front matter and
section stubs. Section reordering is never automated.
`

// RenderContract returns the contract followed by the per-template
// requirements from cat.
func RenderContract(cat *schema.Catalog) string {
	var sb strings.Builder
	sb.WriteString(contractRules)
	sb.WriteString("\n## Templates\n")
	for _, id := range cat.IDs() {
		e, _ := cat.Lookup(id)
		sb.WriteString(fmt.Sprintf("\n### %s\n\n", id))
		var req, opt []string
		for _, sec := range e.Sections {
			if sec.Required {
				req = append(req, sec.Name)
			} else {
				opt = append(opt, sec.Name)
			}
		}
		if len(req) > 0 {
			sb.WriteString("- Required sections: " + strings.Join(req, ", ") + "\n")
		}
		if len(opt) > 0 {
			sb.WriteString("- Optional sections: " + strings.Join(opt, ", ") + "\n")
		}
		for _, f := range e.Fields {
			sb.WriteString("- Field `" + f.Name + "`: " + describeField(f) + "\n")
		}
	}
	return sb.String()
}

func describeField(f models.FieldSpec) string {
	parts := []string{f.Type}
	if f.Required {
		parts = append(parts, "required")
	}
	if f.Pattern != "" {
		parts = append(parts, "pattern `"+f.Pattern+"`")
	}
	if len(f.Enum) > 0 {
		parts = append(parts, "one of "+strings.Join(f.Enum, "|"))
	}
	if f.Default != "" {
		parts = append(parts, "default "+f.Default)
	}
	return strings.Join(parts, ", ")
}
