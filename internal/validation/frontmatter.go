package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/docgate/internal/models"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339}

func checkFrontMatter(doc *models.Document, s *models.Schema) []models.Violation {
	if !doc.HasFrontMatter {
		var required []string
		for _, f := range s.Fields {
			if f.Required {
				required = append(required, f.Name)
			}
		}
		v := models.Violation{
			Type:        models.ViolationMissingFrontMatter,
			Severity:    models.SeverityBlocker,
			Path:        "front_matter",
			Message:     "document has no front matter block",
			Suggestion:  "start the document with a '---' delimited YAML block",
			AutoFixable: true,
			Line:        1,
		}
		if len(required) > 0 {
			v.Expected = strings.Join(required, ", ")
			v.Suggestion = fmt.Sprintf("start the document with a '---' delimited YAML block containing: %s", v.Expected)
		}
		return []models.Violation{v}
	}

	var out []models.Violation
	for _, f := range s.Fields {
		path := "front_matter." + f.Name
		val, present := doc.FrontMatter[f.Name]
		if !present || isEmpty(val) {
			if f.Required {
				out = append(out, models.Violation{
					Type:        models.ViolationMissingFrontMatterField,
					Severity:    models.SeverityBlocker,
					Path:        path,
					Message:     fmt.Sprintf("required front matter field %q is missing", f.Name),
					Suggestion:  fmt.Sprintf("add '%s: %s' to the front matter", f.Name, exampleValue(f)),
					AutoFixable: true,
					Expected:    f.Type,
				})
			}
			continue
		}
		if err := validation.Validate(val, fieldRules(f)...); err != nil {
			out = append(out, models.Violation{
				Type:       models.ViolationInvalidFrontMatterField,
				Severity:   models.SeverityBlocker,
				Path:       path,
				Message:    fmt.Sprintf("front matter field %q %s", f.Name, err.Error()),
				Suggestion: fmt.Sprintf("set '%s' to a valid value, for example '%s'", f.Name, exampleValue(f)),
				Expected:   describeSpec(f),
				Actual:     fmt.Sprintf("%v (%s)", val, typeName(val)),
			})
		}
	}
	return out
}

// fieldRules translates a FieldSpec into ozzo-validation rules.
func fieldRules(f models.FieldSpec) []validation.Rule {
	rules := []validation.Rule{validation.By(typeRule(f.Type))}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err == nil {
			rules = append(rules, validation.By(func(v any) error {
				return validation.Validate(fmt.Sprint(v), validation.Match(re).Error("must match "+f.Pattern))
			}))
		}
	}
	if len(f.Enum) > 0 {
		allowed := make([]any, len(f.Enum))
		for i, e := range f.Enum {
			allowed[i] = e
		}
		rules = append(rules, validation.By(func(v any) error {
			return validation.Validate(fmt.Sprint(v),
				validation.In(allowed...).Error("must be one of: "+strings.Join(f.Enum, ", ")))
		}))
	}
	return rules
}

func typeRule(typ string) validation.RuleFunc {
	return func(v any) error {
		switch typ {
		case models.FieldString, "":
			switch v.(type) {
			case string:
				return nil
			}
		case models.FieldInt:
			switch tv := v.(type) {
			case int, int64, uint64:
				return nil
			case float64:
				if tv == float64(int64(tv)) {
					return nil
				}
			}
		case models.FieldBool:
			if _, ok := v.(bool); ok {
				return nil
			}
		case models.FieldDate:
			switch tv := v.(type) {
			case time.Time:
				return nil
			case string:
				for _, layout := range dateLayouts {
					if _, err := time.Parse(layout, tv); err == nil {
						return nil
					}
				}
				return errors.New("must be a date (YYYY-MM-DD)")
			}
		case models.FieldList:
			if _, ok := v.([]any); ok {
				return nil
			}
		default:
			return fmt.Errorf("has unknown declared type %q", typ)
		}
		return fmt.Errorf("must be of type %s", typ)
	}
}

func isEmpty(v any) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(tv) == ""
	}
	return false
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return models.FieldString
	case int, int64, uint64:
		return models.FieldInt
	case float64:
		return "float"
	case bool:
		return models.FieldBool
	case time.Time:
		return models.FieldDate
	case []any:
		return models.FieldList
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

func describeSpec(f models.FieldSpec) string {
	parts := []string{f.Type}
	if f.Pattern != "" {
		parts = append(parts, "matching "+f.Pattern)
	}
	if len(f.Enum) > 0 {
		parts = append(parts, "one of "+strings.Join(f.Enum, "|"))
	}
	return strings.Join(parts, ", ")
}

// exampleValue is the value suggested (and injected by auto-fix) for f.
func exampleValue(f models.FieldSpec) string {
	if f.Default != "" {
		return f.Default
	}
	if len(f.Enum) > 0 {
		return f.Enum[0]
	}
	switch f.Type {
	case models.FieldInt:
		return strconv.Itoa(0)
	case models.FieldBool:
		return "false"
	case models.FieldDate:
		return "YYYY-MM-DD"
	case models.FieldList:
		return "[]"
	}
	return "TBD"
}
