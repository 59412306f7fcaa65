package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/parser"
)

func hundredths(f float64) int { return int(math.Round(f * 100)) }

func TestConfidenceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence stays within [0,1]", prop.ForAll(
		func(b, f, w int) bool {
			c := Confidence(b, f, w)
			return c >= 0 && c <= 1
		},
		gen.IntRange(0, 10), gen.IntRange(0, 20), gen.IntRange(0, 40),
	))

	properties.Property("each extra violation lowers confidence by its penalty or to zero", prop.ForAll(
		func(b, f, w int) bool {
			base := hundredths(Confidence(b, f, w))
			floor := func(v int) int {
				if v < 0 {
					return 0
				}
				return v
			}
			return hundredths(Confidence(b+1, f, w)) == floor(base-blockerPenalty) &&
				hundredths(Confidence(b, f+1, w)) == floor(base-fixablePenalty) &&
				hundredths(Confidence(b, f, w+1)) == floor(base-warnPenalty)
		},
		gen.IntRange(0, 5), gen.IntRange(0, 10), gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

func TestTierOrderingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)

	properties := gopter.NewProperties(parameters)
	e := newEngine()
	s := bareSchema()

	properties.Property("a document passing a stricter tier passes the looser ones", prop.ForAll(
		func(filled, thin int) bool {
			doc := parser.Parse(sectionsDoc(filled, thin))
			t1 := e.Validate(doc, s, Options{Tier: models.Tier1}).Valid
			t2 := e.Validate(doc, s, Options{Tier: models.Tier2}).Valid
			t3 := e.Validate(doc, s, Options{Tier: models.Tier3}).Valid
			return (!t1 || t2) && (!t2 || t3)
		},
		gen.IntRange(0, 8), gen.IntRange(0, 8),
	))

	properties.Property("completeness is filled over total", prop.ForAll(
		func(filled, thin int) bool {
			o := e.Validate(parser.Parse(sectionsDoc(filled, thin)), s, Options{Tier: models.Tier3})
			return math.Abs(o.Completeness-float64(filled)/float64(filled+thin)) < 1e-9
		},
		gen.IntRange(0, 8), gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestAutoFixRoundTripProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(97531)

	properties := gopter.NewProperties(parameters)
	e := newEngine()
	s := adrSchema(t)
	present := []string{"title: Use SQLite", "status: accepted", "date: 2024-01-02"}

	properties.Property("auto-fix supplies every missing required field", prop.ForAll(
		func(mask int) bool {
			var fm []string
			for i, line := range present {
				if mask&(1<<i) != 0 {
					fm = append(fm, line)
				}
			}
			text := "---\n" + strings.Join(fm, "\n")
			if len(fm) > 0 {
				text += "\n"
			}
			text += "---\n" + adrBody()

			o := e.Validate(parser.Parse(text), s, Options{Tier: models.Tier1, AutoFix: true})
			if mask == 7 {
				return o.Patched == "" && o.Valid
			}
			patched := parser.Parse(o.Patched)
			for _, f := range s.Fields {
				if !f.Required {
					continue
				}
				if v, ok := patched.FrontMatter[f.Name]; !ok || isEmpty(v) {
					return false
				}
			}
			return len(ofType(o, models.ViolationMissingFrontMatterField)) == 0
		},
		gen.IntRange(0, 7),
	))

	properties.TestingRun(t)
}
