// Package interpret turns raw stage output into typed results. Model
// output is untrusted: every parser here returns a usable value even when
// the text is not the expected structure, so malformed output stays a
// soft failure confined to this package.
package interpret

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/inkpress-ai/inkpress/internal/run"
)

const (
	// RubricScaleMin and RubricScaleMax bound every rubric score
	RubricScaleMin = 1.0
	RubricScaleMax = 5.0

	syntheticSourceID    = "S0"
	syntheticSourceTitle = "PRD"
	syntheticSourceURL   = "internal://prd"
	documentExcerptLen   = 500
)

var (
	fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)```")
	braceRe  = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON is a best-effort JSON object extraction from model output.
// It tries, in order: the whole text, a code-fenced block, and the first
// brace-delimited block.
func ExtractJSON(text string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, true
	}

	if m := fencedRe.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &out); err == nil {
			return out, true
		}
	}

	if m := braceRe.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, true
		}
	}

	return nil, false
}

// Research interprets researcher output. When the output cannot be parsed
// or lacks a non-empty source list with identifiers, it substitutes a
// single synthetic source built from the original document and reports
// valid=false so the caller can log the soft failure.
func Research(text, document string) (run.Research, bool) {
	raw, ok := ExtractJSON(text)
	if ok {
		var research run.Research
		if data, err := json.Marshal(raw); err == nil {
			if err := json.Unmarshal(data, &research); err == nil && validResearch(research) {
				return research, true
			}
		}
	}

	excerpt := document
	if len(excerpt) > documentExcerptLen {
		excerpt = excerpt[:documentExcerptLen]
	}
	return run.Research{
		Queries: []string{},
		Sources: []run.Source{{
			ID:       syntheticSourceID,
			Title:    syntheticSourceTitle,
			URL:      syntheticSourceURL,
			KeyFacts: []string{excerpt},
		}},
		SummaryFacts: []string{excerpt},
		Unknowns:     []string{},
	}, false
}

func validResearch(r run.Research) bool {
	if len(r.Sources) == 0 {
		return false
	}
	for _, s := range r.Sources {
		if s.ID == "" {
			return false
		}
	}
	return true
}

// FactCheckResult is the normalized verdict of one fact-check stage
type FactCheckResult struct {
	Passed              bool
	Issues              []run.FactCheckIssue
	RewriteInstructions string
}

// FactCheck interprets fact-checker output. On parse failure the strict
// default synthesizes passed=false with one issue describing the failure,
// forcing a revision attempt; the lenient default (passed=true) is used
// only by the standalone fact-check re-run, where a transient parse
// glitch must not regress the pipeline.
func FactCheck(text string, lenientDefault bool) (FactCheckResult, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		if lenientDefault {
			return FactCheckResult{Passed: true, Issues: []run.FactCheckIssue{}}, false
		}
		return FactCheckResult{
			Passed: false,
			Issues: []run.FactCheckIssue{{
				Claim:        "parse error",
				Reason:       "Could not parse fact-check output",
				SuggestedFix: "Retry",
				SourceIDs:    []string{},
			}},
			RewriteInstructions: "Please ensure all claims are properly cited.",
		}, false
	}

	result := FactCheckResult{
		Passed:              asBool(raw["passed"], lenientDefault),
		Issues:              asIssueList(raw["issues"]),
		RewriteInstructions: asString(raw["rewrite_instructions"]),
	}
	return result, true
}

// Rubric interprets grader output into a scored rubric. Sub-scores are
// clamped into [1,5]; a missing overall is the unweighted mean of the
// three sub-scores rounded to 2 decimals. passed requires every value to
// meet its threshold.
func Rubric(text string, thresholds run.Thresholds, graderModel string) run.Rubric {
	raw, _ := ExtractJSON(text)
	return normalizeRubric(raw, thresholds, graderModel)
}

// FailedRubric synthesizes a failing rubric carrying a grader error. The
// attempt is still counted by the quality gate.
func FailedRubric(errMsg string, thresholds run.Thresholds, graderModel string) run.Rubric {
	rubric := normalizeRubric(nil, thresholds, graderModel)
	rubric.Passed = false
	rubric.Error = errMsg
	return rubric
}

func normalizeRubric(raw map[string]interface{}, thresholds run.Thresholds, graderModel string) run.Rubric {
	scores := raw
	if nested, ok := raw["scores"].(map[string]interface{}); ok {
		scores = nested
	}

	clarity := ClampScore(asFloat(scores["clarity"]))
	correctness := ClampScore(asFloat(scores["correctness"]))
	completeness := ClampScore(asFloat(scores["completeness"]))

	var overall float64
	if rawOverall, ok := scores["overall"]; ok && rawOverall != nil {
		overall = round2(ClampScore(asFloat(rawOverall)))
	} else {
		overall = round2((clarity + correctness + completeness) / 3)
	}

	passed := clarity >= thresholds.MinClarity &&
		correctness >= thresholds.MinCorrectness &&
		completeness >= thresholds.MinCompleteness &&
		overall >= thresholds.MinOverall

	return run.Rubric{
		Scores: run.RubricScores{
			Clarity:      round2(clarity),
			Correctness:  round2(correctness),
			Completeness: round2(completeness),
			Overall:      overall,
			ScaleMin:     RubricScaleMin,
			ScaleMax:     RubricScaleMax,
		},
		Thresholds:      thresholds,
		Passed:          passed,
		Strengths:       asStringList(raw["strengths"]),
		Weaknesses:      asStringList(raw["weaknesses"]),
		Recommendations: asStringList(raw["recommendations"]),
		GraderModel:     graderModel,
	}
}

// ClampScore bounds a score into the rubric scale; non-numeric input
// collapses to the scale minimum
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return RubricScaleMin
	}
	return math.Max(RubricScaleMin, math.Min(RubricScaleMax, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		var f float64
		if err := json.Unmarshal([]byte(n), &f); err == nil {
			return f
		}
	}
	return math.NaN()
}

func asStringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func asIssueList(v interface{}) []run.FactCheckIssue {
	items, ok := v.([]interface{})
	if !ok {
		return []run.FactCheckIssue{}
	}
	out := make([]run.FactCheckIssue, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, run.FactCheckIssue{
			Claim:        asString(m["claim"]),
			Reason:       asString(m["reason"]),
			SuggestedFix: asString(m["suggested_fix"]),
			SourceIDs:    asStringList(m["source_ids"]),
		})
	}
	return out
}
