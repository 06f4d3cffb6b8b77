// Package templates maps each pipeline stage to its prompt template. The
// mapping is deterministic: one stage key always renders the same
// template, with run-specific values substituted for {placeholders}.
package templates

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/inkpress-ai/inkpress/internal/run"
)

// Template is one stage's prompt pair
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Catalog holds the stage -> template mapping
type Catalog struct {
	templates map[run.Stage]Template
}

// Defaults returns the built-in catalog
func Defaults() *Catalog {
	return &Catalog{templates: map[run.Stage]Template{
		run.StageResearcher: {
			System: "You are a meticulous research analyst. Extract verifiable facts from the provided product requirements document and gather supporting sources. Return ONLY JSON with keys: queries, sources (each {id, title, url, query, key_facts}), summary_facts, unknowns. Source ids are S0, S1, S2...",
			User:   "PRD:\n{prd}\n\n{web_search_instructions}{feedback}",
		},
		run.StageWriter: {
			System: "You are a senior technical writer. Write a blog post in markdown grounded strictly in the research JSON. Cite every factual claim with its source id in the form [S#]. Do not invent facts.",
			User:   "PRD:\n{prd}\n\nResearch JSON:\n{research_json}\n\nTone: {tone}\nAudience: {audience}\nTarget length: {word_count} words.\n{revision_instructions}",
		},
		run.StageFactChecker: {
			System: "You are a rigorous fact checker. Verify every claim in the draft against the research JSON. Return ONLY JSON with keys: passed (bool), issues (each {claim, reason, suggested_fix, source_ids}), rewrite_instructions.",
			User:   "Draft:\n{draft}\n\nResearch JSON:\n{research_json}\n{additional_instructions}",
		},
		run.StageStyleEditor: {
			System: "You are a precise style editor. Polish the draft for flow, structure, and readability without changing factual content or removing [S#] citations. Return the full polished markdown.",
			User:   "Draft:\n{draft}\n\nTone: {tone}\nAudience: {audience}",
		},
		run.StageRubricGrader: {
			System: "You are a strict editorial grader. Evaluate quality using rubric scores from 1 to 5. Focus on: clarity, correctness, completeness. Return ONLY JSON with keys: clarity, correctness, completeness, overall, strengths, weaknesses, recommendations.",
			User:   "PRD:\n{prd}\n\nResearch JSON:\n{research_json}\n\nFinal Markdown:\n{final_markdown}\n\nScoring rubric (1=poor, 5=excellent):\n- clarity: structure, readability, coherence\n- correctness: factual alignment with provided sources/PRD and citation discipline\n- completeness: covers core requirements and important points expected from the PRD\n",
		},
	}}
}

// Load merges a YAML catalog file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	catalog := Defaults()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog %s: %w", path, err)
	}
	var overrides map[run.Stage]Template
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompt catalog %s: %w", path, err)
	}

	for stage, tmpl := range overrides {
		if _, known := catalog.templates[stage]; !known {
			return nil, fmt.Errorf("prompt catalog %s: unknown stage %q", path, stage)
		}
		merged := catalog.templates[stage]
		if tmpl.System != "" {
			merged.System = tmpl.System
		}
		if tmpl.User != "" {
			merged.User = tmpl.User
		}
		catalog.templates[stage] = merged
	}
	logger.Info("Prompt catalog loaded",
		zap.String("path", path),
		zap.Int("overrides", len(overrides)),
	)
	return catalog, nil
}

// Render substitutes {name} placeholders and returns the prompt pair.
// Placeholders without a value render as empty strings.
func (c *Catalog) Render(stage run.Stage, vars map[string]string) (system, user string, err error) {
	tmpl, ok := c.templates[stage]
	if !ok {
		return "", "", fmt.Errorf("no prompt template for stage %q", stage)
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	replacer := strings.NewReplacer(pairs...)
	system = clearUnused(replacer.Replace(tmpl.System))
	user = clearUnused(replacer.Replace(tmpl.User))
	return system, user, nil
}

// Placeholders are lowercase identifiers; JSON braces in instruction text
// (e.g. key listings) contain commas or spaces and are left alone.
var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

// clearUnused blanks any placeholder the caller did not supply so prompts
// never leak raw {tokens} to the model
func clearUnused(s string) string {
	return placeholderRe.ReplaceAllString(s, "")
}
