package interpret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpress-ai/inkpress/internal/run"
)

var testThresholds = run.Thresholds{
	MinClarity:      3.0,
	MinCorrectness:  4.0,
	MinCompleteness: 3.0,
	MinOverall:      3.5,
}

func TestExtractJSONDirect(t *testing.T) {
	out, ok := ExtractJSON(`{"passed": true}`)
	require.True(t, ok)
	assert.Equal(t, true, out["passed"])
}

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is the result:\n```json\n{\"passed\": false, \"issues\": []}\n```\nDone."
	out, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.Equal(t, false, out["passed"])
}

func TestExtractJSONFencedWithoutLanguage(t *testing.T) {
	text := "```\n{\"clarity\": 4}\n```"
	out, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.EqualValues(t, 4, out["clarity"])
}

func TestExtractJSONBraceScan(t *testing.T) {
	text := `The grader says {"clarity": 4, "correctness": 5} which looks fine.`
	out, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.EqualValues(t, 5, out["correctness"])
}

func TestExtractJSONGarbage(t *testing.T) {
	_, ok := ExtractJSON("no json here at all")
	assert.False(t, ok)
	_, ok = ExtractJSON("")
	assert.False(t, ok)
}

func TestResearchValid(t *testing.T) {
	text := `{"queries":["q"],"sources":[{"id":"S1","title":"T","url":"https://x","key_facts":["f"]}],"summary_facts":["f"],"unknowns":[]}`
	research, ok := Research(text, "document")
	require.True(t, ok)
	require.Len(t, research.Sources, 1)
	assert.Equal(t, "S1", research.Sources[0].ID)
}

func TestResearchSyntheticFallback(t *testing.T) {
	document := strings.Repeat("x", 600)
	research, ok := Research("not json", document)
	assert.False(t, ok)
	require.Len(t, research.Sources, 1)
	assert.Equal(t, "S0", research.Sources[0].ID)
	assert.Equal(t, "PRD", research.Sources[0].Title)
	assert.Equal(t, "internal://prd", research.Sources[0].URL)
	// Excerpts cap at 500 characters of the document.
	require.Len(t, research.SummaryFacts, 1)
	assert.Len(t, research.SummaryFacts[0], 500)
	assert.Len(t, research.Sources[0].KeyFacts[0], 500)
}

func TestResearchRejectsSourcesWithoutIDs(t *testing.T) {
	text := `{"queries":[],"sources":[{"title":"no id","url":"https://x"}],"summary_facts":[],"unknowns":[]}`
	research, ok := Research(text, "doc")
	assert.False(t, ok)
	assert.Equal(t, "S0", research.Sources[0].ID)
}

func TestFactCheckStrictDefault(t *testing.T) {
	verdict, ok := FactCheck("the model rambled", false)
	assert.False(t, ok)
	assert.False(t, verdict.Passed)
	require.Len(t, verdict.Issues, 1)
	assert.Equal(t, "parse error", verdict.Issues[0].Claim)
	assert.Equal(t, "Could not parse fact-check output", verdict.Issues[0].Reason)
	assert.Equal(t, "Retry", verdict.Issues[0].SuggestedFix)
	assert.Equal(t, "Please ensure all claims are properly cited.", verdict.RewriteInstructions)
}

func TestFactCheckLenientDefault(t *testing.T) {
	verdict, ok := FactCheck("the model rambled", true)
	assert.False(t, ok)
	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Issues)
	assert.Empty(t, verdict.RewriteInstructions)
}

func TestFactCheckParsed(t *testing.T) {
	text := `{"passed": false, "issues": [{"claim": "c", "reason": "r", "suggested_fix": "f", "source_ids": ["S1"]}], "rewrite_instructions": "fix it"}`
	verdict, ok := FactCheck(text, true)
	require.True(t, ok)
	assert.False(t, verdict.Passed)
	require.Len(t, verdict.Issues, 1)
	assert.Equal(t, []string{"S1"}, verdict.Issues[0].SourceIDs)
	assert.Equal(t, "fix it", verdict.RewriteInstructions)
}

func TestFactCheckMissingPassedUsesDefault(t *testing.T) {
	verdict, ok := FactCheck(`{"issues": []}`, true)
	require.True(t, ok)
	assert.True(t, verdict.Passed)

	verdict, ok = FactCheck(`{"issues": []}`, false)
	require.True(t, ok)
	assert.False(t, verdict.Passed)
}

func TestRubricMissingOverallIsRoundedMean(t *testing.T) {
	text := `{"clarity": 4, "correctness": 5, "completeness": 3}`
	rubric := Rubric(text, testThresholds, "grader-model")
	assert.InDelta(t, 4.0, rubric.Scores.Overall, 0.001)
	assert.True(t, rubric.Passed)
	assert.Equal(t, "grader-model", rubric.GraderModel)
}

func TestRubricFailsWhenSubScoreBelowFloor(t *testing.T) {
	// correctness 3 misses its 4.0 floor even though overall clears 3.5.
	text := `{"clarity": 4, "correctness": 3, "completeness": 4}`
	rubric := Rubric(text, testThresholds, "m")
	assert.InDelta(t, 3.67, rubric.Scores.Overall, 0.001)
	assert.False(t, rubric.Passed)
}

func TestRubricClampsOutOfRangeScores(t *testing.T) {
	text := `{"clarity": 9, "correctness": -2, "completeness": 4.2, "overall": 7}`
	rubric := Rubric(text, testThresholds, "m")
	assert.Equal(t, 5.0, rubric.Scores.Clarity)
	assert.Equal(t, 1.0, rubric.Scores.Correctness)
	assert.Equal(t, 4.2, rubric.Scores.Completeness)
	assert.Equal(t, 5.0, rubric.Scores.Overall)
	assert.Equal(t, RubricScaleMin, rubric.Scores.ScaleMin)
	assert.Equal(t, RubricScaleMax, rubric.Scores.ScaleMax)
}

func TestRubricNestedScoresNode(t *testing.T) {
	text := `{"scores": {"clarity": 4.4, "correctness": 4.1, "completeness": 4.0, "overall": 4.2}, "strengths": ["tight"], "weaknesses": [" loose ends "], "recommendations": []}`
	rubric := Rubric(text, testThresholds, "m")
	assert.Equal(t, 4.4, rubric.Scores.Clarity)
	assert.True(t, rubric.Passed)
	assert.Equal(t, []string{"tight"}, rubric.Strengths)
	assert.Equal(t, []string{"loose ends"}, rubric.Weaknesses)
}

func TestRubricUnparsableCollapsesToFloor(t *testing.T) {
	rubric := Rubric("nothing useful", testThresholds, "m")
	assert.Equal(t, 1.0, rubric.Scores.Clarity)
	assert.Equal(t, 1.0, rubric.Scores.Overall)
	assert.False(t, rubric.Passed)
}

func TestFailedRubricCarriesError(t *testing.T) {
	rubric := FailedRubric("backend down", testThresholds, "m")
	assert.False(t, rubric.Passed)
	assert.Equal(t, "backend down", rubric.Error)
	assert.Equal(t, 1.0, rubric.Scores.Overall)
	assert.Equal(t, testThresholds, rubric.Thresholds)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1.0, ClampScore(-3))
	assert.Equal(t, 5.0, ClampScore(12))
	assert.Equal(t, 3.3, ClampScore(3.3))
}
