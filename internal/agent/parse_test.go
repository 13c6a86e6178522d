package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/session"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		score    int
		target   string
		issues   []string
		fixes    []string
		degraded bool
	}{
		{
			name:  "fenced yaml",
			text:  "Review done.\n\n```yaml\nscore: 96\nissues: []\nfixes:\n  - tighten wording\n```\n",
			score: 96,
			fixes: []string{"tighten wording"},
		},
		{
			name:   "fenced json is clamped",
			text:   "```json\n{\"score\": 120, \"issues\": [\"too long\"], \"target\": \"prior-art\"}\n```",
			score:  100,
			target: "prior-art",
			issues: []string{"too long"},
		},
		{
			name:   "free text",
			text:   "**Score:** 72/100\nTarget: architecture\n\n## Issues\n- missing benchmarks\n- vague scope\n\n## Fixes\n- add benchmarks\n",
			score:  72,
			target: "architecture",
			issues: []string{"missing benchmarks", "vague scope"},
			fixes:  []string{"add benchmarks"},
		},
		{
			name:  "fenced block without score falls through to text",
			text:  "```yaml\nnotes: fine\n```\nScore = 55",
			score: 55,
		},
		{
			name:     "no score degrades to zero",
			text:     "Looks fine to me, ship it.",
			score:    0,
			degraded: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseVerdict(tt.text)
			assert.Equal(t, tt.score, v.Score)
			assert.Equal(t, tt.degraded, v.Degraded)
			assert.Equal(t, tt.target, v.Target)
			if tt.issues != nil {
				assert.Equal(t, tt.issues, v.Issues)
			}
			if tt.fixes != nil {
				assert.Equal(t, tt.fixes, v.Fixes)
			}
		})
	}
}

var roster = config.RosterConfig{
	Researchers: []string{"architecture", "prior-art"},
	Developers:  []string{"backend"},
	Verifiers:   []string{"quality", "security"},
}

func TestParsePlan_Structured(t *testing.T) {
	text := "Here is the plan.\n\n```yaml\nsummary: Build a CLI\ncomplexity: complex\nresearchers: [prior-art, prior-art]\ndevelopers: [backend, frontend]\n```\n"

	plan, err := ParsePlan(text, "build a cli", roster)
	require.NoError(t, err)
	assert.Equal(t, "build a cli", plan.Requirements)
	assert.Equal(t, "Build a CLI", plan.Summary)
	assert.Equal(t, session.TierComplex, plan.Tier)
	assert.Equal(t, []string{"prior-art"}, plan.Researchers)
	assert.Equal(t, []string{"backend", "frontend"}, plan.Developers)
	assert.Equal(t, roster.Verifiers, plan.Verifiers)
}

func TestParsePlan_KeyValueLines(t *testing.T) {
	text := "# Plan\n\n**Complexity:** simple\n**Researchers:** architecture\nVerifiers: quality, security, performance\n"

	plan, err := ParsePlan(text, "req", roster)
	require.NoError(t, err)
	assert.Equal(t, session.TierSimple, plan.Tier)
	assert.Equal(t, []string{"architecture"}, plan.Researchers)
	assert.Equal(t, []string{"quality", "security", "performance"}, plan.Verifiers)
	assert.Equal(t, roster.Developers, plan.Developers)
}

func TestParsePlan_DropsUnsafeAgentIDs(t *testing.T) {
	text := "```yaml\nresearchers: [\"../../etc\", \"@architecture\", \"two words\"]\ndevelopers: [\"a/b\"]\n```"

	plan, err := ParsePlan(text, "req", roster)
	require.NoError(t, err)
	assert.Equal(t, []string{"architecture"}, plan.Researchers)
	assert.Equal(t, roster.Developers, plan.Developers)
}

func TestParsePlan_UnstructuredUsesDefaults(t *testing.T) {
	plan, err := ParsePlan("I would just write the code.", "req", roster)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "plan", perr.What)
	assert.Equal(t, session.TierModerate, plan.Tier)
	assert.Equal(t, roster.Researchers, plan.Researchers)
	assert.Equal(t, "I would just write the code.", plan.Summary)
}

func TestParseDevPlan_Structured(t *testing.T) {
	text := "```yaml\ncomponents:\n  - name: store\n    spec: persist things\n  - name: api\n    developer: web\n    dependencies: [store]\n    spec: serve things\n```"

	dp, err := ParseDevPlan(text, []string{"backend"})
	require.NoError(t, err)
	require.Len(t, dp.Components, 2)
	assert.Equal(t, "backend", dp.Components[0].Developer)
	assert.Equal(t, "web", dp.Components[1].Developer)
	assert.Equal(t, []string{"store"}, dp.Components[1].Dependencies)
	assert.NoError(t, dp.Validate())
}

func TestParseDevPlan_MarkdownRoundTrip(t *testing.T) {
	in := session.DevelopmentPlan{Components: []session.Component{
		{Name: "store", Developer: "backend", Spec: "Persist sessions."},
		{Name: "api", Developer: "backend", Dependencies: []string{"store"}, Spec: "Serve sessions."},
	}}

	out, err := ParseDevPlan(in.Markdown(), []string{"backend"})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseDevPlan_NothingFound(t *testing.T) {
	_, err := ParseDevPlan("no idea", nil)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "no components found")
}
