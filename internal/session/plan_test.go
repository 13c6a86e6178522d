package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comp(name string, deps ...string) Component {
	return Component{Name: name, Developer: "backend", Dependencies: deps, Spec: name + " spec"}
}

func TestDevelopmentPlan_Validate(t *testing.T) {
	tests := []struct {
		name       string
		plan       DevelopmentPlan
		wantReason string
	}{
		{"valid chain", DevelopmentPlan{Components: []Component{comp("store"), comp("api", "store"), comp("cli", "api", "store")}}, ""},
		{"empty", DevelopmentPlan{}, "no components"},
		{"forward reference", DevelopmentPlan{Components: []Component{comp("api", "store"), comp("store")}}, "forward reference"},
		{"cycle", DevelopmentPlan{Components: []Component{comp("a", "b"), comp("b", "a")}}, "forward reference"},
		{"self reference", DevelopmentPlan{Components: []Component{comp("a", "a")}}, "depends on itself"},
		{"unknown", DevelopmentPlan{Components: []Component{comp("a", "ghost")}}, "unknown dependency"},
		{"duplicate", DevelopmentPlan{Components: []Component{comp("a"), comp("a")}}, "more than once"},
		{"blank name", DevelopmentPlan{Components: []Component{comp(" ")}}, "empty name"},
		{"path in name", DevelopmentPlan{Components: []Component{comp("../api")}}, "traversal"},
		{"slash in name", DevelopmentPlan{Components: []Component{comp("api/v2")}}, "invalid name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantReason == "" {
				require.NoError(t, err)
				return
			}
			var pve *PlanValidationError
			require.True(t, errors.As(err, &pve), "got %v", err)
			assert.Contains(t, pve.Reason, tt.wantReason)
		})
	}
}

func TestVerificationReport_Score(t *testing.T) {
	assert.Equal(t, 0, VerificationReport{}.Score())

	r := VerificationReport{
		"quality":  {Score: 90, Issues: []string{"missing tests"}},
		"security": {Score: 70, Fixes: []string{"validate input"}},
		"broken":   {Score: 0, Degraded: true},
	}
	assert.Equal(t, 53, r.Score())

	v := r.Verdict()
	assert.Equal(t, 53, v.Score)
	assert.True(t, v.Degraded)
	assert.Equal(t, []string{"quality: missing tests"}, v.Issues)
	assert.Equal(t, []string{"validate input"}, v.Fixes)
	assert.Contains(t, r.Markdown(), "could not be parsed")
}

func TestVerdict_Clamp(t *testing.T) {
	assert.Equal(t, 100, Verdict{Score: 140}.Clamp().Score)
	assert.Equal(t, 0, Verdict{Score: -3}.Clamp().Score)
	assert.Equal(t, 55, Verdict{Score: 55}.Clamp().Score)
}

func TestResearchResult_MarkdownIsOrdered(t *testing.T) {
	r := ResearchResult{"zeta": "z findings", "alpha": "a findings"}
	md := r.Markdown()
	assert.Less(t, indexOf(md, "alpha"), indexOf(md, "zeta"))

	c := r.Clone()
	c["alpha"] = "changed"
	assert.Equal(t, "a findings", r["alpha"])
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestPlan_Markdown(t *testing.T) {
	p := Plan{Requirements: "build it", Researchers: []string{"architecture"}, Tier: TierModerate}
	md := p.Markdown()
	assert.Contains(t, md, "moderate")
	assert.Contains(t, md, "- architecture")
	assert.Contains(t, md, "build it")
}
