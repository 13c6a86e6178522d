package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/issueforge/internal/sanitize"
)

// Tier is the planner's estimate of requirement complexity.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
)

// Plan is the accepted output of the planning phase. It is not modified
// once research starts.
type Plan struct {
	Requirements string
	Summary      string
	Researchers  []string
	Developers   []string
	Verifiers    []string
	Tier         Tier
}

func (p Plan) Markdown() string {
	var b strings.Builder
	b.WriteString("# Plan\n\n")
	if p.Summary != "" {
		b.WriteString(p.Summary + "\n\n")
	}
	fmt.Fprintf(&b, "**Complexity:** %s\n\n", p.Tier)
	writeList(&b, "Researchers", p.Researchers)
	writeList(&b, "Developers", p.Developers)
	writeList(&b, "Verifiers", p.Verifiers)
	b.WriteString("## Requirements\n\n" + p.Requirements + "\n")
	return b.String()
}

// ResearchResult maps researcher id to findings. A researcher whose unit
// failed has no key.
type ResearchResult map[string]string

func (r ResearchResult) Markdown() string {
	var b strings.Builder
	b.WriteString("# Research\n")
	for _, id := range sortedKeys(r) {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", id, r[id])
	}
	return b.String()
}

// Clone returns an independent copy.
func (r ResearchResult) Clone() ResearchResult {
	out := make(ResearchResult, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Component is one unit of the development plan.
type Component struct {
	Name         string   `yaml:"name" json:"name"`
	Developer    string   `yaml:"developer" json:"developer"`
	Dependencies []string `yaml:"dependencies" json:"dependencies"`
	Spec         string   `yaml:"spec" json:"spec"`
}

// DevelopmentPlan is the ordered list of components to build.
type DevelopmentPlan struct {
	Components []Component
}

// PlanValidationError reports a structural defect in a DevelopmentPlan.
type PlanValidationError struct {
	Component string
	Reason    string
}

func (e *PlanValidationError) Error() string {
	if e.Component == "" {
		return "invalid development plan: " + e.Reason
	}
	return fmt.Sprintf("invalid development plan: component %q: %s", e.Component, e.Reason)
}

// Validate checks that every dependency names an earlier component. This
// rules out forward references and cycles together.
func (d DevelopmentPlan) Validate() error {
	if len(d.Components) == 0 {
		return &PlanValidationError{Reason: "no components"}
	}
	declared := make(map[string]bool, len(d.Components))
	all := make(map[string]bool, len(d.Components))
	for _, c := range d.Components {
		all[c.Name] = true
	}
	for _, c := range d.Components {
		if strings.TrimSpace(c.Name) == "" {
			return &PlanValidationError{Reason: "component with empty name"}
		}
		if err := sanitize.ValidateSegment(c.Name); err != nil {
			return &PlanValidationError{Component: c.Name, Reason: err.Error()}
		}
		if declared[c.Name] {
			return &PlanValidationError{Component: c.Name, Reason: "declared more than once"}
		}
		for _, dep := range c.Dependencies {
			switch {
			case dep == c.Name:
				return &PlanValidationError{Component: c.Name, Reason: "depends on itself"}
			case declared[dep]:
			case all[dep]:
				return &PlanValidationError{Component: c.Name, Reason: fmt.Sprintf("forward reference to %q", dep)}
			default:
				return &PlanValidationError{Component: c.Name, Reason: fmt.Sprintf("unknown dependency %q", dep)}
			}
		}
		declared[c.Name] = true
	}
	return nil
}

// Names returns component names in declared order.
func (d DevelopmentPlan) Names() []string {
	out := make([]string, len(d.Components))
	for i, c := range d.Components {
		out[i] = c.Name
	}
	return out
}

func (d DevelopmentPlan) Markdown() string {
	var b strings.Builder
	b.WriteString("# Development Plan\n")
	for i, c := range d.Components {
		fmt.Fprintf(&b, "\n## %d. %s\n\n**Developer:** %s\n\n", i+1, c.Name, c.Developer)
		if len(c.Dependencies) > 0 {
			fmt.Fprintf(&b, "**Depends on:** %s\n\n", strings.Join(c.Dependencies, ", "))
		}
		b.WriteString(c.Spec + "\n")
	}
	return b.String()
}

// Verdict is a typed verification result. Degraded marks output that could
// not be parsed and was scored 0.
type Verdict struct {
	Score    int
	Issues   []string
	Fixes    []string
	Target   string
	Degraded bool
}

// Clamp bounds the score to [0,100].
func (v Verdict) Clamp() Verdict {
	switch {
	case v.Score < 0:
		v.Score = 0
	case v.Score > 100:
		v.Score = 100
	}
	return v
}

// Feedback renders issues and fixes as improvement instructions.
func (v Verdict) Feedback() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous score: %d/100.\n\n", v.Score)
	writeList(&b, "Issues", v.Issues)
	writeList(&b, "Suggested fixes", v.Fixes)
	return b.String()
}

// VerificationReport maps verifier id to its verdict.
type VerificationReport map[string]Verdict

// Score is the mean verifier score, or 0 for an empty report.
func (r VerificationReport) Score() int {
	if len(r) == 0 {
		return 0
	}
	total := 0
	for _, v := range r {
		total += v.Clamp().Score
	}
	return total / len(r)
}

// Verdict folds the report into a single verdict.
func (r VerificationReport) Verdict() Verdict {
	out := Verdict{Score: r.Score()}
	for _, id := range sortedKeys(r) {
		v := r[id]
		for _, issue := range v.Issues {
			out.Issues = append(out.Issues, id+": "+issue)
		}
		out.Fixes = append(out.Fixes, v.Fixes...)
		out.Degraded = out.Degraded || v.Degraded
	}
	return out
}

func (r VerificationReport) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Verification\n\n**Overall score:** %d/100\n", r.Score())
	for _, id := range sortedKeys(r) {
		v := r[id]
		fmt.Fprintf(&b, "\n## %s: %d/100\n\n", id, v.Score)
		if v.Degraded {
			b.WriteString("_Verifier output could not be parsed._\n\n")
		}
		writeList(&b, "Issues", v.Issues)
		writeList(&b, "Fixes", v.Fixes)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
