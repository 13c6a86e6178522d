package agent

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/sanitize"
	"github.com/fyrsmithlabs/issueforge/internal/session"
)

// ParseError reports agent output that had no recognizable structure. The
// parse functions still return a usable value alongside it.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "unparsable " + e.What
	}
	return fmt.Sprintf("unparsable %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:ya?ml|json)?[ \t]*\r?\n(.*?)```")
	scoreLine   = regexp.MustCompile(`(?i)\bscore\b\**\s*[:=]?\s*\**\s*(\d{1,3}(?:\.\d+)?)`)
	targetLine  = regexp.MustCompile(`(?im)^\s*\**target\**\s*[:=]\s*\**\s*([A-Za-z0-9_.-]+)`)
	heading     = regexp.MustCompile(`^\s*(?:#{1,6}\s*|\*\*)?([A-Za-z][A-Za-z \t]*?)(?:\*\*)?\s*:?\s*$`)
	bullet      = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.*\S)\s*$`)
	keyValue    = regexp.MustCompile(`(?im)^\s*\**(%s)\**\s*[:=]\s*(.+)$`)
)

// fencedDocs returns the contents of fenced code blocks in order.
func fencedDocs(text string) []string {
	var out []string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

type verdictDoc struct {
	Score  *float64 `yaml:"score"`
	Issues []string `yaml:"issues"`
	Fixes  []string `yaml:"fixes"`
	Target string   `yaml:"target"`
}

// ParseVerdict reads a verifier reply. Structured (fenced YAML or JSON)
// output is preferred; otherwise a "Score: N" line and Issues/Fixes lists
// are extracted. Output with no score degrades to 0 with Degraded set.
func ParseVerdict(text string) session.Verdict {
	for _, doc := range fencedDocs(text) {
		var v verdictDoc
		if err := yaml.Unmarshal([]byte(doc), &v); err != nil || v.Score == nil {
			continue
		}
		return session.Verdict{
			Score:  toScore(*v.Score),
			Issues: v.Issues,
			Fixes:  v.Fixes,
			Target: strings.TrimSpace(v.Target),
		}.Clamp()
	}

	m := scoreLine.FindStringSubmatch(text)
	if m == nil {
		return session.Verdict{Score: 0, Degraded: true, Issues: []string{"verifier output contained no score"}}
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return session.Verdict{Score: 0, Degraded: true, Issues: []string{"verifier score was not numeric"}}
	}

	sections := listSections(text)
	v := session.Verdict{
		Score:  toScore(f),
		Issues: firstSection(sections, "issues", "problems", "concerns"),
		Fixes:  firstSection(sections, "fixes", "suggested fixes", "improvements", "recommendations"),
	}
	if t := targetLine.FindStringSubmatch(text); t != nil {
		v.Target = t[1]
	}
	return v.Clamp()
}

func toScore(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Round(f))
}

// listSections collects bullet items under each heading-like line, keyed
// by the lowercased heading.
func listSections(text string) map[string][]string {
	out := map[string][]string{}
	current := ""
	for _, line := range strings.Split(text, "\n") {
		if b := bullet.FindStringSubmatch(line); b != nil {
			if current != "" {
				out[current] = append(out[current], strings.TrimSpace(b[1]))
			}
			continue
		}
		if h := heading.FindStringSubmatch(line); h != nil {
			current = strings.ToLower(strings.TrimSpace(h[1]))
		}
	}
	return out
}

func firstSection(sections map[string][]string, names ...string) []string {
	for _, n := range names {
		if items, ok := sections[n]; ok {
			return items
		}
	}
	return nil
}

type planDoc struct {
	Summary     string   `yaml:"summary"`
	Complexity  string   `yaml:"complexity"`
	Researchers []string `yaml:"researchers"`
	Developers  []string `yaml:"developers"`
	Verifiers   []string `yaml:"verifiers"`
}

// ParsePlan reads a planner reply. Missing rosters fall back to the
// configured defaults and a missing tier to moderate, so the returned plan
// is always usable; the error reports whether any structure was found.
func ParsePlan(text, requirements string, roster config.RosterConfig) (session.Plan, error) {
	var (
		doc   planDoc
		found bool
	)
	for _, d := range fencedDocs(text) {
		var p planDoc
		if err := yaml.Unmarshal([]byte(d), &p); err != nil {
			continue
		}
		if len(p.Researchers)+len(p.Developers)+len(p.Verifiers) > 0 || p.Complexity != "" {
			doc, found = p, true
			break
		}
	}
	if !found {
		doc = planDoc{
			Complexity:  lineValue(text, "complexity|tier"),
			Researchers: splitList(lineValue(text, "researchers")),
			Developers:  splitList(lineValue(text, "developers")),
			Verifiers:   splitList(lineValue(text, "verifiers")),
		}
		found = doc.Complexity != "" || len(doc.Researchers)+len(doc.Developers)+len(doc.Verifiers) > 0
	}

	plan := session.Plan{
		Requirements: requirements,
		Summary:      strings.TrimSpace(doc.Summary),
		Researchers:  orDefault(dedupe(doc.Researchers), roster.Researchers),
		Developers:   orDefault(dedupe(doc.Developers), roster.Developers),
		Verifiers:    orDefault(dedupe(doc.Verifiers), roster.Verifiers),
		Tier:         parseTier(doc.Complexity),
	}
	if plan.Summary == "" {
		plan.Summary = stripFences(text)
	}
	if !found {
		return plan, &ParseError{What: "plan"}
	}
	return plan, nil
}

type devPlanDoc struct {
	Components []session.Component `yaml:"components"`
}

// ParseDevPlan reads an architect reply into an ordered component list.
// Components without a developer get the first planned developer. The
// result is not validated here.
func ParseDevPlan(text string, developers []string) (session.DevelopmentPlan, error) {
	var comps []session.Component
	for _, d := range fencedDocs(text) {
		var doc devPlanDoc
		if err := yaml.Unmarshal([]byte(d), &doc); err == nil && len(doc.Components) > 0 {
			comps = doc.Components
			break
		}
	}
	if comps == nil {
		comps = componentsFromHeadings(text)
	}
	if len(comps) == 0 {
		return session.DevelopmentPlan{}, &ParseError{What: "development plan", Err: fmt.Errorf("no components found")}
	}

	fallback := ""
	if len(developers) > 0 {
		fallback = developers[0]
	}
	for i := range comps {
		comps[i].Name = strings.TrimSpace(comps[i].Name)
		if comps[i].Developer == "" {
			comps[i].Developer = fallback
		}
	}
	return session.DevelopmentPlan{Components: comps}, nil
}

var componentHeading = regexp.MustCompile(`^#{2,3}\s*(?:\d+[.)]\s*)?(?:component\s*:?\s*)?([A-Za-z0-9_.-]+)\s*$`)

// componentsFromHeadings reads "## name" sections with optional
// "Developer:" and "Depends on:" lines; the rest of the section is the spec.
func componentsFromHeadings(text string) []session.Component {
	var (
		out  []session.Component
		cur  *session.Component
		spec []string
	)
	flush := func() {
		if cur != nil {
			cur.Spec = strings.TrimSpace(strings.Join(spec, "\n"))
			out = append(out, *cur)
		}
		cur, spec = nil, nil
	}
	for _, line := range strings.Split(text, "\n") {
		if m := componentHeading.FindStringSubmatch(line); m != nil {
			flush()
			cur = &session.Component{Name: m[1]}
			continue
		}
		if cur == nil {
			continue
		}
		if v := lineValue(line, "developer"); v != "" {
			cur.Developer = v
			continue
		}
		if v := lineValue(line, "depends on|dependencies"); v != "" {
			if !strings.EqualFold(v, "none") {
				cur.Dependencies = splitList(v)
			}
			continue
		}
		spec = append(spec, line)
	}
	flush()
	return out
}

// lineValue returns the value of the first "key: value" line matching keys
// (a regexp alternation).
func lineValue(text, keys string) string {
	re := regexp.MustCompile(fmt.Sprintf(keyValue.String(), keys))
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(m[2]), "*` ")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.Trim(strings.TrimSpace(f), "`*[]\"'@"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// dedupe drops blanks, repeats and names that cannot be used in a path.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimPrefix(strings.TrimSpace(s), "@")
		if s == "" || seen[s] || sanitize.ValidateSegment(s) != nil {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func orDefault(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return append([]string(nil), def...)
}

func parseTier(s string) session.Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple", "low", "small":
		return session.TierSimple
	case "complex", "high", "large":
		return session.TierComplex
	default:
		return session.TierModerate
	}
}

func stripFences(text string) string {
	return strings.TrimSpace(fencedBlock.ReplaceAllString(text, ""))
}
