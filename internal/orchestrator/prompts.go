package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/issueforge/internal/session"
)

func withFeedback(b *strings.Builder, feedback *session.Verdict) {
	if feedback == nil {
		return
	}
	b.WriteString("\n## Reviewer feedback on your previous attempt\n\n")
	b.WriteString(feedback.Feedback())
}

const verdictFormat = "Reply with a fenced yaml block containing `score` (0-100), `issues` (list), `fixes` (list)"

func planPrompt(requirements string, roster []string, feedback *session.Verdict) string {
	var b strings.Builder
	b.WriteString("Produce a delivery plan for the requirements below.\n\n")
	b.WriteString("Reply with a fenced yaml block with the keys `summary`, `complexity` (simple, moderate or complex), ")
	b.WriteString("`researchers`, `developers` and `verifiers` (lists of agent ids).\n")
	if len(roster) > 0 {
		fmt.Fprintf(&b, "Known agents: %s.\n", strings.Join(roster, ", "))
	}
	b.WriteString("\n## Requirements\n\n" + requirements + "\n")
	withFeedback(&b, feedback)
	return b.String()
}

func reviewPrompt(what, artifact string) string {
	return fmt.Sprintf("Review the %s below for completeness and correctness.\n%s.\n\n%s\n", what, verdictFormat, artifact)
}

func researchReviewPrompt(research string) string {
	return fmt.Sprintf("Review the research findings below.\n%s, and `target` naming the researcher whose findings most need improvement.\n\n%s\n",
		verdictFormat, research)
}

func researchPrompt(plan session.Plan, researcher string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research the problem space for the plan below from the %s perspective.\n", researcher)
	b.WriteString("Report findings, risks and recommendations as markdown.\n\n")
	b.WriteString(plan.Markdown())
	return b.String()
}

func devPlanPrompt(plan session.Plan, research session.ResearchResult, feedback *session.Verdict) string {
	var b strings.Builder
	b.WriteString("Break the plan below into an ordered list of components.\n")
	b.WriteString("Reply with a fenced yaml block: `components:` as a list of `name`, `developer`, `dependencies` and `spec`.\n")
	b.WriteString("A component may depend only on components declared before it.\n")
	fmt.Fprintf(&b, "Developers: %s.\n\n", strings.Join(plan.Developers, ", "))
	b.WriteString(plan.Markdown())
	b.WriteString("\n" + research.Markdown())
	withFeedback(&b, feedback)
	return b.String()
}

func componentPrompt(plan session.Plan, c session.Component, fixes []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement the component `%s`.\n\n", c.Name)
	if len(c.Dependencies) > 0 {
		fmt.Fprintf(&b, "It builds on: %s.\n\n", strings.Join(c.Dependencies, ", "))
	}
	b.WriteString("## Component specification\n\n" + c.Spec + "\n\n")
	b.WriteString("## Requirements\n\n" + plan.Requirements + "\n")
	if len(fixes) > 0 {
		b.WriteString("\n## Fixes requested by verification\n\n")
		for _, f := range fixes {
			b.WriteString("- " + f + "\n")
		}
	}
	return b.String()
}

func verifyPrompt(plan session.Plan, implementation string) string {
	var b strings.Builder
	b.WriteString("Verify the implementation below against the requirements.\n")
	b.WriteString(verdictFormat + ".\n\n")
	b.WriteString("## Requirements\n\n" + plan.Requirements + "\n\n")
	b.WriteString(implementation)
	return b.String()
}

func reportPrompt(st *State) string {
	var b strings.Builder
	b.WriteString("Write the final delivery report for the work below as markdown. ")
	b.WriteString("Summarize what was built, open issues and how it was verified.\n\n")
	b.WriteString(st.Plan.Markdown())
	b.WriteString("\n" + st.DevPlan.Markdown())
	b.WriteString("\n" + st.Report.Markdown())
	return b.String()
}
