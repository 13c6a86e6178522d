package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/execution"
	"github.com/fyrsmithlabs/issueforge/internal/gate"
	"github.com/fyrsmithlabs/issueforge/internal/session"
)

func (c *Controller) ask(ctx context.Context, agentID, task, body string) (string, error) {
	return c.env.Agent.Ask(ctx, agent.Request{AgentID: agentID, Task: task, Body: body})
}

func (c *Controller) save(ctx context.Context, path, content, message string) error {
	if err := c.env.Store.Save(ctx, path, content, message); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// review asks a reviewer and parses its verdict. Unparsable replies score 0.
func (c *Controller) review(ctx context.Context, reviewer, prompt string) (session.Verdict, error) {
	reply, err := c.ask(ctx, reviewer, "review", prompt)
	if err != nil {
		return session.Verdict{}, err
	}
	v := agent.ParseVerdict(reply)
	if v.Degraded {
		c.logger.Warn(ctx, "reviewer verdict unparsable", zap.String("agent", reviewer))
	}
	return v, nil
}

func (c *Controller) plan(ctx context.Context, st *State) error {
	roster := append(append(append([]string(nil), c.roster.Researchers...), c.roster.Developers...), c.roster.Verifiers...)

	produce := func(ctx context.Context, feedback *session.Verdict) (session.Plan, error) {
		reply, err := c.ask(ctx, AgentPlanner, "plan", planPrompt(c.sess.Requirements, roster, feedback))
		if err != nil {
			return session.Plan{}, err
		}
		plan, err := agent.ParsePlan(reply, c.sess.Requirements, c.roster)
		if err != nil {
			c.logger.Warn(ctx, "plan reply had no structure; using roster defaults", zap.Error(err))
		}
		return plan, nil
	}
	verify := func(ctx context.Context, p session.Plan) (session.Verdict, error) {
		return c.review(ctx, AgentPlanReviewer, reviewPrompt("plan", p.Markdown()))
	}

	out, err := gate.Run(ctx, c.gate, c.gateConfig(session.PhasePlanning, c.gateCfg.PlanIterations), produce, verify)
	if err != nil {
		return err
	}
	settle(ctx, c, session.PhasePlanning, out)

	st.Plan = out.Candidate
	return c.save(ctx, PlanPath, st.Plan.Markdown(), "planning: accepted plan")
}

type researchTask struct {
	SessionID    int    `json:"sessionId"`
	ResearcherID string `json:"researcherId"`
	PlanPath     string `json:"planPath"`
	Requirements string `json:"requirements"`
	Prompt       string `json:"prompt"`
}

func (c *Controller) researchBatch(plan session.Plan) (execution.Batch, error) {
	b := execution.Batch{
		Kind: execution.KindResearch,
		Inputs: map[string]any{
			"researchers": plan.Researchers,
			"planPath":    PlanPath,
			"sessionId":   c.sess.ID,
		},
	}
	for _, id := range plan.Researchers {
		prompt := researchPrompt(plan, id)
		payload, err := json.MarshalIndent(researchTask{
			SessionID:    c.sess.ID,
			ResearcherID: id,
			PlanPath:     PlanPath,
			Requirements: plan.Requirements,
			Prompt:       prompt,
		}, "", "  ")
		if err != nil {
			return b, fmt.Errorf("encoding research task %s: %w", id, err)
		}
		b.Units = append(b.Units, execution.Unit{
			Name:        id,
			AgentID:     id,
			Task:        "research",
			Prompt:      prompt,
			Payload:     string(payload),
			PayloadPath: ResearchTaskPath(id),
		})
	}
	return b, nil
}

func (c *Controller) research(ctx context.Context, st *State) error {
	batch, err := c.researchBatch(st.Plan)
	if err != nil {
		return err
	}
	if len(batch.Units) == 0 {
		return fmt.Errorf("plan names no researchers")
	}
	results, err := c.env.Strategy.Execute(ctx, batch)
	if err != nil {
		return err
	}
	if missing := results.Missing(batch); len(missing) > 0 {
		c.logger.Warn(ctx, "research incomplete", zap.Strings("missing", missing))
	}

	current := session.ResearchResult(results).Clone()
	produce := func(ctx context.Context, feedback *session.Verdict) (session.ResearchResult, error) {
		if feedback == nil {
			return current, nil
		}
		target := feedback.Target
		if _, ok := batch.Unit(target); !ok {
			target = batch.Units[0].Name
		}
		next := execution.Results(current.Clone())
		if err := c.env.Strategy.RerunUnit(ctx, batch, next, target, feedback.Feedback()); err != nil {
			c.logger.Warn(ctx, "research rerun failed; keeping previous findings",
				zap.String("researcher", target), zap.Error(err))
			return current, nil
		}
		current = session.ResearchResult(next)
		return current, nil
	}
	verify := func(ctx context.Context, r session.ResearchResult) (session.Verdict, error) {
		return c.review(ctx, AgentResearchReviewer, researchReviewPrompt(r.Markdown()))
	}

	out, err := gate.Run(ctx, c.gate, c.gateConfig(session.PhaseResearching, c.gateCfg.ResearchIterations), produce, verify)
	if err != nil {
		return err
	}
	settle(ctx, c, session.PhaseResearching, out)

	st.Research = out.Candidate
	for _, id := range st.Plan.Researchers {
		findings, ok := st.Research[id]
		if !ok {
			continue
		}
		if err := c.save(ctx, ResearchOutputPath(id), findings, "researching: findings from "+id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) devPlan(ctx context.Context, st *State) error {
	produce := func(ctx context.Context, feedback *session.Verdict) (session.DevelopmentPlan, error) {
		reply, err := c.ask(ctx, AgentArchitect, "development-plan", devPlanPrompt(st.Plan, st.Research, feedback))
		if err != nil {
			return session.DevelopmentPlan{}, err
		}
		dp, err := agent.ParseDevPlan(reply, st.Plan.Developers)
		if err != nil {
			c.logger.Warn(ctx, "development plan unparsable", zap.Error(err))
		}
		return dp, nil
	}
	verify := func(ctx context.Context, dp session.DevelopmentPlan) (session.Verdict, error) {
		if err := dp.Validate(); err != nil {
			return session.Verdict{
				Score:  0,
				Issues: []string{err.Error()},
				Fixes:  []string{"Declare every component once, with a name, and depend only on components declared earlier."},
			}, nil
		}
		return c.review(ctx, AgentDevPlanReviewer, reviewPrompt("development plan", dp.Markdown()))
	}

	out, err := gate.Run(ctx, c.gate, c.gateConfig(session.PhaseDevPlanning, c.gateCfg.DevPlanIterations), produce, verify)
	if err != nil {
		return err
	}
	if err := out.Candidate.Validate(); err != nil {
		return err
	}
	settle(ctx, c, session.PhaseDevPlanning, out)

	st.DevPlan = out.Candidate
	return c.save(ctx, DevelopmentPlanPath, st.DevPlan.Markdown(), "devplanning: accepted development plan")
}

type componentTask struct {
	SessionID int               `json:"sessionId"`
	Component session.Component `json:"component"`
	Prompt    string            `json:"prompt"`
}

func (c *Controller) developmentBatch(st *State, fixes []string) (execution.Batch, error) {
	b := execution.Batch{
		Kind: execution.KindDevelopment,
		Inputs: map[string]any{
			"components": st.DevPlan.Names(),
			"developers": st.Plan.Developers,
			"sessionId":  c.sess.ID,
		},
	}
	for _, comp := range st.DevPlan.Components {
		prompt := componentPrompt(st.Plan, comp, fixes)
		payload, err := json.MarshalIndent(componentTask{SessionID: c.sess.ID, Component: comp, Prompt: prompt}, "", "  ")
		if err != nil {
			return b, fmt.Errorf("encoding component task %s: %w", comp.Name, err)
		}
		b.Units = append(b.Units, execution.Unit{
			Name:        comp.Name,
			AgentID:     comp.Developer,
			Task:        "implement",
			Prompt:      prompt,
			Payload:     string(payload),
			PayloadPath: ComponentTaskPath(comp.Name),
		})
	}
	return b, nil
}

func (c *Controller) implement(ctx context.Context, st *State, fixes []string) (execution.Results, error) {
	batch, err := c.developmentBatch(st, fixes)
	if err != nil {
		return nil, err
	}
	results, err := c.env.Strategy.Execute(ctx, batch)
	if err != nil {
		return nil, err
	}
	if missing := results.Missing(batch); len(missing) > 0 {
		c.logger.Warn(ctx, "development incomplete", zap.Strings("missing", missing))
	}
	for _, name := range st.DevPlan.Names() {
		out, ok := results[name]
		if !ok {
			continue
		}
		if err := c.save(ctx, ComponentOutputPath(name), out, "developing: "+name); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *Controller) develop(ctx context.Context, st *State) error {
	results, err := c.implement(ctx, st, nil)
	if err != nil {
		return err
	}
	st.Development = results
	return nil
}

func (c *Controller) verify(ctx context.Context, st *State) error {
	var report session.VerificationReport

	produce := func(ctx context.Context, feedback *session.Verdict) (devOutput, error) {
		if feedback == nil {
			return devOutput{plan: st.DevPlan, results: st.Development}, nil
		}
		results, err := c.implement(ctx, st, feedback.Fixes)
		if err != nil {
			return devOutput{}, err
		}
		st.Development = results
		return devOutput{plan: st.DevPlan, results: results}, nil
	}
	verify := func(ctx context.Context, d devOutput) (session.Verdict, error) {
		report = session.VerificationReport{}
		impl := d.Markdown()
		for _, id := range st.Plan.Verifiers {
			reply, err := c.ask(ctx, id, "verify", verifyPrompt(st.Plan, impl))
			if err != nil {
				return session.Verdict{}, err
			}
			report[id] = agent.ParseVerdict(reply)
		}
		return report.Verdict(), nil
	}

	out, err := gate.Run(ctx, c.gate, c.gateConfig(session.PhaseVerifying, c.gateCfg.VerifyIterations), produce, verify)
	if err != nil {
		return err
	}
	settle(ctx, c, session.PhaseVerifying, out)

	st.Report = report
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		one := session.VerificationReport{id: report[id]}
		if err := c.save(ctx, VerificationPath(id), one.Markdown(), "verifying: verdict from "+id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) report(ctx context.Context, st *State) error {
	narrative, err := c.ask(ctx, AgentReporter, "report", reportPrompt(st))
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Final Report: %s\n\n", c.sess.Title)
	fmt.Fprintf(&b, "- **Issue:** #%d\n- **Branch:** `%s`\n- **Verification score:** %d/100\n- **Components:** %s\n\n",
		c.sess.ID, c.sess.Branch, st.Report.Score(), strings.Join(st.DevPlan.Names(), ", "))
	b.WriteString(narrative + "\n")
	report := b.String()

	if err := c.save(ctx, FinalReportPath, report, "reporting: final report"); err != nil {
		return err
	}

	title := fmt.Sprintf("issueforge: %s (#%d)", c.sess.Title, c.sess.ID)
	body := fmt.Sprintf("Closes #%d\n\n%s", c.sess.ID, report)
	pr, err := c.env.Store.OpenPullRequest(ctx, c.sess.Branch, title, body)
	if err != nil {
		return fmt.Errorf("opening pull request: %w", err)
	}
	st.PullRequest = &pr
	c.logger.Info(ctx, "pull request opened", zap.Int("number", pr.Number), zap.String("url", pr.URL))
	return nil
}
