package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute delegated research and development units from Temporal",
	Long: `Poll the configured Temporal task queue and execute unit batches dispatched
by sessions whose execution runner is temporal. Workers answer with the llm
agent.

Examples:
  ISSUEFORGE_AGENT__PROVIDER=llm OPENAI_API_KEY=sk-xxx issueforge worker`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Agent.Provider != config.AgentLLM {
		return fmt.Errorf("the worker requires agent.provider=llm")
	}
	llm, err := newLLMAgent(rt.cfg.Agent)
	if err != nil {
		return err
	}
	c, err := dialTemporal(rt.cfg.Temporal)
	if err != nil {
		return err
	}
	rt.temporal = c

	acts := &workflows.Activities{Agent: agent.Scrubbed(llm, rt.scrubber)}
	w := workflows.NewWorker(c, rt.cfg.Temporal.TaskQueue, acts)
	if err := w.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	rt.logger.Info(ctx, "worker started",
		zap.String("temporal_host", rt.cfg.Temporal.HostPort),
		zap.String("task_queue", rt.cfg.Temporal.TaskQueue))

	<-ctx.Done()
	w.Stop()
	rt.logger.Info(ctx, "worker stopped")
	return nil
}
