package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apphttp "github.com/fyrsmithlabs/issueforge/internal/http"
	"github.com/fyrsmithlabs/issueforge/internal/orchestrator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the GitHub webhook and run sessions as issues arrive",
	Long: `Serve the GitHub webhook. Issues opened or labeled with the trigger label
start a session; comments containing the approve or restart keyword steer it.

Examples:
  # Serve with a config file
  issueforge serve --config issueforge.yaml

  # Configure via environment
  GITHUB_TOKEN=ghp_xxx GITHUB_WEBHOOK_SECRET=s3cr3t issueforge serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.cfg.GitHub.Token.IsSet() {
		return fmt.Errorf("GITHUB_TOKEN not set")
	}
	if err := rt.connect(ctx); err != nil {
		return err
	}

	manager := orchestrator.NewManager(ctx, rt.factory(githubStores(rt)), orchestrator.ManagerConfig{
		Gate:     rt.cfg.Gate,
		Roster:   rt.cfg.Roster,
		Triggers: rt.cfg.Triggers,
	}, orchestrator.WithManagerLogger(rt.logger.Named("orchestrator")))

	srv, err := apphttp.NewServer(manager, apphttp.Options{
		Server:        rt.cfg.Server,
		WebhookSecret: rt.cfg.GitHub.WebhookSecret,
		BotLogin:      rt.cfg.GitHub.BotLogin,
		Logger:        rt.logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	rt.logger.Info(ctx, "issueforge starting",
		zap.String("addr", rt.cfg.Server.Addr),
		zap.String("execution_mode", rt.cfg.Execution.Mode),
		zap.String("runner", rt.cfg.Execution.Runner),
		zap.String("agent", rt.cfg.Agent.Provider),
		zap.Bool("events", rt.natsConn != nil),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		rt.logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error(shutdownCtx, "server shutdown error", zap.Error(err))
		return err
	}

	// Sessions share ctx, so they stop at their next blocking call.
	manager.Wait()
	rt.logger.Info(shutdownCtx, "server stopped gracefully")
	return nil
}
