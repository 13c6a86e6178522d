package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/orchestrator"
	"github.com/fyrsmithlabs/issueforge/internal/session"
)

var runFlags struct {
	owner            string
	repo             string
	issue            int
	title            string
	requirementsFile string
	local            string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one session in the foreground",
	Long: `Run one session for an issue and block until it completes or fails.

With --local the session commits into a git repository on disk instead of
GitHub. Local runs have no comment stream, so they need the llm agent.

Examples:
  # Against GitHub
  issueforge run --owner octo --repo widgets --issue 42 --requirements-file req.md

  # Against a local repository
  ISSUEFORGE_AGENT__PROVIDER=llm OPENAI_API_KEY=sk-xxx \
    issueforge run --owner octo --repo widgets --issue 42 \
    --requirements-file req.md --local ./widgets`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.owner, "owner", "", "repository owner")
	f.StringVar(&runFlags.repo, "repo", "", "repository name")
	f.IntVar(&runFlags.issue, "issue", 0, "issue number")
	f.StringVar(&runFlags.title, "title", "", "issue title (defaults to \"Issue #<n>\")")
	f.StringVar(&runFlags.requirementsFile, "requirements-file", "", "file holding the requirements text, or - for stdin")
	f.StringVar(&runFlags.local, "local", "", "path to a local git repository to use instead of GitHub")
	_ = runCmd.MarkFlagRequired("owner")
	_ = runCmd.MarkFlagRequired("repo")
	_ = runCmd.MarkFlagRequired("issue")
	_ = runCmd.MarkFlagRequired("requirements-file")
}

func readRequirements(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading requirements: %w", err)
	}
	req := strings.TrimSpace(string(data))
	if req == "" {
		return "", fmt.Errorf("requirements are empty")
	}
	return req, nil
}

func runSession(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if runFlags.issue <= 0 {
		return fmt.Errorf("--issue must be positive")
	}
	requirements, err := readRequirements(runFlags.requirementsFile)
	if err != nil {
		return err
	}

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	open := githubStores(rt)
	if runFlags.local != "" {
		if rt.cfg.Agent.Provider != config.AgentLLM {
			return fmt.Errorf("--local requires agent.provider=llm")
		}
		open = localStore(runFlags.local, rt.cfg.GitHub.DefaultBranch)
	} else if !rt.cfg.GitHub.Token.IsSet() {
		return fmt.Errorf("GITHUB_TOKEN not set")
	}
	if err := rt.connect(ctx); err != nil {
		return err
	}

	title := runFlags.title
	if title == "" {
		title = fmt.Sprintf("Issue #%d", runFlags.issue)
	}
	sess := session.New(runFlags.owner, runFlags.repo, runFlags.issue, title, requirements, time.Now())
	env, err := rt.factory(open).NewEnv(ctx, sess)
	if err != nil {
		return err
	}

	ctrl := orchestrator.NewController(sess, env, orchestrator.Options{
		Gate:   rt.cfg.Gate,
		Roster: rt.cfg.Roster,
		Logger: rt.logger.Named("orchestrator"),
	})
	out := cmd.OutOrStdout()
	ctrl.OnProgress(func(p orchestrator.PhaseProgress) {
		fmt.Fprintf(out, "[%3d%%] %-12s %s\n", p.Percentage, p.Phase, p.Message)
	})

	rt.logger.Info(ctx, "session starting", zap.String("session", sess.Key()), zap.String("branch", sess.Branch))
	if err := ctrl.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s finished in phase %s on branch %s\n", sess.Key(), sess.Phase(), sess.Branch)
	return nil
}
