package execution

import (
	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/store"
)

// New builds the strategy selected by cfg.Mode. A nil dispatcher always
// yields the sequential strategy.
func New(cfg config.ExecutionConfig, files store.Files, d Dispatcher, a agent.Agent, logger *logging.Logger) Strategy {
	seq := NewSequential(a, logger)
	if d == nil || cfg.Mode == config.ModeSequential {
		return seq
	}
	del := NewDelegated(files, d, cfg.PollInterval.Duration(), cfg.MaxWait.Duration(), logger)
	if cfg.Mode == config.ModeDelegated {
		return del
	}
	return NewFallback(del, seq, d, logger)
}
