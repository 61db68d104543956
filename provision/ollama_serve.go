package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexcodex/devprovision/framework"
	"github.com/lexcodex/devprovision/llm"
)

type ollamaServeStage struct{}

func (ollamaServeStage) Name() string        { return "ollama-serve" }
func (ollamaServeStage) Description() string { return "Ollama server and models" }
func (ollamaServeStage) Target() State       { return StateModelsReady }

// Run makes sure a server answers on the endpoint and pulls every configured
// model through it, one after the other.
func (ollamaServeStage) Run(ctx context.Context, s *Session) error {
	cfg := s.Config.Ollama
	if cfg.Endpoint != llm.DefaultEndpoint {
		// serve binds and pull connects to OLLAMA_HOST.
		s.Activate("OLLAMA_HOST=" + cfg.Endpoint)
	}
	if err := s.Ollama.Ping(ctx); err == nil {
		s.Logger.Info("ollama server already running", "endpoint", cfg.Endpoint)
		s.Note("server already running")
	} else {
		s.Logger.Info("starting ollama server", "endpoint", cfg.Endpoint, "log", cfg.ServeLog)
		pid, err := s.Runner.Start(framework.BackgroundRequest{
			Workdir: s.Config.Workspace,
			Args:    []string{cfg.Binary, "serve"},
			Env:     s.Env(),
			LogPath: cfg.ServeLog,
		})
		if err != nil {
			return fmt.Errorf("start %s serve: %w", cfg.Binary, err)
		}
		if !s.Config.DryRun {
			if err := s.Ollama.WaitReady(ctx, cfg.ReadyInterval, cfg.ReadyTimeout); err != nil {
				return fmt.Errorf("%w (see %s)", err, cfg.ServeLog)
			}
		}
		s.Note(fmt.Sprintf("started server pid=%d", pid))
	}
	if err := s.Advance(StateServerReady); err != nil {
		return err
	}

	puller := newPuller(s)
	for _, model := range s.Config.Models.Names {
		s.Logger.Info("pulling model", "model", model, "mode", s.Config.Models.PullMode)
		if err := puller.Pull(ctx, model); err != nil {
			return fmt.Errorf("pull %s: %w", model, err)
		}
	}
	if len(s.Config.Models.Names) > 0 {
		s.Note("pulled " + strings.Join(s.Config.Models.Names, ", "))
	}
	return nil
}
