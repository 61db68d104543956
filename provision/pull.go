package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/lexcodex/devprovision/llm"
)

// Puller downloads one model into the running server.
type Puller interface {
	Pull(ctx context.Context, model string) error
}

func newPuller(s *Session) Puller {
	if s.Config.Models.PullMode == PullModeAPI {
		return &apiPuller{
			session: s,
			bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		}
	}
	return cliPuller{session: s}
}

// cliPuller shells out to `ollama pull` and lets it draw its own progress.
type cliPuller struct {
	session *Session
}

func (p cliPuller) Pull(ctx context.Context, model string) error {
	return p.session.Exec(ctx, p.session.Config.Ollama.Binary, "pull", model)
}

// apiPuller drives the streaming pull endpoint and renders a progress bar.
type apiPuller struct {
	session *Session
	bar     progress.Model
}

func (p *apiPuller) Pull(ctx context.Context, model string) error {
	out := p.session.Stdout
	if p.session.Config.DryRun {
		fmt.Fprintf(out, "+ POST %s/api/pull model=%s\n", p.session.Ollama.Endpoint, model)
		return nil
	}
	var lastStatus string
	inBar := false
	err := p.session.Ollama.Pull(ctx, model, func(update llm.PullProgress) {
		if f := update.Fraction(); f >= 0 {
			fmt.Fprintf(out, "\r%s %s", p.bar.ViewAs(f), shortDigest(update.Digest))
			inBar = true
			return
		}
		if update.Status == lastStatus {
			return
		}
		if inBar {
			fmt.Fprintln(out)
			inBar = false
		}
		lastStatus = update.Status
		fmt.Fprintln(out, update.Status)
	})
	if inBar {
		fmt.Fprintln(out)
	}
	return err
}

func shortDigest(digest string) string {
	digest = strings.TrimPrefix(digest, "sha256:")
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
