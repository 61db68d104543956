package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

var (
	// ErrInsecureScriptURL rejects install scripts not served over https.
	ErrInsecureScriptURL = errors.New("install script URL must use https")
	// ErrInvalidScript rejects a download that does not parse as a shell script.
	ErrInvalidScript = errors.New("install script is not a valid shell script")
)

const maxScriptSize = 4 << 20

type ollamaInstallStage struct{}

func (ollamaInstallStage) Name() string        { return "ollama-install" }
func (ollamaInstallStage) Description() string { return "Ollama binary" }
func (ollamaInstallStage) Target() State       { return StateServerInstalled }

// Run keeps an existing ollama binary or pipes the official install script
// into sh.
func (ollamaInstallStage) Run(ctx context.Context, s *Session) error {
	binary := s.Config.Ollama.Binary
	if path, err := s.Runner.LookPath(binary); err == nil {
		out, err := s.Output(ctx, binary, "--version")
		if err != nil {
			s.Logger.Warn("could not read ollama version", "path", path, "err", err)
		}
		version := versionLine(out)
		s.Logger.Info("ollama already installed", "path", path, "version", version)
		if version == "" {
			s.Skip("already installed")
		} else {
			s.Skip("already installed: " + version)
		}
		return nil
	}

	scriptURL := s.Config.Ollama.InstallScriptURL
	if s.Config.DryRun {
		fmt.Fprintf(s.Stdout, "+ curl -fsSL %s | sh\n", scriptURL)
		return nil
	}
	script, err := fetchInstallScript(ctx, s.HTTP, scriptURL)
	if err != nil {
		return err
	}
	s.Logger.Info("running install script", "url", scriptURL, "bytes", len(script))
	if err := s.ExecInput(ctx, script, "sh", "-s"); err != nil {
		return fmt.Errorf("run install script: %w", err)
	}
	s.Note("installed from " + scriptURL)
	return nil
}

// fetchInstallScript downloads the script over https and checks that it parses
// before anything executes it.
func fetchInstallScript(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse install script URL: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInsecureScriptURL, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch install script: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch install script: %s responded with %s", rawURL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return "", fmt.Errorf("read install script: %w", err)
	}
	script := string(data)
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: empty body", ErrInvalidScript)
	}
	if _, err := syntax.NewParser().Parse(strings.NewReader(script), "install.sh"); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return script, nil
}

// versionLine picks the version out of `ollama --version`, which prints
// connection warnings first when no server is running.
func versionLine(out string) string {
	out = strings.TrimSpace(out)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "version is") {
			return strings.TrimPrefix(line, "Warning: ")
		}
	}
	return out
}
