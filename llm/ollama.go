package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultEndpoint is where a local Ollama server listens.
const DefaultEndpoint = "http://localhost:11434"

var (
	// ErrServerNotReady is returned when the server does not answer within the
	// readiness window.
	ErrServerNotReady = errors.New("ollama server not ready")
	// ErrPullFailed is returned when the server reports an error while pulling.
	ErrPullFailed = errors.New("ollama pull failed")
)

// Client talks to the Ollama HTTP API.
type Client struct {
	Endpoint     string
	ProbeTimeout time.Duration
	client       *http.Client
}

// PullProgress is one status line of a streaming pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Fraction reports download progress in [0,1], or -1 when the line carries no
// byte counts.
func (p PullProgress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// NewClient builds a new Ollama client.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint:     strings.TrimSuffix(endpoint, "/"),
		ProbeTimeout: 2 * time.Second,
		client:       &http.Client{},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Ping reports whether the server answers on its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.probe(ctx, "/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ollama responded with %s", resp.Status)
	}
	return nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.probe(ctx, "/api/version")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama responded with %s", resp.Status)
	}
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Version, nil
}

// Models lists the locally available model tags, sorted.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	resp, err := c.probe(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ollama responded with %s", resp.Status)
	}
	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		if m.Name != "" {
			models = append(models, m.Name)
		}
	}
	sort.Strings(models)
	return models, nil
}

// WaitReady polls Ping every interval until it succeeds or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastErr error
	for {
		if lastErr = c.Ping(ctx); lastErr == nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %s: %v", ErrServerNotReady, timeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pull downloads a model through the streaming pull API. onProgress receives
// every status line.
func (c *Client) Pull(ctx context.Context, model string, onProgress func(PullProgress)) error {
	body, err := json.Marshal(map[string]any{
		"model":  model,
		"stream": true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s: %s %s", ErrPullFailed, model, resp.Status, strings.TrimSpace(string(detail)))
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sawSuccess := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var progress PullProgress
		if err := json.Unmarshal(line, &progress); err != nil {
			return fmt.Errorf("decode pull status: %w", err)
		}
		if progress.Error != "" {
			return fmt.Errorf("%w: %s: %s", ErrPullFailed, model, progress.Error)
		}
		if progress.Status == "success" {
			sawSuccess = true
		}
		if onProgress != nil {
			onProgress(progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if !sawSuccess {
		return fmt.Errorf("%w: %s: stream ended before success", ErrPullFailed, model)
	}
	return nil
}

func (c *Client) probe(ctx context.Context, path string) (*http.Response, error) {
	timeout := c.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, c.Endpoint+path, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
