package workflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ameen-91/exray/internal/platform/env"
)

type Config struct {
	// BaseURL of the engine's REST API, scheme included.
	BaseURL   string
	Namespace string

	// Timeout bounds every query call; SubmitTimeout bounds submissions,
	// which the engine admits more slowly.
	Timeout       time.Duration
	SubmitTimeout time.Duration

	// InsecureSkipTLSVerify accepts the engine's self-signed certificate.
	// Port-forwarded dev clusters need this.
	InsecureSkipTLSVerify bool
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("EXRAY_ENGINE_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	submitTimeout, err := env.Duration("EXRAY_ENGINE_SUBMIT_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	insecure, err := env.Bool("EXRAY_ENGINE_INSECURE_SKIP_TLS_VERIFY", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:               env.String("EXRAY_ENGINE_URL", "https://localhost:2746"),
		Namespace:             env.String("EXRAY_ENGINE_NAMESPACE", "argo"),
		Timeout:               timeout,
		SubmitTimeout:         submitTimeout,
		InsecureSkipTLSVerify: insecure,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("engine base url is required")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		return fmt.Errorf("engine namespace is required")
	}
	if c.Timeout <= 0 || c.SubmitTimeout <= 0 {
		return fmt.Errorf("engine timeouts must be positive")
	}
	return nil
}

// Client is the workflow engine client. All calls are blocking with a short
// fixed timeout; a timeout or transport error surfaces as an error, never a
// silent empty result.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipTLSVerify, //nolint:gosec
			MinVersion:         tls.VersionTLS12,
		},
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport},
	}, nil
}

func (c *Client) workflowsURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v1/workflows/" + c.cfg.Namespace
}

// Submit sends a filled spec to the engine. Any non-2xx response is an
// EngineError; callers must not assume a partial success left a workflow
// behind on the engine side.
func (c *Client) Submit(ctx context.Context, spec *Spec) (Submission, error) {
	body, err := json.Marshal(map[string]any{"workflow": spec})
	if err != nil {
		return Submission{}, fmt.Errorf("encode workflow spec: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.workflowsURL(), bytes.NewReader(body))
	if err != nil {
		return Submission{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Submission{}, fmt.Errorf("submit workflow: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return Submission{}, fmt.Errorf("read submit response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Submission{}, &EngineError{Op: "submit", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var doc Document
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return Submission{}, fmt.Errorf("decode submit response: %w", err)
	}
	namespace := doc.Metadata.Namespace
	if namespace == "" {
		namespace = c.cfg.Namespace
	}
	return Submission{
		EngineName:  doc.Metadata.Name,
		Namespace:   namespace,
		SubmittedAt: doc.Metadata.CreationTimestamp,
	}, nil
}

// Get fetches a workflow document by engine name. A 404 from the engine is
// reported as (nil, nil), not an error.
func (c *Client) Get(ctx context.Context, name string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.workflowsURL()+"/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch workflow %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &EngineError{Op: "get", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", name, err)
	}
	return &doc, nil
}

// Ping verifies the engine API is reachable and answering. It lists at most
// one workflow; the result is discarded.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.workflowsURL()+"?listOptions.limit=1", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping engine: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &EngineError{Op: "ping", StatusCode: resp.StatusCode}
	}
	return nil
}

// LogOptions narrows a log fetch. Zero values mean the whole workflow,
// default container, no tail limit.
type LogOptions struct {
	PodName   string
	Container string
	TailLines int
}

// Logs fetches log text for a workflow, optionally scoped to one pod and
// container. The engine streams framed JSON lines; the frames are unwrapped
// into plain text.
func (c *Client) Logs(ctx context.Context, name string, opts LogOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	if opts.PodName != "" {
		q.Set("podName", opts.PodName)
	}
	if opts.Container != "" {
		q.Set("logOptions.container", opts.Container)
	}
	if opts.TailLines > 0 {
		q.Set("logOptions.tailLines", strconv.Itoa(opts.TailLines))
	}

	logURL := c.workflowsURL() + "/" + url.PathEscape(name) + "/log"
	if encoded := q.Encode(); encoded != "" {
		logURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch logs for %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read logs for %s: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &EngineError{Op: "logs", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return decodeLogStream(body), nil
}

// decodeLogStream unwraps the engine's NDJSON log frames
// ({"result":{"content":"..."}} per line); lines that are not frames pass
// through untouched.
func decodeLogStream(body []byte) string {
	type frame struct {
		Result struct {
			Content string `json:"content"`
		} `json:"result"`
	}

	lines := strings.Split(string(body), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(trimmed), &f); err == nil && f.Result.Content != "" {
			out = append(out, f.Result.Content)
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
