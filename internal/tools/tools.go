// Package tools invokes the side-effecting capabilities that agent plan
// steps call: resume parsing and generation, job search, application
// submission, and form analysis. Each invocation runs under a per-tool
// deadline; a blown deadline surfaces as a typed *TimeoutError so the
// dispatch layer retries it instead of failing the event outright.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Tool IDs. Each resolves to one capability of the tool service.
const (
	ToolResumeParse    = "resume.parse"
	ToolResumeGenerate = "resume.generate"
	ToolJobSearch      = "job.search"
	ToolJobApply       = "job.apply"
	ToolFormAnalyze    = "form.analyze"
)

// Deadline defaults. Long-form document generation gets a bigger budget
// than the interactive tools.
const (
	DefaultTimeout    = 30 * time.Second
	GenerationTimeout = 90 * time.Second
)

// Result is the outcome of one tool invocation.
type Result struct {
	ToolID     string         `json:"tool_id"`
	Output     map[string]any `json:"output"`
	DurationMs int64          `json:"duration_ms"`
}

// TimeoutError reports a tool invocation that blew its deadline.
type TimeoutError struct {
	ToolID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.ToolID, e.Timeout)
}

// Transient marks the timeout as retryable for the dispatch error taxonomy.
func (e *TimeoutError) Transient() bool { return true }

// IsTimeout reports whether err is a tool deadline failure.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Executor invokes a tool by ID with a JSON-shaped argument map.
type Executor interface {
	Execute(ctx context.Context, toolID string, args map[string]any) (*Result, error)
}

// TimeoutFor returns the deadline for a tool ID, honouring per-tool
// overrides from config.
func TimeoutFor(toolID string, overrides map[string]time.Duration) time.Duration {
	if d, ok := overrides[toolID]; ok && d > 0 {
		return d
	}
	if toolID == ToolResumeGenerate {
		return GenerationTimeout
	}
	return DefaultTimeout
}

// toolPaths maps tool IDs to the tool service's HTTP routes.
var toolPaths = map[string]string{
	ToolResumeParse:    "/parse-resume",
	ToolResumeGenerate: "/generate-resume",
	ToolJobSearch:      "/search-jobs",
	ToolJobApply:       "/apply",
	ToolFormAnalyze:    "/analyze-form",
}

// HTTPExecutor invokes tools over the tool service's JSON API.
type HTTPExecutor struct {
	baseURL  string
	client   *http.Client
	timeouts map[string]time.Duration
}

// NewHTTPExecutor creates an executor against the tool service at baseURL.
// timeouts may be nil to use the defaults.
func NewHTTPExecutor(baseURL string, timeouts map[string]time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL:  baseURL,
		client:   &http.Client{},
		timeouts: timeouts,
	}
}

// Execute POSTs the argument map to the tool's route and decodes the JSON
// response body into Result.Output.
func (e *HTTPExecutor) Execute(ctx context.Context, toolID string, args map[string]any) (*Result, error) {
	path, ok := toolPaths[toolID]
	if !ok {
		return nil, fmt.Errorf("unknown tool ID %q", toolID)
	}

	timeout := TimeoutFor(toolID, e.timeouts)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments for %s: %w", toolID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", toolID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{ToolID: toolID, Timeout: timeout}
		}
		return nil, fmt.Errorf("calling tool %s: %w", toolID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tool %s response: %w", toolID, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool %s returned HTTP %d: %s", toolID, resp.StatusCode, truncate(respBody, 512))
	}

	output := make(map[string]any)
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &output); err != nil {
			return nil, fmt.Errorf("decoding tool %s response: %w", toolID, err)
		}
	}

	return &Result{
		ToolID:     toolID,
		Output:     output,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
