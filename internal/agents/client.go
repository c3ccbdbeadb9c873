package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// ErrUnreachable marks a delegation that failed at the transport layer
// before the agent produced any response.
var ErrUnreachable = errors.New("agent unreachable")

// Task is the normalized request forwarded to a specialist agent.
type Task struct {
	RequestID  string  `json:"request_id"`
	SessionID  string  `json:"session_id"`
	Intent     string  `json:"intent"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// TaskResult is the agent's response.
type TaskResult struct {
	Response string        `json:"response"`
	Latency  time.Duration `json:"-"`
}

// Client invokes specialist agents over HTTP. Each call carries a bounded
// timeout; the engine wraps invocations with the circuit breaker keyed by
// agent name.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates an agent client. timeout bounds every delegation call
// end to end; per-call contexts may shorten it further.
func NewClient(timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Invoke forwards a task to the agent's endpoint and decodes its reply.
func (c *Client) Invoke(ctx context.Context, reg types.AgentRegistration, task *Task) (*TaskResult, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task for agent %s: %w", reg.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for agent %s: %w", reg.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.logger.WithError(err).WithField("agent", reg.Name).Warn("Agent invocation failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, reg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent %s returned status %d", reg.Name, resp.StatusCode)
	}

	var result TaskResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("agent %s returned invalid response: %w", reg.Name, err)
	}
	result.Latency = latency

	c.logger.WithFields(logrus.Fields{
		"agent":       reg.Name,
		"intent":      task.Intent,
		"duration_ms": latency.Milliseconds(),
	}).Debug("Agent invocation succeeded")

	return &result, nil
}
