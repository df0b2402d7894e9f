package pulsar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ndopj/tesp-api-go/internal/functional"
	"github.com/ndopj/tesp-api-go/internal/metrics"
)

// RestOperations talks to a Pulsar REST server. Every request is routed
// through a circuit breaker so that a Pulsar outage fails fast instead of
// piling up blocked handler goroutines. A call the breaker rejects without
// sending it is reported as ErrConnection; a call that is sent keeps the
// error class of its own failure.
type RestOperations struct {
	httpClient         *http.Client
	breaker            *gobreaker.CircuitBreaker
	baseURL            string
	statusPollInterval time.Duration
	statusMaxPolls     int
	logger             *zap.Logger
}

// RestConfig configures a RestOperations client.
type RestConfig struct {
	BaseURL            string
	HTTPClient         *http.Client
	StatusPollInterval time.Duration
	StatusMaxPolls     int
	Logger             *zap.Logger
}

// NewRestOperations returns an Operations backed by a Pulsar REST server.
func NewRestOperations(cfg RestConfig) *RestOperations {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	breakerSettings := gobreaker.Settings{
		Name:        "pulsar-rest",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &RestOperations{
		httpClient:         httpClient,
		breaker:            gobreaker.NewCircuitBreaker(breakerSettings),
		baseURL:            strings.TrimSuffix(cfg.BaseURL, "/"),
		statusPollInterval: cfg.StatusPollInterval,
		statusMaxPolls:     cfg.StatusMaxPolls,
		logger:             cfg.Logger.Named("pulsar"),
	}
}

type responseType int

const (
	responseJSON responseType = iota
	responseBytes
)

// request issues one HTTP call through the circuit breaker and classifies
// any failure as ErrConnection (transport fault) or ErrOperation (anything
// else unexpected). operation labels the call for metrics only.
func (c *RestOperations) request(ctx context.Context, operation, method, path string, query url.Values, body io.Reader, respType responseType) (any, error) {
	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		reqURL := c.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %w", ErrOperation, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read response body: %w", ErrConnection, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %s %s returned status %d", ErrOperation, method, path, resp.StatusCode)
		}

		switch respType {
		case responseBytes:
			return raw, nil
		case responseJSON:
			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return nil, fmt.Errorf("%w: decode json response: %w", ErrOperation, err)
			}
			return decoded, nil
		default:
			return nil, fmt.Errorf("%w: unsupported response type", ErrOperation)
		}
	})
	elapsed := time.Since(start).Seconds()
	if c.breaker.State() == gobreaker.StateOpen {
		metrics.PulsarCircuitBreakerState.Set(1)
	} else {
		metrics.PulsarCircuitBreakerState.Set(0)
	}
	if err != nil {
		// gobreaker wraps ErrOpenState/ErrTooManyRequests itself when the
		// breaker short-circuits before fn runs — those are connection-class
		// failures from the caller's point of view, since no request reached
		// Pulsar at all.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ObservePulsarCall(operation, "connection_error", elapsed)
			return nil, fmt.Errorf("%w: circuit open: %w", ErrConnection, err)
		}
		outcome := "operation_error"
		if errors.Is(err, ErrConnection) {
			outcome = "connection_error"
		}
		metrics.ObservePulsarCall(operation, outcome, elapsed)
		return nil, err
	}
	metrics.ObservePulsarCall(operation, "ok", elapsed)
	return result, nil
}

// SetupJob implements Operations.
func (c *RestOperations) SetupJob(ctx context.Context, id string) (JobConfig, error) {
	result, err := c.request(ctx, "setup_job", http.MethodPost, "/jobs", url.Values{"job_id": {id}}, nil, responseJSON)
	if err != nil {
		return JobConfig{}, err
	}
	decoded := result.(map[string]any)

	outputsDir, ok := decoded["outputs_directory"].(string)
	if !ok {
		return JobConfig{}, fmt.Errorf("%w: setup_job response missing outputs_directory", ErrOperation)
	}
	return JobConfig{OutputsDirectory: outputsDir}, nil
}

// Upload implements Operations.
func (c *RestOperations) Upload(ctx context.Context, id string, ioType DataType, filePath string, content functional.Option[string]) (string, error) {
	query := url.Values{"type": {string(ioType)}, "name": {filePath}}
	var body io.Reader
	if v, ok := content.Get(); ok {
		body = strings.NewReader(v)
	} else {
		body = bytes.NewReader(nil)
	}

	result, err := c.request(ctx, "upload", http.MethodPost, fmt.Sprintf("/jobs/%s/files", id), query, body, responseJSON)
	if err != nil {
		return "", err
	}
	decoded := result.(map[string]any)

	path, ok := decoded["path"].(string)
	if !ok {
		return "", fmt.Errorf("%w: upload response missing path", ErrOperation)
	}
	return path, nil
}

// RunJob implements Operations.
func (c *RestOperations) RunJob(ctx context.Context, id string, commandLine string) (RunResult, error) {
	_, err := c.request(ctx, "run_job", http.MethodPost, fmt.Sprintf("/jobs/%s/submit", id), url.Values{"command_line": {commandLine}}, nil, responseBytes)
	if err != nil {
		return RunResult{}, err
	}

	status, err := c.pollUntilComplete(ctx, id)
	if err != nil {
		return RunResult{}, err
	}

	stdout, _ := status["stdout"].(string)
	stderr, _ := status["stderr"].(string)
	returnCode := 0
	if rc, ok := status["returncode"].(float64); ok {
		returnCode = int(rc)
	}
	return RunResult{Stdout: stdout, Stderr: stderr, ReturnCode: returnCode}, nil
}

func (c *RestOperations) pollUntilComplete(ctx context.Context, id string) (map[string]any, error) {
	for i := 0; i < c.statusMaxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.statusPollInterval):
		}

		result, err := c.request(ctx, "run_job_poll", http.MethodGet, fmt.Sprintf("/jobs/%s/status", id), nil, nil, responseJSON)
		if err != nil {
			return nil, err
		}
		decoded := result.(map[string]any)

		if complete, _ := decoded["complete"].(string); complete == "true" {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: job %s did not complete within %d polls", ErrOperation, id, c.statusMaxPolls)
}

// DownloadOutput implements Operations.
func (c *RestOperations) DownloadOutput(ctx context.Context, id string, fileName string) ([]byte, error) {
	result, err := c.request(ctx, "download_output", http.MethodGet, fmt.Sprintf("/jobs/%s/files", id), url.Values{"name": {fileName}}, nil, responseBytes)
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// EraseJob implements Operations. The cancel step's failure is logged and
// swallowed — the job may already have finished running — but the delete
// step's failure is returned to the caller.
func (c *RestOperations) EraseJob(ctx context.Context, id string) error {
	if _, err := c.request(ctx, "erase_job_cancel", http.MethodPut, fmt.Sprintf("/jobs/%s/cancel", id), nil, nil, responseBytes); err != nil {
		c.logger.Warn("pulsar cancel failed, proceeding to delete", zap.String("job_id", id), zap.Error(err))
	}

	_, err := c.request(ctx, "erase_job_delete", http.MethodDelete, fmt.Sprintf("/jobs/%s", id), nil, nil, responseBytes)
	return err
}
