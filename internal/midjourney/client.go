// Package midjourney is a client for a GoAPI-style Midjourney rendering
// service. Jobs are submitted with one POST and then polled until they reach
// a terminal state.
package midjourney

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/storyforge/storyforge/internal/book"
)

// Sentinel errors for terminal job outcomes. Callers distinguish them with
// errors.Is; none of them is retried automatically by the client.
var (
	// ErrSubmissionFailed is returned when the job could not be submitted
	// or the service did not return a task id.
	ErrSubmissionFailed = errors.New("image job submission failed")

	// ErrRenderFailed is returned when the service reports the job failed.
	ErrRenderFailed = errors.New("image rendering failed")

	// ErrTimedOut is returned when the poll budget is exhausted before the
	// job reaches a terminal state.
	ErrTimedOut = errors.New("image job timed out")
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 48 // ~4 minutes at the default interval
	defaultProcessMode  = "fast"

	submitRetryAttempts = 3
)

// Config holds configuration for the Midjourney client.
type Config struct {
	BaseURL      string
	APIKey       string
	ProcessMode  string        // "fast" (default), "relax", "turbo"
	AspectRatio  string        // optional, e.g. "1:1"
	PollInterval time.Duration // default 5s
	MaxPolls     int           // default 48
	Timeout      time.Duration // per-request HTTP timeout
	HTTPClient   *http.Client  // Optional (tests)
	Logger       *slog.Logger
}

// Client implements the submit-then-poll protocol.
type Client struct {
	baseURL      string
	apiKey       string
	processMode  string
	aspectRatio  string
	pollInterval time.Duration
	maxPolls     int
	httpClient   *http.Client
	logger       *slog.Logger
}

// ImageResult is the outcome of a successful image job.
type ImageResult struct {
	URL    string
	Prompt string // final prompt after sanitization and conditioning suffixes
}

// NewClient creates a new Midjourney client.
func NewClient(cfg Config) *Client {
	if cfg.ProcessMode == "" {
		cfg.ProcessMode = defaultProcessMode
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		processMode:  cfg.ProcessMode,
		aspectRatio:  cfg.AspectRatio,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
	}
}

type imagineRequest struct {
	Prompt          string `json:"prompt"`
	SkipPromptCheck bool   `json:"skip_prompt_check"`
	ProcessMode     string `json:"process_mode"`
	AspectRatio     string `json:"aspect_ratio"`
}

type imagineResponse struct {
	TaskID string `json:"task_id"`
}

type fetchRequest struct {
	TaskID string `json:"task_id"`
}

type fetchResponse struct {
	Status     string `json:"status"`
	TaskResult struct {
		ImageURL           string   `json:"image_url"`
		TemporaryImageURLs []string `json:"temporary_image_urls"`
	} `json:"task_result"`
}

// conditionPrompt appends the conditioning-reference directives. The service
// expects them as trailing prompt tokens, not separate request fields.
func conditionPrompt(prompt string, refs *book.ReferenceSet) string {
	s := SanitizePrompt(prompt)
	if refs == nil {
		return s
	}
	if refs.MainCharacterImageURL != "" {
		s += fmt.Sprintf(" --cref %s --cw 100", refs.MainCharacterImageURL)
	}
	if refs.StyleImageURL != "" {
		s += fmt.Sprintf(" --sref %s", refs.StyleImageURL)
	}
	return s
}

// SubmitAndAwait submits one image job and polls until it reaches a terminal
// state or the poll budget is exhausted. The returned error wraps one of the
// package sentinels; the decision whether a failed job fails the whole book
// belongs to the caller.
func (c *Client) SubmitAndAwait(ctx context.Context, prompt string, refs *book.ReferenceSet) (ImageResult, error) {
	finalPrompt := conditionPrompt(prompt, refs)

	taskID, err := c.submit(ctx, finalPrompt)
	if err != nil {
		return ImageResult{}, err
	}

	c.logger.Info("image job submitted", "task_id", taskID)
	url, err := c.poll(ctx, taskID)
	if err != nil {
		return ImageResult{}, err
	}
	return ImageResult{URL: url, Prompt: finalPrompt}, nil
}

// submit POSTs the job. Transport errors are retried a few times; a response
// without a task id is terminal.
func (c *Client) submit(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(imagineRequest{
		Prompt:      prompt,
		ProcessMode: c.processMode,
		AspectRatio: c.aspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrSubmissionFailed, err)
	}

	var taskID string
	err = retry.Do(
		func() error {
			respBody, status, doErr := c.post(ctx, "/imagine", body)
			if doErr != nil {
				return doErr
			}
			if status < 200 || status >= 300 {
				c.logger.Warn("imagine returned non-2xx", "status", status, "body", string(respBody))
				return retry.Unrecoverable(fmt.Errorf("status %d: %s", status, string(respBody)))
			}

			var ir imagineResponse
			if jsonErr := json.Unmarshal(respBody, &ir); jsonErr != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", jsonErr))
			}
			if ir.TaskID == "" {
				return retry.Unrecoverable(errors.New("no task_id in response"))
			}
			taskID = ir.TaskID
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(submitRetryAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	return taskID, nil
}

// poll re-queries task status on a fixed interval. Only an explicit failed
// status or attempt exhaustion terminates the job unsuccessfully; transport
// errors and non-2xx responses count as transient misses.
func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	body, err := json.Marshal(fetchRequest{TaskID: taskID})
	if err != nil {
		return "", fmt.Errorf("marshal fetch request: %w", err)
	}

	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		respBody, status, doErr := c.post(ctx, "/fetch", body)
		if doErr != nil {
			c.logger.Warn("poll request failed", "task_id", taskID, "attempt", attempt, "error", doErr)
			continue
		}
		if status < 200 || status >= 300 {
			c.logger.Warn("poll returned non-2xx", "task_id", taskID, "attempt", attempt, "status", status)
			continue
		}

		var fr fetchResponse
		if jsonErr := json.Unmarshal(respBody, &fr); jsonErr != nil {
			c.logger.Warn("poll response undecodable", "task_id", taskID, "attempt", attempt, "error", jsonErr)
			continue
		}

		switch fr.Status {
		case "completed", "finished":
			if urls := fr.TaskResult.TemporaryImageURLs; len(urls) > 0 {
				return urls[0], nil
			}
			if fr.TaskResult.ImageURL != "" {
				return fr.TaskResult.ImageURL, nil
			}
			return "", fmt.Errorf("%w: task %s completed without an image URL", ErrRenderFailed, taskID)
		case "failed":
			return "", fmt.Errorf("%w: task %s", ErrRenderFailed, taskID)
		default:
			// processing, pending, staged... keep polling.
		}
	}

	return "", fmt.Errorf("%w: task %s after %d polls", ErrTimedOut, taskID, c.maxPolls)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}
