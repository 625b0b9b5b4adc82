// Package ocrclient sends page images to an OpenAI-compatible vision
// endpoint and returns the recognized markdown.
package ocrclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"docpipe/pkg/backoff"
)

// ErrEmptyResponse is returned when the endpoint answers without content.
var ErrEmptyResponse = errors.New("empty OCR response")

// StatusError is a non-2xx answer from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("OCR endpoint returned %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether a status is worth retrying.
func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Request describes one image to recognize.
type Request struct {
	Model  string
	Prompt string
	Image  []byte // PNG
}

// Client talks to one endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// New creates a client. cfg.Endpoint must be set.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, errors.New("OCR endpoint is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{cfg: cfg, http: &http.Client{}, log: logger}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Recognize sends one image and returns the raw model output. Transient
// failures are retried with backoff.
func (c *Client) Recognize(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Image)}},
			},
		}},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var content string
	err = backoff.Retry(ctx, c.cfg.MaxRetries+1, &backoff.Config{Initial: c.cfg.InitialBackoff, Max: c.cfg.MaxBackoff, Jitter: 0.2},
		func(ctx context.Context) error {
			var err error
			content, err = c.post(ctx, body)
			var se *StatusError
			if errors.As(err, &se) && !se.retryable() {
				return backoff.Permanent(err)
			}
			return err
		},
		func(attempt int, err error) {
			c.log.Warn("OCR request failed, retrying", "attempt", attempt, "model", req.Model, "error", err)
		})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read OCR response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode OCR response: %w", err))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}
