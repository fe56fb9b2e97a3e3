package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/config"
)

// Request carries one page image and its inference parameters to the model.
type Request struct {
	Prompt    string
	ImageData []byte
	Mode      ModeConfig
}

// Runner invokes the OCR model for a single page image and returns the raw
// annotated output text.
type Runner interface {
	Infer(ctx context.Context, req Request) (string, error)
}

// Error wraps a failure of the underlying model invocation.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("model invocation failed: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type inferenceRequest struct {
	Prompt       string `json:"prompt"`
	ImageB64     string `json:"image_base64"`
	BaseSize     int    `json:"base_size"`
	ImageSize    int    `json:"image_size"`
	CropMode     bool   `json:"crop_mode"`
	TestCompress bool   `json:"test_compress"`
}

type inferenceResponse struct {
	Text string `json:"text"`
}

// HTTPRunner talks to the model service over its fixed JSON contract.
type HTTPRunner struct {
	endpoint    string
	client      *http.Client
	maxAttempts int
}

// NewHTTPRunner creates a runner for the configured model endpoint.
func NewHTTPRunner(cfg config.ModelConfig) *HTTPRunner {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPRunner{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxAttempts: attempts,
	}
}

// Infer sends the page image to the model service. Empty responses are retried
// a bounded number of times before being returned as-is.
func (r *HTTPRunner) Infer(ctx context.Context, req Request) (string, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		text, err := r.invoke(ctx, req)
		if err != nil {
			return "", &Error{Err: err}
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return "", &Error{Err: ctx.Err()}
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	return "", nil
}

func (r *HTTPRunner) invoke(ctx context.Context, req Request) (string, error) {
	payload := inferenceRequest{
		Prompt:       req.Prompt,
		ImageB64:     base64.StdEncoding.EncodeToString(req.ImageData),
		BaseSize:     req.Mode.BaseSize,
		ImageSize:    req.Mode.ImageSize,
		CropMode:     req.Mode.CropMode,
		TestCompress: req.Mode.TestCompress,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("model service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding model response: %w", err)
	}
	return out.Text, nil
}
