//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
)

// Client wraps HTTP access to the fashion-recommendation pipeline service.
type Client struct {
	// baseURL is the root URL of the deployed service.
	baseURL string
	// httpClient performs the requests.
	httpClient *http.Client

	// callTimeout is the default timeout for individual calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

var (
	// errBaseURLRequired is returned when a required base URL value is missing.
	errBaseURLRequired = errors.New("base URL must be provided")
	// errInputPathRequired is returned when an evaluation is requested without an input.
	errInputPathRequired = errors.New("input path must be provided")
	// ErrUnhealthy is returned when the service health endpoint does not answer 200.
	ErrUnhealthy = errors.New("service is not healthy")
)

// Item is one detected clothing item with its recommendations.
type Item struct {
	// Type is the human-readable item kind, e.g. "T-shirt".
	Type string `json:"type"`
	// BBox is the bounding box as [x1, y1, x2, y2]; empty for overall entries.
	BBox []float64 `json:"bbox,omitempty"`
	// Recommendations are the styling suggestions for this item.
	Recommendations []string `json:"recommendations"`
}

// Evaluation is the response of the service's evaluate endpoint.
// The wire format is a flat JSON object keyed by detected-item id with two
// reserved keys: "overall_outfit" and "annotated_image".
type Evaluation struct {
	// Items maps detected-item ids to their analysis.
	Items map[string]Item
	// OverallOutfit carries recommendations for the outfit as a whole.
	OverallOutfit *Item
	// AnnotatedImage is the path to the rendered annotated image.
	AnnotatedImage string
}

// UnmarshalJSON decodes the flat map contract into the structured Evaluation.
func (e *Evaluation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Items = make(map[string]Item, len(raw))

	for key, value := range raw {
		switch key {
		case "annotated_image":
			if err := json.Unmarshal(value, &e.AnnotatedImage); err != nil {
				return fmt.Errorf("annotated_image: %w", err)
			}
		case "overall_outfit":
			var overall Item
			if err := json.Unmarshal(value, &overall); err != nil {
				return fmt.Errorf("overall_outfit: %w", err)
			}

			e.OverallOutfit = &overall
		default:
			var item Item
			if err := json.Unmarshal(value, &item); err != nil {
				return fmt.Errorf("item %s: %w", key, err)
			}

			e.Items[key] = item
		}
	}

	return nil
}

// NewClient creates a client for the pipeline service at the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	client := &Client{
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Health probes the service health endpoint.
// Any transport error or non-200 status means unhealthy.
func (c *Client) Health(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %s", ErrUnhealthy, response.Status)
	}

	return nil
}

// Evaluate submits an image path or URL for outfit analysis.
func (c *Client) Evaluate(ctx context.Context, inputPath string) (*Evaluation, error) {
	if inputPath == "" {
		return nil, errInputPathRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]string{"input_path": inputPath})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		callCtx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build evaluate request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read evaluate response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		var serviceError struct {
			Error string `json:"error"`
		}

		if err = json.Unmarshal(payload, &serviceError); err == nil && serviceError.Error != "" {
			return nil, fmt.Errorf("evaluate failed: %s", serviceError.Error)
		}

		return nil, fmt.Errorf("evaluate failed: status %s", response.Status)
	}

	var evaluation Evaluation
	if err = json.Unmarshal(payload, &evaluation); err != nil {
		return nil, fmt.Errorf("decode evaluate response: %w", err)
	}

	return &evaluation, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
