// Package extract is the client for the external extraction service that
// reads an organization's official site and proposes variable values for
// one service.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/almanac/internal/models"
)

// DefaultTimeout bounds one extraction call.
const DefaultTimeout = 5 * time.Minute

// Extractor proposes variable values for one (organization, service).
type Extractor interface {
	FetchServiceVariables(ctx context.Context, orgName, serviceID, officialURL string) (*Result, error)
}

// Variable is one extracted value. A nil Value means the variable was
// searched for and not found.
type Variable struct {
	VariableName string    `json:"variable_name"`
	Value        *string   `json:"value"`
	Confidence   float64   `json:"confidence"`
	SourceURL    string    `json:"source_url"`
	ExtractedAt  time.Time `json:"extracted_at"`
}

// Error is a problem the extractor hit for one variable or the whole call.
type Error struct {
	VariableName string `json:"variable_name,omitempty"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
}

// Result is the outcome of one extraction call.
type Result struct {
	Success     bool                `json:"success"`
	Variables   []Variable          `json:"variables"`
	Errors      []Error             `json:"errors"`
	Suggestions []models.Suggestion `json:"suggestions,omitempty"`
}

// FirstError returns the message of the first reported error, or a generic
// one.
func (r *Result) FirstError() string {
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return "extraction failed"
}

// Filled returns the variables that carry a non-empty value.
func (r *Result) Filled() map[string]models.DraftVariable {
	out := make(map[string]models.DraftVariable)
	for _, v := range r.Variables {
		if v.Value == nil || *v.Value == "" {
			continue
		}
		conf := v.Confidence
		at := v.ExtractedAt
		out[v.VariableName] = models.DraftVariable{
			Value:       *v.Value,
			SourceURL:   v.SourceURL,
			Confidence:  &conf,
			ExtractedAt: &at,
		}
	}
	return out
}

// Missing returns the variables reported without a value.
func (r *Result) Missing() []string {
	var out []string
	for _, v := range r.Variables {
		if v.Value == nil || *v.Value == "" {
			out = append(out, v.VariableName)
		}
	}
	return out
}

// DraftErrors converts the reported errors for storage on a draft.
func (r *Result) DraftErrors() []models.DraftError {
	now := time.Now()
	out := make([]models.DraftError, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, models.DraftError{Code: e.Code, Message: e.Message, VariableName: e.VariableName, Timestamp: now})
	}
	return out
}

// APIError is returned for a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extract: HTTP %d: %s", e.StatusCode, e.Message)
}

type request struct {
	OrgName     string `json:"org_name"`
	ServiceID   string `json:"service_id"`
	OfficialURL string `json:"official_url,omitempty"`
}

// HTTPClient posts extraction requests to <endpoint>/extract.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewHTTPClient creates a client for the service at endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchServiceVariables asks the service to extract serviceID's variables
// for the organization.
func (c *HTTPClient) FetchServiceVariables(ctx context.Context, orgName, serviceID, officialURL string) (*Result, error) {
	body, err := json.Marshal(request{OrgName: orgName, ServiceID: serviceID, OfficialURL: officialURL})
	if err != nil {
		return nil, fmt.Errorf("extract: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract: %s/%s: %w", orgName, serviceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("extract: decode response: %w", err)
	}
	return &res, nil
}
