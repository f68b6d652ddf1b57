package readylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Readyline HTTP API client.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Submission mirrors the onboarding wizard payload.
type Submission struct {
	Email             string   `json:"email"`
	Consent           bool     `json:"consent"`
	Industry          string   `json:"industry,omitempty"`
	WebsiteURL        string   `json:"websiteUrl,omitempty"`
	CompanyName       string   `json:"companyName,omitempty"`
	CompanySize       string   `json:"companySize,omitempty"`
	AIAdoption        string   `json:"aiAdoption,omitempty"`
	AITalent          string   `json:"aiTalent,omitempty"`
	BusinessGoals     []string `json:"businessGoals,omitempty"`
	ResponseSpeed     string   `json:"responseSpeed,omitempty"`
	MissedCalls       string   `json:"missedCalls,omitempty"`
	AdditionalContext string   `json:"additionalContext,omitempty"`
}

// Request represents the API intake request model.
type Request struct {
	ID                   string   `json:"id"`
	Email                string   `json:"email"`
	ConsentAccepted      bool     `json:"consent_accepted"`
	Industry             string   `json:"industry"`
	WebsiteURL           *string  `json:"website_url"`
	CompanyName          *string  `json:"company_name"`
	CompanySize          *string  `json:"company_size"`
	AIAdoptionLevel      *string  `json:"ai_adoption_level"`
	AITalent             *string  `json:"ai_talent"`
	BusinessGoals        []string `json:"business_goals"`
	ResponseSpeedToLeads *string  `json:"response_speed_to_leads"`
	MissedCalls          *string  `json:"missed_calls"`
	AdditionalContext    string   `json:"additional_context"`
	UserID               *string  `json:"user_id"`
	Status               string   `json:"status"`
	CreatedAt            string   `json:"created_at"`
	CompletedAt          *string  `json:"completed_at"`
}

// Report represents a stored readiness report.
type Report struct {
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRequests wraps list responses with cursors.
type PaginatedRequests struct {
	Items      []Request `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// Submit posts one set of readiness answers and returns the request id.
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	var resp struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "v0/ai-readiness", sub, &resp)
	return resp.ID, err
}

// Complete notifies the API that a report finished generating.
func (c *Client) Complete(ctx context.Context, requestID string) error {
	body := map[string]any{"requestId": requestID}
	return c.do(ctx, http.MethodPost, "v0/reports/completed", body, nil)
}

// StoreReport uploads a generated report for a request.
func (c *Client) StoreReport(ctx context.Context, requestID string, payload map[string]any) (Report, error) {
	body := map[string]any{"payload": payload}
	var resp Report
	endpoint := fmt.Sprintf("v0/reports/%s", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// GetReport fetches a stored report by request id.
func (c *Client) GetReport(ctx context.Context, requestID string) (Report, error) {
	var resp Report
	endpoint := fmt.Sprintf("v0/reports/%s", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetRequest fetches an intake request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v0/requests/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Requests returns a page of intake requests, optionally filtered by status.
func (c *Client) Requests(ctx context.Context, status string, limit int, cursor string) (PaginatedRequests, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/requests"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedRequests
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
