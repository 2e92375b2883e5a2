package roadchecksdk

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

// Client is a minimal Roadcheck HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Document groups evidence attached to a plan.
type Document struct {
	TextDocs    []TextDoc `json:"textDocs"`
	Attachments []string  `json:"attachments"`
}

// TextDoc is a labelled note inside a document.
type TextDoc struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// UserRef identifies a user joined onto a plan's ownership fields.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Plan represents the API inspection plan model.
type Plan struct {
	ID                  string     `json:"id"`
	Vehicle             string     `json:"vehicle"`
	RoadWorthinessScore string     `json:"roadWorthinessScore"`
	OverallTrafficScore string     `json:"overallTrafficScore"`
	ActionRequired      string     `json:"actionRequired"`
	Documents           []Document `json:"documents"`
	CreatedBy           string     `json:"createdBy"`
	AssignedTo          string     `json:"assignedTo"`
	CreatedAt           string     `json:"createdAt"`
	UpdatedAt           string     `json:"updatedAt"`
	CreatedByUser       *UserRef   `json:"createdByUser,omitempty"`
	AssignedToUser      *UserRef   `json:"assignedToUser,omitempty"`
}

// CreatePlanInput is the payload for CreatePlan.
type CreatePlanInput struct {
	Vehicle             string     `json:"vehicle"`
	RoadWorthinessScore string     `json:"roadWorthinessScore"`
	OverallTrafficScore string     `json:"overallTrafficScore"`
	ActionRequired      *string    `json:"actionRequired,omitempty"`
	Documents           []Document `json:"documents,omitempty"`
	AssignedTo          *string    `json:"assignedTo,omitempty"`
}

// UpdatePlanInput is the payload for UpdatePlan. Nil fields are left
// unchanged.
type UpdatePlanInput struct {
	Vehicle             *string     `json:"vehicle,omitempty"`
	RoadWorthinessScore *string     `json:"roadWorthinessScore,omitempty"`
	OverallTrafficScore *string     `json:"overallTrafficScore,omitempty"`
	ActionRequired      *string     `json:"actionRequired,omitempty"`
	Documents           *[]Document `json:"documents,omitempty"`
	AssignedTo          *string     `json:"assignedTo,omitempty"`
}

// APIError wraps non-2xx responses, decoding the error envelope when
// present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListPlans returns the plans visible to the authenticated identity.
func (c *Client) ListPlans(ctx context.Context) ([]Plan, error) {
	var resp struct {
		Count int    `json:"count"`
		Items []Plan `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "plans", nil, &resp)
	return resp.Items, err
}

// GetPlan fetches a plan by id.
func (c *Client) GetPlan(ctx context.Context, id string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, "plans/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreatePlan creates an inspection plan.
func (c *Client) CreatePlan(ctx context.Context, input CreatePlanInput) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, "plans", input, &resp)
	return resp, err
}

// UpdatePlan patches a plan by id.
func (c *Client) UpdatePlan(ctx context.Context, id string, input UpdatePlanInput) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPatch, "plans/"+url.PathEscape(id), input, &resp)
	return resp, err
}

// DeletePlan removes a plan by id.
func (c *Client) DeletePlan(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "plans/"+url.PathEscape(id), nil, nil)
}

// Me returns the identity the server resolved from the credentials.
func (c *Client) Me(ctx context.Context) (UserRef, error) {
	var resp UserRef
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// DevLogin mints a token for a known username. The endpoint only
// exists on servers run with a dev secret.
func (c *Client) DevLogin(ctx context.Context, username string) (string, error) {
	body := map[string]string{"username": username}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
