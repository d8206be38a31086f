// internal/clients/api_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"fitjourney/internal/booking"
	"fitjourney/internal/catalog"
	"fitjourney/internal/httpx"
	"fitjourney/internal/identity"
)

// APIError is a non-2xx response decoded from the standard error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the fitjourney HTTP API. A Client is bound to at most one
// bearer token; WithToken derives a client for another identity.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Register(ctx context.Context, reg identity.Registration) (*identity.Identity, error) {
	var out identity.Identity
	if err := c.do(ctx, http.MethodPost, "/auth/register", reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*identity.Token, error) {
	in := map[string]string{"username": username, "password": password}
	var out identity.Token
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterAndLogin registers reg and returns a client authenticated as it.
func (c *Client) RegisterAndLogin(ctx context.Context, reg identity.Registration) (*Client, *identity.Identity, error) {
	id, err := c.Register(ctx, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register %s: %w", reg.Username, err)
	}
	tok, err := c.Login(ctx, reg.Username, reg.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to log in %s: %w", reg.Username, err)
	}
	return c.WithToken(tok.Token), id, nil
}

func (c *Client) CreateSession(ctx context.Context, in catalog.SessionInput) (*catalog.Session, error) {
	var out catalog.Session
	if err := c.do(ctx, http.MethodPost, "/trainer/classes", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/trainer/classes/"+id.String(), nil, nil)
}

func (c *Client) SessionBookings(ctx context.Context, sessionID uuid.UUID) ([]booking.ClassBooking, error) {
	var out []booking.ClassBooking
	if err := c.do(ctx, http.MethodGet, "/trainer/classes/"+sessionID.String()+"/bookings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) BookClass(ctx context.Context, sessionID uuid.UUID) (*booking.ClassBooking, error) {
	in := map[string]uuid.UUID{"session_id": sessionID}
	var out booking.ClassBooking
	if err := c.do(ctx, http.MethodPost, "/member/classes/book", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelBooking(ctx context.Context, bookingID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/member/classes/bookings/"+bookingID.String(), nil, nil)
}

func (c *Client) MyBookings(ctx context.Context) ([]booking.ClassBooking, error) {
	var out []booking.ClassBooking
	if err := c.do(ctx, http.MethodGet, "/member/classes/bookings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er httpx.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			apiErr.Code = er.Code
			apiErr.Message = er.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
