package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/korimako/fieldtest/internal/shared"
)

// PrincipalType discriminates the two login types the service knows about.
type PrincipalType string

const (
	UserPrincipal   PrincipalType = "user"
	DevicePrincipal PrincipalType = "device"
)

// Client is the authenticated base client shared by [UserClient] and
// [DeviceClient]. It owns the credential state and bearer-token session for
// exactly one principal.
//
// A Client is not safe for concurrent use: re-login replaces the session
// token in place. Give each concurrent worker its own Client.
type Client struct {
	baseURL    string
	loginType  PrincipalType
	name       string
	password   string
	token      string
	id         int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for one principal. The client holds no session
// until Login or Register succeeds.
func NewClient(baseURL string, loginType PrincipalType, name, password string) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:1080"
	}
	return &Client{
		baseURL:    baseURL,
		loginType:  loginType,
		name:       name,
		password:   password,
		httpClient: http.DefaultClient,
	}
}

// SetHTTPClient replaces the transport, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

// SetRateLimit throttles all outgoing calls to rps requests per second.
// Zero or negative disables throttling.
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
}

// Name returns the principal's login name.
func (c *Client) Name() string {
	return c.name
}

// Token returns the current session token, empty before authentication.
func (c *Client) Token() string {
	return c.token
}

// credentials builds the login payload. With an email the service matches on
// email instead of the {type}name field.
func (c *Client) credentials(email string) map[string]any {
	if email != "" {
		return map[string]any{"email": email, "password": c.password}
	}
	return map[string]any{string(c.loginType) + "name": c.name, "password": c.password}
}

// Login authenticates against POST /authenticate_{type} and stores the
// returned session token. A 422 here means the name or password shape itself
// was rejected, which almost always indicates a test setup mistake, so the
// error calls that out instead of the generic taxonomy.
func (c *Client) Login(ctx context.Context) error {
	return c.login(ctx, "")
}

// LoginWithEmail authenticates with the principal's email instead of name.
func (c *Client) LoginWithEmail(ctx context.Context, email string) error {
	return c.login(ctx, email)
}

func (c *Client) login(ctx context.Context, email string) error {
	resp, err := c.send(ctx, http.MethodPost, "/authenticate_"+string(c.loginType), nil, c.credentials(email), false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: could not log on as %q, check %s name",
			shared.ErrLoginFailed, c.name, c.loginType)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	return c.storeToken(resp)
}

// Register creates the principal via POST /api/v1/{type}s and captures the
// session token, behaving like a login on success. A name collision surfaces
// as *UnprocessableError; the caller owns any retry policy.
func (c *Client) Register(ctx context.Context, group, email string) error {
	payload := c.credentials("")
	if group != "" {
		payload["group"] = group
	}
	if email != "" {
		payload["email"] = email
	}

	resp, err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/%ss", c.loginType), nil, payload, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	return c.storeToken(resp)
}

func (c *Client) storeToken(resp *http.Response) error {
	var body struct {
		Token string `json:"token"`
		ID    int    `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	if body.Token == "" {
		return fmt.Errorf("%w: auth response carried no token", shared.ErrNotAuthenticated)
	}
	// Re-authentication replaces the prior session.
	c.token = body.Token
	c.id = body.ID
	return nil
}

// ID returns the server-assigned principal id, zero until a login or
// registration returns one.
func (c *Client) ID() int {
	return c.id
}

// send issues one HTTP request. JSON-encodes body when non-nil and attaches
// the session token when authed is true.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, authed bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.token == "" {
			return nil, shared.ErrNotAuthenticated
		}
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// do issues an authenticated request, maps the response through the error
// taxonomy, and decodes the body into result when both are non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	resp, err := c.send(ctx, method, path, query, body, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
