// Package client is a Go client for the gateway HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/quickide/internal/common"
)

// DefaultTimeout bounds a whole request, image transfer included.
const DefaultTimeout = 5 * time.Minute

const apiPrefix = "/api"

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 1 << 20

// Project is a stored code snapshot as returned by the gateway.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateProjectRequest is the payload for creating a project. Empty fields
// are filled with server-side defaults.
type CreateProjectRequest struct {
	Name string  `json:"name,omitempty"`
	Code *string `json:"code,omitempty"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client talks to one gateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the gateway at baseURL (scheme and host, with or
// without the /api prefix). token may be empty for register and login.
func New(baseURL, token string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, apiPrefix)
	c := &Client{
		baseURL: base,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Register creates an account and returns the server's confirmation message.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/auth/register", credentials{Email: email, Password: password}, &out); err != nil {
		return "", fmt.Errorf("client.Register: %w", err)
	}
	return out.Message, nil
}

// Login exchanges credentials for a session token. The token is not stored
// on the client; call SetToken to use it.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/auth/login", credentials{Email: email, Password: password}, &out); err != nil {
		return "", fmt.Errorf("client.Login: %w", err)
	}
	return out.Token, nil
}

// Run sends payload to a JSON stage (parse or compile) and returns the
// compute engine's answer as is.
func (c *Client) Run(ctx context.Context, stage string, payload json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, "/run/"+url.PathEscape(stage), payload, &out); err != nil {
		return nil, fmt.Errorf("client.Run %s: %w", stage, err)
	}
	return out, nil
}

// Parse sends source code to the parse stage. The result is the {ast}
// document, which is also the compile stage's input.
func (c *Client) Parse(ctx context.Context, code string) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, fmt.Errorf("client.Parse: %w", err)
	}
	return c.Run(ctx, "parse", payload)
}

// Compile sends an {ast} document to the compile stage and returns {ir}.
func (c *Client) Compile(ctx context.Context, ast json.RawMessage) (json.RawMessage, error) {
	return c.Run(ctx, "compile", ast)
}

// Visualize renders an {ir} document as a circuit image written to w.
func (c *Client) Visualize(ctx context.Context, ir json.RawMessage, w io.Writer) (int64, error) {
	return c.Render(ctx, "visualize", ir, w)
}

// Simulate runs an {ir} document and writes the result plot to w.
func (c *Client) Simulate(ctx context.Context, ir json.RawMessage, w io.Writer) (int64, error) {
	return c.Render(ctx, "simulate", ir, w)
}

// Render posts payload to an image stage and copies the PNG answer to w.
// A transfer cut short by the gateway surfaces as a read error.
func (c *Client) Render(ctx context.Context, stage string, payload json.RawMessage, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodPost, "/run/"+url.PathEscape(stage), payload)
	if err != nil {
		return 0, fmt.Errorf("client.Render %s: %w", stage, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != common.ImageContentType {
		return 0, fmt.Errorf("client.Render %s: unexpected content type %q", stage, resp.Header.Get("Content-Type"))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("client.Render %s: %w", stage, err)
	}
	return n, nil
}

// CreateProject stores a new project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, in CreateProjectRequest) (*Project, error) {
	var p Project
	if err := c.post(ctx, "/projects", in, &p); err != nil {
		return nil, fmt.Errorf("client.CreateProject: %w", err)
	}
	return &p, nil
}

// ListProjects returns the caller's projects, newest first.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var ps []Project
	if err := c.get(ctx, "/projects", &ps); err != nil {
		return nil, fmt.Errorf("client.ListProjects: %w", err)
	}
	return ps, nil
}

// GetProject fetches one of the caller's projects by ID.
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := c.get(ctx, "/projects/"+url.PathEscape(id), &p); err != nil {
		return nil, fmt.Errorf("client.GetProject: %w", err)
	}
	return &p, nil
}

// Health checks the gateway's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("client.Health: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client.Health: do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client.Health: %w", readHTTPError(resp))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// send performs the request and returns the response only when the status
// is below 400. The caller closes the body.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		var data []byte
		switch b := body.(type) {
		case json.RawMessage:
			data = b
		default:
			var err error
			if data, err = json.Marshal(body); err != nil {
				return nil, fmt.Errorf("marshal body: %w", err)
			}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerScheme+" "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, readHTTPError(resp)
	}
	return resp, nil
}

func readHTTPError(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
	}
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
		return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	msg := strings.TrimSpace(string(respBody))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}
