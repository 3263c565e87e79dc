// Package homeassistant calls Home Assistant services through the core REST
// API, authenticated with the supervisor token an add-on receives in its
// environment.
//
// Usage:
//
//	c, err := homeassistant.New("http://supervisor/core",
//	    homeassistant.WithTimeout(10*time.Second),
//	)
//	res, err := c.Dispatch(ctx, command.Action{Name: "light.turn_on", EntityID: "light.kitchen"})
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/resilience"
)

// Environment variables holding the API token, in lookup order.
const (
	EnvSupervisorToken = "SUPERVISOR_TOKEN"
	EnvHassioToken     = "HASSIO_TOKEN"
)

var (
	// ErrNoToken is returned by [Client.Dispatch] when no API token is
	// available. It affects only that call.
	ErrNoToken = errors.New("homeassistant: no API token in SUPERVISOR_TOKEN or HASSIO_TOKEN")

	// ErrInvalidAction is returned for an action name that is not in
	// "domain.service" form.
	ErrInvalidAction = errors.New("homeassistant: action is not in domain.service form")
)

// maxMessageBytes bounds how much of a response body ends up in [Result].
const maxMessageBytes = 512

// Result describes the outcome of one service call that reached Home
// Assistant.
type Result struct {
	// OK is true for a 2xx response.
	OK bool

	// Status is the HTTP status code.
	Status int

	// Message is the start of the response body, trimmed.
	Message string
}

// TokenFromEnv returns SUPERVISOR_TOKEN, falling back to HASSIO_TOKEN.
func TokenFromEnv() string {
	if tok := os.Getenv(EnvSupervisorToken); tok != "" {
		return tok
	}
	return os.Getenv(EnvHassioToken)
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each service call. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTokenSource overrides how the API token is obtained. The function is
// called on every dispatch so a token added to the environment later is
// picked up.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.token = fn
		}
	}
}

// WithBreaker guards every call with cb. Connection failures and 5xx
// responses count against it.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// Client dispatches actions to Home Assistant. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	token      func() string
	breaker    *resilience.CircuitBreaker
}

// New creates a [Client] for the API rooted at baseURL, e.g.
// "http://supervisor/core".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("homeassistant: base URL %q is not absolute", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    10 * time.Second,
		token:      TokenFromEnv,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// errServer marks 5xx responses inside the breaker so they count as failures
// while still producing a [Result].
var errServer = errors.New("homeassistant: server error")

// Dispatch calls the service named by a.Name. The JSON body is a.ServiceData
// with entity_id added when a.EntityID is set; an entity_id inside
// ServiceData takes precedence.
//
// A response of any status yields a [Result] and a nil error. Errors are
// returned for invalid actions, a missing token, an open circuit breaker and
// transport failures.
func (c *Client) Dispatch(ctx context.Context, a command.Action) (Result, error) {
	domain, service, ok := strings.Cut(a.Name, ".")
	if !ok || domain == "" || service == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAction, a.Name)
	}
	token := c.token()
	if token == "" {
		return Result{}, ErrNoToken
	}

	body, err := json.Marshal(payload(a))
	if err != nil {
		return Result{}, fmt.Errorf("homeassistant: encode service data for %s: %w", a.Name, err)
	}
	endpoint := c.baseURL + "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)

	var res Result
	call := func(ctx context.Context) error {
		var err error
		res, err = c.post(ctx, endpoint, token, body)
		if err != nil {
			return err
		}
		if res.Status >= http.StatusInternalServerError {
			return errServer
		}
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil && !errors.Is(err, errServer) {
		return Result{}, fmt.Errorf("homeassistant: call %s: %w", a.Name, err)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, endpoint, token string, body []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageBytes))
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(msg)),
	}, nil
}

func payload(a command.Action) map[string]any {
	p := make(map[string]any, len(a.ServiceData)+1)
	if a.EntityID != "" {
		p["entity_id"] = a.EntityID
	}
	maps.Copy(p, a.ServiceData)
	return p
}
