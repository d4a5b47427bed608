package emqx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/mqtt-access/internal/broker"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/config"
)

// Defaults applied by New when the configuration leaves them unset.
const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to the EMQX management API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     Logger
}

var _ broker.AdminPort = (*Client)(nil)

// New creates a management API client from cfg.
func New(cfg config.EMQXConfig) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: url %q", ErrInvalidConfig, cfg.URL)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	threshold := cfg.CircuitBreaker.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	reset := cfg.CircuitBreaker.ResetTimeout
	if reset <= 0 {
		reset = DefaultResetTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(base.String(), "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     noopLogger{},
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "emqx",
		MaxRequests: 1,
		Timeout:     reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("emqx circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return c, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// FindPrincipal returns the built-in database user, or nil if there is none.
func (c *Client) FindPrincipal(ctx context.Context, username string) (*broker.Principal, error) {
	token, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	var user userDTO
	err = c.call(ctx, http.MethodGet, pathUsers+"/"+url.PathEscape(username), token, nil, &user)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user %s: %w", username, err)
	}

	if user.UserID == "" {
		user.UserID = username
	}
	return &broker.Principal{Username: user.UserID, Superuser: user.IsSuperuser}, nil
}

// CreatePrincipal creates a non-superuser in the built-in database.
func (c *Client) CreatePrincipal(ctx context.Context, username, password string) (*broker.Principal, error) {
	token, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	var user userDTO
	in := userDTO{UserID: username, Password: password}
	if err := c.call(ctx, http.MethodPost, pathUsers, token, in, &user); err != nil {
		return nil, fmt.Errorf("creating user %s: %w", username, err)
	}

	if user.UserID == "" {
		user.UserID = username
	}
	return &broker.Principal{Username: user.UserID, Superuser: user.IsSuperuser}, nil
}

// ListRules returns the user's authorization rules. No rule set means no rules.
func (c *Client) ListRules(ctx context.Context, username string) ([]broker.Rule, error) {
	token, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	var set ruleSetDTO
	err = c.call(ctx, http.MethodGet, pathRules+"/"+url.PathEscape(username), token, nil, &set)
	if isNotFound(err) {
		return []broker.Rule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing rules for %s: %w", username, err)
	}
	return fromRuleDTOs(set.Rules), nil
}

// ReplaceRules deletes the user's rule set and posts rules as a new one.
// An empty rules slice leaves the user with no rule set.
func (c *Client) ReplaceRules(ctx context.Context, username string, rules []broker.Rule) error {
	token, err := c.login(ctx)
	if err != nil {
		return err
	}

	if err := c.deleteRules(ctx, token, username); err != nil {
		return err
	}

	rules = broker.DedupeRules(rules)
	if len(rules) == 0 {
		return nil
	}

	body := []ruleSetDTO{{Username: username, Rules: toRuleDTOs(rules)}}
	if err := c.call(ctx, http.MethodPost, pathRules, token, body, nil); err != nil {
		return fmt.Errorf("posting rules for %s: %w", username, err)
	}
	return nil
}

// DeletePrincipal deletes the user's rule set and then the user.
func (c *Client) DeletePrincipal(ctx context.Context, username string) error {
	token, err := c.login(ctx)
	if err != nil {
		return err
	}

	if err := c.deleteRules(ctx, token, username); err != nil {
		return err
	}

	err = c.call(ctx, http.MethodDelete, pathUsers+"/"+url.PathEscape(username), token, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting user %s: %w", username, err)
	}
	return nil
}

func (c *Client) deleteRules(ctx context.Context, token, username string) error {
	err := c.call(ctx, http.MethodDelete, pathRules+"/"+url.PathEscape(username), token, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting rules for %s: %w", username, err)
	}
	return nil
}

// login obtains a bearer token. Tokens are not cached.
func (c *Client) login(ctx context.Context) (string, error) {
	var out loginResponse
	in := loginRequest{Username: c.username, Password: c.password}
	if err := c.call(ctx, http.MethodPost, pathLogin, "", in, &out); err != nil {
		return "", fmt.Errorf("emqx login: %w", err)
	}
	if out.Token == "" {
		return "", ErrEmptyToken
	}
	return out.Token, nil
}

// call performs one JSON exchange. Non-2xx answers become
// *broker.RemoteAPIError; transport failures wrap broker.ErrTransport.
func (c *Client) call(ctx context.Context, method, path, token string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
	}

	status, body, err := c.exchange(ctx, method, path, token, payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return remoteError(method, path, status, body)
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

type exchangeResult struct {
	status int
	body   []byte
}

// exchange runs one HTTP round trip inside the circuit breaker. Transport
// errors and 5xx answers count as breaker failures; 4xx answers do not.
func (c *Client) exchange(ctx context.Context, method, path, token string, payload []byte) (int, []byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("building %s %s request: %w", method, path, err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", broker.ErrTransport, method, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s %s response: %w", broker.ErrTransport, method, path, err)
		}
		if resp.StatusCode >= 500 {
			return nil, remoteError(method, path, resp.StatusCode, body)
		}
		return exchangeResult{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, nil, fmt.Errorf("%w: %s %s: %w", broker.ErrTransport, method, path, err)
		}
		return 0, nil, err
	}

	r := res.(exchangeResult)
	c.logger.Debug("emqx request", "method", method, "path", path, "status", r.status)
	return r.status, r.body, nil
}

func remoteError(method, path string, status int, body []byte) *broker.RemoteAPIError {
	apiErr := &broker.RemoteAPIError{
		Method: method,
		Path:   path,
		Status: status,
		Body:   strings.TrimSpace(string(body)),
	}
	var dto apiErrorDTO
	if json.Unmarshal(body, &dto) == nil {
		apiErr.Code = dto.Code
		apiErr.Message = dto.Message
	}
	return apiErr
}

func isNotFound(err error) bool {
	return errors.Is(err, broker.ErrNotFound)
}
