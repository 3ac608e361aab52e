package exact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the Dutch Exact Online environment.
	DefaultBaseURL = "https://start.exactonline.nl"

	apiPath           = "/api/v1"
	defaultTimeout    = 30 * time.Second
	defaultExpirySkew = 10 * time.Second
	defaultUserAgent  = "exactonline-go"
)

// Config holds the credentials and starting state of a Connection.
// Token fields may be left empty when an authorization code is supplied.
type Config struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	AuthorizationCode string

	AccessToken  string
	RefreshToken string
	TokenExpires time.Time

	// Division is the company to operate on. Zero means unset.
	Division int
}

// Connection signs, sends and decodes requests against the Exact Online
// REST API for a single OAuth2 session.
type Connection struct {
	cfg        Config
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
	userAgent  string

	expirySkew      time.Duration
	now             func() time.Time
	waitOnRateLimit bool

	errorObserver ErrorObserver
	tokenObserver TokenObserver

	mu        sync.Mutex
	token     Token
	authCode  string
	division  int
	rateLimit RateLimit
}

// NewConnection creates a new Exact Online connection
func NewConnection(cfg Config, logger zerolog.Logger, opts ...Option) (*Connection, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Field: "base_url", Err: fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidConfig, cfg.BaseURL)}
	}
	if cfg.ClientID == "" {
		return nil, &ConfigError{Field: "client_id", Err: ErrMissingCredentials}
	}
	if cfg.Division < 0 {
		return nil, &ConfigError{Field: "division", Err: fmt.Errorf("%w: division must be positive", ErrInvalidConfig)}
	}

	c := &Connection{
		cfg:        cfg,
		timeout:    defaultTimeout,
		logger:     logger,
		userAgent:  defaultUserAgent,
		expirySkew: defaultExpirySkew,
		now:        time.Now,
		token: Token{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
			Expiry:       cfg.TokenExpires,
		},
		authCode:  cfg.AuthorizationCode,
		division:  cfg.Division,
		rateLimit: unknownRateLimit(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	return c, nil
}

// SetDivision selects the company subsequent requests operate on.
func (c *Connection) SetDivision(division int) {
	c.mu.Lock()
	c.division = division
	c.mu.Unlock()
}

// Division returns the current division, or 0 when unset.
func (c *Connection) Division() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.division
}

// SetAccessToken replaces the access token.
func (c *Connection) SetAccessToken(token string) {
	c.mu.Lock()
	c.token.AccessToken = token
	c.mu.Unlock()
}

// SetRefreshToken replaces the refresh token.
func (c *Connection) SetRefreshToken(token string) {
	c.mu.Lock()
	c.token.RefreshToken = token
	c.mu.Unlock()
}

// SetTokenExpires sets the access token expiry.
func (c *Connection) SetTokenExpires(expires time.Time) {
	c.mu.Lock()
	c.token.Expiry = expires
	c.mu.Unlock()
}

// SetAuthorizationCode stores a code obtained through AuthorizationURL.
// It is exchanged on the next request when no refresh token is present.
func (c *Connection) SetAuthorizationCode(code string) {
	c.mu.Lock()
	c.authCode = code
	c.mu.Unlock()
}

// Token returns a copy of the current token state.
func (c *Connection) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetErrorObserver registers o, replacing any previous observer. nil removes it.
func (c *Connection) SetErrorObserver(o ErrorObserver) {
	c.mu.Lock()
	c.errorObserver = o
	c.mu.Unlock()
}

// SetTokenObserver registers o, replacing any previous observer. nil removes it.
func (c *Connection) SetTokenObserver(o TokenObserver) {
	c.mu.Lock()
	c.tokenObserver = o
	c.mu.Unlock()
}

// RateLimit returns the quota reported by the most recent response.
func (c *Connection) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// Get performs a GET request against endpoint
func (c *Connection) Get(ctx context.Context, endpoint string, params url.Values) (*Result, error) {
	target, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, target, params, nil)
}

// Post sends body as JSON to endpoint
func (c *Connection) Post(ctx context.Context, endpoint string, body any) (*Result, error) {
	target, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, target, nil, body)
}

// Put sends body as JSON to endpoint
func (c *Connection) Put(ctx context.Context, endpoint string, body any) (*Result, error) {
	target, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPut, target, nil, body)
}

// Delete performs a DELETE request against endpoint
func (c *Connection) Delete(ctx context.Context, endpoint string) error {
	target, err := c.endpointURL(endpoint)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, target, nil, nil)
	return err
}

// GetAll retrieves every page of a collection by following __next links.
func (c *Connection) GetAll(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	res, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var all []json.RawMessage
	seen := make(map[string]bool)
	page := 1
	for {
		items, err := res.Items()
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("page", page).
			Int("count", len(items)).
			Int("total", len(all)).
			Msg("Retrieved page from Exact Online")

		if res.Next == "" {
			break
		}
		next, err := c.resolveNext(res.Next)
		if err != nil {
			return nil, err
		}
		if seen[next] {
			return nil, fmt.Errorf("%w: pagination loop detected at %s", ErrInvalidNextLink, next)
		}
		seen[next] = true

		res, err = c.do(ctx, http.MethodGet, next, nil, nil)
		if err != nil {
			return nil, err
		}
		page++
	}

	return all, nil
}

// apiURL is the base of every REST endpoint.
func (c *Connection) apiURL() string {
	return c.cfg.BaseURL + apiPath
}

// endpointURL builds the absolute URL for endpoint, inserting the division
// unless the endpoint is listed in the exemption table.
func (c *Connection) endpointURL(endpoint string) (string, error) {
	endpoint = strings.TrimLeft(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return "", &ConfigError{Field: "endpoint", Err: fmt.Errorf("%w: endpoint is empty", ErrInvalidConfig)}
	}
	if !RequiresDivision(endpoint) {
		return c.apiURL() + "/" + endpoint, nil
	}

	division := c.Division()
	if division == 0 {
		return "", &ConfigError{Field: "division", Err: ErrDivisionRequired}
	}
	return c.apiURL() + "/" + strconv.Itoa(division) + "/" + endpoint, nil
}

// resolveNext turns a __next link into an absolute URL on the configured host.
func (c *Connection) resolveNext(next string) (string, error) {
	base, err := url.Parse(c.apiURL() + "/")
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidNextLink, next, err)
	}
	u := base.ResolveReference(ref)
	if u.Host != base.Host {
		return "", fmt.Errorf("%w: %q points outside %s", ErrInvalidNextLink, next, base.Host)
	}
	return u.String(), nil
}

// do sends one request. The token is checked, and refreshed at most once,
// before sending; there is no retry after the response.
func (c *Connection) do(ctx context.Context, method, target string, params url.Values, body any) (*Result, error) {
	if len(params) > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	accessToken, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Msg("Making Exact Online API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		transportErr := &TransportError{Method: method, URL: target, Err: err}
		c.observeError(transportErr)
		return nil, transportErr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		transportErr := &TransportError{Method: method, URL: target, Err: fmt.Errorf("failed to read response body: %w", err)}
		c.observeError(transportErr)
		return nil, transportErr
	}

	if rl, ok := parseRateLimit(resp.Header); ok {
		c.mu.Lock()
		c.rateLimit = rl
		c.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(req, resp, respBody)
		c.observeError(apiErr)
		return nil, apiErr
	}

	res, err := parseResult(resp.StatusCode, respBody)
	if err != nil {
		decodeErr := &DecodeError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target,
			Body:       string(respBody),
			Err:        err,
			Request:    req,
			Response:   resp,
		}
		c.observeError(decodeErr)
		return nil, decodeErr
	}
	return res, nil
}

// waitForRateLimit blocks until the minutely window resets when waiting is
// enabled and the last response exhausted the minutely quota.
func (c *Connection) waitForRateLimit(ctx context.Context) error {
	if !c.waitOnRateLimit {
		return nil
	}
	rl := c.RateLimit()
	if !rl.MinutelyExhausted() || rl.MinutelyReset.IsZero() {
		return nil
	}
	wait := rl.MinutelyReset.Sub(c.now())
	if wait <= 0 {
		return nil
	}

	c.logger.Info().Dur("wait", wait).Msg("Minutely rate limit reached, waiting for reset")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// observeError hands err to the registered observer, if any. It is called
// exactly once per failed request, before the error is returned.
func (c *Connection) observeError(err error) {
	c.mu.Lock()
	observer := c.errorObserver
	c.mu.Unlock()

	c.notify(observer, err)
}

func (c *Connection) notify(observer ErrorObserver, err error) {
	c.logger.Debug().Err(err).Msg("Exact Online request failed")

	if observer != nil {
		observer.ObserveError(err)
	}
}
