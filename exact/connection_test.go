package exact

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExact serves a token endpoint and a catch-all API endpoint, recording
// the order in which they were hit.
type fakeExact struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	events   []string
	requests []*http.Request
	forms    []url.Values

	api   http.HandlerFunc
	token http.HandlerFunc
}

func newFakeExact(t *testing.T) *fakeExact {
	t.Helper()
	f := &fakeExact{t: t}
	f.api = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": []any{}}})
	}
	f.token = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "fresh-token",
			"token_type":    "bearer",
			"expires_in":    600,
			"refresh_token": "fresh-refresh",
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.events = append(f.events, "token")
		f.forms = append(f.forms, r.PostForm)
		f.mu.Unlock()
		f.token(w, r)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.events = append(f.events, "api")
		f.requests = append(f.requests, r)
		f.mu.Unlock()
		f.api(w, r)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeExact) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeExact) LastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.requests, "no API request recorded")
	return f.requests[len(f.requests)-1]
}

func (f *fakeExact) TokenForms() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.forms...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("failed to encode response: " + err.Error())
	}
}

// authenticatedConfig returns a config holding a token valid for a minute.
func authenticatedConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://example.com/callback",
		AccessToken:  "1234567890",
		TokenExpires: time.Now().Add(60 * time.Second),
	}
}

func newTestConnection(t *testing.T, cfg Config, opts ...Option) *Connection {
	t.Helper()
	conn, err := NewConnection(cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return conn
}

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *recordingObserver) ObserveError(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func (o *recordingObserver) Errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

func TestNewConnection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "valid config",
			cfg:  Config{BaseURL: "https://start.exactonline.nl/", ClientID: "id"},
		},
		{
			name: "default base URL",
			cfg:  Config{ClientID: "id"},
		},
		{
			name:    "missing client ID",
			cfg:     Config{BaseURL: "https://start.exactonline.nl"},
			wantErr: ErrMissingCredentials,
		},
		{
			name:    "relative base URL",
			cfg:     Config{BaseURL: "start.exactonline.nl", ClientID: "id"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "negative division",
			cfg:     Config{ClientID: "id", Division: -1},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := NewConnection(tt.cfg, zerolog.Nop())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var cfgErr *ConfigError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, strings.HasSuffix(conn.cfg.BaseURL, "/"))
			assert.NotEmpty(t, conn.cfg.BaseURL)
		})
	}
}

func TestConnectionOptions(t *testing.T) {
	t.Run("with timeout", func(t *testing.T) {
		conn := newTestConnection(t, Config{ClientID: "id"}, WithTimeout(5*time.Second))
		assert.Equal(t, 5*time.Second, conn.httpClient.Timeout)
	})

	t.Run("with custom http client", func(t *testing.T) {
		custom := &http.Client{Timeout: 10 * time.Second}
		conn := newTestConnection(t, Config{ClientID: "id"}, WithHTTPClient(custom))
		assert.Same(t, custom, conn.httpClient)
	})

	t.Run("with expiry skew", func(t *testing.T) {
		conn := newTestConnection(t, Config{ClientID: "id"}, WithExpirySkew(0))
		assert.Equal(t, time.Duration(0), conn.expirySkew)
	})
}

func TestGet_ExemptEndpointsOmitDivision(t *testing.T) {
	endpoints := map[string]string{
		"System users endpoint":      "system/Users",
		"Me endpoint":                "current/Me",
		"Me endpoint leading slash":  "/current/Me",
		"System user by key":         "system/Users(guid'3f2504e0-4f89-11d3-9a0c-0305e82c3301')",
		"Me endpoint with selection": "current/Me?$select=CurrentDivision",
	}

	for name, endpoint := range endpoints {
		t.Run(name, func(t *testing.T) {
			division := rand.IntN(900000) + 100000
			fake := newFakeExact(t)
			conn := newTestConnection(t, authenticatedConfig(fake.server.URL))
			conn.SetDivision(division)

			_, err := conn.Get(context.Background(), endpoint, nil)
			require.NoError(t, err)

			req := fake.LastRequest()
			assert.NotContains(t, req.URL.String(), strconv.Itoa(division))
			assert.Regexp(t, `^/api/v1/(current|system)/`, req.URL.Path)
		})
	}
}

func TestGet_RegularEndpointIncludesDivision(t *testing.T) {
	for _, endpoint := range []string{"crm/Accounts", "/crm/Accounts"} {
		t.Run(endpoint, func(t *testing.T) {
			fake := newFakeExact(t)
			conn := newTestConnection(t, authenticatedConfig(fake.server.URL))
			conn.SetDivision(4000)

			_, err := conn.Get(context.Background(), endpoint, nil)
			require.NoError(t, err)

			req := fake.LastRequest()
			assert.Equal(t, "/api/v1/4000/crm/Accounts", req.URL.Path)
			assert.Equal(t, 1, strings.Count(req.URL.String(), "4000"))
			assert.Equal(t, "Bearer 1234567890", req.Header.Get("Authorization"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
		})
	}
}

func TestGet_RandomDivisionAppearsOnce(t *testing.T) {
	division := rand.IntN(900000) + 100000
	fake := newFakeExact(t)
	conn := newTestConnection(t, authenticatedConfig(fake.server.URL))
	conn.SetDivision(division)

	_, err := conn.Get(context.Background(), "crm/Accounts", url.Values{"$top": {"1"}})
	require.NoError(t, err)

	req := fake.LastRequest()
	assert.Equal(t, "/api/v1/"+strconv.Itoa(division)+"/crm/Accounts", req.URL.Path)
	assert.Equal(t, 1, strings.Count(req.URL.String(), strconv.Itoa(division)))
	assert.Equal(t, "1", req.URL.Query().Get("$top"))
}

func TestGet_DivisionRequired(t *testing.T) {
	fake := newFakeExact(t)
	observer := &recordingObserver{}
	conn := newTestConnection(t, authenticatedConfig(fake.server.URL), WithErrorObserver(observer))

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivisionRequired)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "division", cfgErr.Field)

	assert.Empty(t, fake.Events(), "no request may be sent without a division")
	assert.Empty(t, observer.Errors())

	// exempt endpoints still work without a division
	_, err = conn.Get(context.Background(), "current/Me", nil)
	require.NoError(t, err)
}

func TestExpiredTokenRefreshesOnceBeforeRequest(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": []any{}}})
	}

	var observed []Token
	cfg := authenticatedConfig(fake.server.URL)
	cfg.AccessToken = "stale-token"
	cfg.RefreshToken = "refresh-1"
	cfg.TokenExpires = time.Now().Add(-time.Minute)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg, WithTokenObserver(TokenObserverFunc(func(tok Token) {
		observed = append(observed, tok)
	})))

	ctx := context.Background()
	_, err := conn.Get(ctx, "crm/Accounts", nil)
	require.NoError(t, err)
	_, err = conn.Get(ctx, "crm/Accounts", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"token", "api", "api"}, fake.Events())

	forms := fake.TokenForms()
	require.Len(t, forms, 1)
	assert.Equal(t, "refresh_token", forms[0].Get("grant_type"))
	assert.Equal(t, "refresh-1", forms[0].Get("refresh_token"))
	assert.Equal(t, "client-id", forms[0].Get("client_id"))
	assert.Equal(t, "client-secret", forms[0].Get("client_secret"))

	tok := conn.Token()
	assert.Equal(t, "fresh-token", tok.AccessToken)
	assert.Equal(t, "fresh-refresh", tok.RefreshToken)
	assert.True(t, tok.Expiry.After(time.Now()))

	require.Len(t, observed, 1)
	assert.Equal(t, tok, observed[0])
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": []any{}}})
	}

	var (
		mu       sync.Mutex
		observed []Token
	)
	cfg := authenticatedConfig(fake.server.URL)
	cfg.AccessToken = "stale-token"
	cfg.RefreshToken = "refresh-1"
	cfg.TokenExpires = time.Now().Add(-time.Minute)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg, WithTokenObserver(TokenObserverFunc(func(tok Token) {
		mu.Lock()
		observed = append(observed, tok)
		mu.Unlock()
	})))

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.Get(context.Background(), "crm/Accounts", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	forms := fake.TokenForms()
	require.Len(t, forms, 1)
	assert.Equal(t, "refresh-1", forms[0].Get("refresh_token"))

	events := fake.Events()
	require.Len(t, events, callers+1)
	assert.Equal(t, "token", events[0])

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, observed, 1)
}

func TestRefreshKeepsRefreshTokenWhenNoneReturned(t *testing.T) {
	fake := newFakeExact(t)
	fake.token = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "fresh-token",
			"token_type":   "bearer",
			"expires_in":   600,
		})
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.AccessToken = ""
	cfg.RefreshToken = "keep-me"
	conn := newTestConnection(t, cfg)

	require.NoError(t, conn.Authorize(context.Background()))
	assert.Equal(t, "keep-me", conn.Token().RefreshToken)
	assert.Equal(t, "fresh-token", conn.Token().AccessToken)
}

func TestValidTokenDoesNotRefresh(t *testing.T) {
	fake := newFakeExact(t)
	cfg := authenticatedConfig(fake.server.URL)
	cfg.RefreshToken = "refresh-1"
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, fake.Events())
}

func TestExpirySkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := Token{AccessToken: "a", Expiry: now.Add(5 * time.Second)}

	assert.True(t, tok.Expired(now, 10*time.Second))
	assert.False(t, tok.Expired(now, 0))
	assert.True(t, tok.Expired(now.Add(5*time.Second), 0), "now == expiry counts as expired")
	assert.True(t, Token{}.Expired(now, 0), "missing access token counts as expired")
	assert.False(t, Token{AccessToken: "a"}.Expired(now, 0), "unknown expiry counts as valid")
}

func TestAuthorizationCodeExchange(t *testing.T) {
	fake := newFakeExact(t)
	cfg := Config{
		BaseURL:           fake.server.URL,
		ClientID:          "client-id",
		ClientSecret:      "client-secret",
		RedirectURL:       "https://example.com/callback",
		AuthorizationCode: "auth-code",
	}
	conn := newTestConnection(t, cfg)

	require.NoError(t, conn.Authorize(context.Background()))

	forms := fake.TokenForms()
	require.Len(t, forms, 1)
	assert.Equal(t, "authorization_code", forms[0].Get("grant_type"))
	assert.Equal(t, "auth-code", forms[0].Get("code"))
	assert.Equal(t, "https://example.com/callback", forms[0].Get("redirect_uri"))
	assert.Equal(t, "fresh-token", conn.Token().AccessToken)

	// the code is single use and the fresh token is valid
	require.NoError(t, conn.Authorize(context.Background()))
	assert.Len(t, fake.TokenForms(), 1)
}

func TestNotAuthenticated(t *testing.T) {
	fake := newFakeExact(t)
	conn := newTestConnection(t, Config{BaseURL: fake.server.URL, ClientID: "client-id", Division: 4000})

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, fake.Events())
}

func TestMissingSecretBlocksGrant(t *testing.T) {
	fake := newFakeExact(t)
	conn := newTestConnection(t, Config{BaseURL: fake.server.URL, ClientID: "client-id", RefreshToken: "r"})

	err := conn.Authorize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Empty(t, fake.Events())
}

func TestRefreshFailure(t *testing.T) {
	fake := newFakeExact(t)
	fake.token = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "refresh token expired",
		})
	}

	observer := &recordingObserver{}
	cfg := authenticatedConfig(fake.server.URL)
	cfg.AccessToken = ""
	cfg.RefreshToken = "refresh-1"
	cfg.Division = 4000
	conn := newTestConnection(t, cfg, WithErrorObserver(observer))

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.Error(t, err)

	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, "refresh_token", refreshErr.Grant)
	assert.Equal(t, http.StatusBadRequest, refreshErr.StatusCode)
	assert.Equal(t, "invalid_grant", refreshErr.Code)
	assert.Equal(t, "refresh token expired", refreshErr.Description)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "a failed grant is not an API error")

	assert.Equal(t, []string{"token"}, fake.Events(), "the original request must not be sent")
	errs := observer.Errors()
	require.Len(t, errs, 1)
	assert.Same(t, refreshErr, errs[0])
	assert.Equal(t, "refresh-1", conn.Token().RefreshToken)
}

func TestErrorObserverCalledOnceOnAPIError(t *testing.T) {
	fake := newFakeExact(t)
	calls := 0
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{})
	}

	observer := &recordingObserver{}
	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)
	conn.SetErrorObserver(observer)

	_, err := conn.Get(context.Background(), "/crm/Accounts", nil)
	require.NoError(t, err)
	assert.Empty(t, observer.Errors())

	_, err = conn.Get(context.Background(), "/crm/Accounts", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, http.MethodGet, apiErr.Method)
	require.NotNil(t, apiErr.Request)
	require.NotNil(t, apiErr.Response)

	errs := observer.Errors()
	require.Len(t, errs, 1)
	assert.Same(t, apiErr, errs[0])
}

func TestAPIErrorParsesExactErrorBody(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":    "",
				"message": map[string]any{"lang": "", "value": "Invalid filter"},
			},
		})
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	_, err := conn.Get(context.Background(), "crm/Accounts", url.Values{"$filter": {"bogus"}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Invalid filter", apiErr.Message)
	assert.Contains(t, apiErr.Body, "Invalid filter")
	assert.Equal(t, "exact API error: status 400: Invalid filter", apiErr.Error())
}

func TestAPIErrorPlainTextBody(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "Service Unavailable", apiErr.Message)
}

func TestTransportError(t *testing.T) {
	fake := newFakeExact(t)
	baseURL := fake.server.URL
	fake.server.Close()

	observer := &recordingObserver{}
	cfg := authenticatedConfig(baseURL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg, WithErrorObserver(observer))

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.MethodGet, transportErr.Method)
	assert.Contains(t, transportErr.URL, "/api/v1/4000/crm/Accounts")

	errs := observer.Errors()
	require.Len(t, errs, 1)
	assert.Same(t, transportErr, errs[0])
}

func TestDecodeErrorOnNonJSONSuccess(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>Scheduled maintenance</body></html>"))
	}

	observer := &recordingObserver{}
	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg, WithErrorObserver(observer))

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, http.StatusOK, decodeErr.StatusCode)
	assert.Equal(t, http.MethodGet, decodeErr.Method)
	assert.Contains(t, decodeErr.URL, "/api/v1/4000/crm/Accounts")
	assert.Contains(t, decodeErr.Body, "Scheduled maintenance")
	require.NotNil(t, decodeErr.Request)
	require.NotNil(t, decodeErr.Response)
	require.Error(t, errors.Unwrap(decodeErr))

	errs := observer.Errors()
	require.Len(t, errs, 1)
	assert.Same(t, decodeErr, errs[0])
}

func TestGetUnwrapsEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantData string
		wantNext string
	}{
		{
			name:     "collection",
			body:     `{"d":{"results":[{"ID":"a"}],"__next":"https://x/next"}}`,
			wantData: `[{"ID":"a"}]`,
			wantNext: "https://x/next",
		},
		{
			name:     "single entity",
			body:     `{"d":{"ID":"a","Name":"Acme"}}`,
			wantData: `{"ID":"a","Name":"Acme"}`,
		},
		{
			name:     "bare array",
			body:     `{"d":[{"ID":"a"}]}`,
			wantData: `[{"ID":"a"}]`,
		},
		{
			name:     "no envelope",
			body:     `{"ID":"a"}`,
			wantData: `{"ID":"a"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseResult(http.StatusOK, []byte(tt.body))
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantData, string(res.Data))
			assert.Equal(t, tt.wantNext, res.Next)
		})
	}

	t.Run("empty body", func(t *testing.T) {
		res, err := parseResult(http.StatusNoContent, nil)
		require.NoError(t, err)
		assert.Empty(t, res.Data)
		assert.Equal(t, http.StatusNoContent, res.StatusCode)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := parseResult(http.StatusOK, []byte("<html>"))
		require.Error(t, err)
	})

	t.Run("null payload", func(t *testing.T) {
		res, err := parseResult(http.StatusOK, []byte(`{"d":null}`))
		require.NoError(t, err)
		assert.Empty(t, res.Data)

		items, err := res.Items()
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestGetAllFollowsNextLinks(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/4000/crm/Accounts", r.URL.Path)
		assert.Equal(t, "Bearer 1234567890", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("$skiptoken") {
		case "":
			assert.Equal(t, "ID,Name", r.URL.Query().Get("$select"))
			writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{
				"results": []any{map[string]any{"ID": "1"}, map[string]any{"ID": "2"}},
				"__next":  fake.server.URL + "/api/v1/4000/crm/Accounts?$skiptoken=guid'2'",
			}})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{
				"results": []any{map[string]any{"ID": "3"}},
			}})
		}
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	items, err := conn.GetAll(context.Background(), "crm/Accounts", url.Values{"$select": {"ID,Name"}})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.JSONEq(t, `{"ID":"3"}`, string(items[2]))
	assert.Equal(t, []string{"api", "api"}, fake.Events())
}

func TestGetAllRejectsForeignNextLink(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{
			"results": []any{map[string]any{"ID": "1"}},
			"__next":  "https://evil.example.com/api/v1/4000/crm/Accounts?$skiptoken=x",
		}})
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	_, err := conn.GetAll(context.Background(), "crm/Accounts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidNextLink)
	assert.Contains(t, err.Error(), "points outside")
	assert.Len(t, fake.Events(), 1)
}

func TestGetAllStopsOnRepeatedNextLink(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{
			"results": []any{map[string]any{"ID": "1"}},
			"__next":  fake.server.URL + "/api/v1/4000/crm/Accounts?$skiptoken=guid'1'",
		}})
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	_, err := conn.GetAll(context.Background(), "crm/Accounts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidNextLink)
	assert.Contains(t, err.Error(), "pagination loop")
	assert.Equal(t, []string{"api", "api"}, fake.Events())
}

func TestPostSendsJSON(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/4000/crm/Accounts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Acme", body["Name"])

		writeJSON(w, http.StatusCreated, map[string]any{"d": map[string]any{"ID": "new-id", "Name": "Acme"}})
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	res, err := conn.Post(context.Background(), "crm/Accounts", map[string]any{"Name": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	var created Account
	require.NoError(t, res.Decode(&created))
	assert.Equal(t, "new-id", created.ID)
}

func TestPutAndDelete(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/4000/crm/Accounts(guid'abc')", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)

	res, err := conn.Put(context.Background(), "crm/Accounts(guid'abc')", map[string]any{"Name": "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Empty(t, res.Data)

	require.NoError(t, conn.Delete(context.Background(), "crm/Accounts(guid'abc')"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.requests, 2)
	assert.Equal(t, http.MethodPut, fake.requests[0].Method)
	assert.Equal(t, http.MethodDelete, fake.requests[1].Method)
}

func TestRateLimitHeaders(t *testing.T) {
	reset := time.Now().Add(30 * time.Second).Truncate(time.Millisecond)
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Minutely-Limit", "60")
		w.Header().Set("X-RateLimit-Minutely-Remaining", "59")
		w.Header().Set("X-RateLimit-Minutely-Reset", strconv.FormatInt(reset.UnixMilli(), 10))
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": []any{}}})
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg)
	assert.False(t, conn.RateLimit().Known())

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.NoError(t, err)

	rl := conn.RateLimit()
	assert.True(t, rl.Known())
	assert.Equal(t, 5000, rl.DailyLimit)
	assert.Equal(t, 4999, rl.DailyRemaining)
	assert.Equal(t, 60, rl.MinutelyLimit)
	assert.Equal(t, 59, rl.MinutelyRemaining)
	assert.True(t, reset.Equal(rl.MinutelyReset))
	assert.False(t, rl.MinutelyExhausted())
}

func TestRateLimitWaitHonoursContext(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Minutely-Limit", "60")
		w.Header().Set("X-RateLimit-Minutely-Remaining", "0")
		w.Header().Set("X-RateLimit-Minutely-Reset", strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10))
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": []any{}}})
	}

	cfg := authenticatedConfig(fake.server.URL)
	cfg.Division = 4000
	conn := newTestConnection(t, cfg, WithRateLimitWait(true))

	_, err := conn.Get(context.Background(), "crm/Accounts", nil)
	require.NoError(t, err)
	assert.True(t, conn.RateLimit().MinutelyExhausted())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.Get(ctx, "crm/Accounts", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, fake.Events(), 1, "the second request must wait for the minutely reset")
}

func TestResolveDivision(t *testing.T) {
	fake := newFakeExact(t)
	fake.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/current/Me", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{
			"results": []any{map[string]any{"CurrentDivision": 1234, "FullName": "Jane"}},
		}})
	}

	conn := newTestConnection(t, authenticatedConfig(fake.server.URL))

	division, err := conn.ResolveDivision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234, division)
	assert.Equal(t, 1234, conn.Division())

	// already resolved, no further request
	_, err = conn.ResolveDivision(context.Background())
	require.NoError(t, err)
	assert.Len(t, fake.Events(), 1)
}

func TestAuthorizationURL(t *testing.T) {
	conn := newTestConnection(t, Config{
		BaseURL:     "https://start.exactonline.be",
		ClientID:    "client-id",
		RedirectURL: "https://example.com/callback",
	})

	u, err := url.Parse(conn.AuthorizationURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "start.exactonline.be", u.Host)
	assert.Equal(t, "/api/oauth2/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "0", q.Get("force_login"))
}
