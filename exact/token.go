package exact

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"

	authPath  = "/api/oauth2/auth"
	tokenPath = "/api/oauth2/token"
)

// Token is the OAuth2 state held by a Connection.
type Token struct {
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token" yaml:"refresh_token"`
	Expiry       time.Time `json:"expiry" yaml:"expiry"`
}

// Expired reports whether the access token should no longer be used at now.
// A token without an access token is always expired; a zero expiry never is.
func (t Token) Expired(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Before(t.Expiry.Add(-skew))
}

func (c *Connection) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.BaseURL + authPath,
			TokenURL:  c.cfg.BaseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL returns the URL a user visits to grant this client
// access. The resulting code is passed to SetAuthorizationCode.
func (c *Connection) AuthorizationURL(state string) string {
	return c.oauthConfig().AuthCodeURL(state, oauth2.SetAuthURLParam("force_login", "0"))
}

// Authorize makes sure the connection holds a usable access token,
// exchanging the authorization code or refresh token when needed.
func (c *Connection) Authorize(ctx context.Context) error {
	_, err := c.ensureToken(ctx)
	return err
}

// ensureToken returns a valid access token, running at most one grant.
// Observers are notified after the lock is released.
func (c *Connection) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	accessToken, granted, err := c.ensureTokenLocked(ctx)
	errorObserver, tokenObserver := c.errorObserver, c.tokenObserver
	c.mu.Unlock()

	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		c.notify(errorObserver, err)
	}
	if granted != nil && tokenObserver != nil {
		tokenObserver.ObserveToken(*granted)
	}
	return accessToken, err
}

// ensureTokenLocked must be called with c.mu held. granted is non-nil when
// a new token was obtained.
func (c *Connection) ensureTokenLocked(ctx context.Context) (string, *Token, error) {
	if !c.token.Expired(c.now(), c.expirySkew) {
		return c.token.AccessToken, nil, nil
	}

	var grant string
	switch {
	case c.token.RefreshToken != "":
		grant = grantRefreshToken
	case c.authCode != "":
		grant = grantAuthorizationCode
	default:
		return "", nil, &ConfigError{Field: "token", Err: ErrNotAuthenticated}
	}

	granted, err := c.grantLocked(ctx, grant)
	if err != nil {
		return "", nil, err
	}
	return granted.AccessToken, granted, nil
}

func (c *Connection) grantLocked(ctx context.Context, grant string) (*Token, error) {
	if c.cfg.ClientSecret == "" {
		return nil, &ConfigError{Field: "client_secret", Err: ErrMissingCredentials}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	conf := c.oauthConfig()

	c.logger.Debug().Str("grant", grant).Msg("Requesting Exact Online access token")

	var (
		tok *oauth2.Token
		err error
	)
	switch grant {
	case grantAuthorizationCode:
		tok, err = conf.Exchange(ctx, c.authCode)
	default:
		tok, err = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.token.RefreshToken}).Token()
	}
	if err != nil {
		return nil, newRefreshError(grant, err)
	}

	next := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = c.token.RefreshToken
	}
	c.token = next
	if grant == grantAuthorizationCode {
		c.authCode = ""
	}

	c.logger.Debug().
		Str("grant", grant).
		Time("expires", next.Expiry).
		Msg("Obtained Exact Online access token")

	return &next, nil
}

func newRefreshError(grant string, err error) *RefreshError {
	refreshErr := &RefreshError{Grant: grant, Err: err}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			refreshErr.StatusCode = retrieveErr.Response.StatusCode
		}
		refreshErr.Code = retrieveErr.ErrorCode
		refreshErr.Description = retrieveErr.ErrorDescription
	}
	return refreshErr
}
