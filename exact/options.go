package exact

import (
	"net/http"
	"time"
)

// Option configures a Connection.
type Option func(*Connection)

// WithHTTPClient sets a custom HTTP client. It is also used for token grants.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connection) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Connection) {
		c.timeout = timeout
	}
}

// WithErrorObserver registers an observer for request and grant errors.
func WithErrorObserver(o ErrorObserver) Option {
	return func(c *Connection) {
		c.errorObserver = o
	}
}

// WithTokenObserver registers an observer for newly granted tokens.
func WithTokenObserver(o TokenObserver) Option {
	return func(c *Connection) {
		c.tokenObserver = o
	}
}

// WithExpirySkew sets how long before the reported expiry a token is
// already treated as expired.
func WithExpirySkew(skew time.Duration) Option {
	return func(c *Connection) {
		if skew >= 0 {
			c.expirySkew = skew
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) {
		if now != nil {
			c.now = now
		}
	}
}

// WithUserAgent sets a custom user agent string.
func WithUserAgent(userAgent string) Option {
	return func(c *Connection) {
		c.userAgent = userAgent
	}
}

// WithRateLimitWait makes the connection pause until the minutely reset
// once the previous response reported no requests left this minute.
func WithRateLimitWait(wait bool) Option {
	return func(c *Connection) {
		c.waitOnRateLimit = wait
	}
}
