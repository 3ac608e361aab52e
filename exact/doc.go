// Package exact provides a client for the Exact Online REST API.
//
// A Connection owns the OAuth2 session and the HTTP transport. Every request
// is built as {base}/api/v1/{division}/{endpoint}, except for the handful of
// endpoints that live outside any division (see DivisionExemptEndpoints),
// which are addressed as {base}/api/v1/{endpoint}.
//
// # Usage
//
//	conn, err := exact.NewConnection(exact.Config{
//		ClientID:     "client-id",
//		ClientSecret: "client-secret",
//		RedirectURL:  "https://example.com/callback",
//		RefreshToken: storedRefreshToken,
//		Division:     4000,
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	accounts, err := exact.Accounts(conn).List(ctx, exact.Query{Top: 10})
//
// # Tokens
//
// Before each request the access token is checked. When it is missing or
// expired the connection runs exactly one grant: refresh_token when a
// refresh token is known, otherwise authorization_code. Register a
// TokenObserver to persist the new token pair.
//
// # Error Handling
//
//   - ConfigError: missing division, credentials or token; nothing was sent
//   - TransportError: the HTTP round trip failed
//   - APIError: the API answered with a non-2xx status
//   - RefreshError: a token grant was rejected
//
// An ErrorObserver sees every TransportError, APIError and RefreshError
// once, before it is returned. It cannot turn an error into a success.
//
//	var apiErr *exact.APIError
//	if errors.As(err, &apiErr) && apiErr.IsNotFound() {
//		// Handle missing entity
//	}
package exact
