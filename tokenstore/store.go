// Package tokenstore persists Exact Online OAuth tokens between runs so a
// refresh token obtained once keeps working across CLI invocations.
package tokenstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/s0up4200/exactonline/exact"
)

// ErrNoToken is returned by Load when nothing has been stored yet
var ErrNoToken = errors.New("no token stored")

// Store loads and saves a single token pair
type Store interface {
	Load(ctx context.Context) (*exact.Token, error)
	Save(ctx context.Context, tok exact.Token) error
}

// Observer returns an exact.TokenObserver that saves every granted token
// to store. Save failures are logged; the request that triggered the grant
// still succeeds.
func Observer(store Store, logger zerolog.Logger) exact.TokenObserver {
	return exact.TokenObserverFunc(func(tok exact.Token) {
		if err := store.Save(context.Background(), tok); err != nil {
			logger.Error().Err(err).Msg("Failed to persist token")
			return
		}
		logger.Debug().Time("expiry", tok.Expiry).Msg("Token persisted")
	})
}

// Restore loads the stored token into conn. A missing token is not an error.
func Restore(ctx context.Context, store Store, conn *exact.Connection) (bool, error) {
	tok, err := store.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	conn.SetAccessToken(tok.AccessToken)
	conn.SetRefreshToken(tok.RefreshToken)
	conn.SetTokenExpires(tok.Expiry)
	return true, nil
}
