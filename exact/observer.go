package exact

// ErrorObserver is notified of every transport, API and token grant error
// before the error is returned to the caller. It cannot change the outcome.
type ErrorObserver interface {
	ObserveError(err error)
}

// ErrorObserverFunc adapts a plain function to ErrorObserver.
type ErrorObserverFunc func(err error)

// ObserveError calls f(err).
func (f ErrorObserverFunc) ObserveError(err error) {
	f(err)
}

// TokenObserver is notified after each successful token grant, typically
// to persist the new token pair.
type TokenObserver interface {
	ObserveToken(tok Token)
}

// TokenObserverFunc adapts a plain function to TokenObserver.
type TokenObserverFunc func(tok Token)

// ObserveToken calls f(tok).
func (f TokenObserverFunc) ObserveToken(tok Token) {
	f(tok)
}
