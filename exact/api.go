package exact

import (
	"context"
	"encoding/json"
	"net/url"
)

// API defines the request surface resource clients are built on.
// Connection implements it; tests can substitute a fake.
type API interface {
	// Get performs a GET and returns the unwrapped payload
	Get(ctx context.Context, endpoint string, params url.Values) (*Result, error)

	// GetAll follows pagination links and returns every item
	GetAll(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error)

	Post(ctx context.Context, endpoint string, body any) (*Result, error)
	Put(ctx context.Context, endpoint string, body any) (*Result, error)
	Delete(ctx context.Context, endpoint string) error
}

var _ API = (*Connection)(nil)
