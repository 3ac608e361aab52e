package exact

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query holds the OData options supported by list calls.
type Query struct {
	Select  []string
	Filter  string
	OrderBy string
	Expand  []string
	Top     int
}

// Values encodes the query as OData system query options.
func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.Select) > 0 {
		v.Set("$select", strings.Join(q.Select, ","))
	}
	if q.Filter != "" {
		v.Set("$filter", q.Filter)
	}
	if q.OrderBy != "" {
		v.Set("$orderby", q.OrderBy)
	}
	if len(q.Expand) > 0 {
		v.Set("$expand", strings.Join(q.Expand, ","))
	}
	if q.Top > 0 {
		v.Set("$top", strconv.Itoa(q.Top))
	}
	return v
}

// Resource is a typed client for one REST collection, e.g. crm/Accounts.
type Resource[T any] struct {
	api      API
	endpoint string
}

// NewResource creates a resource client for endpoint
func NewResource[T any](api API, endpoint string) *Resource[T] {
	return &Resource[T]{
		api:      api,
		endpoint: strings.Trim(endpoint, "/"),
	}
}

// Endpoint returns the collection path.
func (r *Resource[T]) Endpoint() string {
	return r.endpoint
}

func (r *Resource[T]) keyed(id string) string {
	return fmt.Sprintf("%s(guid'%s')", r.endpoint, url.PathEscape(id))
}

// Get retrieves a single entity by its GUID
func (r *Resource[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("%s: id is required", r.endpoint)
	}
	res, err := r.api.Get(ctx, r.keyed(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", r.endpoint, err)
	}
	return decodeOne[T](res)
}

// List retrieves the first page matching q
func (r *Resource[T]) List(ctx context.Context, q Query) ([]T, error) {
	res, err := r.api.Get(ctx, r.endpoint, q.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.endpoint, err)
	}
	items, err := res.Items()
	if err != nil {
		return nil, err
	}
	return decodeAll[T](items)
}

// ListAll retrieves every page matching q
func (r *Resource[T]) ListAll(ctx context.Context, q Query) ([]T, error) {
	items, err := r.api.GetAll(ctx, r.endpoint, q.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.endpoint, err)
	}
	return decodeAll[T](items)
}

// Create posts v and returns the entity as stored by Exact Online
func (r *Resource[T]) Create(ctx context.Context, v *T) (*T, error) {
	res, err := r.api.Post(ctx, r.endpoint, v)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", r.endpoint, err)
	}
	if res.empty() {
		return v, nil
	}
	return decodeOne[T](res)
}

// Update sends the changed fields of an entity. fields is usually a
// map or a struct with omitempty tags so untouched fields are not reset.
func (r *Resource[T]) Update(ctx context.Context, id string, fields any) error {
	if id == "" {
		return fmt.Errorf("%s: id is required", r.endpoint)
	}
	if _, err := r.api.Put(ctx, r.keyed(id), fields); err != nil {
		return fmt.Errorf("failed to update %s: %w", r.endpoint, err)
	}
	return nil
}

// Delete removes an entity by its GUID
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%s: id is required", r.endpoint)
	}
	if err := r.api.Delete(ctx, r.keyed(id)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.endpoint, err)
	}
	return nil
}

func decodeOne[T any](res *Result) (*T, error) {
	items, err := res.Items()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	var v T
	if err := json.Unmarshal(items[0], &v); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &v, nil
}

func decodeAll[T any](items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
