package api

import (
	"context"
	"net/http"
	"net/url"
)

// Resource is the uniform REST surface every entity collection shares:
// GET/POST/PATCH/DELETE under /{collection}, plus parent-scoped listing
// via query parameter.
type Resource[T any] struct {
	c          *Client
	collection string
}

func NewResource[T any](c *Client, collection string) *Resource[T] {
	return &Resource[T]{c: c, collection: collection}
}

func (r *Resource[T]) Collection() string { return r.collection }

func (r *Resource[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	err := r.c.do(ctx, http.MethodGet, "/"+r.collection, nil, nil, &out)
	return out, err
}

func (r *Resource[T]) Find(ctx context.Context, id string) (T, error) {
	var out T
	err := r.c.do(ctx, http.MethodGet, "/"+r.collection+"/"+id, nil, nil, &out)
	return out, err
}

// FindByParent lists entities scoped to a parent, e.g. concepts for one
// learning path via ?pathId=....
func (r *Resource[T]) FindByParent(ctx context.Context, parentKey, parentID string) ([]T, error) {
	q := url.Values{}
	q.Set(parentKey, parentID)
	var out []T
	err := r.c.do(ctx, http.MethodGet, "/"+r.collection, q, nil, &out)
	return out, err
}

func (r *Resource[T]) Create(ctx context.Context, item T) (T, error) {
	var out T
	err := r.c.do(ctx, http.MethodPost, "/"+r.collection, nil, item, &out)
	return out, err
}

func (r *Resource[T]) Update(ctx context.Context, id string, item T) (T, error) {
	var out T
	err := r.c.do(ctx, http.MethodPatch, "/"+r.collection+"/"+id, nil, item, &out)
	return out, err
}

// Delete returns the deleted entity when the server echoes it back,
// which the cache uses for optimistic reconciliation.
func (r *Resource[T]) Delete(ctx context.Context, id string) (T, error) {
	var out T
	err := r.c.do(ctx, http.MethodDelete, "/"+r.collection+"/"+id, nil, nil, &out)
	return out, err
}
