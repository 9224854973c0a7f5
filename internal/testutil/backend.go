// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/backend"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

// Handler answers one fake backend route. The returned value is encoded
// as the response body.
type Handler func(ctx context.Context, req backend.Request) (any, error)

// FakeBackend is an in-memory backend.Caller. Routes are "rpc <fn>" for
// functions and "<METHOD> <table>" for tables, e.g. "GET messages".
type FakeBackend struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []backend.Request
}

// NewFakeBackend creates a FakeBackend with no routes.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{handlers: make(map[string]Handler)}
}

// Handle registers h for route.
func (f *FakeBackend) Handle(route string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route] = h
}

// Reply registers a route that always returns v.
func (f *FakeBackend) Reply(route string, v any) {
	f.Handle(route, func(context.Context, backend.Request) (any, error) { return v, nil })
}

// Fail registers a route that always fails with err.
func (f *FakeBackend) Fail(route string, err error) {
	f.Handle(route, func(context.Context, backend.Request) (any, error) { return nil, err })
}

// Call implements backend.Caller.
func (f *FakeBackend) Call(ctx context.Context, req backend.Request) (backend.Response, error) {
	route := Route(req)
	f.mu.Lock()
	f.calls = append(f.calls, req)
	h, ok := f.handlers[route]
	f.mu.Unlock()
	if !ok {
		return backend.Response{}, syncerr.New(syncerr.KindNotFound, route, "no fake handler")
	}

	v, err := h(ctx, req)
	if err != nil {
		return backend.Response{}, err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return backend.Response{}, fmt.Errorf("encode fake response: %w", err)
	}
	return backend.Response{StatusCode: http.StatusOK, Body: body}, nil
}

// Calls returns the requests received so far.
func (f *FakeBackend) Calls() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Request(nil), f.calls...)
}

// CallCount returns how many requests hit route.
func (f *FakeBackend) CallCount(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if Route(c) == route {
			n++
		}
	}
	return n
}

// Route names the route of req.
func Route(req backend.Request) string {
	if req.Function != "" {
		return "rpc " + req.Function
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + req.Table
}

// PayloadMap decodes req.Payload into a generic map.
func PayloadMap(req backend.Request) map[string]any {
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
