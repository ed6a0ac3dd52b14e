// Package sysapi provides harness-only stubs of the platform system APIs that
// conformance scenarios call into.
//
// Every API takes an argument object and returns a value or an error, the Go
// shape of a promise that resolves or rejects. Business failures are reported
// as *APIError with the numeric codes the platform uses.
package sysapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/roach88/xtsunit/internal/ir"
)

// Error codes shared with the platform APIs.
const (
	CodeParamError    = 401
	CodeNotSupported  = 801
	CodeRDBInnerError = 14800000
)

// ErrUnknownAPI is returned by Call for names that were never registered.
var ErrUnknownAPI = errors.New("unknown system api")

// APIError is a business error returned by a system API.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("BusinessError %d: %s", e.Code, e.Message)
}

// Value renders the error the way a rejected promise exposes it.
func (e *APIError) Value() ir.Object {
	return ir.Object{
		"code":    ir.Number(e.Code),
		"message": ir.String(e.Message),
	}
}

// API is a callable system API.
type API func(ctx context.Context, args ir.Object) (ir.Value, error)

// Registry maps API names to implementations. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	apis    map[string]API
	closers []io.Closer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{apis: make(map[string]API)}
}

// NewDefault creates a registry with every built-in API registered,
// including the relational store stub. Close it to release the store.
func NewDefault() (*Registry, error) {
	r := NewRegistry()
	if err := registerBuiltins(r); err != nil {
		return nil, err
	}
	rdb, err := OpenRDB()
	if err != nil {
		return nil, err
	}
	if err := rdb.Register(r); err != nil {
		rdb.Close()
		return nil, err
	}
	r.OnClose(rdb)
	return r, nil
}

// Register adds an API. Registering a name twice is an error.
func (r *Registry) Register(name string, api API) error {
	if name == "" {
		return errors.New("api name is empty")
	}
	if api == nil {
		return fmt.Errorf("api %q: implementation is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apis[name]; exists {
		return fmt.Errorf("api %q already registered", name)
	}
	r.apis[name] = api
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apis[name]
	return ok
}

// Names returns the registered API names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apis))
	for name := range r.apis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the named API. A nil args is treated as an empty object.
func (r *Registry) Call(ctx context.Context, name string, args ir.Object) (ir.Value, error) {
	r.mu.RLock()
	api, ok := r.apis[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownAPI)
	}
	if args == nil {
		args = ir.Object{}
	}
	v, err := api(ctx, args)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = ir.Undefined{}
	}
	return v, nil
}

// OnClose registers c to be closed by Close.
func (r *Registry) OnClose(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

// Close releases every resource registered with OnClose.
func (r *Registry) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
