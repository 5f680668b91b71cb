// Package rpc exposes the vault through a table of named methods taking
// positional JSON parameters. Every failure, including a panicking handler,
// reaches the caller as an error string.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrInvalidParams = errors.New("invalid params")
	ErrInternal      = errors.New("internal error")
)

// Request is one call. Params must be a JSON array (or absent).
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Handler receives the already split positional parameters.
type Handler func(ctx context.Context, params []json.RawMessage) (any, error)

type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Handler

	logger  log.Log
	metrics *metrics.Metrics
}

func NewDispatcher(logger log.Log, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		methods: make(map[string]Handler),
		logger:  logger.With(log.String("component", "rpc")),
		metrics: m,
	}
}

// Register binds name to h, replacing any earlier binding.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	d.methods[name] = h
	d.mu.Unlock()
}

// Methods lists the registered names, sorted.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs method with the raw JSON params array.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage) (result any, err error) {
	d.mu.RLock()
	h, ok := d.methods[method]
	d.mu.RUnlock()
	if !ok {
		d.metrics.ObserveRPC("unknown", ErrUnknownMethod)
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	defer func() { d.metrics.ObserveRPC(method, err) }()

	args, err := splitParams(params)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("rpc handler panicked", log.String("method", method), log.Any("panic", r))
			result, err = nil, fmt.Errorf("%w: %s: %v", ErrInternal, method, r)
		}
	}()
	return h(ctx, args)
}

// Handle wraps Dispatch in the request/response envelope.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	res, err := d.Dispatch(ctx, req.Method, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: res}
}

func splitParams(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: params must be a JSON array: %v", ErrInvalidParams, err)
	}
	return args, nil
}

// Param names one positional parameter and where to decode it.
type Param struct {
	Name string
	Dst  any
}

func P(name string, dst any) Param { return Param{Name: name, Dst: dst} }

// Bind checks the arity and decodes each positional argument into its Param.
func Bind(args []json.RawMessage, params ...Param) error {
	if len(args) != len(params) {
		return fmt.Errorf("%w: expected %d params, got %d", ErrInvalidParams, len(params), len(args))
	}
	for i, p := range params {
		if err := json.Unmarshal(args[i], p.Dst); err != nil {
			return fmt.Errorf("%w: param %d (%s): %v", ErrInvalidParams, i, p.Name, err)
		}
	}
	return nil
}
