package server

import "context"

// pingerFunc adapts a plain probe function to the Pinger interface so
// dependencies (the relational store, the vector index, the embedding
// backend) can be wired into GET /api/ready without importing this package's
// types.
type pingerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// PingerFunc wraps fn as a named Pinger.
func PingerFunc(name string, fn func(ctx context.Context) error) Pinger {
	return &pingerFunc{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *pingerFunc) Name() string { return p.name }

// Ping runs the wrapped probe.
func (p *pingerFunc) Ping(ctx context.Context) error { return p.fn(ctx) }
