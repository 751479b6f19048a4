package responder

import (
	"net"

	"github.com/apex/log"

	"github.com/jwmdns/mdnsd/scheduler"
)

// Option is a functional option for New, layered on top of Config for
// callers that prefer composable construction over a struct literal.
type Option func(*Config)

// WithAddress sets the responder's bound interface address.
func WithAddress(ip net.IP) Option {
	return func(c *Config) { c.Address = ip }
}

// WithLogger overrides the default apex/log handler.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithRand overrides the scheduler's jitter source, for deterministic tests
// (§9: "inject a seedable random source for deterministic testing").
func WithRand(r scheduler.Rand) Option {
	return func(c *Config) { c.Rand = r }
}

// NewWithOptions builds a Responder from a base Config plus Options applied
// in order.
func NewWithOptions(base Config, opts ...Option) (*Responder, error) {
	for _, opt := range opts {
		opt(&base)
	}
	return New(base)
}
