package signer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/status-im/hwsigner-go/ledger"
	"github.com/status-im/hwsigner-go/registry"
)

// DefaultProbeDelay debounces the reachability probe after Connect and Refresh.
const DefaultProbeDelay = 300 * time.Millisecond

type options struct {
	probeDelay time.Duration
	registry   *registry.Registry
	factory    ledger.Factory
	registerer prometheus.Registerer
	onChange   func(Snapshot)
}

// Option configures a Signer.
type Option func(*options)

func WithProbeDelay(d time.Duration) Option {
	return func(o *options) {
		o.probeDelay = d
	}
}

func WithRegistry(r *registry.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithFactory replaces the function building device sessions.
func WithFactory(f ledger.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithRegisterer registers the signer metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithOnChange sets a callback invoked with a fresh Snapshot after every state change.
// It runs on the goroutine that caused the change and must not block.
func WithOnChange(fn func(Snapshot)) Option {
	return func(o *options) {
		o.onChange = fn
	}
}

func defaultOptions() options {
	return options{
		probeDelay: DefaultProbeDelay,
		registry:   registry.Default(),
		factory:    ledger.New,
	}
}
