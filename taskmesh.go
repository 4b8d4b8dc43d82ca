// Package taskmesh provides a top-level convenience entry point for
// creating an orchestrator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/taskmesh/taskmesh"
//
//	orch := taskmesh.New()
//	orch := taskmesh.New(taskmesh.WithStore(store), taskmesh.WithApprovalPolicy(policy))
//
// This is a thin wrapper around [orchestrator.New]; both produce
// identical results. Use this package when you prefer the shorter
// import path.
package taskmesh

import (
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/approval"
	"github.com/taskmesh/taskmesh/checkpoint"
	"github.com/taskmesh/taskmesh/executor"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/orchestrator"
)

// Option configures the orchestrator created by [New].
type Option func(*orchestrator.Options)

// New creates an [orchestrator.Orchestrator] with sensible defaults: an
// in-memory checkpoint store, no approval gating, and the default
// executor retry policy.
func New(opts ...Option) *orchestrator.Orchestrator {
	options := orchestrator.Options{
		Store:    checkpoint.NewMemoryStore(0),
		Executor: executor.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return orchestrator.New(options)
}

// WithStore sets the checkpoint backend.
func WithStore(store checkpoint.Store) Option {
	return func(o *orchestrator.Options) { o.Store = store }
}

// WithApprovalPolicy gates operations behind human approval.
func WithApprovalPolicy(policy approval.Policy) Option {
	return func(o *orchestrator.Options) { o.Policy = policy }
}

// WithExecutorConfig overrides retry and approval-timeout settings.
func WithExecutorConfig(config executor.Config) Option {
	return func(o *orchestrator.Options) { o.Executor = config }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *orchestrator.Options) { o.Logger = logger }
}

// WithCollector wires Prometheus metrics collection.
func WithCollector(collector *metrics.Collector) Option {
	return func(o *orchestrator.Options) { o.Collector = collector }
}
