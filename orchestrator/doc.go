// Package orchestrator composes the dependency resolver, checkpoint
// store, approval gate, and execution wrapper into one deployment-facing
// facade. It owns the event bus, forwards state transitions to the
// metrics collector, and exposes thread lifecycle and time-travel
// operations.
package orchestrator
