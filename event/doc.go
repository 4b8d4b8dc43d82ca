// Package event provides the broadcast bus that carries every externally
// visible state transition of the orchestration core. Publishing never
// blocks the publisher; delivery order follows publish order.
package event
