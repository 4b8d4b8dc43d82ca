// Package handlers implements the HTTP API over the orchestrator: task
// registry operations, thread and checkpoint lifecycle, and approval
// resolution.
package handlers
