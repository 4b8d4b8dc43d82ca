// Package checkpoint provides the durable, versioned state log for
// execution threads. Checkpoints are append-only and strictly ordered by
// a per-thread sequence number; reverting hides later checkpoints behind
// a superseded flag without deleting them, so forensic history survives
// time travel.
//
// Three backends are provided: in-memory for tests and development, GORM
// for single-node durable deployments, and Redis for distributed ones.
package checkpoint
