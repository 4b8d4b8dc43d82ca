// Package executor runs single units of work under a thread with
// checkpointing, optional approval gating, and bounded linear-backoff
// retries. The wrapper persists a checkpoint at every lifecycle phase
// so a restarted process can resume from the last attempt.
package executor
