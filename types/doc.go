// Package types contains the shared error taxonomy used across the
// taskmesh orchestration core.
package types
