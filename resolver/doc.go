// Package resolver implements the dependency-gated task registry. Tasks
// form a directed acyclic graph; a task becomes ready only once every
// dependency has completed, and completion futures let callers await a
// task without polling.
package resolver
