// Package approval implements the human-in-the-loop gate: execution
// pauses on a pending request until an operator approves or rejects it,
// or the request times out. Requests resolve exactly once; the first
// resolver wins and later resolvers get an error.
package approval
