package resolver

import "time"

// Status represents a task's lifecycle status.
type Status string

const (
	// StatusPending means at least one dependency has not completed yet.
	StatusPending Status = "pending"
	// StatusReady means every dependency has completed.
	StatusReady Status = "ready"
	// StatusRunning means an agent has started the task.
	StatusRunning Status = "running"
	// StatusCompleted is terminal; the result is available.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal until the task id is re-registered.
	StatusFailed Status = "failed"
	// StatusBlocked means a transitive dependency failed.
	StatusBlocked Status = "blocked"
)

// Task is a unit of work with an id, dependency set, and lifecycle status.
// The dependency set is immutable after registration.
type Task struct {
	ID           string         `json:"id"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       Status         `json:"status"`
	AgentID      string         `json:"agent_id,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	RegisteredAt time.Time      `json:"registered_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// clone returns a copy safe to hand to callers. Dependency and metadata
// maps are copied so readers cannot mutate registry state.
func (t *Task) clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SystemStatus is a point-in-time snapshot of the registry.
type SystemStatus struct {
	Counts map[Status]int   `json:"counts"`
	Tasks  map[string]*Task `json:"tasks"`
}
