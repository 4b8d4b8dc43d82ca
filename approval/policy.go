package approval

import "context"

// Policy decides whether an action needs human approval before it runs.
type Policy interface {
	RequiresApproval(ctx context.Context, threadID string, action Action) bool
}

// DefaultPolicy requires approval for an explicit list of operations,
// or for everything when AlwaysRequire is set.
type DefaultPolicy struct {
	RequireApprovalOperations []string
	AlwaysRequire             bool
}

func (p *DefaultPolicy) RequiresApproval(ctx context.Context, threadID string, action Action) bool {
	if p.AlwaysRequire {
		return true
	}
	for _, op := range p.RequireApprovalOperations {
		if op == action.Operation {
			return true
		}
	}
	return false
}

// NoApproval is a policy that never gates execution.
type NoApproval struct{}

func (NoApproval) RequiresApproval(ctx context.Context, threadID string, action Action) bool {
	return false
}
