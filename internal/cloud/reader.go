package cloud

import (
	"context"
	"strings"
)

// ListManaged queries one account for the stacks owned by this system: all
// stacks in a terminal-success status whose name carries the naming prefix.
// The result is a point-in-time snapshot keyed by stack name with the
// observed status as value. On a query failure the caller must treat the
// account's state as unknown and skip reconciliation for it entirely.
func ListManaged(ctx context.Context, client StackClient, prefix string) (map[string]string, error) {
	stacks, err := client.ListStacks(ctx)
	if err != nil {
		return nil, err
	}

	managed := make(map[string]string)
	for _, stack := range stacks {
		if strings.HasPrefix(stack.Name, prefix) {
			managed[stack.Name] = stack.Status
		}
	}
	return managed, nil
}
