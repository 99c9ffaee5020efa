package domain

import "fmt"

// ToolCallNotFoundError is returned when no pending tool message matches an id.
type ToolCallNotFoundError struct {
	ID string
}

func (e *ToolCallNotFoundError) Error() string {
	return fmt.Sprintf("tool call %q not found", e.ID)
}
