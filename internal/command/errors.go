package command

import "fmt"

// ValidationError rejects a malformed command at submission time.
type ValidationError struct {
	Type   Type
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid command: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s command: %s", e.Type, e.Reason)
}
