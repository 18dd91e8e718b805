package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Definition errors.
var (
	ErrInvalidDefinition  = errors.New("invalid workflow definition")
	ErrDefinitionTooLarge = errors.New("workflow definition exceeds maximum size")
)

// ErrInvalidTransition is returned when a stage status change is not allowed.
var ErrInvalidTransition = errors.New("invalid stage transition")

// ConfigurationError reports every problem found in a malformed definition.
type ConfigurationError struct {
	Workflow string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	name := e.Workflow
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("workflow %s: %s", name, strings.Join(e.Problems, "; "))
}

// Unwrap lets callers match ErrInvalidDefinition with errors.Is.
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidDefinition
}
