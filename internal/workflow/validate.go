package workflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	structValid  *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		structValid = validator.New(validator.WithRequiredStructEnabled())
	})
	return structValid
}

// Validate checks a definition for structural problems and returns a
// *ConfigurationError listing all of them, or nil.
func Validate(def *Definition) error {
	if def == nil {
		return &ConfigurationError{Problems: []string{"definition is nil"}}
	}

	var problems []string

	if err := structValidator().Struct(def); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating workflow: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	seen := make(map[string]int)
	for _, ps := range def.Flatten() {
		if ps.Step.ID == "" {
			continue
		}
		if prev, dup := seen[ps.Step.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate step id %q (steps %d and %d)", ps.Step.ID, prev, ps.Index))
			continue
		}
		seen[ps.Step.ID] = ps.Index
	}

	for _, ps := range def.Flatten() {
		for _, dep := range ps.Step.Dependencies {
			if dep == ps.Step.ID {
				problems = append(problems, fmt.Sprintf("step %q depends on itself", ps.Step.ID))
				continue
			}
			if _, ok := seen[dep]; !ok {
				problems = append(problems, fmt.Sprintf("step %q depends on unknown step %q", ps.Step.ID, dep))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ConfigurationError{Workflow: def.Name, Problems: problems}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Namespace(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q check", fe.Namespace(), fe.Tag())
	}
}
