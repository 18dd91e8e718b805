package secrets

import "errors"

var (
	// ErrInvalidPattern indicates an allow list entry is not a valid regex.
	ErrInvalidPattern = errors.New("invalid allow list pattern")

	// ErrDetectorInit indicates the gitleaks detector could not be built.
	ErrDetectorInit = errors.New("failed to initialize secret detector")
)
