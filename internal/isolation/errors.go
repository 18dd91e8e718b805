package isolation

import "errors"

var (
	// ErrNilStage is returned when BuildContext is called without a stage.
	ErrNilStage = errors.New("stage is required")

	// ErrEmptyAgentID is returned when BuildContext is called without an agent.
	ErrEmptyAgentID = errors.New("agent_id is required")

	// ErrInvalidHandoff is returned for a handoff request missing a stage.
	ErrInvalidHandoff = errors.New("handoff requires source and target stages")

	// ErrNotRepository indicates a discovery root is not a git work tree.
	ErrNotRepository = errors.New("not a git repository")
)
