// Package workflow defines workflow definitions, their validation, and the
// runtime stages the orchestrator expands them into.
package workflow

// Definition is a declarative workflow: ordered phases of ordered steps.
// It is immutable once loaded.
type Definition struct {
	Name        string  `koanf:"name" json:"name" validate:"required"`
	Description string  `koanf:"description" json:"description,omitempty"`
	Phases      []Phase `koanf:"phases" json:"phases" validate:"required,min=1,dive"`
}

// Phase groups steps under a name such as "analysis" or "implementation".
type Phase struct {
	Name     string `koanf:"name" json:"name" validate:"required"`
	Required bool   `koanf:"required" json:"required"`
	Steps    []Step `koanf:"steps" json:"steps" validate:"dive"`
}

// Step is one unit of work inside a phase.
type Step struct {
	ID            string        `koanf:"id" json:"id" validate:"required"`
	Title         string        `koanf:"title" json:"title,omitempty"`
	PromptRef     string        `koanf:"prompt_ref" json:"prompt_ref" validate:"required"`
	Required      bool          `koanf:"required" json:"required"`
	Prerequisites Prerequisites `koanf:"prerequisites" json:"prerequisites"`
	Dependencies  []string      `koanf:"dependencies" json:"dependencies,omitempty"`
	SkipHints     []string      `koanf:"skip_hints" json:"skip_hints,omitempty"`
	Outputs       []string      `koanf:"outputs" json:"outputs,omitempty"`
}

// Prerequisites gate or inform a step.
//
// Only RequiredCapabilities decides executability. Context keys augment the
// step when present and are reported as guidance when absent.
type Prerequisites struct {
	RequiredCapabilities []string `koanf:"required_capabilities" json:"required_capabilities,omitempty"`
	RequiredContext      []string `koanf:"required_context" json:"required_context,omitempty"`
	OptionalContext      []string `koanf:"optional_context" json:"optional_context,omitempty"`
}

// DisplayName returns the title, falling back to the ID.
func (s Step) DisplayName() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// PhaseStep is a step paired with its phase and flattened position.
type PhaseStep struct {
	Phase string
	Index int
	Step  Step
}

// Flatten returns every step in definition order.
func (d *Definition) Flatten() []PhaseStep {
	var out []PhaseStep
	for _, p := range d.Phases {
		for _, s := range p.Steps {
			out = append(out, PhaseStep{Phase: p.Name, Index: len(out), Step: s})
		}
	}
	return out
}

// TotalSteps counts steps across all phases.
func (d *Definition) TotalSteps() int {
	n := 0
	for _, p := range d.Phases {
		n += len(p.Steps)
	}
	return n
}

// Step looks up a step by ID.
func (d *Definition) Step(id string) (PhaseStep, bool) {
	for _, ps := range d.Flatten() {
		if ps.Step.ID == id {
			return ps, true
		}
	}
	return PhaseStep{}, false
}
