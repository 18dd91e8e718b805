package agent

import "github.com/fyrsmithlabs/agentflow/internal/isolation"

// DefaultMinContentLength is the minimum length of a textual output for
// types that check content.
const DefaultMinContentLength = 50

// ValidationRules are the output checks applied after a backend call.
type ValidationRules struct {
	// AnyOfKeys requires at least one of these keys when non-empty.
	AnyOfKeys []string
	// MinContentLength requires some textual output, under any key, of at
	// least this many characters. Zero disables the check.
	MinContentLength int
}

// Descriptor is one row of the agent type table.
type Descriptor struct {
	Type         Type
	Template     string
	Rules        ValidationRules
	TokenBudget  int
	Capabilities []string
}

var descriptors = map[Type]Descriptor{
	TypeAnalysis: {
		Type:     TypeAnalysis,
		Template: "analysis.md",
		Rules: ValidationRules{
			AnyOfKeys:        []string{"analysis", "requirements"},
			MinContentLength: DefaultMinContentLength,
		},
		Capabilities: []string{"read"},
	},
	TypeDesign: {
		Type:     TypeDesign,
		Template: "design.md",
		Rules: ValidationRules{
			AnyOfKeys:        []string{"design", "architecture"},
			MinContentLength: DefaultMinContentLength,
		},
		Capabilities: []string{"read"},
	},
	TypePlanning:       {Type: TypePlanning, Template: "planning.md", Capabilities: []string{"read"}},
	TypeImplementation: {Type: TypeImplementation, Template: "implementation.md", Capabilities: []string{"read", "write"}},
	TypeTesting:        {Type: TypeTesting, Template: "testing.md", Capabilities: []string{"read", "execute"}},
	TypeRefactoring:    {Type: TypeRefactoring, Template: "refactoring.md", Capabilities: []string{"read", "write"}},
}

func init() {
	budgets := isolation.DefaultBudgetTable()
	for t, d := range descriptors {
		d.TokenBudget = budgets.For(string(t))
		descriptors[t] = d
	}
}

// Describe returns the descriptor for t, falling back to analysis.
func Describe(t Type) Descriptor {
	if d, ok := descriptors[t]; ok {
		return d
	}
	return descriptors[TypeAnalysis]
}

// TypeForPhase maps a workflow phase to an agent type. Unknown phases map
// to analysis.
func TypeForPhase(phase string) Type {
	if t := Type(phase); t.Valid() {
		return t
	}
	return TypeAnalysis
}
