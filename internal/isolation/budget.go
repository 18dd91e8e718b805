package isolation

// Budget defaults in tokens.
const (
	DefaultBaselineBudget = 4000
	DefaultTargetTokens   = 500
)

// DefaultPhaseBonus is added to the baseline per phase. Implementation gets
// the largest bonus.
var DefaultPhaseBonus = map[string]int{
	"analysis":       1000,
	"design":         2000,
	"planning":       1000,
	"implementation": 4000,
	"testing":        2000,
	"refactoring":    2000,
}

// BudgetTable maps a phase to a token budget: baseline plus phase bonus.
type BudgetTable struct {
	Baseline   int
	PhaseBonus map[string]int
}

// DefaultBudgetTable returns the built-in table.
func DefaultBudgetTable() BudgetTable {
	bonus := make(map[string]int, len(DefaultPhaseBonus))
	for k, v := range DefaultPhaseBonus {
		bonus[k] = v
	}
	return BudgetTable{Baseline: DefaultBaselineBudget, PhaseBonus: bonus}
}

// For returns the budget for phase. Unknown phases get the baseline.
func (b BudgetTable) For(phase string) int {
	base := b.Baseline
	if base <= 0 {
		base = DefaultBaselineBudget
	}
	return base + b.PhaseBonus[phase]
}
