package workflow

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxDefinitionSize = 1024 * 1024 // 1MB

// Key aliases accepted in definition files, mapped to their canonical names.
var (
	workflowAliases = map[string]string{
		"name":        "name",
		"workflow":    "name",
		"description": "description",
		"phases":      "phases",
	}

	phaseAliases = map[string]string{
		"name":     "name",
		"phase":    "name",
		"id":       "name",
		"required": "required",
		"steps":    "steps",
	}

	stepAliases = map[string]string{
		"id":            "id",
		"step_id":       "id",
		"stepId":        "id",
		"title":         "title",
		"name":          "title",
		"promptRef":     "prompt_ref",
		"prompt_ref":    "prompt_ref",
		"prompt":        "prompt_ref",
		"template":      "prompt_ref",
		"required":      "required",
		"prerequisites": "prerequisites",
		"dependencies":  "dependencies",
		"depends_on":    "dependencies",
		"dependsOn":     "dependencies",
		"skipHints":     "skip_hints",
		"skip_hints":    "skip_hints",
		"outputs":       "outputs",
	}

	prerequisiteAliases = map[string]string{
		"requiredCapabilities":  "required_capabilities",
		"required_capabilities": "required_capabilities",
		"mcp_servers":           "required_capabilities",
		"mcpServers":            "required_capabilities",
		"capabilities":          "required_capabilities",
		"requiredContext":       "required_context",
		"required_context":      "required_context",
		"optionalContext":       "optional_context",
		"optional_context":      "optional_context",
	}
)

// Load reads and validates a workflow definition file (YAML or JSON).
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening workflow: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat workflow: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("workflow path %s is a directory", path)
	}
	if info.Size() > maxDefinitionSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDefinitionTooLarge, info.Size(), maxDefinitionSize)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a definition, normalizes key aliases and validates it.
func Parse(data []byte) (*Definition, error) {
	if len(data) > maxDefinitionSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDefinitionTooLarge, len(data), maxDefinitionSize)
	}

	raw := koanf.New(".")
	if err := raw.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	k := koanf.New(".")
	if err := k.Load(normalized(normalizeWorkflow(raw.Raw())), nil); err != nil {
		return nil, fmt.Errorf("loading normalized workflow: %w", err)
	}

	var def Definition
	if err := k.Unmarshal("", &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// normalized is a koanf.Provider over an already-parsed map.
type normalized map[string]any

func (n normalized) ReadBytes() ([]byte, error) {
	return nil, errors.New("normalized provider does not support ReadBytes")
}

func (n normalized) Read() (map[string]any, error) {
	return n, nil
}

func normalizeWorkflow(in map[string]any) map[string]any {
	out := renameKeys(in, workflowAliases)
	phases, _ := out["phases"].([]any)
	for i, p := range phases {
		if pm, ok := p.(map[string]any); ok {
			phases[i] = normalizePhase(pm)
		}
	}
	return out
}

func normalizePhase(in map[string]any) map[string]any {
	out := renameKeys(in, phaseAliases)
	steps, _ := out["steps"].([]any)
	for i, s := range steps {
		if sm, ok := s.(map[string]any); ok {
			steps[i] = normalizeStep(sm)
		}
	}
	return out
}

func normalizeStep(in map[string]any) map[string]any {
	prereq := map[string]any{}
	if pm, ok := in["prerequisites"].(map[string]any); ok {
		prereq = renameKeys(pm, prerequisiteAliases)
	}

	// Prerequisite keys written directly on the step are hoisted.
	for k, v := range in {
		if canon, ok := prerequisiteAliases[k]; ok {
			if _, exists := prereq[canon]; !exists {
				prereq[canon] = v
			}
		}
	}

	out := renameKeys(in, stepAliases)
	out["prerequisites"] = prereq
	return out
}

// renameKeys copies in, rewriting aliased keys to their canonical form.
// Unknown keys are dropped. The canonical spelling wins when both appear.
func renameKeys(in map[string]any, aliases map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		canon, ok := aliases[k]
		if !ok {
			continue
		}
		if _, exists := out[canon]; exists && k != canon {
			continue
		}
		out[canon] = v
	}
	return out
}
