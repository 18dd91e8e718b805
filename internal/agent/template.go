package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/agentflow/internal/isolation"
)

// ErrTemplateNotFound is returned by a TemplateSource without the template.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateSource loads prompt templates by name.
type TemplateSource interface {
	Load(name string) (string, error)
}

// DirTemplates loads templates from files under a directory.
type DirTemplates struct {
	fsys fs.FS
}

// NewDirTemplates reads templates from dir.
func NewDirTemplates(dir string) *DirTemplates {
	return &DirTemplates{fsys: os.DirFS(dir)}
}

// Load implements TemplateSource. Names are cleaned and may not escape the
// directory.
func (d *DirTemplates) Load(name string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(name))
	if !fs.ValidPath(clean) {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	data, err := fs.ReadFile(d.fsys, clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return "", err
	}
	return string(data), nil
}

// MapTemplates serves templates from memory.
type MapTemplates map[string]string

// Load implements TemplateSource.
func (m MapTemplates) Load(name string) (string, error) {
	if t, ok := m[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// GenericTemplate is used when no type-specific template is found.
const GenericTemplate = `# Role
You are the {{.Type}} agent for stage "{{.StageID}}" ({{.Phase}} phase).

# Task
{{.Task}}
{{- if .UserRequirements}}

# User Requirements
{{.UserRequirements}}
{{- end}}
{{- if .Resources}}

# Relevant Resources
{{- range .Resources}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Handoff}}

# Handoff From Previous Stage
{{.Handoff}}
{{- end}}

# Output
Respond with a JSON object of named outputs{{if .ExpectedOutputs}} including: {{join .ExpectedOutputs ", "}}{{end}}.
List the key decisions you made under "decisions".
Stay within {{.TokenBudget}} tokens.`

// PromptData is the value templates are executed against.
type PromptData struct {
	Type             Type
	AgentID          string
	StageID          string
	Phase            string
	Task             string
	UserRequirements string
	Resources        []string
	Handoff          string
	ExpectedOutputs  []string
	TokenBudget      int
}

var templateFuncs = template.FuncMap{"join": strings.Join}

// BuildPrompt merges the system prompt with the rendered template. Nothing
// outside ic reaches the prompt.
func BuildPrompt(tmpl string, t Type, ic *isolation.IsolatedContext) (string, error) {
	parsed, err := template.New("prompt").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}

	data := PromptData{
		Type:             t,
		AgentID:          ic.AgentID,
		StageID:          ic.StageID,
		Phase:            ic.Phase,
		Task:             ic.Task,
		UserRequirements: ic.UserRequirements,
		Resources:        ic.Resources,
		ExpectedOutputs:  ic.ExpectedOutputs,
		TokenBudget:      ic.TokenBudget,
	}
	if ic.Handoff != nil {
		data.Handoff = ic.Handoff.Text
	}

	var b strings.Builder
	if ic.SystemPrompt != "" {
		b.WriteString(ic.SystemPrompt)
		b.WriteString("\n\n")
	}
	if err := parsed.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering prompt template: %w", err)
	}
	return b.String(), nil
}

// resolveTemplate tries the stage's prompt reference, then the type
// template, then GenericTemplate.
func resolveTemplate(src TemplateSource, names ...string) (string, string) {
	if src != nil {
		for _, name := range names {
			if name == "" {
				continue
			}
			if t, err := src.Load(name); err == nil {
				return t, name
			}
		}
	}
	return GenericTemplate, "generic"
}
