package llm

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gomatter/ports"
)

//go:embed prompts/*.txt
var builtinPrompts embed.FS

// PromptManager loads prompt templates, preferring files in PromptsDir over the built-in set
type PromptManager struct {
	PromptsDir string
}

// NewPromptManager creates a prompt manager; an empty dir uses the built-in templates only
func NewPromptManager(promptsDir string) *PromptManager {
	return &PromptManager{PromptsDir: promptsDir}
}

// LoadPrompt loads a prompt template by name
func (pm *PromptManager) LoadPrompt(name string) (string, error) {
	if pm.PromptsDir != "" {
		content, err := os.ReadFile(filepath.Join(pm.PromptsDir, name+".txt"))
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
		}
	}
	content, err := builtinPrompts.ReadFile("prompts/" + name + ".txt")
	if err != nil {
		return "", fmt.Errorf("prompt template not found: %s", name)
	}
	return string(content), nil
}

// RenderPrompt replaces {PLACEHOLDER} with values
func (pm *PromptManager) RenderPrompt(name string, replacements map[string]string) (string, error) {
	template, err := pm.LoadPrompt(name)
	if err != nil {
		return "", err
	}
	result := template
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, "{"+placeholder+"}", value)
	}
	return result, nil
}

// Compile renders the template for the prompt's purpose
func (pm *PromptManager) Compile(p ports.PromptContext) (string, error) {
	return pm.RenderPrompt(string(p.Purpose), map[string]string{
		"FORMULA":    p.Formula,
		"PROPERTIES": bulletProperties(p),
		"FINDINGS":   bulletFindings(p.Findings),
		"RULES":      bulletRules(p.Rules),
		"CANDIDATES": numbered(p.Candidates),
	})
}

func bulletProperties(p ports.PromptContext) string {
	if len(p.Properties) == 0 {
		return "- none reported"
	}
	var b strings.Builder
	for i, k := range p.Properties.Keys() {
		if i > 0 {
			b.WriteString("\n")
		}
		v, _ := p.Properties.Get(k)
		fmt.Fprintf(&b, "- %s: %s", k, v)
	}
	return b.String()
}

func bulletFindings(findings map[string]string) string {
	if len(findings) == 0 {
		return "- none"
	}
	keys := make([]string, 0, len(findings))
	for k := range findings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("- %s: %s", k, findings[k])
	}
	return strings.Join(lines, "\n")
}

func bulletRules(rs []ports.RuleFact) string {
	if len(rs) == 0 {
		return "- no rules matched; say so and keep claims general"
	}
	lines := make([]string, len(rs))
	for i, r := range rs {
		line := fmt.Sprintf("- [%s] (%s, confidence %.2f) %s", r.ID, r.Category, r.Confidence, r.Statement)
		if r.Citation != "" {
			line += " (" + r.Citation + ")"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "- none"
	}
	lines := make([]string, len(items))
	for i, s := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, s)
	}
	return strings.Join(lines, "\n")
}
