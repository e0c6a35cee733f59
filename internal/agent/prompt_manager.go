package agent

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// Prompt names.
const (
	PromptIdentity  = "identity"
	PromptTranslate = "translate"
	PromptRecommend = "recommend"
	PromptInsights  = "insights"
)

// PromptManager loads prompt templates. Files in Directory override the
// embedded defaults of the same name.
type PromptManager struct {
	Directory string
	logger    *zap.Logger
}

func NewPromptManager(dir string, logger *zap.Logger) *PromptManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptManager{Directory: dir, logger: logger}
}

// Get returns the raw text of prompt name.
func (pm *PromptManager) Get(name string) (string, error) {
	file := name + ".md"

	if pm.Directory != "" {
		path := filepath.Join(pm.Directory, file)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			pm.logger.Warn("failed to read prompt override", zap.String("path", path), zap.Error(err))
		}
	}

	data, err := defaultPrompts.ReadFile("prompts/" + file)
	if err != nil {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	return string(data), nil
}

// Render executes prompt name as a text/template with data.
func (pm *PromptManager) Render(name string, data any) (string, error) {
	text, err := pm.Get(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Compose renders several prompts with the same data and joins them in the
// given order.
func (pm *PromptManager) Compose(data any, names ...string) (string, error) {
	var parts []string
	for _, name := range names {
		text, err := pm.Render(name, data)
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("no prompt content")
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}
