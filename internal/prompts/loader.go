// Package prompts loads stage instructions and the pipeline registry.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed *.md pipelines.yaml
var embedded embed.FS

// Prompt names
const (
	TurnDecision    = "turn_decision"
	QueryRecognizer = "query_recognizer"
	SecurityGate    = "security_gate"
	AccessResolver  = "access_resolver"
	ActionRouter    = "action_router"
	StrictJSON      = "strict_json"
)

// ErrPromptNotFound is returned when neither the override directory nor the
// embedded set has the prompt.
var ErrPromptNotFound = errors.New("prompt not found")

// Loader loads prompt templates from files.
type Loader struct {
	dir   string
	cache map[string]string
	mu    sync.RWMutex
}

// NewLoader creates a loader. When dir is set, <dir>/<name>.md overrides the
// embedded default.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:   dir,
		cache: make(map[string]string),
	}
}

// Get returns the trimmed content of a prompt by name.
func (l *Loader) Get(name string) (string, error) {
	l.mu.RLock()
	if cached, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	content, err := l.load(name)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.cache[name] = content
	l.mu.Unlock()

	return content, nil
}

func (l *Loader) load(name string) (string, error) {
	filename := name + ".md"

	if l.dir != "" {
		if content, err := os.ReadFile(filepath.Join(l.dir, filename)); err == nil {
			return strings.TrimSpace(string(content)), nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt %s: %w", name, err)
		}
	}

	content, err := embedded.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	return strings.TrimSpace(string(content)), nil
}
