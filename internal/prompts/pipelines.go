package prompts

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// Stage names as they appear in the pipeline registry.
const (
	StageTurnDecision     = "turn_decision"
	StageQueryRecognition = "query_recognition"
	StageSecurityGate     = "security_gate"
	StageAccessResolution = "access_resolution"
	StageActionRouter     = "action_router"
)

type pipelineFile map[string]map[string][]string

// Registry holds the resolved instruction lists for every stage. It is
// immutable after loading.
type Registry struct {
	stages map[string]Set
}

// Set is one stage's pipelines: key -> ordered instruction texts. Keys that
// another stage of the same registry declares fall back to the default
// pipeline.
type Set struct {
	stage  string
	byKey  map[string][]string
	shared map[string]struct{}
}

// LoadRegistry parses the pipeline file at path, or the embedded default when
// path is empty, and resolves every prompt through the loader.
func LoadRegistry(path string, loader *Loader) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = embedded.ReadFile("pipelines.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read pipelines: %w", err)
	}
	return ParseRegistry(data, loader)
}

// ParseRegistry builds a registry from YAML.
func ParseRegistry(data []byte, loader *Loader) (*Registry, error) {
	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pipelines: %w", err)
	}

	reg := &Registry{stages: make(map[string]Set, len(file))}
	for stage, pipelines := range file {
		set := Set{stage: stage, byKey: make(map[string][]string, len(pipelines))}
		for key, names := range pipelines {
			texts := make([]string, 0, len(names))
			for _, name := range names {
				text, err := loader.Get(name)
				if err != nil {
					return nil, fmt.Errorf("pipeline %s/%s: %w", stage, key, err)
				}
				texts = append(texts, text)
			}
			set.byKey[key] = texts
		}
		reg.stages[stage] = set
	}

	shared := map[string]struct{}{}
	for _, set := range reg.stages {
		for key := range set.byKey {
			shared[key] = struct{}{}
		}
	}
	for name, set := range reg.stages {
		set.shared = shared
		reg.stages[name] = set
	}
	return reg, nil
}

// Stage returns the pipeline set for a stage. An unknown stage yields an
// empty set whose lookups all fail.
func (r *Registry) Stage(name string) Set {
	if set, ok := r.stages[name]; ok {
		return set
	}
	return Set{stage: name}
}

// NewSet builds a set directly, mostly for tests and custom wiring.
func NewSet(stage string, byKey map[string][]string) Set {
	cp := make(map[string][]string, len(byKey))
	for k, v := range byKey {
		cp[k] = slices.Clone(v)
	}
	return Set{stage: stage, byKey: cp}
}

// Instructions returns a copy of the instruction list for key.
func (s Set) Instructions(key string) ([]string, error) {
	texts, ok := s.byKey[key]
	if !ok {
		if _, known := s.shared[key]; known {
			texts, ok = s.byKey[domain.DefaultPipeline]
		}
	}
	if !ok {
		return nil, &domain.UnknownPipelineError{Stage: s.stage, Key: key, Available: s.Keys()}
	}
	return slices.Clone(texts), nil
}

// Keys lists the pipeline keys in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
