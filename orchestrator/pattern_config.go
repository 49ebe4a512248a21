// Copyright 2025 UltrAI
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatternFile is an analysis pattern declared in a configuration file,
// following the Kubernetes-style apiVersion/kind pattern. One file may hold
// multiple YAML documents.
type PatternFile struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	Metadata   PatternMetadata `yaml:"metadata"`
	Spec       PatternSpec     `yaml:"spec"`
}

// PatternMetadata identifies and describes one pattern.
type PatternMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// PatternSpec holds the ordered stage definitions.
type PatternSpec struct {
	Stages []StageDef `yaml:"stages"`
}

// StageDef is one stage as declared in YAML.
type StageDef struct {
	Name         string `yaml:"name"`
	Participants string `yaml:"participants"` // all, lead
	Input        string `yaml:"input"`        // raw, own, all_labeled
	Instruction  string `yaml:"instruction,omitempty"`
	Required     bool   `yaml:"required,omitempty"`
}

const (
	// patternAPIGroup is the required apiVersion prefix for pattern files.
	patternAPIGroup = "ultrai.io/"

	// patternKind is the required kind for pattern files.
	patternKind = "AnalysisPattern"
)

// LoadPatternFile reads and parses every pattern document in a YAML file.
func LoadPatternFile(path string) ([]AnalysisPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file %s: %w", path, err)
	}
	return ParsePatterns(data)
}

// ParsePatterns parses one or more YAML pattern documents.
func ParsePatterns(data []byte) ([]AnalysisPattern, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var patterns []AnalysisPattern
	for {
		var file PatternFile
		if err := decoder.Decode(&file); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}

		pattern, err := file.toPattern()
		if err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		patterns = append(patterns, *pattern)
	}

	if len(patterns) == 0 {
		return nil, fmt.Errorf("no pattern documents found")
	}
	return patterns, nil
}

// toPattern validates the file envelope and converts it to the runtime form.
func (f *PatternFile) toPattern() (*AnalysisPattern, error) {
	if !strings.HasPrefix(f.APIVersion, patternAPIGroup) {
		return nil, fmt.Errorf("invalid apiVersion: must start with %q, got %q", patternAPIGroup, f.APIVersion)
	}
	if f.Kind != patternKind {
		return nil, fmt.Errorf("invalid kind: expected %q, got %q", patternKind, f.Kind)
	}
	if f.Metadata.Name == "" {
		return nil, fmt.Errorf("metadata.name is required")
	}

	pattern := AnalysisPattern{
		Name:        f.Metadata.Name,
		Description: f.Metadata.Description,
		Stages:      make([]Stage, 0, len(f.Spec.Stages)),
	}
	for _, def := range f.Spec.Stages {
		pattern.Stages = append(pattern.Stages, Stage{
			Name:         def.Name,
			Participants: ParticipantRule(def.Participants),
			Input:        InputRule(def.Input),
			Instruction:  def.Instruction,
			Required:     def.Required,
		})
	}

	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	return &pattern, nil
}
