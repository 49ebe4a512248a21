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
	"fmt"
	"sort"
	"sync"
)

// InputRule describes how a stage consumes prior-stage outputs.
type InputRule string

const (
	// InputRaw feeds each model only the original prompt.
	InputRaw InputRule = "raw"

	// InputOwn feeds each model the prompt plus its own prior-stage output.
	InputOwn InputRule = "own"

	// InputAllLabeled feeds each model the prompt plus every prior-stage
	// output, labeled by source model.
	InputAllLabeled InputRule = "all_labeled"
)

// ParticipantRule describes which selected models run a stage.
type ParticipantRule string

const (
	// ParticipantsAll runs every selected model.
	ParticipantsAll ParticipantRule = "all"

	// ParticipantsLead runs the single designated lead model.
	ParticipantsLead ParticipantRule = "lead"
)

// Stage is one step of an analysis pattern. Patterns are configuration
// data; the scheduler never branches on stage names.
type Stage struct {
	// Name identifies the stage within its pattern (e.g. "initial", "ultra").
	Name string `json:"name"`

	// Participants selects which models run this stage.
	Participants ParticipantRule `json:"participants"`

	// Input selects how prior outputs feed this stage's prompts.
	Input InputRule `json:"input"`

	// Instruction is prepended guidance for this stage's prompt.
	Instruction string `json:"instruction,omitempty"`

	// Required aborts the whole request when the stage ends with zero
	// successful outputs. Non-required stages degrade instead.
	Required bool `json:"required"`
}

// AnalysisPattern is an ordered stage list with a unique name.
type AnalysisPattern struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Stages      []Stage `json:"stages"`
}

// Validate checks a pattern for structural problems.
func (p *AnalysisPattern) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pattern name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pattern %q has no stages", p.Name)
	}

	stageNames := make(map[string]bool, len(p.Stages))
	for i, stage := range p.Stages {
		if stage.Name == "" {
			return fmt.Errorf("pattern %q stage %d has no name", p.Name, i)
		}
		if stageNames[stage.Name] {
			return fmt.Errorf("pattern %q has duplicate stage %q", p.Name, stage.Name)
		}
		stageNames[stage.Name] = true

		switch stage.Participants {
		case ParticipantsAll, ParticipantsLead:
		default:
			return fmt.Errorf("pattern %q stage %q has unknown participant rule %q",
				p.Name, stage.Name, stage.Participants)
		}

		switch stage.Input {
		case InputRaw, InputOwn, InputAllLabeled:
		default:
			return fmt.Errorf("pattern %q stage %q has unknown input rule %q",
				p.Name, stage.Name, stage.Input)
		}

		// A first stage has no prior outputs to consume
		if i == 0 && stage.Input != InputRaw {
			return fmt.Errorf("pattern %q first stage %q must use the raw input rule",
				p.Name, stage.Name)
		}
	}

	return nil
}

// PatternSet is the pattern engine: pure lookup and validation over a set of
// named patterns. Safe for concurrent use.
type PatternSet struct {
	mu       sync.RWMutex
	patterns map[string]AnalysisPattern
}

// NewPatternSet creates a pattern set preloaded with the given patterns.
func NewPatternSet(patterns ...AnalysisPattern) (*PatternSet, error) {
	s := &PatternSet{patterns: make(map[string]AnalysisPattern)}
	for _, p := range patterns {
		if err := s.Register(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds a pattern. Duplicate names are rejected.
func (s *PatternSet) Register(p AnalysisPattern) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.patterns[p.Name]; exists {
		return fmt.Errorf("pattern %q already registered", p.Name)
	}
	s.patterns[p.Name] = p
	return nil
}

// Get resolves a pattern by name.
func (s *PatternSet) Get(name string) (AnalysisPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[name]
	if !ok {
		return AnalysisPattern{}, &RequestError{
			Code:    ErrCodeUnknownPattern,
			Message: fmt.Sprintf("pattern %q not found", name),
		}
	}
	return p, nil
}

// List returns all registered patterns sorted by name.
func (s *PatternSet) List() []AnalysisPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patterns := make([]AnalysisPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Name < patterns[j].Name })
	return patterns
}

// BuiltinPatterns returns the patterns shipped with the engine.
func BuiltinPatterns() []AnalysisPattern {
	return []AnalysisPattern{
		{
			Name:        "four-stage",
			Description: "Independent answers refined, cross-synthesized, then unified by a lead model",
			Stages: []Stage{
				{
					Name:         "initial",
					Participants: ParticipantsAll,
					Input:        InputRaw,
					Required:     true,
				},
				{
					Name:         "meta",
					Participants: ParticipantsAll,
					Input:        InputOwn,
					Instruction:  "Review your previous answer below. Refine it: correct mistakes, fill gaps, and tighten the reasoning.",
				},
				{
					Name:         "hyper",
					Participants: ParticipantsAll,
					Input:        InputAllLabeled,
					Instruction:  "Several analyses of the same question follow, labeled by source. Synthesize them into a single stronger analysis, noting agreements and resolving conflicts.",
				},
				{
					Name:         "ultra",
					Participants: ParticipantsLead,
					Input:        InputAllLabeled,
					Instruction:  "Produce the single final answer from the syntheses below. Be decisive; do not mention the synthesis process.",
					Required:     true,
				},
			},
		},
		{
			Name:        "critique",
			Description: "Answers critiqued by peers, revised, then unified",
			Stages: []Stage{
				{
					Name:         "answer",
					Participants: ParticipantsAll,
					Input:        InputRaw,
					Required:     true,
				},
				{
					Name:         "critique",
					Participants: ParticipantsAll,
					Input:        InputAllLabeled,
					Instruction:  "Critique each answer below: identify factual errors, weak reasoning, and omissions. Do not produce your own answer yet.",
				},
				{
					Name:         "revise",
					Participants: ParticipantsAll,
					Input:        InputAllLabeled,
					Instruction:  "Using the critiques below, write an improved answer to the original question.",
				},
				{
					Name:         "final",
					Participants: ParticipantsLead,
					Input:        InputAllLabeled,
					Instruction:  "Merge the revised answers below into the single best answer.",
					Required:     true,
				},
			},
		},
		{
			Name:        "fact-check",
			Description: "Answers verified claim-by-claim before synthesis",
			Stages: []Stage{
				{
					Name:         "answer",
					Participants: ParticipantsAll,
					Input:        InputRaw,
					Required:     true,
				},
				{
					Name:         "verify",
					Participants: ParticipantsAll,
					Input:        InputAllLabeled,
					Instruction:  "List each factual claim made in the answers below and mark it supported, unsupported, or contradicted. Flag anything that needs correction.",
				},
				{
					Name:         "synthesis",
					Participants: ParticipantsLead,
					Input:        InputAllLabeled,
					Instruction:  "Write the final answer using only claims that survived verification.",
					Required:     true,
				},
			},
		},
		{
			Name:        "single-pass",
			Description: "One round, every model answers, lead output returned",
			Stages: []Stage{
				{
					Name:         "answer",
					Participants: ParticipantsAll,
					Input:        InputRaw,
					Required:     true,
				},
			},
		},
	}
}
