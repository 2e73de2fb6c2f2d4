// Package schema declares the questionnaire's step and field registry.
//
// The seven steps and their field constraints are described in an embedded
// YAML document instead of being discovered from a live view tree. The
// registry is the single authority both the validation engine and the step
// controller consult.
package schema

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// TotalSteps is the fixed number of questionnaire steps.
const TotalSteps = 7

// Step indexes, zero-based.
const (
	StepWelcome = iota
	StepPersonalData
	StepPropertyData
	StepDocuments
	StepTracking
	StepReview
	StepPrivacy
)

// FieldType enumerates the input kinds the validation engine understands.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldTel      FieldType = "tel"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldFile     FieldType = "file"
)

// Field describes a single named input and its declarative constraints.
type Field struct {
	Name      string    `yaml:"name"`
	Label     string    `yaml:"label"`
	Type      FieldType `yaml:"type"`
	Required  bool      `yaml:"required"`
	Pattern   string    `yaml:"pattern,omitempty"`
	MinLength int       `yaml:"min_length,omitempty"`
	MaxLength int       `yaml:"max_length,omitempty"`
	Min       *float64  `yaml:"min,omitempty"`
	Max       *float64  `yaml:"max,omitempty"`
	// Slot names the logical upload slot for file fields ("front", "back").
	Slot string `yaml:"slot,omitempty"`

	pattern *regexp.Regexp
}

// PatternRE returns the compiled pattern, or nil when the field has none.
func (f *Field) PatternRE() *regexp.Regexp {
	return f.pattern
}

// Step describes one questionnaire page.
type Step struct {
	Index  int     `yaml:"index"`
	ID     string  `yaml:"id"`
	Title  string  `yaml:"title"`
	Fields []Field `yaml:"fields,omitempty"`
}

// Key returns the step's key in the persisted form data map ("step0".."step6").
func (s *Step) Key() string {
	return StepKey(s.Index)
}

// StepKey returns the form-data key for a step index.
func StepKey(index int) string {
	return fmt.Sprintf("step%d", index)
}

// Registry holds the parsed step definitions.
type Registry struct {
	steps []Step
}

//go:embed steps.yaml
var stepsYAML []byte

// Load parses the embedded step definitions. It fails when the document
// does not declare exactly TotalSteps contiguous steps or carries an
// invalid pattern; both are authoring errors caught at startup.
func Load() (*Registry, error) {
	var doc struct {
		Steps []Step `yaml:"steps"`
	}
	if err := yaml.Unmarshal(stepsYAML, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse step definitions: %w", err)
	}

	if len(doc.Steps) != TotalSteps {
		return nil, fmt.Errorf("expected %d steps, got %d", TotalSteps, len(doc.Steps))
	}

	for i := range doc.Steps {
		step := &doc.Steps[i]
		if step.Index != i {
			return nil, fmt.Errorf("step %q declares index %d, expected %d", step.ID, step.Index, i)
		}
		for j := range step.Fields {
			field := &step.Fields[j]
			if field.Name == "" {
				return nil, fmt.Errorf("step %q has a field without a name", step.ID)
			}
			if field.Pattern != "" {
				re, err := regexp.Compile(field.Pattern)
				if err != nil {
					return nil, fmt.Errorf("field %q has an invalid pattern: %w", field.Name, err)
				}
				field.pattern = re
			}
		}
	}

	return &Registry{steps: doc.Steps}, nil
}

// Steps returns all step definitions in order.
func (r *Registry) Steps() []Step {
	return r.steps
}

// Step returns the definition for the given index.
func (r *Registry) Step(index int) (*Step, bool) {
	if index < 0 || index >= len(r.steps) {
		return nil, false
	}
	return &r.steps[index], true
}

// Field looks up a field by step index and name.
func (r *Registry) Field(stepIndex int, name string) (*Field, bool) {
	step, ok := r.Step(stepIndex)
	if !ok {
		return nil, false
	}
	for i := range step.Fields {
		if step.Fields[i].Name == name {
			return &step.Fields[i], true
		}
	}
	return nil, false
}

// FileFields returns the upload fields declared on the documents step.
func (r *Registry) FileFields() []Field {
	step, ok := r.Step(StepDocuments)
	if !ok {
		return nil
	}
	var files []Field
	for _, f := range step.Fields {
		if f.Type == FieldFile {
			files = append(files, f)
		}
	}
	return files
}
