// Package validate evaluates field values against the step registry's
// declarative constraints and produces localized failure messages.
//
// Failures and warnings ride separate channels. Failures gate forward
// navigation; warnings (the fiscal-code cross-match) are advisory and can
// never flip a report to invalid. That asymmetry is a product decision,
// not an oversight.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"intake/pkg/logx"
	"intake/pkg/schema"
)

// Kind classifies a validation failure.
type Kind string

const (
	KindRequired   Kind = "required"
	KindTypeEmail  Kind = "type_email"
	KindTypeTel    Kind = "type_tel"
	KindTypeNumber Kind = "type_number"
	KindPattern    Kind = "pattern"
	KindTooShort   Kind = "too_short"
	KindTooLong    Kind = "too_long"
	KindRangeUnder Kind = "range_under"
	KindRangeOver  Kind = "range_over"
	KindGeneric    Kind = "generic"
)

// FieldResult is the outcome of validating a single field.
type FieldResult struct {
	Field   string `json:"field"`
	Valid   bool   `json:"valid"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Warning is a non-blocking advisory annotation on a field.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// StepReport is what the step gate returns: every failing field's message,
// the step's warnings, and the first failing field as the focus target for
// the rendering layer.
type StepReport struct {
	StepIndex  int           `json:"step_index"`
	Valid      bool          `json:"valid"`
	Errors     []FieldResult `json:"errors,omitempty"`
	Warnings   []Warning     `json:"warnings,omitempty"`
	FocusField string        `json:"focus_field,omitempty"`
}

// Engine validates step data against the registry.
type Engine struct {
	registry *schema.Registry
	logger   *logx.Logger

	mu       sync.Mutex
	warnings map[string]string // "stepIndex/field" -> message
}

// NewEngine returns an engine bound to the given registry.
func NewEngine(registry *schema.Registry) *Engine {
	return &Engine{
		registry: registry,
		logger:   logx.NewLogger("validate"),
		warnings: make(map[string]string),
	}
}

var emailRE = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
var telRE = regexp.MustCompile(`^\+?[0-9 ]{6,15}$`)

// ValidateField evaluates a single field value against its constraints.
func (e *Engine) ValidateField(field *schema.Field, value any) FieldResult {
	result := FieldResult{Field: field.Name, Valid: true}

	if isEmpty(field, value) {
		if field.Required {
			return e.fail(field, KindRequired)
		}
		// Absent optional fields pass every other constraint.
		return result
	}

	text := valueToString(value)

	switch field.Type {
	case schema.FieldEmail:
		if !emailRE.MatchString(text) {
			return e.fail(field, KindTypeEmail)
		}
	case schema.FieldTel:
		if field.PatternRE() == nil && !telRE.MatchString(text) {
			return e.fail(field, KindTypeTel)
		}
	case schema.FieldNumber:
		number, err := toNumber(value)
		if err != nil {
			return e.fail(field, KindTypeNumber)
		}
		if field.Min != nil && number < *field.Min {
			return e.fail(field, KindRangeUnder)
		}
		if field.Max != nil && number > *field.Max {
			return e.fail(field, KindRangeOver)
		}
	case schema.FieldText, schema.FieldDate, schema.FieldSelect, schema.FieldCheckbox, schema.FieldFile:
		// Shape checks below.
	default:
		e.logger.Warn("Unknown field type %q on %s", field.Type, field.Name)
	}

	if field.Type != schema.FieldNumber {
		if field.MinLength > 0 && len([]rune(text)) < field.MinLength {
			return e.fail(field, KindTooShort)
		}
		if field.MaxLength > 0 && len([]rune(text)) > field.MaxLength {
			return e.fail(field, KindTooLong)
		}
	}

	if re := field.PatternRE(); re != nil && !re.MatchString(text) {
		return e.fail(field, KindPattern)
	}

	return result
}

func (e *Engine) fail(field *schema.Field, kind Kind) FieldResult {
	return FieldResult{
		Field:   field.Name,
		Valid:   false,
		Kind:    kind,
		Message: Message(kind, field),
	}
}

// ValidateStep silently checks every field in the step's scope. It never
// produces messages or focus targets.
func (e *Engine) ValidateStep(stepIndex int, data map[string]any) bool {
	step, ok := e.registry.Step(stepIndex)
	if !ok {
		e.logger.Warn("Validation requested for unknown step %d", stepIndex)
		return false
	}
	for i := range step.Fields {
		field := &step.Fields[i]
		if result := e.ValidateField(field, data[field.Name]); !result.Valid {
			return false
		}
	}
	return true
}

// ShowStepErrors validates every field in scope and surfaces all failing
// fields' messages plus the step's current warnings. The first failing
// field becomes the focus target. This is the gate the step controller
// calls before forward navigation.
func (e *Engine) ShowStepErrors(stepIndex int, data map[string]any) StepReport {
	report := StepReport{StepIndex: stepIndex, Valid: true}

	step, ok := e.registry.Step(stepIndex)
	if !ok {
		e.logger.Warn("Validation requested for unknown step %d", stepIndex)
		report.Valid = false
		return report
	}

	for i := range step.Fields {
		field := &step.Fields[i]
		result := e.ValidateField(field, data[field.Name])
		if !result.Valid {
			report.Valid = false
			report.Errors = append(report.Errors, result)
			if report.FocusField == "" {
				report.FocusField = field.Name
			}
		}
	}

	report.Warnings = e.stepWarnings(stepIndex, step)
	return report
}

// SetWarning registers a supplementary, non-blocking advisory on a field.
// Warnings never affect a report's Valid flag or the navigation gate.
func (e *Engine) SetWarning(stepIndex int, fieldName, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings[warningKey(stepIndex, fieldName)] = message
}

// ClearWarning removes a previously registered advisory.
func (e *Engine) ClearWarning(stepIndex int, fieldName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.warnings, warningKey(stepIndex, fieldName))
}

func (e *Engine) stepWarnings(stepIndex int, step *schema.Step) []Warning {
	e.mu.Lock()
	defer e.mu.Unlock()

	var warnings []Warning
	for i := range step.Fields {
		name := step.Fields[i].Name
		if message, ok := e.warnings[warningKey(stepIndex, name)]; ok {
			warnings = append(warnings, Warning{Field: name, Message: message})
		}
	}
	return warnings
}

func warningKey(stepIndex int, fieldName string) string {
	return fmt.Sprintf("%d/%s", stepIndex, fieldName)
}

// isEmpty reports whether value counts as missing for required checks.
// Unchecked checkboxes are empty; a staged file is present when its field
// holds a non-empty payload.
func isEmpty(field *schema.Field, value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		if field.Type == schema.FieldCheckbox {
			return !v
		}
		return false
	default:
		return false
	}
}

func valueToString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		number, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return number, nil
	default:
		return 0, fmt.Errorf("not a number: %T", value)
	}
}
