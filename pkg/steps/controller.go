// Package steps drives which questionnaire step is visible.
//
// The controller is a linear state machine over the seven steps with one
// escape hatch: edit-navigation from the review step back to a data step.
// Forward transitions from data steps pass through the validation gate;
// backward transitions never re-validate.
package steps

import (
	"strconv"

	"intake/pkg/attach"
	"intake/pkg/formstate"
	"intake/pkg/logx"
	"intake/pkg/metrics"
	"intake/pkg/schema"
	"intake/pkg/validate"
)

// Navigation labels shown on the forward control.
const (
	NextLabelStart   = "Inizia"
	NextLabelForward = "Avanti"
)

// ReviewItem is one projected field on the review step.
type ReviewItem struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// ReviewSection groups the review projection by source step.
type ReviewSection struct {
	StepID string       `json:"step_id"`
	Title  string       `json:"title"`
	Items  []ReviewItem `json:"items"`
}

// UploadPreview describes a restored staged file on the documents step.
type UploadPreview struct {
	Slot     string `json:"slot"`
	FileName string `json:"fileName"`
	DataURL  string `json:"dataUrl"`
}

// View is the chrome snapshot the rendering layer draws after a step
// entry: active step, progress, navigation controls and entry-effect
// output. ScrollTop is always set; every entry scrolls the viewport.
type View struct {
	StepIndex       int             `json:"step_index"`
	StepID          string          `json:"step_id"`
	Title           string          `json:"title"`
	ProgressPercent int             `json:"progress_percent"`
	ShowPrev        bool            `json:"show_prev"`
	ShowNext        bool            `json:"show_next"`
	NextLabel       string          `json:"next_label,omitempty"`
	ScrollTop       bool            `json:"scroll_top"`
	Review          []ReviewSection `json:"review,omitempty"`
	Uploads         []UploadPreview `json:"uploads,omitempty"`
}

// Controller owns step visibility and transition gating.
type Controller struct {
	registry *schema.Registry
	form     *formstate.Manager
	engine   *validate.Engine
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewController wires the controller to its collaborators.
func NewController(registry *schema.Registry, form *formstate.Manager, engine *validate.Engine, recorder metrics.Recorder) *Controller {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Controller{
		registry: registry,
		form:     form,
		engine:   engine,
		recorder: recorder,
		logger:   logx.NewLogger("steps"),
	}
}

// Start renders the initial step: the restored session's step when one
// exists, otherwise the welcome step.
func (c *Controller) Start() View {
	initial := 0
	if c.form.HasExistingSession() {
		initial = c.form.GetCurrentStep()
	}
	return c.ShowStep(initial)
}

// Current re-renders the current step without transitioning.
func (c *Controller) Current() View {
	return c.buildView(c.form.GetCurrentStep())
}

// ShowStep activates the target step, fires its entry side effects,
// records the step in the form state and returns the chrome snapshot.
// Out-of-range targets re-render the current step.
func (c *Controller) ShowStep(index int) View {
	step, ok := c.registry.Step(index)
	if !ok {
		c.logger.Warn("Refusing to show out-of-range step %d", index)
		return c.Current()
	}

	c.form.SetCurrentStep(index)
	c.recorder.IncStepEntered(step.ID)
	c.logger.Info("Showing step %d (%s)", index, step.ID)
	return c.buildView(index)
}

// NavigateForward advances one step, passing data steps through the
// validation gate. The returned report is non-nil only when the gate
// blocked the transition; surfacing its messages and focusing the first
// failing field is the rendering layer's job.
func (c *Controller) NavigateForward() (View, *validate.StepReport) {
	current := c.form.GetCurrentStep()
	if current >= schema.StepPrivacy {
		// Terminal step; the submit control takes over from here.
		return c.buildView(current), nil
	}

	if gated(current) {
		report := c.engine.ShowStepErrors(current, c.form.GetStepData(current))
		if !report.Valid {
			c.countFailures(current, &report)
			c.logger.Info("Step %d blocked by validation (%d errors)", current, len(report.Errors))
			return c.buildView(current), &report
		}
	}

	return c.ShowStep(current + 1), nil
}

// NavigateBackward steps back without re-validation. No-op at the
// welcome step.
func (c *Controller) NavigateBackward() View {
	current := c.form.GetCurrentStep()
	if current == 0 {
		return c.buildView(current)
	}
	return c.ShowStep(current - 1)
}

// EditStep jumps from the review step to an earlier data step. Any other
// jump request re-renders the current step.
func (c *Controller) EditStep(target int) View {
	current := c.form.GetCurrentStep()
	if current != schema.StepReview || target < schema.StepPersonalData || target > schema.StepTracking {
		c.logger.Warn("Rejected edit jump %d -> %d", current, target)
		return c.buildView(current)
	}
	return c.ShowStep(target)
}

// gated reports whether forward navigation out of the step passes the
// validation gate. The welcome step has nothing to validate; the privacy
// step is gated separately by the consent check on submission.
func gated(stepIndex int) bool {
	return stepIndex >= schema.StepPersonalData && stepIndex <= schema.StepReview
}

func (c *Controller) countFailures(stepIndex int, report *validate.StepReport) {
	step, ok := c.registry.Step(stepIndex)
	if !ok {
		return
	}
	for _, failure := range report.Errors {
		c.recorder.IncValidationFailure(step.ID, string(failure.Kind))
	}
}

func (c *Controller) buildView(index int) View {
	step, ok := c.registry.Step(index)
	if !ok {
		return View{StepIndex: index, ScrollTop: true}
	}

	view := View{
		StepIndex:       index,
		StepID:          step.ID,
		Title:           step.Title,
		ProgressPercent: (index + 1) * 100 / schema.TotalSteps,
		ShowPrev:        index > 0,
		ShowNext:        index < schema.StepPrivacy,
		ScrollTop:       true,
	}
	if view.ShowNext {
		if index == schema.StepWelcome {
			view.NextLabel = NextLabelStart
		} else {
			view.NextLabel = NextLabelForward
		}
	}

	// Entry side effects run on every entry, not only the first.
	switch index {
	case schema.StepReview:
		view.Review = c.projectReview()
	case schema.StepDocuments:
		view.Uploads = c.restoreUploads()
	}
	return view
}

// projectReview rebuilds the review projection from the form state.
func (c *Controller) projectReview() []ReviewSection {
	var sections []ReviewSection
	for i := schema.StepPersonalData; i <= schema.StepTracking; i++ {
		step, ok := c.registry.Step(i)
		if !ok {
			continue
		}
		data := c.form.GetStepData(i)

		var items []ReviewItem
		for _, field := range step.Fields {
			value, ok := data[field.Name]
			if !ok {
				continue
			}
			text := displayValue(&field, value)
			if text == "" {
				continue
			}
			items = append(items, ReviewItem{Field: field.Name, Label: field.Label, Value: text})
		}
		if len(items) > 0 {
			sections = append(sections, ReviewSection{StepID: step.ID, Title: step.Title, Items: items})
		}
	}
	return sections
}

// restoreUploads rebuilds the staged-file previews from the form state.
func (c *Controller) restoreUploads() []UploadPreview {
	data := c.form.GetStepData(schema.StepDocuments)

	var previews []UploadPreview
	for _, field := range c.registry.FileFields() {
		staged, ok := attach.FromFieldValue(data[field.Name])
		if !ok {
			continue
		}
		previews = append(previews, UploadPreview{
			Slot:     field.Slot,
			FileName: staged.FileName,
			DataURL:  staged.DataURL(),
		})
	}
	return previews
}

func displayValue(field *schema.Field, value any) string {
	switch field.Type {
	case schema.FieldFile:
		if staged, ok := attach.FromFieldValue(value); ok {
			return staged.FileName
		}
		return ""
	case schema.FieldCheckbox:
		if b, ok := value.(bool); ok && b {
			return "Sì"
		}
		return ""
	default:
		switch v := value.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			if v {
				return "Sì"
			}
			return ""
		default:
			return ""
		}
	}
}
