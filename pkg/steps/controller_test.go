package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/pkg/attach"
	"intake/pkg/formstate"
	"intake/pkg/schema"
	"intake/pkg/store"
	"intake/pkg/validate"
)

func newTestController(t *testing.T) (*Controller, *formstate.Manager) {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)

	form := formstate.NewManager(store.NewMemory())
	engine := validate.NewEngine(reg)
	return NewController(reg, form, engine, nil), form
}

func fillPersonalData(form *formstate.Manager) {
	form.SetStepData(schema.StepPersonalData, formstate.StepData{
		"nome":           "Anna",
		"cognome":        "Rossi",
		"email":          "anna@example.com",
		"telefono":       "+39 0212345678",
		"codice-fiscale": "RSSNNA80A41F205X",
	})
}

func TestStartFreshSession(t *testing.T) {
	c, _ := newTestController(t)

	view := c.Start()
	assert.Equal(t, 0, view.StepIndex)
	assert.Equal(t, "welcome", view.StepID)
	assert.False(t, view.ShowPrev, "previous control hidden at the welcome step")
	assert.True(t, view.ShowNext)
	assert.Equal(t, NextLabelStart, view.NextLabel)
	assert.Equal(t, 100/schema.TotalSteps, view.ProgressPercent)
	assert.True(t, view.ScrollTop)
}

func TestStartRestoresSavedStep(t *testing.T) {
	kv := store.NewMemory()
	reg, err := schema.Load()
	require.NoError(t, err)

	previous := formstate.NewManager(kv)
	previous.SetFieldValue(1, "nome", "Anna")
	previous.SetCurrentStep(3)

	form := formstate.NewManager(kv)
	require.True(t, form.LoadState())
	c := NewController(reg, form, validate.NewEngine(reg), nil)

	view := c.Start()
	assert.Equal(t, 3, view.StepIndex)
}

func TestNavigateForwardGateBlocks(t *testing.T) {
	c, form := newTestController(t)
	form.SetCurrentStep(schema.StepPersonalData)

	view, report := c.NavigateForward()
	require.NotNil(t, report, "empty required fields must block the transition")
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
	assert.Equal(t, "nome", report.FocusField)
	assert.Equal(t, schema.StepPersonalData, view.StepIndex, "the step does not change on a blocked transition")
	assert.Equal(t, schema.StepPersonalData, form.GetCurrentStep())

	// Filling the step unblocks it.
	fillPersonalData(form)
	view, report = c.NavigateForward()
	assert.Nil(t, report)
	assert.Equal(t, schema.StepPropertyData, view.StepIndex)
}

func TestWelcomeBypassesValidation(t *testing.T) {
	c, _ := newTestController(t)
	c.Start()

	view, report := c.NavigateForward()
	assert.Nil(t, report)
	assert.Equal(t, schema.StepPersonalData, view.StepIndex)
	assert.Equal(t, NextLabelForward, view.NextLabel)
}

func TestForwardNoOpAtTerminalStep(t *testing.T) {
	c, form := newTestController(t)
	form.SetCurrentStep(schema.StepPrivacy)

	view, report := c.NavigateForward()
	assert.Nil(t, report)
	assert.Equal(t, schema.StepPrivacy, view.StepIndex)
	assert.False(t, view.ShowNext, "next control hidden at the terminal step")
}

func TestNavigateBackwardNeverValidates(t *testing.T) {
	c, form := newTestController(t)
	form.SetCurrentStep(schema.StepPropertyData)

	// Step 2 is empty and invalid, but going back is unconditional.
	view := c.NavigateBackward()
	assert.Equal(t, schema.StepPersonalData, view.StepIndex)

	form.SetCurrentStep(0)
	view = c.NavigateBackward()
	assert.Equal(t, 0, view.StepIndex, "backward is a no-op at the welcome step")
}

func TestEditStepOnlyFromReview(t *testing.T) {
	c, form := newTestController(t)

	form.SetCurrentStep(schema.StepReview)
	view := c.EditStep(schema.StepPersonalData)
	assert.Equal(t, schema.StepPersonalData, view.StepIndex)

	// Not from elsewhere, and not to arbitrary targets.
	form.SetCurrentStep(schema.StepPropertyData)
	view = c.EditStep(schema.StepPersonalData)
	assert.Equal(t, schema.StepPropertyData, view.StepIndex)

	form.SetCurrentStep(schema.StepReview)
	view = c.EditStep(schema.StepPrivacy)
	assert.Equal(t, schema.StepReview, view.StepIndex)
}

func TestReviewProjectionRebuiltOnEveryEntry(t *testing.T) {
	c, form := newTestController(t)
	fillPersonalData(form)
	form.SetCurrentStep(schema.StepTracking)

	view, report := c.NavigateForward()
	require.Nil(t, report)
	require.Equal(t, schema.StepReview, view.StepIndex)
	require.NotEmpty(t, view.Review)
	assert.Equal(t, "personal-data", view.Review[0].StepID)

	found := false
	for _, item := range view.Review[0].Items {
		if item.Field == "nome" {
			assert.Equal(t, "Anna", item.Value)
			found = true
		}
	}
	assert.True(t, found)

	// Edit a field, re-enter the review step: the projection reflects it.
	form.SetFieldValue(schema.StepPersonalData, "nome", "Giulia")
	view = c.ShowStep(schema.StepReview)
	assert.Equal(t, "Giulia", view.Review[0].Items[0].Value)
}

func TestDocumentsEntryRestoresUploads(t *testing.T) {
	c, form := newTestController(t)

	staged, err := attach.Stage("carta.jpg", attach.MimeJPEG, []byte("front"))
	require.NoError(t, err)
	form.SetFieldValue(schema.StepDocuments, "documento-fronte", staged.FieldValue())

	view := c.ShowStep(schema.StepDocuments)
	require.Len(t, view.Uploads, 1)
	assert.Equal(t, "front", view.Uploads[0].Slot)
	assert.Equal(t, "carta.jpg", view.Uploads[0].FileName)
	assert.Contains(t, view.Uploads[0].DataURL, "data:image/jpeg;base64,")
}

func TestShowStepOutOfRange(t *testing.T) {
	c, form := newTestController(t)
	form.SetCurrentStep(2)

	view := c.ShowStep(42)
	assert.Equal(t, 2, view.StepIndex, "out-of-range target re-renders the current step")
}

func TestProgressPercent(t *testing.T) {
	c, _ := newTestController(t)

	assert.Equal(t, 14, c.ShowStep(0).ProgressPercent)
	assert.Equal(t, 100, c.ShowStep(6).ProgressPercent)
}
