package submit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/pkg/attach"
	"intake/pkg/formstate"
	"intake/pkg/schema"
	"intake/pkg/store"
)

func TestFlattenRenamesAndSkipsFiles(t *testing.T) {
	form := formstate.NewManager(store.NewMemory())
	form.SetStepData(schema.StepPersonalData, formstate.StepData{
		"nome":           "Anna",
		"codice-fiscale": "RSSNNA80A41F205X",
		"data-nascita":   "1980-01-01",
	})
	staged, err := attach.Stage("fronte.jpg", attach.MimeJPEG, []byte("img"))
	require.NoError(t, err)
	form.SetFieldValue(schema.StepDocuments, "documento-fronte", staged.FieldValue())

	flat := Flatten(form.GetState())

	assert.Equal(t, "Anna", flat["nome"])
	assert.Equal(t, "RSSNNA80A41F205X", flat["codiceFiscale"])
	assert.Equal(t, "1980-01-01", flat["dataNascita"])
	assert.NotContains(t, flat, "codice-fiscale")
	assert.NotContains(t, flat, "documentoFronte", "staged files travel in the files array, not the flat record")
}

func TestFlattenAssemblesAddress(t *testing.T) {
	form := formstate.NewManager(store.NewMemory())
	form.SetStepData(schema.StepPropertyData, formstate.StepData{
		"indirizzo": "Via Roma",
		"civico":    "12",
		"cap":       "20121",
		"citta":     "Milano",
		"provincia": "mi",
	})

	flat := Flatten(form.GetState())
	assert.Equal(t, "Via Roma 12, 20121 Milano (MI)", flat["indirizzoCompleto"])
}

func TestFlattenAddressOmitsEmptyComponents(t *testing.T) {
	form := formstate.NewManager(store.NewMemory())
	form.SetStepData(schema.StepPropertyData, formstate.StepData{
		"indirizzo": "Via Roma",
		"citta":     "Milano",
	})

	flat := Flatten(form.GetState())
	assert.Equal(t, "Via Roma, Milano", flat["indirizzoCompleto"])
}

func TestFlattenNoAddressWhenAllEmpty(t *testing.T) {
	form := formstate.NewManager(store.NewMemory())
	flat := Flatten(form.GetState())
	assert.NotContains(t, flat, "indirizzoCompleto")
	assert.NotContains(t, flat, "speseAnnualiTotali")
}

func TestAnnualCostTotal(t *testing.T) {
	form := formstate.NewManager(store.NewMemory())
	form.SetStepData(schema.StepPropertyData, formstate.StepData{
		"spese-condominio": "100",
		"imu":              "300",
		"tari":             "200",
		"utenze":           "50",
	})

	flat := Flatten(form.GetState())
	// 100*12 + 300 + 200 + 50*12
	assert.Equal(t, 2300.0, flat["speseAnnualiTotali"])
}

func TestAnnualCostTotalPartialInputs(t *testing.T) {
	property := formstate.StepData{"imu": "300,50"}
	total, ok := annualCostTotal(property)
	require.True(t, ok, "a single known cost is enough to derive the total")
	assert.Equal(t, 300.5, total)
}

func TestKebabToCamel(t *testing.T) {
	assert.Equal(t, "codiceFiscale", kebabToCamel("codice-fiscale"))
	assert.Equal(t, "utmSource", kebabToCamel("utm-source"))
	assert.Equal(t, "nome", kebabToCamel("nome"))
}
