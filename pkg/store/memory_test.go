package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryQuotaDisablesSession(t *testing.T) {
	m := NewMemory()
	m.QuotaOnSave = true

	assert.False(t, m.Save("k", "v"), "quota hit must fail the write")
	assert.False(t, m.Available(), "quota hit must disable the store")
	assert.False(t, m.Save("k", "v"), "no further writes after quota")
	assert.Equal(t, 0, m.Len())
}

func TestMemoryFailedProbe(t *testing.T) {
	m := NewMemory()
	m.FailProbe = true

	assert.False(t, m.Probe())
	assert.False(t, m.Save("k", "v"))
	_, ok := m.Load("k")
	assert.False(t, ok)
}
