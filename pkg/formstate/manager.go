// Package formstate owns the questionnaire's step-keyed data model.
//
// The Manager is the single source of truth for everything the visitor has
// entered. Every mutation is persisted immediately through the store; when
// the medium is unavailable the manager degrades to in-memory-only and the
// session keeps working. Reads hand out deep copies, never internal maps,
// and the manager is safe for concurrent use: the HTTP handlers and the
// submission path touch it from different goroutines.
package formstate

import (
	"encoding/json"
	"sync"
	"time"

	"intake/pkg/logx"
	"intake/pkg/schema"
	"intake/pkg/store"
)

// StateKey is the persisted record's key in the durable store.
const StateKey = "intake:form-state"

// StepData is the field map for a single step.
type StepData map[string]any

// FormState is the persisted record shape.
type FormState struct {
	CurrentStep int                 `json:"current_step"`
	FormData    map[string]StepData `json:"form_data"`
	TotalSteps  int                 `json:"total_steps"`
	LastUpdated string              `json:"last_updated"`
}

// Manager maintains the in-memory state and mirrors it into the store.
type Manager struct {
	kv     store.KV
	logger *logx.Logger

	mu    sync.RWMutex
	state FormState
}

// NewManager returns a manager holding the default empty state. Callers
// decide whether to restore a previous session via LoadState.
func NewManager(kv store.KV) *Manager {
	return &Manager{
		kv:     kv,
		logger: logx.NewLogger("formstate"),
		state:  defaultState(),
	}
}

func defaultState() FormState {
	data := make(map[string]StepData, schema.TotalSteps)
	for i := 0; i < schema.TotalSteps; i++ {
		data[schema.StepKey(i)] = make(StepData)
	}
	return FormState{
		CurrentStep: 0,
		FormData:    data,
		TotalSteps:  schema.TotalSteps,
	}
}

// LoadState populates the in-memory state from the store when a
// structurally valid record exists. A record that fails to parse or lacks
// the form_data shape is treated as corruption: it is removed and the
// default state stays in place.
func (m *Manager) LoadState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.kv.Load(StateKey)
	if !ok {
		return false
	}

	loaded, ok := decodeState(raw)
	if !ok {
		m.logger.Warn("Discarding corrupt persisted state")
		m.kv.Remove(StateKey)
		return false
	}

	// Re-create any missing step keys so the total-steps invariant holds
	// even for records written by an older questionnaire layout.
	for i := 0; i < schema.TotalSteps; i++ {
		key := schema.StepKey(i)
		if loaded.FormData[key] == nil {
			loaded.FormData[key] = make(StepData)
		}
	}
	loaded.TotalSteps = schema.TotalSteps

	if loaded.CurrentStep < 0 || loaded.CurrentStep >= schema.TotalSteps {
		m.logger.Warn("Persisted step %d out of range, restarting from step 0", loaded.CurrentStep)
		loaded.CurrentStep = 0
	}

	m.state = loaded
	return true
}

// decodeState parses a persisted record and verifies its shape. The
// form_data key must be present and be an object.
func decodeState(raw string) (FormState, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return FormState{}, false
	}
	rawData, ok := probe["form_data"]
	if !ok {
		return FormState{}, false
	}
	var dataProbe map[string]json.RawMessage
	if err := json.Unmarshal(rawData, &dataProbe); err != nil {
		return FormState{}, false
	}

	var state FormState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return FormState{}, false
	}
	if state.FormData == nil {
		state.FormData = make(map[string]StepData)
	}
	return state, true
}

// SaveState stamps last_updated, serializes and stores the record.
// Returns the store's success signal.
func (m *Manager) SaveState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

// saveLocked is SaveState's body. Caller holds mu.
func (m *Manager) saveLocked() bool {
	m.state.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.Marshal(m.state)
	if err != nil {
		// Values are JSON primitives by construction, so this is unreachable
		// in practice; log and stay in-memory-only.
		m.logger.Error("Failed to serialize state: %v", err)
		return false
	}
	return m.kv.Save(StateKey, string(raw))
}

// persistLocked mirrors the current state into the store, fire-and-forget.
// The in-memory state stays authoritative for the session either way.
// Caller holds mu.
func (m *Manager) persistLocked() {
	if !m.saveLocked() {
		m.logger.Debug("State not persisted, continuing in-memory only")
	}
}

// GetState returns a deep copy of the full state.
func (m *Manager) GetState() FormState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := m.state
	copied.FormData = make(map[string]StepData, len(m.state.FormData))
	for key, data := range m.state.FormData {
		copied.FormData[key] = copyStepData(data)
	}
	return copied
}

// GetCurrentStep returns the current step index.
func (m *Manager) GetCurrentStep() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.CurrentStep
}

// SetCurrentStep updates the current step and persists. Out-of-range
// values are rejected and leave the prior value unchanged.
func (m *Manager) SetCurrentStep(step int) {
	if step < 0 || step >= schema.TotalSteps {
		m.logger.Warn("Rejected out-of-range step %d", step)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentStep = step
	m.persistLocked()
}

// GetStepData returns a deep copy of the step's field map, or an empty
// map for an absent or out-of-range step.
func (m *Manager) GetStepData(stepIndex int) StepData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.state.FormData[schema.StepKey(stepIndex)]
	if !ok {
		return make(StepData)
	}
	return copyStepData(data)
}

// SetFieldValue upserts a single field and persists.
func (m *Manager) SetFieldValue(stepIndex int, fieldName string, value any) {
	if stepIndex < 0 || stepIndex >= schema.TotalSteps {
		m.logger.Warn("Rejected field write for out-of-range step %d", stepIndex)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := schema.StepKey(stepIndex)
	if m.state.FormData[key] == nil {
		m.state.FormData[key] = make(StepData)
	}
	m.state.FormData[key][fieldName] = value
	m.persistLocked()
}

// SetStepData replaces the entire step's field map with a deep copy of
// data. A nil map is rejected.
func (m *Manager) SetStepData(stepIndex int, data StepData) {
	if stepIndex < 0 || stepIndex >= schema.TotalSteps {
		m.logger.Warn("Rejected step data write for out-of-range step %d", stepIndex)
		return
	}
	if data == nil {
		m.logger.Warn("Rejected nil step data for step %d", stepIndex)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.FormData[schema.StepKey(stepIndex)] = copyStepData(data)
	m.persistLocked()
}

// OnFieldChanged is the subscription entry point for the rendering layer.
// It is the change-handler counterpart of SetFieldValue.
func (m *Manager) OnFieldChanged(stepIndex int, fieldName string, value any) {
	m.SetFieldValue(stepIndex, fieldName, value)
}

// ClearState resets the in-memory state to the default shape and removes
// the persisted record.
func (m *Manager) ClearState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = defaultState()
	m.kv.Remove(StateKey)
}

// HasExistingSession reports whether a structurally valid record is
// currently persisted. It never mutates the in-memory state.
func (m *Manager) HasExistingSession() bool {
	raw, ok := m.kv.Load(StateKey)
	if !ok {
		return false
	}
	_, valid := decodeState(raw)
	return valid
}

// copyStepData deep-copies a field map, including nested maps and slices
// produced by a JSON round trip.
func copyStepData(data StepData) StepData {
	copied := make(StepData, len(data))
	for name, value := range data {
		copied[name] = copyValue(value)
	}
	return copied
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(v))
		for k, inner := range v {
			copied[k] = copyValue(inner)
		}
		return copied
	case StepData:
		return map[string]any(copyStepData(v))
	case []any:
		copied := make([]any, len(v))
		for i, inner := range v {
			copied[i] = copyValue(inner)
		}
		return copied
	default:
		return v
	}
}
