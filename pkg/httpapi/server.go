// Package httpapi exposes the questionnaire over a JSON HTTP API.
//
// Every state-touching handler runs under one session mutex, so the form
// state, the step controller and the validation engine only ever see
// serialized access. The submission coordinator keeps its own internal
// gate and is called outside the mutex.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intake/pkg/address"
	"intake/pkg/attach"
	"intake/pkg/fiscalcode"
	"intake/pkg/formstate"
	"intake/pkg/logx"
	"intake/pkg/metrics"
	"intake/pkg/schema"
	"intake/pkg/steps"
	"intake/pkg/store"
	"intake/pkg/submit"
	"intake/pkg/validate"
	"intake/pkg/version"
)

// uploadMemoryLimit bounds multipart parsing; anything larger spills to disk.
const uploadMemoryLimit = 12 << 20

// Server is the questionnaire's HTTP front end.
type Server struct {
	registry    *schema.Registry
	form        *formstate.Manager
	engine      *validate.Engine
	controller  *steps.Controller
	coordinator *submit.Coordinator
	verifier    fiscalcode.Verifier
	places      address.Provider
	kv          store.KV
	recorder    metrics.Recorder
	logger      *logx.Logger
	sessionID   string

	// mu serializes all form-state access; the handlers are the only
	// concurrent callers in the process.
	mu sync.Mutex
}

// NewServer wires the HTTP front end to its collaborators.
func NewServer(registry *schema.Registry, form *formstate.Manager, engine *validate.Engine, controller *steps.Controller, coordinator *submit.Coordinator, verifier fiscalcode.Verifier, places address.Provider, kv store.KV, recorder metrics.Recorder) *Server {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Server{
		registry:    registry,
		form:        form,
		engine:      engine,
		controller:  controller,
		coordinator: coordinator,
		verifier:    verifier,
		places:      places,
		kv:          kv,
		recorder:    recorder,
		logger:      logx.NewLogger("httpapi"),
		sessionID:   uuid.New().String(),
	}
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/field", s.handleField)
	mux.HandleFunc("/api/step-data", s.handleStepData)
	mux.HandleFunc("/api/navigate", s.handleNavigate)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/address", s.handleAddress)
	mux.HandleFunc("/api/submit", s.handleSubmit)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// stateResponse is the GET /api/state body.
type stateResponse struct {
	SessionID      string         `json:"session_id"`
	View           steps.View     `json:"view"`
	FormData       map[string]any `json:"form_data"`
	StoreAvailable bool           `json:"store_available"`
	SubmitState    submit.State   `json:"submit_state"`
	TickerMessage  string         `json:"ticker_message,omitempty"`
	FailureMessage string         `json:"failure_message,omitempty"`
}

// handleState implements GET /api/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	view := s.controller.Current()
	state := s.form.GetState()
	s.mu.Unlock()

	data := make(map[string]any, len(state.FormData))
	for key, stepData := range state.FormData {
		data[key] = map[string]any(stepData)
	}

	s.writeJSON(w, http.StatusOK, stateResponse{
		SessionID:      s.sessionID,
		View:           view,
		FormData:       data,
		StoreAvailable: s.kv.Available(),
		SubmitState:    s.coordinator.State(),
		TickerMessage:  s.coordinator.TickerMessage(),
		FailureMessage: s.coordinator.FailureMessage(),
	})
}

// fieldRequest is the POST /api/field body.
type fieldRequest struct {
	Step  int    `json:"step"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

// fieldResponse echoes the field-level validation outcome alongside any
// advisory warning the write produced.
type fieldResponse struct {
	Result  validate.FieldResult `json:"result"`
	Warning string               `json:"warning,omitempty"`
}

// handleField implements POST /api/field: the change-handler entry point
// for a single field.
func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req fieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	field, ok := s.registry.Field(req.Step, req.Field)
	if !ok {
		http.Error(w, "Unknown field", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.form.OnFieldChanged(req.Step, req.Field, req.Value)
	result := s.engine.ValidateField(field, req.Value)
	warning := s.refreshFiscalCodeWarning(req.Step, req.Field)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, fieldResponse{Result: result, Warning: warning})
}

// refreshFiscalCodeWarning re-runs the fiscal-code verification when a
// relevant field changed. The cross-match outcome lands in the validation
// engine as an advisory warning; it never blocks navigation. Caller holds mu.
func (s *Server) refreshFiscalCodeWarning(stepIndex int, fieldName string) string {
	if stepIndex != schema.StepPersonalData {
		return ""
	}
	switch fieldName {
	case "codice-fiscale", "nome", "cognome":
	default:
		return ""
	}

	data := s.form.GetStepData(schema.StepPersonalData)
	code, _ := data["codice-fiscale"].(string)
	if code == "" {
		s.engine.ClearWarning(schema.StepPersonalData, "codice-fiscale")
		return ""
	}

	firstName, _ := data["nome"].(string)
	lastName, _ := data["cognome"].(string)
	result := s.verifier.Verify(code, &fiscalcode.Person{FirstName: firstName, LastName: lastName})
	if !result.Checked {
		return ""
	}

	if result.Valid && result.CrossMatchWarning {
		message := "Il codice fiscale non corrisponde al nome inserito"
		s.engine.SetWarning(schema.StepPersonalData, "codice-fiscale", message)
		return message
	}
	s.engine.ClearWarning(schema.StepPersonalData, "codice-fiscale")
	return ""
}

// stepDataRequest is the POST /api/step-data body.
type stepDataRequest struct {
	Step int            `json:"step"`
	Data map[string]any `json:"data"`
}

// handleStepData implements POST /api/step-data: a bulk write of one
// step's field map.
func (s *Server) handleStepData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req stepDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Data == nil {
		http.Error(w, "Missing data", http.StatusBadRequest)
		return
	}
	if _, ok := s.registry.Step(req.Step); !ok {
		http.Error(w, "Unknown step", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.form.SetStepData(req.Step, formstate.StepData(req.Data))
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// navigateRequest is the POST /api/navigate body. Action is one of
// "next", "prev", "edit" or "show"; Target applies to edit and show.
type navigateRequest struct {
	Action string `json:"action"`
	Target int    `json:"target"`
}

// navigateResponse carries the resulting view plus the blocking report
// when a forward transition failed the gate.
type navigateResponse struct {
	View   steps.View           `json:"view"`
	Report *validate.StepReport `json:"report,omitempty"`
}

// handleNavigate implements POST /api/navigate.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var resp navigateResponse
	switch req.Action {
	case "next":
		resp.View, resp.Report = s.controller.NavigateForward()
	case "prev":
		resp.View = s.controller.NavigateBackward()
	case "edit":
		resp.View = s.controller.EditStep(req.Target)
	case "show":
		resp.View = s.controller.ShowStep(req.Target)
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleUpload implements POST /api/upload: a multipart form with a
// "step" value, a "field" value and a "file" part. The file is staged
// into the form state like any other field value.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	stepIndex := 0
	if _, err := fmt.Sscanf(r.FormValue("step"), "%d", &stepIndex); err != nil {
		http.Error(w, "Invalid step", http.StatusBadRequest)
		return
	}
	fieldName := r.FormValue("field")

	field, ok := s.registry.Field(stepIndex, fieldName)
	if !ok || field.Type != schema.FieldFile {
		http.Error(w, "Unknown file field", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file part", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(io.LimitReader(file, attach.MaxPDFBytes+1))
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	staged, err := attach.Stage(header.Filename, header.Header.Get("Content-Type"), content)
	if err != nil {
		switch {
		case errors.Is(err, attach.ErrTooLarge):
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, attach.ErrUnsupportedType):
			http.Error(w, "File type not supported", http.StatusUnsupportedMediaType)
		default:
			http.Error(w, "Upload rejected", http.StatusBadRequest)
		}
		return
	}

	s.mu.Lock()
	s.form.SetFieldValue(stepIndex, fieldName, staged.FieldValue())
	view := s.controller.Current()
	s.mu.Unlock()

	s.logger.Info("Staged upload %s (%d bytes) into %s", header.Filename, len(content), fieldName)
	s.writeJSON(w, http.StatusOK, navigateResponse{View: view})
}

// handleAddress implements GET /api/address?ref=<place reference>. The
// resolved place is written into the property-data step.
func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := r.URL.Query().Get("ref")
	if ref == "" {
		http.Error(w, "Missing ref parameter", http.StatusBadRequest)
		return
	}

	place, err := s.places.Lookup(r.Context(), ref)
	if errors.Is(err, address.ErrNotConfigured) {
		http.Error(w, "Address lookup not configured", http.StatusNotImplemented)
		return
	}
	if err != nil {
		s.logger.Warn("Address lookup failed for %q: %v", ref, err)
		http.Error(w, "Address lookup failed", http.StatusBadGateway)
		return
	}

	fields := address.Fields(place)
	s.mu.Lock()
	for name, value := range fields {
		s.form.SetFieldValue(address.StepIndex, name, value)
	}
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, place)
}

// handleSubmit implements POST /api/submit. The coordinator runs the
// delivery synchronously; errors map to distinct statuses so the
// rendering layer can react per cause.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := s.coordinator.Submit(r.Context())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status": "submitted",
			"state":  s.coordinator.State(),
		})
	case errors.Is(err, submit.ErrConsentRequired):
		http.Error(w, "Privacy consent required", http.StatusUnprocessableEntity)
	case errors.Is(err, submit.ErrAlreadyInFlight):
		http.Error(w, "Submission already in progress", http.StatusConflict)
	case errors.Is(err, submit.ErrLocked):
		http.Error(w, "A recent submission already exists", http.StatusTooManyRequests)
	default:
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":  "failed",
			"state":   s.coordinator.State(),
			"message": s.coordinator.FailureMessage(),
		})
	}
}

// handleReset implements POST /api/reset: it discards the session's form
// state and returns the fresh welcome view.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.form.ClearState()
	view := s.controller.ShowStep(0)
	s.mu.Unlock()

	s.logger.Info("Session state cleared")
	s.writeJSON(w, http.StatusOK, navigateResponse{View: view})
}

// handleLogs implements GET /api/logs.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	component := query.Get("component")
	sinceStr := query.Get("since")

	var since time.Time
	if sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			http.Error(w, "Invalid since parameter (use RFC3339)", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	s.writeJSON(w, http.StatusOK, logx.GetRecentLogEntries(component, since))
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}
