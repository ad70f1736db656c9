package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mai-dx-orchestrator/internal/medical"
)

// ReportRenderer renders a completed session as a downloadable document.
// Defined here to decouple from the report implementation.
type ReportRenderer interface {
	Render(s *medical.Session) ([]byte, error)
}

type Handler struct {
	svc    Service
	report ReportRenderer
	log    *logrus.Logger
}

func NewHandler(svc Service, report ReportRenderer, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, report: report, log: log}
}

type CreateSessionRequest struct {
	Age                *int           `json:"age,omitempty"`
	Gender             string         `json:"gender,omitempty"`
	Symptoms           []string       `json:"symptoms"`
	MedicalHistory     []string       `json:"medical_history"`
	CurrentMedications []string       `json:"current_medications"`
	VitalSigns         map[string]any `json:"vital_signs,omitempty"`
}

type DiagnoseRequest struct {
	SessionID string `json:"session_id"`
}

// validate enforces the session boundary: the core never sees a patient
// without symptoms or with an implausible age.
func (r CreateSessionRequest) validate() error {
	if len(r.Symptoms) == 0 {
		return errors.New("symptoms are required")
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > 150) {
		return errors.New("age must be between 0 and 150")
	}
	return nil
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	patient := medical.PatientInfo{
		Age:                req.Age,
		Gender:             req.Gender,
		Symptoms:           req.Symptoms,
		MedicalHistory:     emptyIfNil(req.MedicalHistory),
		CurrentMedications: emptyIfNil(req.CurrentMedications),
		VitalSigns:         req.VitalSigns,
	}

	id, err := h.svc.StartSession(r.Context(), patient)
	if err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": id.String(),
		"message":    "diagnosis session created",
		"timestamp":  time.Now(),
	})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.ListSessions(r.Context())

	summaries := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, map[string]any{
			"session_id":     s.SessionID.String(),
			"created_at":     s.CreatedAt,
			"updated_at":     s.UpdatedAt,
			"patient_age":    s.PatientInfo.Age,
			"patient_gender": s.PatientInfo.Gender,
			"symptoms":       s.PatientInfo.Symptoms,
			"has_diagnosis":  s.ProposedDiagnosis != nil,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":    summaries,
		"total_count": len(summaries),
		"timestamp":   time.Now(),
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.SessionID.String(),
		"state":      session,
		"timestamp":  time.Now(),
	})
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}
	if !h.svc.DeleteSession(r.Context(), id) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "session deleted",
		"session_id": id.String(),
		"timestamp":  time.Now(),
	})
}

func (h *Handler) Diagnose(w http.ResponseWriter, r *http.Request) {
	var req DiagnoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	result := h.svc.ProcessDiagnosis(r.Context(), id)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusNotFound
	}
	writeJSON(w, status, result)
}

// DiagnoseAsync kicks the pipeline off in the background with a detached
// context and returns immediately. Callers poll the session endpoints for
// the result.
func (h *Handler) DiagnoseAsync(w http.ResponseWriter, r *http.Request) {
	var req DiagnoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}
	if _, err := h.svc.Session(r.Context(), id); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	go func() {
		result := h.svc.ProcessDiagnosis(context.Background(), id)
		h.log.WithFields(logrus.Fields{
			"session_id": id,
			"success":    result.Success,
		}).Info("background diagnosis finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":    "diagnosis started in the background",
		"session_id": id.String(),
		"status":     "processing",
		"timestamp":  time.Now(),
	})
}

func (h *Handler) GetDebate(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     session.SessionID.String(),
		"debate_rounds":  session.DebateRounds,
		"current_action": session.CurrentAction,
		"timestamp":      time.Now(),
	})
}

func (h *Handler) GetDiagnosis(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	if session.ProposedDiagnosis == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":       "diagnosis not yet available",
			"session_id":    session.SessionID.String(),
			"has_diagnosis": false,
			"timestamp":     time.Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":         session.SessionID.String(),
		"has_diagnosis":      true,
		"diagnosis":          session.ProposedDiagnosis,
		"confirmation":       session.DiagnosisConfirmation,
		"cost_analysis":      session.CostAnalysis,
		"final_decision":     session.FinalDecision,
		"sdbench_evaluation": session.Evaluation,
		"timestamp":          time.Now(),
	})
}

func (h *Handler) GetCostAnalysis(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	if session.CostAnalysis == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":           "cost analysis not available",
			"session_id":        session.SessionID.String(),
			"has_cost_analysis": false,
			"timestamp":         time.Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":        session.SessionID.String(),
		"has_cost_analysis": true,
		"cost_analysis":     session.CostAnalysis,
		"proposed_tests":    session.ProposedTests,
		"timestamp":         time.Now(),
	})
}

func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	if session.Evaluation == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":        "evaluation not available",
			"session_id":     session.SessionID.String(),
			"has_evaluation": false,
			"timestamp":      time.Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":         session.SessionID.String(),
		"has_evaluation":     true,
		"sdbench_evaluation": session.Evaluation,
		"timestamp":          time.Now(),
	})
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}

	pdf, err := h.report.Render(session)
	if err != nil {
		http.Error(w, "Report generation failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=report_%s.pdf", session.SessionID))
	w.Write(pdf)
}

func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": h.svc.SessionCount(r.Context()),
		"system_health":   "healthy",
		"timestamp":       time.Now(),
	})
}

func (h *Handler) ClearAllSessions(w http.ResponseWriter, r *http.Request) {
	n := h.svc.ClearSessions(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          fmt.Sprintf("%d sessions cleared", n),
		"cleared_sessions": n,
		"timestamp":        time.Now(),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": h.svc.SessionCount(r.Context()),
		"timestamp":       time.Now(),
	})
}

func (h *Handler) sessionFromURL(w http.ResponseWriter, r *http.Request) (*medical.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return nil, false
	}
	session, err := h.svc.Session(r.Context(), id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", h.Health)

	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{sessionID}", h.GetSession)
	r.Delete("/sessions/{sessionID}", h.DeleteSession)

	r.Post("/diagnose", h.Diagnose)
	r.Post("/diagnose/async", h.DiagnoseAsync)

	r.Get("/sessions/{sessionID}/debate", h.GetDebate)
	r.Get("/sessions/{sessionID}/diagnosis", h.GetDiagnosis)
	r.Get("/sessions/{sessionID}/cost-analysis", h.GetCostAnalysis)
	r.Get("/sessions/{sessionID}/evaluation", h.GetEvaluation)
	r.Get("/sessions/{sessionID}/report", h.GetReport)

	r.Get("/system/status", h.SystemStatus)
	r.Post("/system/clear-all", h.ClearAllSessions)
}
