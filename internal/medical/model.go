package medical

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is the next pipeline branch chosen from a debate round's consensus.
type ActionType string

const (
	ActionAskQuestion      ActionType = "ask_question"
	ActionRequestTest      ActionType = "request_test"
	ActionProvideDiagnosis ActionType = "provide_diagnosis"
)

// AgentRole identifies one of the five virtual panel doctors.
type AgentRole string

const (
	RoleHypothesis  AgentRole = "hypothesis"
	RoleTestChooser AgentRole = "test_chooser"
	RoleChallenger  AgentRole = "challenger"
	RoleStewardship AgentRole = "stewardship"
	RoleChecklist   AgentRole = "checklist"
)

// RoleOrder is the fixed invocation order of the panel. Every debate round
// carries exactly one opinion per role, in this order.
var RoleOrder = []AgentRole{
	RoleHypothesis,
	RoleTestChooser,
	RoleChallenger,
	RoleStewardship,
	RoleChecklist,
}

// PatientInfo is immutable once a session starts.
type PatientInfo struct {
	Age                *int           `json:"age,omitempty"`
	Gender             string         `json:"gender,omitempty"`
	Symptoms           []string       `json:"symptoms"`
	MedicalHistory     []string       `json:"medical_history"`
	CurrentMedications []string       `json:"current_medications"`
	VitalSigns         map[string]any `json:"vital_signs,omitempty"`
}

// AgentOpinion is one agent's structured reply for one round. Never mutated
// after creation.
type AgentOpinion struct {
	AgentRole       AgentRole `json:"agent_role"`
	Response        string    `json:"response"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	Recommendations []string  `json:"recommendations"`
	Concerns        []string  `json:"concerns"`
}

// DebateRound holds one synchronized pass of all agents plus the derived
// consensus and disagreement set. Immutable once appended to session history.
type DebateRound struct {
	RoundNumber   int            `json:"round_number"`
	AgentOpinions []AgentOpinion `json:"agent_responses"`
	Consensus     string         `json:"consensus,omitempty"`
	Disagreements []string       `json:"disagreements"`
}

// ProposedTest is a medical test extracted from a model reply.
type ProposedTest struct {
	TestName    string  `json:"test_name"`
	TestCode    string  `json:"test_code"`
	Description string  `json:"description"`
	Cost        float64 `json:"cost"`
	Urgency     string  `json:"urgency"`  // low, medium, high, emergency
	Category    string  `json:"category"` // blood, imaging, physical, other
}

type Diagnosis struct {
	Condition             string   `json:"condition"`
	ICDCode               string   `json:"icd_code,omitempty"`
	Confidence            float64  `json:"confidence"`
	DifferentialDiagnoses []string `json:"differential_diagnoses"`
	Reasoning             string   `json:"reasoning"`
	Severity              string   `json:"severity"` // mild, moderate, severe, critical
}

// CostAnalysis summarizes the financial impact of an ordered test set.
// PatientResponsibility is always TotalCost * (1 - InsuranceCoverage), never
// set independently.
type CostAnalysis struct {
	TotalCost             float64            `json:"total_cost"`
	InsuranceCoverage     float64            `json:"insurance_coverage"`
	PatientResponsibility float64            `json:"patient_responsibility"`
	CostBreakdown         map[string]float64 `json:"cost_breakdown"`
	CostEffectiveness     string             `json:"cost_effectiveness"` // high, medium, low
	Recommendations       []string           `json:"recommendations"`
}

type DiagnosisConfirmation struct {
	ConfirmedDiagnosis  Diagnosis `json:"confirmed_diagnosis"`
	ConfirmationMethods []string  `json:"confirmation_methods"`
	ConfidenceLevel     float64   `json:"confidence_level"`
	RiskFactors         []string  `json:"risk_factors"`
	FollowUpRequired    bool      `json:"follow_up_required"`
	FollowUpPlan        string    `json:"follow_up_plan,omitempty"`
}

// DecisionResult is the pipeline's binary proceed/reconsider outcome.
type DecisionResult struct {
	ActionTaken ActionType `json:"action_taken"`
	Decision    string     `json:"decision"` // "proceed" or "reconsider"
	Reasoning   string     `json:"reasoning"`
	NextSteps   []string   `json:"next_steps"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Evaluation is the SDBench composite score over a completed diagnosis.
// Overall is always 0.4*accuracy + 0.3*cost efficiency + 0.3*safety.
type Evaluation struct {
	AccuracyScore          float64  `json:"accuracy_score"`
	CostEfficiency         float64  `json:"cost_efficiency"`
	SafetyScore            float64  `json:"safety_score"`
	OverallScore           float64  `json:"overall_score"`
	Feedback               []string `json:"feedback"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
}

// Session is the aggregate root owned by the in-memory store. Each pipeline
// stage replaces one field wholesale and refreshes UpdatedAt; concurrent
// pipeline runs against the same session are a caller error.
type Session struct {
	SessionID             uuid.UUID              `json:"session_id"`
	PatientInfo           PatientInfo            `json:"patient_info"`
	CurrentAction         ActionType             `json:"current_action,omitempty"`
	DebateRounds          []DebateRound          `json:"debate_rounds"`
	ProposedTests         []ProposedTest         `json:"proposed_tests"`
	ProposedDiagnosis     *Diagnosis             `json:"proposed_diagnosis,omitempty"`
	CostAnalysis          *CostAnalysis          `json:"cost_analysis,omitempty"`
	DiagnosisConfirmation *DiagnosisConfirmation `json:"diagnosis_confirmation,omitempty"`
	FinalDecision         *DecisionResult        `json:"final_decision,omitempty"`
	Evaluation            *Evaluation            `json:"sdbench_evaluation,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// SystemResponse is the pipeline entry-point result. Failures such as an
// unknown session surface here as Success=false, never as an error.
type SystemResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      *Session  `json:"data,omitempty"`
	SessionID uuid.UUID `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Clamp01 bounds every confidence and score field produced by the pipeline.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
