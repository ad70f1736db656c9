// Package diagnosis hosts the orchestrator: it threads one session through
// debate, action routing, scoring and a final decision, tolerating partial
// failure at every external call so the pipeline always runs to completion.
package diagnosis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mai-dx-orchestrator/internal/debate"
	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
	"mai-dx-orchestrator/internal/scoring"
)

// Fallback payloads substituted when an action handler's model call fails.
var fallbackQuestions = []string{
	"How long have the symptoms persisted?",
	"How severe is the pain on a scale of 1 to 10?",
}

// UnknownDiagnosis marks a diagnosis reply whose condition line was missing
// or unparseable.
const UnknownDiagnosis = "unknown diagnosis"

// currencyMarkers are scanned when extracting a test cost from a free-text
// description. Best effort only; no normalization or unit validation.
var currencyMarkers = []string{"원", "KRW"}

const defaultTestCost = 50000.0

type Service interface {
	StartSession(ctx context.Context, patient medical.PatientInfo) (uuid.UUID, error)
	ProcessDiagnosis(ctx context.Context, id uuid.UUID) medical.SystemResponse
	Session(ctx context.Context, id uuid.UUID) (*medical.Session, error)
	ListSessions(ctx context.Context) []*medical.Session
	DeleteSession(ctx context.Context, id uuid.UUID) bool
	ClearSessions(ctx context.Context) int
	SessionCount(ctx context.Context) int
}

type service struct {
	store     Store
	engine    *debate.Engine
	llm       llm.Client
	costs     *scoring.CostAnalyzer
	confirmer *scoring.Confirmer
	benchmark *scoring.Benchmark
	maxRounds int
	log       *logrus.Logger
}

func NewService(store Store, engine *debate.Engine, client llm.Client,
	costs *scoring.CostAnalyzer, confirmer *scoring.Confirmer, benchmark *scoring.Benchmark,
	maxRounds int, log *logrus.Logger) Service {
	if maxRounds <= 0 {
		maxRounds = 3
	}
	return &service{
		store:     store,
		engine:    engine,
		llm:       client,
		costs:     costs,
		confirmer: confirmer,
		benchmark: benchmark,
		maxRounds: maxRounds,
		log:       log,
	}
}

func (s *service) StartSession(ctx context.Context, patient medical.PatientInfo) (uuid.UUID, error) {
	now := time.Now()
	session := &medical.Session{
		SessionID:     uuid.New(),
		PatientInfo:   patient,
		DebateRounds:  []medical.DebateRound{},
		ProposedTests: []medical.ProposedTest{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Save(ctx, session); err != nil {
		return uuid.Nil, err
	}
	s.log.WithField("session_id", session.SessionID).Info("diagnosis session started")
	return session.SessionID, nil
}

// ProcessDiagnosis runs the full pipeline for one session. Every stage's
// model-call failure is absorbed into a documented fallback; the only
// failure result is an unknown session id.
func (s *service) ProcessDiagnosis(ctx context.Context, id uuid.UUID) medical.SystemResponse {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return medical.SystemResponse{
			Success:   false,
			Message:   "session not found",
			SessionID: id,
			Timestamp: time.Now(),
		}
	}

	log := s.log.WithField("session_id", id)
	log.Info("diagnosis pipeline started")

	// 1. Debate.
	session.DebateRounds = s.engine.Run(ctx, session.PatientInfo, s.maxRounds)
	s.touch(ctx, session)

	// 2. Action from the last round's consensus.
	if len(session.DebateRounds) > 0 {
		last := session.DebateRounds[len(session.DebateRounds)-1]
		session.CurrentAction = debate.ExtractAction(last.Consensus)
	} else {
		session.CurrentAction = medical.ActionAskQuestion
	}
	s.touch(ctx, session)
	log.WithField("action", session.CurrentAction).Info("action extracted from consensus")

	// 3. Route to exactly one handler.
	switch session.CurrentAction {
	case medical.ActionRequestTest:
		s.handleRequestTest(ctx, session)
	case medical.ActionProvideDiagnosis:
		s.handleProvideDiagnosis(ctx, session)
	default:
		s.handleAskQuestion(ctx, session)
	}

	// 4. Final decision.
	session.FinalDecision = s.makeFinalDecision(ctx, session)
	s.touch(ctx, session)

	// 5. Benchmark evaluation, only when a diagnosis was proposed.
	if session.ProposedDiagnosis != nil {
		eval := s.benchmark.Evaluate(ctx, *session.ProposedDiagnosis, session.PatientInfo,
			session.CostAnalysis, session.FinalDecision)
		session.Evaluation = &eval
		s.touch(ctx, session)
	}

	log.Info("diagnosis pipeline completed")
	return medical.SystemResponse{
		Success:   true,
		Message:   "diagnosis process completed successfully",
		Data:      session,
		SessionID: id,
		Timestamp: time.Now(),
	}
}

// touch stamps the session and persists it. Stages always replace fields
// wholesale before calling touch.
func (s *service) touch(ctx context.Context, session *medical.Session) {
	session.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, session); err != nil {
		s.log.WithField("session_id", session.SessionID).WithError(err).Error("failed to persist session")
	}
}

func (s *service) handleAskQuestion(ctx context.Context, session *medical.Session) {
	patient := session.PatientInfo
	prompt := fmt.Sprintf(`Generate questions to gather the additional information needed, based on the patient's symptoms and history.

Patient information:
- Age: %s
- Gender: %s
- Symptoms: %s
- Medical history: %s
- Current medications: %s

Provide 3-5 concrete questions to identify the missing information.
`, renderAge(patient.Age), patient.Gender, strings.Join(patient.Symptoms, ", "),
		strings.Join(patient.MedicalHistory, ", "), strings.Join(patient.CurrentMedications, ", "))

	content, err := s.llm.Complete(ctx, "You are an expert in formulating questions for medical diagnosis.", prompt, 0.3, 300)

	questions := fallbackQuestions
	if err != nil {
		s.log.WithError(err).Warn("question generation failed, using fallback questions")
	} else {
		questions = splitNonEmptyLines(content)
	}
	// Follow-up questions are relayed to the caller through the debate
	// consensus; they are not part of the persisted session state.
	s.log.WithFields(logrus.Fields{
		"session_id": session.SessionID,
		"questions":  len(questions),
	}).Info("follow-up questions generated")
}

func (s *service) handleRequestTest(ctx context.Context, session *medical.Session) {
	patient := session.PatientInfo
	consensus := "none"
	if len(session.DebateRounds) > 0 {
		consensus = session.DebateRounds[len(session.DebateRounds)-1].Consensus
	}

	prompt := fmt.Sprintf(`Recommend the medical tests required, based on the patient's symptoms and history.

Patient information:
- Age: %s
- Gender: %s
- Symptoms: %s
- Medical history: %s

Debate outcome: %s

List the required tests in this format:
test name: description (cost, urgency)
`, renderAge(patient.Age), patient.Gender, strings.Join(patient.Symptoms, ", "),
		strings.Join(patient.MedicalHistory, ", "), consensus)

	content, err := s.llm.Complete(ctx, "You are an expert in recommending medical tests.", prompt, 0.3, 400)
	if err != nil {
		s.log.WithError(err).Warn("test recommendation failed")
		session.ProposedTests = []medical.ProposedTest{}
		s.touch(ctx, session)
		return
	}

	session.ProposedTests = parseProposedTests(content)
	s.touch(ctx, session)

	analysis := s.costs.Analyze(ctx, session.ProposedTests, patient)
	session.CostAnalysis = &analysis
	s.touch(ctx, session)
}

func (s *service) handleProvideDiagnosis(ctx context.Context, session *medical.Session) {
	patient := session.PatientInfo
	consensus := "none"
	if len(session.DebateRounds) > 0 {
		consensus = session.DebateRounds[len(session.DebateRounds)-1].Consensus
	}

	prompt := fmt.Sprintf(`Provide a medical diagnosis based on the patient's symptoms and history.

Patient information:
- Age: %s
- Gender: %s
- Symptoms: %s
- Medical history: %s
- Current medications: %s

Debate outcome: %s

Provide the diagnosis in this format:
CONDITION: [condition name]
CONFIDENCE: [0.0-1.0]
SEVERITY: [mild/moderate/severe/critical]
REASONING: [diagnostic reasoning]
DIFFERENTIALS: [differential diagnoses, comma separated]
`, renderAge(patient.Age), patient.Gender, strings.Join(patient.Symptoms, ", "),
		strings.Join(patient.MedicalHistory, ", "), strings.Join(patient.CurrentMedications, ", "), consensus)

	content, err := s.llm.Complete(ctx, "You are an expert in medical diagnosis.", prompt, 0.3, 400)
	if err != nil {
		s.log.WithError(err).Warn("diagnosis generation failed")
		return
	}

	diag := parseDiagnosis(content)
	session.ProposedDiagnosis = &diag
	s.touch(ctx, session)

	confirmation := s.confirmer.Confirm(ctx, diag, patient, nil)
	session.DiagnosisConfirmation = &confirmation
	s.touch(ctx, session)
}

func (s *service) makeFinalDecision(ctx context.Context, session *medical.Session) *medical.DecisionResult {
	action := session.CurrentAction
	if action == "" {
		action = medical.ActionAskQuestion
	}

	condition := "none"
	if session.ProposedDiagnosis != nil {
		condition = session.ProposedDiagnosis.Condition
	}
	var totalCost float64
	if session.CostAnalysis != nil {
		totalCost = session.CostAnalysis.TotalCost
	}
	var confirmationLevel float64
	if session.DiagnosisConfirmation != nil {
		confirmationLevel = session.DiagnosisConfirmation.ConfidenceLevel
	}

	prompt := fmt.Sprintf(`Make a final decision based on the results of the diagnosis process.

Current action: %s
Diagnosis: %s
Total cost: %.0f KRW
Confirmation confidence: %.2f

Decide one of:
1. "proceed" - go ahead with the current decision
2. "reconsider" - further review is required

Decision: [proceed/reconsider]
Rationale: [basis for the decision]
Next steps: [concrete next steps]
`, action, condition, totalCost, confirmationLevel)

	content, err := s.llm.Complete(ctx, "You are an expert in medical decision making.", prompt, 0.3, 200)
	if err != nil {
		return &medical.DecisionResult{
			ActionTaken: action,
			Decision:    "proceed",
			Reasoning:   fmt.Sprintf("error generating final decision: %v", err),
			NextSteps:   []string{"error recovery"},
			Timestamp:   time.Now(),
		}
	}

	decision := "proceed"
	reasoning := "diagnosis process completed"
	nextSteps := []string{"deliver results to the patient"}
	if strings.Contains(strings.ToLower(content), "reconsider") {
		decision = "reconsider"
		reasoning = "additional review is required"
		nextSteps = []string{"collect additional information", "re-evaluate"}
	}

	return &medical.DecisionResult{
		ActionTaken: action,
		Decision:    decision,
		Reasoning:   reasoning,
		NextSteps:   nextSteps,
		Timestamp:   time.Now(),
	}
}

func (s *service) Session(ctx context.Context, id uuid.UUID) (*medical.Session, error) {
	return s.store.Get(ctx, id)
}

func (s *service) ListSessions(ctx context.Context) []*medical.Session {
	return s.store.List(ctx)
}

func (s *service) DeleteSession(ctx context.Context, id uuid.UUID) bool {
	return s.store.Delete(ctx, id)
}

func (s *service) ClearSessions(ctx context.Context) int {
	return s.store.Clear(ctx)
}

func (s *service) SessionCount(ctx context.Context) int {
	return s.store.Count(ctx)
}

// parseProposedTests converts "name: description (cost, urgency)" lines into
// tests. Only the colon split is required; the cost token is extracted best
// effort from the description, defaulting when absent.
func parseProposedTests(content string) []medical.ProposedTest {
	tests := []medical.ProposedTest{}
	for _, line := range strings.Split(content, "\n") {
		name, description, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		description = strings.TrimSpace(description)
		if name == "" || description == "" {
			continue
		}

		cost := defaultTestCost
		if extracted, ok := extractCost(description); ok {
			cost = extracted
		}

		tests = append(tests, medical.ProposedTest{
			TestName:    name,
			TestCode:    fmt.Sprintf("TEST_%d", len(tests)+1),
			Description: description,
			Cost:        cost,
			Urgency:     "medium",
			Category:    "other",
		})
	}
	return tests
}

// extractCost pulls the numeric token immediately preceding a currency
// marker out of a free-text description.
func extractCost(description string) (float64, bool) {
	for _, marker := range currencyMarkers {
		idx := strings.Index(description, marker)
		if idx < 0 {
			continue
		}
		fields := strings.Fields(description[:idx])
		if len(fields) == 0 {
			continue
		}
		token := strings.ReplaceAll(fields[len(fields)-1], ",", "")
		cost, err := strconv.ParseFloat(token, 64)
		if err != nil {
			continue
		}
		return cost, true
	}
	return 0, false
}

// parseDiagnosis uses the same line-tag technique as the opinion parser,
// with the same fallback philosophy: unparseable confidence becomes 0.5 and
// a missing condition becomes the unknown-diagnosis marker.
func parseDiagnosis(content string) medical.Diagnosis {
	diag := medical.Diagnosis{
		Condition:             UnknownDiagnosis,
		Confidence:            0.5,
		Severity:              "moderate",
		Reasoning:             "based on symptom analysis",
		DifferentialDiagnoses: []string{},
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CONDITION:"):
			if v := strings.TrimSpace(strings.TrimPrefix(line, "CONDITION:")); v != "" {
				diag.Condition = v
			}
		case strings.HasPrefix(line, "CONFIDENCE:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")), 64); err == nil {
				diag.Confidence = medical.Clamp01(v)
			}
		case strings.HasPrefix(line, "SEVERITY:"):
			if v := strings.TrimSpace(strings.TrimPrefix(line, "SEVERITY:")); v != "" {
				diag.Severity = v
			}
		case strings.HasPrefix(line, "REASONING:"):
			if v := strings.TrimSpace(strings.TrimPrefix(line, "REASONING:")); v != "" {
				diag.Reasoning = v
			}
		case strings.HasPrefix(line, "DIFFERENTIALS:"):
			for _, d := range strings.Split(strings.TrimPrefix(line, "DIFFERENTIALS:"), ",") {
				if d = strings.TrimSpace(d); d != "" {
					diag.DifferentialDiagnoses = append(diag.DifferentialDiagnoses, d)
				}
			}
		}
	}
	return diag
}

func splitNonEmptyLines(content string) []string {
	lines := []string{}
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func renderAge(age *int) string {
	if age == nil {
		return "unknown"
	}
	return strconv.Itoa(*age)
}
