package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mai-dx-orchestrator/internal/debate"
	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
	"mai-dx-orchestrator/internal/scoring"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// pipelineClient scripts every model call in the pipeline by the expertise
// named in the system prompt. Unset entries fail the call, exercising that
// call site's fallback.
type pipelineClient struct {
	script map[string]string
}

func (p *pipelineClient) Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	for key, reply := range p.script {
		if strings.Contains(system, key) {
			return reply, nil
		}
	}
	if strings.HasPrefix(system, "You are Dr.") {
		return "RESPONSE: panel opinion\nCONFIDENCE: 0.8", nil
	}
	return "", errors.New("call not scripted")
}

func newTestService(client llm.Client, maxRounds int) (Service, Store) {
	log := testLogger()
	store := NewMemoryStore()
	engine := debate.NewEngine(client, 0, log)
	svc := NewService(store, engine, client,
		scoring.NewCostAnalyzer(client, log),
		scoring.NewConfirmer(client, log),
		scoring.NewBenchmark(client, log),
		maxRounds, log)
	return svc, store
}

func TestStartSession(t *testing.T) {
	svc, store := newTestService(&pipelineClient{}, 3)
	ctx := context.Background()

	age := 30
	id, err := svc.StartSession(ctx, medical.PatientInfo{Age: &age, Symptoms: []string{"fever"}})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"fever"}, session.PatientInfo.Symptoms)
	assert.NotNil(t, session.DebateRounds)
	assert.NotNil(t, session.ProposedTests)
	assert.Equal(t, session.CreatedAt, session.UpdatedAt)

	// Fresh sessions serialize empty lists, not nulls.
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"debate_rounds":[]`)
	assert.Contains(t, string(raw), `"proposed_tests":[]`)
}

// Polling the session endpoints while a background diagnosis is running is
// the documented async usage; reads must never share struct memory with the
// pipeline's writes. Run with -race.
func TestSessionReadsDuringPipeline(t *testing.T) {
	client := &pipelineClient{script: map[string]string{
		"expert in deriving consensus":      "the panel remains split",
		"expert in medical decision making": "Decision: proceed",
	}}
	svc, store := newTestService(client, 3)
	ctx := context.Background()

	id, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"fever"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.ProcessDiagnosis(ctx, id)
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		session, err := store.Get(ctx, id)
		require.NoError(t, err)
		_, err = json.Marshal(session)
		require.NoError(t, err)
	}

	session, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session.FinalDecision)
}

func TestProcessDiagnosisUnknownSession(t *testing.T) {
	svc, _ := newTestService(&pipelineClient{}, 3)

	id := uuid.New()
	resp := svc.ProcessDiagnosis(context.Background(), id)

	assert.False(t, resp.Success)
	assert.Equal(t, "session not found", resp.Message)
	assert.Equal(t, id, resp.SessionID)
}

func TestProcessDiagnosisDiagnosisPath(t *testing.T) {
	client := &pipelineClient{script: map[string]string{
		"expert in deriving consensus":       "diagnosis ready",
		"expert in medical diagnosis":        "CONDITION: influenza\nCONFIDENCE: 0.85\nSEVERITY: mild\nREASONING: seasonal pattern\nDIFFERENTIALS: common cold, covid",
		"expert in medical symptom analysis": "0.9",
		"expert in medical decision making":  "Decision: proceed\nRationale: clear case",
		"evaluating diagnostic accuracy":     "0.8",
		"evaluating medical cost efficiency": "0.7",
		"evaluating medical safety":          "0.9",
	}}
	svc, store := newTestService(client, 3)
	ctx := context.Background()

	id, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"fever", "cough"}})
	require.NoError(t, err)

	resp := svc.ProcessDiagnosis(ctx, id)
	require.True(t, resp.Success)
	assert.Equal(t, "diagnosis process completed successfully", resp.Message)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)

	// Decided consensus in round one ends the debate early.
	require.Len(t, session.DebateRounds, 1)
	assert.Equal(t, medical.ActionProvideDiagnosis, session.CurrentAction)

	require.NotNil(t, session.ProposedDiagnosis)
	assert.Equal(t, "influenza", session.ProposedDiagnosis.Condition)
	assert.Equal(t, 0.85, session.ProposedDiagnosis.Confidence)
	assert.Equal(t, "mild", session.ProposedDiagnosis.Severity)
	assert.Equal(t, []string{"common cold", "covid"}, session.ProposedDiagnosis.DifferentialDiagnoses)

	require.NotNil(t, session.DiagnosisConfirmation)
	// 0.85*0.4 + 0.9*0.3 + 0.5*0.2 + 1.0*0.1 = 0.81
	assert.InDelta(t, 0.81, session.DiagnosisConfirmation.ConfidenceLevel, 1e-9)
	assert.False(t, session.DiagnosisConfirmation.FollowUpRequired)

	require.NotNil(t, session.FinalDecision)
	assert.Equal(t, "proceed", session.FinalDecision.Decision)
	assert.Equal(t, medical.ActionProvideDiagnosis, session.FinalDecision.ActionTaken)

	require.NotNil(t, session.Evaluation)
	// 0.8*0.4 + 0.7*0.3 + 0.9*0.3 = 0.8
	assert.InDelta(t, 0.8, session.Evaluation.OverallScore, 1e-9)

	assert.Empty(t, session.ProposedTests)
	assert.Nil(t, session.CostAnalysis)
	assert.False(t, session.UpdatedAt.Before(session.CreatedAt))
}

func TestProcessDiagnosisTestPath(t *testing.T) {
	client := &pipelineClient{script: map[string]string{
		"expert in deriving consensus":         "test needed",
		"expert in recommending medical tests": "CBC: complete blood count 50,000원 (routine)\n혈액검사: basic metabolic panel",
		"expert in medical decision making":    "Decision: proceed",
	}}
	svc, store := newTestService(client, 3)
	ctx := context.Background()

	id, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"fatigue"}})
	require.NoError(t, err)

	resp := svc.ProcessDiagnosis(ctx, id)
	require.True(t, resp.Success)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, medical.ActionRequestTest, session.CurrentAction)
	require.Len(t, session.ProposedTests, 2)

	first := session.ProposedTests[0]
	assert.Equal(t, "CBC", first.TestName)
	assert.Equal(t, "TEST_1", first.TestCode)
	assert.Equal(t, 50000.0, first.Cost)
	assert.Equal(t, "medium", first.Urgency)
	assert.Equal(t, "other", first.Category)

	second := session.ProposedTests[1]
	assert.Equal(t, "혈액검사", second.TestName)
	assert.Equal(t, defaultTestCost, second.Cost)

	require.NotNil(t, session.CostAnalysis)
	// CBC misses the price table (default 50000/0.7); 혈액검사 is listed
	// at 50000 with 0.8 coverage.
	assert.Equal(t, 100000.0, session.CostAnalysis.TotalCost)
	assert.InDelta(t, 0.75, session.CostAnalysis.InsuranceCoverage, 1e-9)
	assert.Contains(t, session.CostAnalysis.Recommendations, scoring.CostRecommendationFallback)

	// No diagnosis was proposed, so no benchmark evaluation runs.
	assert.Nil(t, session.ProposedDiagnosis)
	assert.Nil(t, session.Evaluation)
}

func TestProcessDiagnosisQuestionPathOnUnrecognizedConsensus(t *testing.T) {
	client := &pipelineClient{script: map[string]string{
		"expert in deriving consensus":      "the panel remains split",
		"expert in medical decision making": "Decision: proceed",
	}}
	svc, store := newTestService(client, 2)
	ctx := context.Background()

	id, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"fever"}})
	require.NoError(t, err)

	resp := svc.ProcessDiagnosis(ctx, id)
	require.True(t, resp.Success)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)

	// Unrecognized consensus never ends the debate early and routes to
	// ask-question by default.
	assert.Len(t, session.DebateRounds, 2)
	assert.Equal(t, medical.ActionAskQuestion, session.CurrentAction)
	assert.Empty(t, session.ProposedTests)
	assert.Nil(t, session.ProposedDiagnosis)
	require.NotNil(t, session.FinalDecision)
	assert.Equal(t, medical.ActionAskQuestion, session.FinalDecision.ActionTaken)
}

func TestProcessDiagnosisDecisionFailureProceeds(t *testing.T) {
	client := &pipelineClient{script: map[string]string{
		"expert in deriving consensus": "question needed",
	}}
	svc, store := newTestService(client, 3)
	ctx := context.Background()

	id, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"fever"}})
	require.NoError(t, err)

	resp := svc.ProcessDiagnosis(ctx, id)
	require.True(t, resp.Success)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session.FinalDecision)
	assert.Equal(t, "proceed", session.FinalDecision.Decision)
	assert.Contains(t, session.FinalDecision.Reasoning, "error generating final decision")
	assert.Equal(t, []string{"error recovery"}, session.FinalDecision.NextSteps)
}

func TestProcessDiagnosisReconsiderDecision(t *testing.T) {
	client := &pipelineClient{script: map[string]string{
		"expert in deriving consensus":      "question needed",
		"expert in medical decision making": "Decision: Reconsider\nRationale: gaps remain",
	}}
	svc, store := newTestService(client, 3)
	ctx := context.Background()

	id, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"fever"}})
	require.NoError(t, err)

	svc.ProcessDiagnosis(ctx, id)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session.FinalDecision)
	assert.Equal(t, "reconsider", session.FinalDecision.Decision)
	assert.Equal(t, "additional review is required", session.FinalDecision.Reasoning)
	assert.Equal(t, []string{"collect additional information", "re-evaluate"}, session.FinalDecision.NextSteps)
}

func TestProcessDiagnosisTestRecommendationFailure(t *testing.T) {
	client := &pipelineClient{script: map[string]string{
		"expert in deriving consensus":      "test needed",
		"expert in medical decision making": "Decision: proceed",
	}}
	svc, store := newTestService(client, 3)
	ctx := context.Background()

	id, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"fever"}})
	require.NoError(t, err)

	resp := svc.ProcessDiagnosis(ctx, id)
	require.True(t, resp.Success)

	session, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, medical.ActionRequestTest, session.CurrentAction)
	assert.Empty(t, session.ProposedTests)
	assert.Nil(t, session.CostAnalysis)
}

func TestParseProposedTests(t *testing.T) {
	content := `CBC: complete blood count (routine)
just a sentence without structure
MRI: brain scan, 400,000 KRW estimated
: missing name
X-ray:`

	got := parseProposedTests(content)
	require.Len(t, got, 2)

	assert.Equal(t, "CBC", got[0].TestName)
	assert.Equal(t, defaultTestCost, got[0].Cost)
	assert.Equal(t, "TEST_1", got[0].TestCode)

	assert.Equal(t, "MRI", got[1].TestName)
	assert.Equal(t, 400000.0, got[1].Cost)
	assert.Equal(t, "TEST_2", got[1].TestCode)
}

func TestExtractCost(t *testing.T) {
	cost, ok := extractCost("estimated at 50,000원 in most clinics")
	require.True(t, ok)
	assert.Equal(t, 50000.0, cost)

	cost, ok = extractCost("about 120000 KRW")
	require.True(t, ok)
	assert.Equal(t, 120000.0, cost)

	_, ok = extractCost("inexpensive routine test")
	assert.False(t, ok)

	// A non-numeric token before the marker is not a cost.
	_, ok = extractCost("roughly five 만원")
	assert.False(t, ok)
}

func TestParseDiagnosisDefaults(t *testing.T) {
	got := parseDiagnosis("the patient likely has a viral infection")

	assert.Equal(t, UnknownDiagnosis, got.Condition)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Equal(t, "moderate", got.Severity)
	assert.Equal(t, "based on symptom analysis", got.Reasoning)
	assert.Empty(t, got.DifferentialDiagnoses)
}

func TestParseDiagnosisFull(t *testing.T) {
	content := `CONDITION: acute bronchitis
CONFIDENCE: 1.4
SEVERITY: severe
REASONING: persistent productive cough
DIFFERENTIALS: pneumonia, , asthma`

	got := parseDiagnosis(content)

	assert.Equal(t, "acute bronchitis", got.Condition)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, "severe", got.Severity)
	assert.Equal(t, "persistent productive cough", got.Reasoning)
	assert.Equal(t, []string{"pneumonia", "asthma"}, got.DifferentialDiagnoses)
}

func TestSessionManagementPassThrough(t *testing.T) {
	svc, _ := newTestService(&pipelineClient{}, 3)
	ctx := context.Background()

	id1, err := svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"a"}})
	require.NoError(t, err)
	_, err = svc.StartSession(ctx, medical.PatientInfo{Symptoms: []string{"b"}})
	require.NoError(t, err)

	assert.Equal(t, 2, svc.SessionCount(ctx))
	assert.Len(t, svc.ListSessions(ctx), 2)

	assert.True(t, svc.DeleteSession(ctx, id1))
	assert.Equal(t, 1, svc.SessionCount(ctx))

	assert.Equal(t, 1, svc.ClearSessions(ctx))
	assert.Equal(t, 0, svc.SessionCount(ctx))
}
