package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestProduceOpinionSuccess(t *testing.T) {
	var capturedUser string
	client := llm.ClientFunc(func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
		capturedUser = user
		assert.Equal(t, 0.7, temperature)
		assert.Equal(t, 1000, maxTokens)
		return "RESPONSE: hypertension likely\nCONFIDENCE: 0.9\nREASONING: elevated BP", nil
	})

	age := 40
	patient := medical.PatientInfo{
		Age:      &age,
		Gender:   "female",
		Symptoms: []string{"headache", "dizziness"},
	}

	a := New(medical.RoleHypothesis, client, testLogger())
	op := a.ProduceOpinion(context.Background(), patient, RoundContext{RoundNumber: 1})

	assert.Equal(t, medical.RoleHypothesis, op.AgentRole)
	assert.Equal(t, "hypertension likely", op.Response)
	assert.Equal(t, 0.9, op.Confidence)

	// Missing fields render as explicit markers, never omitted.
	assert.Contains(t, capturedUser, "Medical history: none")
	assert.Contains(t, capturedUser, "Vital signs: unknown")
	assert.Contains(t, capturedUser, "Debate round: 1")
	assert.Contains(t, capturedUser, "Additional context: none")
}

func TestProduceOpinionDegradedOnCallFailure(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
		return "", errors.New("quota exceeded")
	})

	a := New(medical.RoleChallenger, client, testLogger())
	op := a.ProduceOpinion(context.Background(), medical.PatientInfo{}, RoundContext{RoundNumber: 2})

	assert.Equal(t, medical.RoleChallenger, op.AgentRole)
	assert.Equal(t, 0.0, op.Confidence)
	assert.Equal(t, ReasonSystemError, op.Reasoning)
	assert.Empty(t, op.Recommendations)
	require.Len(t, op.Concerns, 1)
	assert.Contains(t, op.Concerns[0], "quota exceeded")
}

func TestProduceOpinionRendersPriorRounds(t *testing.T) {
	var capturedUser string
	client := llm.ClientFunc(func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
		capturedUser = user
		return "RESPONSE: ok", nil
	})

	prior := medical.DebateRound{
		RoundNumber: 1,
		AgentOpinions: []medical.AgentOpinion{
			{AgentRole: medical.RoleHypothesis, Response: "viral infection suspected"},
		},
		Consensus:     "more debate needed",
		Disagreements: []string{"large confidence spread between agents"},
	}

	a := New(medical.RoleChecklist, client, testLogger())
	a.ProduceOpinion(context.Background(), medical.PatientInfo{}, RoundContext{
		RoundNumber: 2,
		PriorRounds: []medical.DebateRound{prior},
	})

	assert.Contains(t, capturedUser, "[round 1]")
	assert.Contains(t, capturedUser, "viral infection suspected")
	assert.Contains(t, capturedUser, "consensus: more debate needed")
	assert.True(t, strings.Contains(capturedUser, "disagreements:"))
}

func TestRoleSpecsCoverEveryRole(t *testing.T) {
	for _, role := range medical.RoleOrder {
		spec, ok := roleSpecs[role]
		require.True(t, ok, "missing role spec for %s", role)
		assert.NotEmpty(t, spec.SystemPrompt)
		assert.NotEmpty(t, spec.Description)
	}
}
