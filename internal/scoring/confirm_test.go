package scoring

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
)

// confirmClient scripts the symptom-match score and fails every other call
// so deterministic fallbacks are exercised.
func confirmClient(score string) llm.ClientFunc {
	return func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
		if strings.Contains(system, "symptom analysis") {
			return score, nil
		}
		return "", assert.AnError
	}
}

func TestConfirmBlendsWeightedScores(t *testing.T) {
	c := NewConfirmer(confirmClient("0.8"), testLogger())

	diagnosis := medical.Diagnosis{Condition: "migraine", Confidence: 0.9, Severity: "mild"}
	patient := medical.PatientInfo{Symptoms: []string{"headache"}}
	evidence := []string{"e1", "e2", "e3"}

	got := c.Confirm(context.Background(), diagnosis, patient, evidence)

	// 0.9*0.4 + 0.8*0.3 + 0.7*0.2 + 1.0*0.1 = 0.84
	assert.InDelta(t, 0.84, got.ConfidenceLevel, 1e-9)
	assert.False(t, got.FollowUpRequired)
	assert.Empty(t, got.FollowUpPlan)
	assert.Equal(t, diagnosis, got.ConfirmedDiagnosis)
}

func TestConfirmFollowUpOnLowLevel(t *testing.T) {
	c := NewConfirmer(confirmClient("0.2"), testLogger())

	diagnosis := medical.Diagnosis{Condition: "unclear", Confidence: 0.3, Severity: "mild"}
	patient := medical.PatientInfo{Symptoms: []string{"fatigue"}}

	got := c.Confirm(context.Background(), diagnosis, patient, nil)

	// 0.3*0.4 + 0.2*0.3 + 0.5*0.2 + 1.0*0.1 = 0.38
	assert.InDelta(t, 0.38, got.ConfidenceLevel, 1e-9)
	assert.True(t, got.FollowUpRequired)
	assert.Equal(t, FollowUpPlanFallback, got.FollowUpPlan)
}

func TestConfirmFollowUpOnSeverityRegardlessOfLevel(t *testing.T) {
	c := NewConfirmer(confirmClient("1.0"), testLogger())

	diagnosis := medical.Diagnosis{Condition: "sepsis", Confidence: 1.0, Severity: "critical"}
	patient := medical.PatientInfo{Symptoms: []string{"fever"}}
	evidence := []string{"a", "b", "c", "d", "e"}

	got := c.Confirm(context.Background(), diagnosis, patient, evidence)

	assert.True(t, got.ConfidenceLevel >= 0.7)
	assert.True(t, got.FollowUpRequired)
}

func TestConfirmFallbacksOnModelFailure(t *testing.T) {
	c := NewConfirmer(confirmClient("0.5"), testLogger())

	age := 70
	diagnosis := medical.Diagnosis{Condition: "pneumonia", Confidence: 0.9, Severity: "severe", ICDCode: "J18.9"}
	patient := medical.PatientInfo{
		Age:            &age,
		Symptoms:       []string{"cough"},
		MedicalHistory: []string{"COPD"},
	}

	got := c.Confirm(context.Background(), diagnosis, patient, nil)

	require.NotEmpty(t, got.ConfirmationMethods)
	assert.Equal(t, ConfirmationMethodFallback, got.ConfirmationMethods[len(got.ConfirmationMethods)-1])
	assert.Contains(t, got.ConfirmationMethods, "confirmation based on high diagnostic confidence")
	assert.Contains(t, got.ConfirmationMethods, "ICD code matching")
	assert.Contains(t, got.ConfirmationMethods, "symptom pattern analysis")
	assert.Contains(t, got.ConfirmationMethods, "medical history review")

	require.NotEmpty(t, got.RiskFactors)
	assert.Equal(t, RiskFactorFallback, got.RiskFactors[len(got.RiskFactors)-1])
	assert.Contains(t, got.RiskFactors, "high-severity diagnosis")
	assert.Contains(t, got.RiskFactors, "elderly patient")
	assert.Contains(t, got.RiskFactors, "pre-existing medical history")
}

func TestEvaluateSymptomMatchDefaults(t *testing.T) {
	// No symptoms means no model call at all.
	c := NewConfirmer(failingClient(), testLogger())
	assert.Equal(t, 0.5, c.evaluateSymptomMatch(context.Background(), medical.Diagnosis{}, medical.PatientInfo{}))

	// Call failure defaults to 0.7.
	patient := medical.PatientInfo{Symptoms: []string{"nausea"}}
	assert.Equal(t, 0.7, c.evaluateSymptomMatch(context.Background(), medical.Diagnosis{}, patient))

	// Unparseable reply also defaults to 0.7.
	c = NewConfirmer(confirmClient("about 0.8, I think"), testLogger())
	assert.Equal(t, 0.7, c.evaluateSymptomMatch(context.Background(), medical.Diagnosis{}, patient))

	// Out-of-range replies clamp.
	c = NewConfirmer(confirmClient("3.5"), testLogger())
	assert.Equal(t, 1.0, c.evaluateSymptomMatch(context.Background(), medical.Diagnosis{}, patient))
	c = NewConfirmer(confirmClient("-1"), testLogger())
	assert.Equal(t, 0.0, c.evaluateSymptomMatch(context.Background(), medical.Diagnosis{}, patient))
}

func TestEvaluateEvidenceStrength(t *testing.T) {
	assert.Equal(t, 0.5, evaluateEvidenceStrength(nil))
	assert.Equal(t, 0.6, evaluateEvidenceStrength([]string{"a"}))
	assert.Equal(t, 0.6, evaluateEvidenceStrength([]string{"a", "b"}))
	assert.Equal(t, 0.7, evaluateEvidenceStrength([]string{"a", "b", "c"}))
	assert.Equal(t, 0.9, evaluateEvidenceStrength([]string{"a", "b", "c", "d", "e"}))
}

func TestCalculateRiskAdjustment(t *testing.T) {
	assert.Equal(t, 1.0, calculateRiskAdjustment(medical.PatientInfo{}))

	age := 66
	assert.InDelta(t, 0.9, calculateRiskAdjustment(medical.PatientInfo{Age: &age}), 1e-9)

	// Exactly 65 is not elderly.
	boundary := 65
	assert.Equal(t, 1.0, calculateRiskAdjustment(medical.PatientInfo{Age: &boundary}))

	full := medical.PatientInfo{
		Age:                &age,
		MedicalHistory:     []string{"diabetes"},
		CurrentMedications: []string{"metformin"},
	}
	assert.InDelta(t, 0.75, calculateRiskAdjustment(full), 1e-9)
}
