package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
)

// Fallback strings appended when the corresponding model call fails.
const (
	ConfirmationMethodFallback = "additional AI confirmation analysis unavailable"
	RiskFactorFallback         = "additional AI risk analysis unavailable"
	FollowUpPlanFallback       = "follow-up plan generation failed; schedule a standard re-examination"
)

// Confirmer validates a proposed diagnosis against the patient record and
// optional supporting evidence.
type Confirmer struct {
	llm llm.Client
	log *logrus.Logger
}

func NewConfirmer(client llm.Client, log *logrus.Logger) *Confirmer {
	return &Confirmer{llm: client, log: log}
}

// Confirm recomputes a confirmation confidence as a fixed weighted blend:
// 0.4*diagnosis confidence + 0.3*symptom match + 0.2*evidence strength +
// 0.1*risk adjustment, clamped to [0,1]. Follow-up is required when the
// blended level drops below 0.7 or the severity is severe/critical.
func (c *Confirmer) Confirm(ctx context.Context, diagnosis medical.Diagnosis, patient medical.PatientInfo, evidence []string) medical.DiagnosisConfirmation {
	symptomMatch := c.evaluateSymptomMatch(ctx, diagnosis, patient)
	evidenceStrength := evaluateEvidenceStrength(evidence)
	riskAdjustment := calculateRiskAdjustment(patient)

	level := medical.Clamp01(
		diagnosis.Confidence*0.4 +
			symptomMatch*0.3 +
			evidenceStrength*0.2 +
			riskAdjustment*0.1,
	)

	followUpRequired := level < 0.7 || diagnosis.Severity == "severe" || diagnosis.Severity == "critical"
	var followUpPlan string
	if followUpRequired {
		followUpPlan = c.generateFollowUpPlan(ctx, diagnosis)
	}

	return medical.DiagnosisConfirmation{
		ConfirmedDiagnosis:  diagnosis,
		ConfirmationMethods: c.confirmationMethods(ctx, diagnosis, patient),
		ConfidenceLevel:     level,
		RiskFactors:         c.riskFactors(ctx, diagnosis, patient),
		FollowUpRequired:    followUpRequired,
		FollowUpPlan:        followUpPlan,
	}
}

// evaluateSymptomMatch asks the model for a single [0,1] score. No symptoms
// defaults to 0.5; a failed or unparseable reply defaults to 0.7.
func (c *Confirmer) evaluateSymptomMatch(ctx context.Context, diagnosis medical.Diagnosis, patient medical.PatientInfo) float64 {
	if len(patient.Symptoms) == 0 {
		return 0.5
	}

	prompt := fmt.Sprintf(`Rate how well the diagnosis "%s" matches the following symptoms, between 0.0 and 1.0:

Symptoms: %s
Diagnostic reasoning: %s

Respond with the match score as a number only.
`, diagnosis.Condition, strings.Join(patient.Symptoms, ", "), diagnosis.Reasoning)

	content, err := c.llm.Complete(ctx, "You are an expert in medical symptom analysis.", prompt, 0.1, 10)
	if err != nil {
		c.log.WithError(err).Warn("symptom match call failed")
		return 0.7
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil {
		return 0.7
	}
	return medical.Clamp01(score)
}

func evaluateEvidenceStrength(evidence []string) float64 {
	switch {
	case len(evidence) >= 5:
		return 0.9
	case len(evidence) >= 3:
		return 0.7
	case len(evidence) >= 1:
		return 0.6
	default:
		return 0.5
	}
}

// calculateRiskAdjustment starts at 1.0 and deducts for factors that lower
// confirmation confidence. No explicit floor beyond the caller's final clamp.
func calculateRiskAdjustment(patient medical.PatientInfo) float64 {
	adjustment := 1.0
	if patient.Age != nil && *patient.Age > 65 {
		adjustment -= 0.1
	}
	if len(patient.MedicalHistory) > 0 {
		adjustment -= 0.1
	}
	if len(patient.CurrentMedications) > 0 {
		adjustment -= 0.05
	}
	return adjustment
}

func (c *Confirmer) confirmationMethods(ctx context.Context, diagnosis medical.Diagnosis, patient medical.PatientInfo) []string {
	methods := []string{}
	if diagnosis.Confidence > 0.8 {
		methods = append(methods, "confirmation based on high diagnostic confidence")
	}
	if diagnosis.ICDCode != "" {
		methods = append(methods, "ICD code matching")
	}
	if len(patient.Symptoms) > 0 {
		methods = append(methods, "symptom pattern analysis")
	}
	if len(patient.MedicalHistory) > 0 {
		methods = append(methods, "medical history review")
	}

	prompt := fmt.Sprintf(`Suggest additional confirmation methods for the following diagnosis:

Diagnosis: %s
Symptoms: %s
Confidence: %.2f

Suggest 2-3 additional confirmation methods to consider.
`, diagnosis.Condition, strings.Join(patient.Symptoms, ", "), diagnosis.Confidence)

	content, err := c.llm.Complete(ctx, "You are an expert in diagnostic confirmation.", prompt, 0.3, 150)
	if err != nil {
		c.log.WithError(err).Warn("confirmation methods call failed")
		return append(methods, ConfirmationMethodFallback)
	}
	return append(methods, splitLines(content)...)
}

func (c *Confirmer) riskFactors(ctx context.Context, diagnosis medical.Diagnosis, patient medical.PatientInfo) []string {
	factors := []string{}
	if diagnosis.Severity == "severe" || diagnosis.Severity == "critical" {
		factors = append(factors, "high-severity diagnosis")
	}
	if patient.Age != nil && *patient.Age > 65 {
		factors = append(factors, "elderly patient")
	}
	if len(patient.MedicalHistory) > 0 {
		factors = append(factors, "pre-existing medical history")
	}

	prompt := fmt.Sprintf(`Identify additional risk factors from the following diagnosis and patient information:

Diagnosis: %s
Age: %s
Gender: %s
Medical history: %s
Current medications: %s

Suggest 2-3 additional risk factors.
`, diagnosis.Condition, renderAge(patient.Age), patient.Gender,
		strings.Join(patient.MedicalHistory, ", "), strings.Join(patient.CurrentMedications, ", "))

	content, err := c.llm.Complete(ctx, "You are an expert in medical risk factor analysis.", prompt, 0.3, 150)
	if err != nil {
		c.log.WithError(err).Warn("risk factors call failed")
		return append(factors, RiskFactorFallback)
	}
	return append(factors, splitLines(content)...)
}

func (c *Confirmer) generateFollowUpPlan(ctx context.Context, diagnosis medical.Diagnosis) string {
	prompt := fmt.Sprintf(`Draw up a follow-up plan for the following diagnosis:

Diagnosis: %s
Severity: %s

Provide a concrete follow-up plan.
`, diagnosis.Condition, diagnosis.Severity)

	content, err := c.llm.Complete(ctx, "You are an expert in medical follow-up planning.", prompt, 0.3, 200)
	if err != nil {
		c.log.WithError(err).Warn("follow-up plan call failed")
		return FollowUpPlanFallback
	}
	return content
}

func renderAge(age *int) string {
	if age == nil {
		return "unknown"
	}
	return strconv.Itoa(*age)
}

func splitLines(content string) []string {
	lines := []string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
