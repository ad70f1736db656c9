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

// symptomKeywords drives the accuracy fallback heuristic. Korean terms are
// the historical set; English equivalents are matched the same way.
var symptomKeywords = []string{
	"발열", "기침", "통증", "피로", "메스꺼움", "구토", "설사", "변비",
	"두통", "어지러움", "호흡곤란", "가슴통증", "복통", "관절통",
	"fever", "cough", "pain", "fatigue", "nausea", "vomiting", "diarrhea", "constipation",
	"headache", "dizziness", "shortness of breath", "chest pain", "abdominal pain", "joint pain",
}

// Benchmark is the SDBench evaluator: three model-scored sub-scores with
// deterministic heuristics as fallbacks, combined into a fixed 0.4/0.3/0.3
// weighted overall score.
type Benchmark struct {
	llm llm.Client
	log *logrus.Logger
}

func NewBenchmark(client llm.Client, log *logrus.Logger) *Benchmark {
	return &Benchmark{llm: client, log: log}
}

// Evaluate scores a completed diagnosis. Each sub-score comes from one model
// call requesting a single [0,1] number; an unparseable or failed reply
// falls back to the documented heuristic for that sub-score.
func (b *Benchmark) Evaluate(ctx context.Context, diagnosis medical.Diagnosis, patient medical.PatientInfo,
	costAnalysis *medical.CostAnalysis, decision *medical.DecisionResult) medical.Evaluation {

	accuracy := b.evaluateAccuracy(ctx, diagnosis, patient)
	costEfficiency := b.evaluateCostEfficiency(ctx, diagnosis, costAnalysis)
	safety := b.evaluateSafety(ctx, diagnosis, patient)

	overall := medical.Clamp01(accuracy*0.4 + costEfficiency*0.3 + safety*0.3)

	return medical.Evaluation{
		AccuracyScore:          accuracy,
		CostEfficiency:         costEfficiency,
		SafetyScore:            safety,
		OverallScore:           overall,
		Feedback:               buildFeedback(accuracy, costEfficiency, safety),
		ImprovementSuggestions: b.buildImprovements(ctx, accuracy, costEfficiency, safety, diagnosis, patient),
	}
}

func (b *Benchmark) evaluateAccuracy(ctx context.Context, diagnosis medical.Diagnosis, patient medical.PatientInfo) float64 {
	prompt := fmt.Sprintf(`Rate the accuracy of the following medical diagnosis between 0.0 and 1.0:

Diagnosis: %s
Confidence: %.2f
Symptoms: %s
Reasoning: %s
Differential diagnoses: %s

Criteria:
1. Symptom-diagnosis match (30%%)
2. Diagnostic confidence (25%%)
3. Sufficiency of evidence (25%%)
4. Adequacy of differential diagnoses (20%%)

Respond with the accuracy score as a number only.
`, diagnosis.Condition, diagnosis.Confidence, joinOrNone(patient.Symptoms),
		diagnosis.Reasoning, joinOrNone(diagnosis.DifferentialDiagnoses))

	if score, ok := b.askForScore(ctx, "You are an expert in evaluating diagnostic accuracy.", prompt); ok {
		return score
	}
	return accuracyHeuristic(diagnosis, patient)
}

// accuracyHeuristic: confidence*0.4 + keyword-matched symptom fraction*0.3 +
// 0.2 for non-empty differentials + 0.1 for mild/moderate severity, clamped.
func accuracyHeuristic(diagnosis medical.Diagnosis, patient medical.PatientInfo) float64 {
	accuracy := diagnosis.Confidence * 0.4

	if len(patient.Symptoms) > 0 {
		matched := 0
		for _, symptom := range patient.Symptoms {
			for _, keyword := range symptomKeywords {
				if strings.Contains(symptom, keyword) {
					matched++
					break
				}
			}
		}
		if matched > 0 {
			accuracy += float64(matched) / float64(len(patient.Symptoms)) * 0.3
		}
	}

	if len(diagnosis.DifferentialDiagnoses) > 0 {
		accuracy += 0.2
	}
	if diagnosis.Severity == "mild" || diagnosis.Severity == "moderate" {
		accuracy += 0.1
	}
	return medical.Clamp01(accuracy)
}

func (b *Benchmark) evaluateCostEfficiency(ctx context.Context, diagnosis medical.Diagnosis, costAnalysis *medical.CostAnalysis) float64 {
	if costAnalysis == nil {
		return 0.5
	}

	prompt := fmt.Sprintf(`Rate the cost efficiency of the following medical diagnosis between 0.0 and 1.0:

Diagnosis: %s
Total cost: %.0f KRW
Insurance coverage: %.1f%%
Patient responsibility: %.0f KRW
Cost effectiveness: %s

Criteria:
1. Appropriateness of total cost (40%%)
2. Value for cost (30%%)
3. Insurance coverage (20%%)
4. Patient burden (10%%)

Respond with the cost efficiency score as a number only.
`, diagnosis.Condition, costAnalysis.TotalCost, costAnalysis.InsuranceCoverage*100,
		costAnalysis.PatientResponsibility, costAnalysis.CostEffectiveness)

	if score, ok := b.askForScore(ctx, "You are an expert in evaluating medical cost efficiency.", prompt); ok {
		return score
	}
	return costEfficiencyHeuristic(costAnalysis)
}

func costEfficiencyHeuristic(costAnalysis *medical.CostAnalysis) float64 {
	var efficiency float64

	switch {
	case costAnalysis.TotalCost < 100000:
		efficiency += 0.4
	case costAnalysis.TotalCost < 300000:
		efficiency += 0.3
	case costAnalysis.TotalCost < 500000:
		efficiency += 0.2
	default:
		efficiency += 0.1
	}

	efficiency += costAnalysis.InsuranceCoverage * 0.3

	switch costAnalysis.CostEffectiveness {
	case "high":
		efficiency += 0.3
	case "medium":
		efficiency += 0.2
	default:
		efficiency += 0.1
	}

	return medical.Clamp01(efficiency)
}

func (b *Benchmark) evaluateSafety(ctx context.Context, diagnosis medical.Diagnosis, patient medical.PatientInfo) float64 {
	prompt := fmt.Sprintf(`Rate the safety of the following medical diagnosis between 0.0 and 1.0:

Diagnosis: %s
Severity: %s
Age: %s
Gender: %s
Medical history: %s
Current medications: %s

Criteria:
1. Risk assessment (40%%)
2. Safety protocol compliance (30%%)
3. Follow-up planning (20%%)
4. Emergency readiness (10%%)

Respond with the safety score as a number only.
`, diagnosis.Condition, diagnosis.Severity, renderAge(patient.Age), patient.Gender,
		joinOrNone(patient.MedicalHistory), joinOrNone(patient.CurrentMedications))

	if score, ok := b.askForScore(ctx, "You are an expert in evaluating medical safety.", prompt); ok {
		return score
	}
	return safetyHeuristic(diagnosis, patient)
}

func safetyHeuristic(diagnosis medical.Diagnosis, patient medical.PatientInfo) float64 {
	safety := 0.5

	switch diagnosis.Severity {
	case "mild":
		safety += 0.2
	case "moderate":
		safety += 0.1
	case "severe":
		safety -= 0.1
	case "critical":
		safety -= 0.2
	}

	if patient.Age != nil {
		if *patient.Age > 65 {
			safety -= 0.1
		} else if *patient.Age < 18 {
			safety -= 0.05
		}
	}
	if len(patient.MedicalHistory) > 0 {
		safety -= 0.1
	}
	if len(patient.CurrentMedications) > 0 {
		safety -= 0.05
	}

	return medical.Clamp01(safety)
}

// askForScore runs one scoring call and parses a bare [0,1] number. The
// returned number is taken as-is, never recomputed from the rubric weights
// communicated in the prompt.
func (b *Benchmark) askForScore(ctx context.Context, system, prompt string) (float64, bool) {
	content, err := b.llm.Complete(ctx, system, prompt, 0.1, 10)
	if err != nil {
		b.log.WithError(err).Warn("evaluation score call failed, using heuristic")
		return 0, false
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil {
		return 0, false
	}
	return medical.Clamp01(score), true
}

func buildFeedback(accuracy, costEfficiency, safety float64) []string {
	feedback := make([]string, 0, 3)

	switch {
	case accuracy >= 0.8:
		feedback = append(feedback, "diagnostic accuracy is very high")
	case accuracy >= 0.6:
		feedback = append(feedback, "diagnostic accuracy is acceptable")
	default:
		feedback = append(feedback, "diagnostic accuracy needs improvement")
	}

	switch {
	case costEfficiency >= 0.8:
		feedback = append(feedback, "cost efficiency is excellent")
	case costEfficiency >= 0.6:
		feedback = append(feedback, "cost efficiency is adequate")
	default:
		feedback = append(feedback, "cost efficiency needs improvement")
	}

	switch {
	case safety >= 0.8:
		feedback = append(feedback, "safety level is very high")
	case safety >= 0.6:
		feedback = append(feedback, "safety level is adequate")
	default:
		feedback = append(feedback, "safety needs improvement")
	}

	return feedback
}

func (b *Benchmark) buildImprovements(ctx context.Context, accuracy, costEfficiency, safety float64,
	diagnosis medical.Diagnosis, patient medical.PatientInfo) []string {

	suggestions := []string{}

	prompt := fmt.Sprintf(`Suggest improvements for the following medical diagnosis:

Diagnosis: %s
Accuracy: %.2f
Cost efficiency: %.2f
Safety: %.2f
Symptoms: %s

Suggest 1-2 concrete improvements per area.
`, diagnosis.Condition, accuracy, costEfficiency, safety, joinOrNone(patient.Symptoms))

	content, err := b.llm.Complete(ctx, "You are an expert in improving medical diagnoses.", prompt, 0.3, 300)
	if err != nil {
		// Swallowed: missing model suggestions are not surfaced, the
		// deterministic ones below still apply.
		b.log.WithError(err).Warn("improvement suggestions call failed")
	} else {
		suggestions = append(suggestions, splitLines(content)...)
	}

	if accuracy < 0.7 {
		suggestions = append(suggestions, "improve diagnostic accuracy with additional testing")
	}
	if costEfficiency < 0.6 {
		suggestions = append(suggestions, "consider cost-effective alternative tests")
	}
	if safety < 0.7 {
		suggestions = append(suggestions, "strengthen safety protocols and monitoring")
	}

	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
