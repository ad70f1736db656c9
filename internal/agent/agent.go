package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
)

// ReasonSystemError is the fallback reasoning substituted when the model
// call itself fails. Tests distinguish a degraded opinion from a genuine
// low-confidence one by this exact string together with confidence 0.0.
const ReasonSystemError = "analysis could not be completed due to a system error"

// RoundContext is what an agent sees of the debate so far: the current round
// number and every completed prior round (opinions, consensus and
// disagreements included). Agents never see sibling answers from the round
// in progress.
type RoundContext struct {
	RoundNumber int
	PriorRounds []medical.DebateRound
}

// Agent wraps one role-specific prompt and one model call per invocation.
type Agent struct {
	role medical.AgentRole
	llm  llm.Client
	log  *logrus.Logger
}

func New(role medical.AgentRole, client llm.Client, log *logrus.Logger) *Agent {
	return &Agent{role: role, llm: client, log: log}
}

func (a *Agent) Role() medical.AgentRole { return a.role }

// ProduceOpinion issues the agent's model call and converts the reply into a
// structured opinion. Any failure from the call yields a degraded opinion
// rather than an error: confidence 0.0, a fixed system-error reasoning, and
// the error text recorded as a concern.
func (a *Agent) ProduceOpinion(ctx context.Context, patient medical.PatientInfo, rc RoundContext) medical.AgentOpinion {
	spec := roleSpecs[a.role]
	userPrompt := buildUserPrompt(patient, rc, spec.Description)

	content, err := a.llm.Complete(ctx, spec.SystemPrompt, userPrompt, 0.7, 1000)
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"role":  a.role,
			"round": rc.RoundNumber,
		}).WithError(err).Warn("agent model call failed, returning degraded opinion")
		return medical.AgentOpinion{
			AgentRole:       a.role,
			Response:        fmt.Sprintf("an error occurred during analysis: %v", err),
			Confidence:      0.0,
			Reasoning:       ReasonSystemError,
			Recommendations: []string{},
			Concerns:        []string{fmt.Sprintf("system error: %v", err)},
		}
	}

	parsed := ParseOpinion(content)
	return parsed.Opinion(a.role)
}

// buildUserPrompt renders the patient record and debate context. Missing
// fields are rendered as explicit "unknown"/"none" markers, never omitted.
func buildUserPrompt(patient medical.PatientInfo, rc RoundContext, roleDescription string) string {
	var b strings.Builder

	b.WriteString("Patient information:\n")
	b.WriteString("- Age: " + renderAge(patient.Age) + "\n")
	b.WriteString("- Gender: " + orUnknown(patient.Gender) + "\n")
	b.WriteString("- Symptoms: " + joinOrNone(patient.Symptoms) + "\n")
	b.WriteString("- Medical history: " + joinOrNone(patient.MedicalHistory) + "\n")
	b.WriteString("- Current medications: " + joinOrNone(patient.CurrentMedications) + "\n")
	b.WriteString("- Vital signs: " + renderVitals(patient.VitalSigns) + "\n\n")

	b.WriteString(fmt.Sprintf("Debate round: %d\n", rc.RoundNumber))
	b.WriteString("Additional context: " + renderPriorRounds(rc.PriorRounds) + "\n\n")

	b.WriteString("Based on the information above, perform your role: " + roleDescription + ".\n")
	b.WriteString(`Provide your answer in the following format:

RESPONSE: [the agent's main response]
CONFIDENCE: [confidence between 0.0 and 1.0]
REASONING: [basis for your judgment]
RECOMMENDATIONS: [recommendations, comma separated]
CONCERNS: [concerns, comma separated]
`)
	return b.String()
}

func renderAge(age *int) string {
	if age == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *age)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func renderVitals(vitals map[string]any) string {
	if len(vitals) == 0 {
		return "unknown"
	}
	parts := make([]string, 0, len(vitals))
	for k, v := range vitals {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ", ")
}

func renderPriorRounds(rounds []medical.DebateRound) string {
	if len(rounds) == 0 {
		return "none"
	}
	var b strings.Builder
	for _, r := range rounds {
		fmt.Fprintf(&b, "\n[round %d]", r.RoundNumber)
		for _, op := range r.AgentOpinions {
			fmt.Fprintf(&b, "\n%s: %s", op.AgentRole, op.Response)
		}
		if r.Consensus != "" {
			fmt.Fprintf(&b, "\nconsensus: %s", r.Consensus)
		}
		if len(r.Disagreements) > 0 {
			fmt.Fprintf(&b, "\ndisagreements: %s", strings.Join(r.Disagreements, "; "))
		}
	}
	return b.String()
}
