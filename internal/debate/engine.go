// Package debate runs the virtual doctor panel: per round every agent is
// invoked in fixed role order, a consensus label is derived from the round's
// opinions, and disagreements are flagged from a deterministic checklist.
package debate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mai-dx-orchestrator/internal/agent"
	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
)

const consensusSystemPrompt = "You are an expert in deriving consensus from medical debates."

// Disagreement flags produced by the checklist.
const (
	DisagreementConfidenceSpread    = "large confidence spread between agents"
	DisagreementRecommendationsDiff = "agents' recommendations differ"
	disagreementConcernsPrefix      = "concerns raised: "
	confidenceSpreadThreshold       = 0.3
)

// Engine coordinates one debate: a fixed panel of agents, a consensus model
// call per round, and a pacing delay between successive agent calls to
// respect provider rate limits. The delay is a throughput choice, not a
// correctness requirement.
type Engine struct {
	agents []*agent.Agent
	llm    llm.Client
	pacing time.Duration
	log    *logrus.Logger
}

func NewEngine(client llm.Client, pacing time.Duration, log *logrus.Logger) *Engine {
	agents := make([]*agent.Agent, 0, len(medical.RoleOrder))
	for _, role := range medical.RoleOrder {
		agents = append(agents, agent.New(role, client, log))
	}
	return &Engine{agents: agents, llm: client, pacing: pacing, log: log}
}

// Run executes up to maxRounds debate rounds and returns them in order.
// Agents within a round see only prior-round context, never each other's
// answers from the round in progress. A round whose consensus contains a
// decided label (question, test or diagnosis) terminates the debate early.
func (e *Engine) Run(ctx context.Context, patient medical.PatientInfo, maxRounds int) []medical.DebateRound {
	rounds := make([]medical.DebateRound, 0, maxRounds)
	rc := agent.RoundContext{}

	for num := 1; num <= maxRounds; num++ {
		rc.RoundNumber = num
		e.log.WithField("round", num).Info("debate round started")

		opinions := e.collectOpinions(ctx, patient, rc)
		consensus := e.reachConsensus(ctx, opinions, num)
		disagreements := identifyDisagreements(opinions)

		round := medical.DebateRound{
			RoundNumber:   num,
			AgentOpinions: opinions,
			Consensus:     consensus,
			Disagreements: disagreements,
		}
		rounds = append(rounds, round)

		// Carry the completed round forward, accumulating context.
		rc.PriorRounds = append(rc.PriorRounds, round)

		if indicatesAgreement(consensus) {
			e.log.WithField("round", num).Info("consensus reached, ending debate early")
			break
		}
	}

	return rounds
}

func (e *Engine) collectOpinions(ctx context.Context, patient medical.PatientInfo, rc agent.RoundContext) []medical.AgentOpinion {
	opinions := make([]medical.AgentOpinion, 0, len(e.agents))
	for i, a := range e.agents {
		if i > 0 && e.pacing > 0 {
			time.Sleep(e.pacing)
		}
		opinions = append(opinions, a.ProduceOpinion(ctx, patient, rc))
	}
	return opinions
}

// reachConsensus classifies the round's outcome into one of four categories
// via one model call. A failed call yields an error-describing consensus
// string, never an error.
func (e *Engine) reachConsensus(ctx context.Context, opinions []medical.AgentOpinion, roundNum int) string {
	var summary strings.Builder
	for i, op := range opinions {
		if i > 0 {
			summary.WriteString("\n\n")
		}
		fmt.Fprintf(&summary, "%s: %s", op.AgentRole, op.Response)
	}

	prompt := fmt.Sprintf(`The following are the results of round %d of a virtual physician debate for a medical diagnosis:

%s

Synthesize the responses above and derive a consensus as exactly one of:

1. "question needed" - additional information is required
2. "test needed" - a specific test is required
3. "diagnosis ready" - there is enough information to diagnose
4. "more debate needed" - further debate is required

Consensus: [result]
Rationale: [brief explanation]
`, roundNum, summary.String())

	content, err := e.llm.Complete(ctx, consensusSystemPrompt, prompt, 0.3, 200)
	if err != nil {
		e.log.WithField("round", roundNum).WithError(err).Warn("consensus call failed")
		return fmt.Sprintf("error deriving consensus: %v", err)
	}
	return content
}

// identifyDisagreements is a deterministic checklist, not a model call.
func identifyDisagreements(opinions []medical.AgentOpinion) []string {
	disagreements := []string{}
	if len(opinions) == 0 {
		return disagreements
	}

	minConf, maxConf := opinions[0].Confidence, opinions[0].Confidence
	for _, op := range opinions[1:] {
		if op.Confidence < minConf {
			minConf = op.Confidence
		}
		if op.Confidence > maxConf {
			maxConf = op.Confidence
		}
	}
	if maxConf-minConf > confidenceSpreadThreshold {
		disagreements = append(disagreements, DisagreementConfidenceSpread)
	}

	var allConcerns []string
	for _, op := range opinions {
		allConcerns = append(allConcerns, op.Concerns...)
	}
	if len(allConcerns) > 0 {
		if len(allConcerns) > 3 {
			allConcerns = allConcerns[:3]
		}
		disagreements = append(disagreements, disagreementConcernsPrefix+strings.Join(allConcerns, ", "))
	}

	distinct := map[string]struct{}{}
	for _, op := range opinions {
		recs := append([]string(nil), op.Recommendations...)
		sort.Strings(recs)
		distinct[strings.Join(recs, "\x1f")] = struct{}{}
	}
	if len(distinct) > 1 {
		disagreements = append(disagreements, DisagreementRecommendationsDiff)
	}

	return disagreements
}

// Keyword sets are bilingual: the panel historically debated in Korean and
// replies may use either language.
var (
	questionKeywords  = []string{"질문", "추가 정보", "question", "additional info"}
	testKeywords      = []string{"검사", "테스트", "test"}
	diagnosisKeywords = []string{"진단", "diagnosis"}
)

// ExtractAction maps a consensus string to the next pipeline branch by
// lowercase substring matching, defaulting to ask-question.
func ExtractAction(consensus string) medical.ActionType {
	lower := strings.ToLower(consensus)

	if containsAny(lower, questionKeywords) {
		return medical.ActionAskQuestion
	}
	if containsAny(lower, testKeywords) {
		return medical.ActionRequestTest
	}
	if containsAny(lower, diagnosisKeywords) {
		return medical.ActionProvideDiagnosis
	}
	return medical.ActionAskQuestion
}

// indicatesAgreement reports whether the consensus carries one of the three
// decided labels. "more debate needed" (and an error consensus) never ends
// the debate early.
func indicatesAgreement(consensus string) bool {
	lower := strings.ToLower(consensus)
	return containsAny(lower, questionKeywords) ||
		containsAny(lower, testKeywords) ||
		containsAny(lower, diagnosisKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
