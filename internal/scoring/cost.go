// Package scoring holds the downstream modules run over a debate's output:
// cost analysis, diagnosis confirmation and the SDBench evaluator. Each
// combines a fixed heuristic baseline with an optional model-derived
// adjustment, and degrades to a fixed fallback when the model call fails.
package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/medical"
)

// CostRecommendationFallback is appended instead of model suggestions when
// the optimization call fails.
const CostRecommendationFallback = "cost optimization analysis unavailable"

// Defaults for tests absent from the price table. The pricing and coverage
// lookups are independent call sites with independent defaults.
const (
	defaultTestCost     = 50000.0
	defaultTestCoverage = 0.7
)

type testPricing struct {
	Name              string
	Cost              float64
	InsuranceCoverage float64
}

// testCosts is the fixed price table, matched by bidirectional substring
// containment in order. Korean names are the historical keys; English
// aliases carry the same pricing.
var testCosts = []testPricing{
	{"혈액검사", 50000, 0.8},
	{"X-ray", 80000, 0.7},
	{"CT", 200000, 0.6},
	{"MRI", 400000, 0.5},
	{"초음파", 60000, 0.8},
	{"심전도", 30000, 0.9},
	{"소변검사", 20000, 0.9},
	{"대변검사", 25000, 0.9},
	{"알레르기검사", 100000, 0.6},
	{"내시경", 150000, 0.7},
	{"blood test", 50000, 0.8},
	{"ultrasound", 60000, 0.8},
	{"ECG", 30000, 0.9},
	{"urine test", 20000, 0.9},
	{"stool test", 25000, 0.9},
	{"allergy test", 100000, 0.6},
	{"endoscopy", 150000, 0.7},
}

// CostAnalyzer estimates the financial impact of a proposed test order.
type CostAnalyzer struct {
	llm llm.Client
	log *logrus.Logger
}

func NewCostAnalyzer(client llm.Client, log *logrus.Logger) *CostAnalyzer {
	return &CostAnalyzer{llm: client, log: log}
}

// Analyze prices each test against the fixed table, averages insurance
// coverage (simple mean, not cost-weighted) and derives patient
// responsibility from total cost and coverage.
func (c *CostAnalyzer) Analyze(ctx context.Context, tests []medical.ProposedTest, patient medical.PatientInfo) medical.CostAnalysis {
	var totalCost float64
	breakdown := map[string]float64{}

	for _, test := range tests {
		baseCost := lookupTestCost(test.TestName)
		breakdown[test.TestName] = baseCost
		totalCost += baseCost
	}

	coverage := averageCoverage(tests)
	responsibility := totalCost * (1 - coverage)

	analysis := medical.CostAnalysis{
		TotalCost:             totalCost,
		InsuranceCoverage:     coverage,
		PatientResponsibility: responsibility,
		CostBreakdown:         breakdown,
		CostEffectiveness:     costEffectiveness(totalCost),
		Recommendations:       c.buildRecommendations(ctx, tests, totalCost, responsibility),
	}
	return analysis
}

func lookupTestCost(name string) float64 {
	for _, entry := range testCosts {
		if strings.Contains(name, entry.Name) || strings.Contains(entry.Name, name) {
			return entry.Cost
		}
	}
	return defaultTestCost
}

func averageCoverage(tests []medical.ProposedTest) float64 {
	if len(tests) == 0 {
		return 0
	}
	var total float64
	for _, test := range tests {
		total += lookupTestCoverage(test.TestName)
	}
	return total / float64(len(tests))
}

func lookupTestCoverage(name string) float64 {
	for _, entry := range testCosts {
		if strings.Contains(name, entry.Name) || strings.Contains(entry.Name, name) {
			return entry.InsuranceCoverage
		}
	}
	return defaultTestCoverage
}

// costEffectiveness buckets total cost with strict less-than thresholds:
// exactly 100000 is "medium", not "high".
func costEffectiveness(totalCost float64) string {
	switch {
	case totalCost < 100000:
		return "high"
	case totalCost < 300000:
		return "medium"
	default:
		return "low"
	}
}

func (c *CostAnalyzer) buildRecommendations(ctx context.Context, tests []medical.ProposedTest, totalCost, responsibility float64) []string {
	recommendations := []string{}

	if totalCost > 500000 {
		recommendations = append(recommendations, "high total cost; consider a staged testing approach")
	}
	if responsibility > 200000 {
		recommendations = append(recommendations, "patient responsibility is high; verify insurance benefits")
	}
	if len(tests) > 5 {
		recommendations = append(recommendations, "large number of tests; set priorities before proceeding")
	}

	names := make([]string, 0, len(tests))
	for _, test := range tests {
		names = append(names, test.TestName)
	}

	prompt := fmt.Sprintf(`Analyze the cost of the following medical tests and suggest optimizations:

Tests: %s
Total cost: %.0f KRW
Patient responsibility: %.0f KRW

Suggest 2-3 cost-effective alternatives or optimizations.
`, strings.Join(names, ", "), totalCost, responsibility)

	content, err := c.llm.Complete(ctx, "You are an expert in medical cost optimization.", prompt, 0.3, 200)
	if err != nil {
		c.log.WithError(err).Warn("cost optimization call failed")
		recommendations = append(recommendations, CostRecommendationFallback)
		return recommendations
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			recommendations = append(recommendations, line)
		}
	}
	return recommendations
}
