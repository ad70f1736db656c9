package agent

import (
	"fmt"
	"strconv"
	"strings"

	"mai-dx-orchestrator/internal/medical"
)

// Field-level defaults substituted when a section is missing or unparseable.
const (
	DefaultResponse  = "analysis complete"
	DefaultReasoning = "analysis based on the information provided"

	// ReasonParseError marks a whole-record parse fallback. The combination
	// of this string with confidence exactly 0.5 is the documented sentinel.
	ReasonParseError = "an error occurred while parsing the response"
)

// ParsedOpinion is the always-successful result of parsing a model reply.
// Fallback reports whether the whole-record fallback was taken, so tests can
// tell a degraded record from a genuine one.
type ParsedOpinion struct {
	Response        string
	Confidence      float64
	Reasoning       string
	Recommendations []string
	Concerns        []string
	Fallback        bool
}

// Opinion binds the parsed fields to a role.
func (p ParsedOpinion) Opinion(role medical.AgentRole) medical.AgentOpinion {
	return medical.AgentOpinion{
		AgentRole:       role,
		Response:        p.Response,
		Confidence:      p.Confidence,
		Reasoning:       p.Reasoning,
		Recommendations: p.Recommendations,
		Concerns:        p.Concerns,
	}
}

// ParseOpinion extracts the line-tagged sections (RESPONSE:, CONFIDENCE:,
// REASONING:, RECOMMENDATIONS:, CONCERNS:) from a model reply. Parsing never
// fails: unparseable confidence becomes 0.5, missing sections get fixed
// defaults, and an unexpected panic degrades to a whole-record fallback. This
// two-tier scheme is what keeps one malformed reply from aborting a debate
// round.
func ParseOpinion(raw string) (parsed ParsedOpinion) {
	defer func() {
		if r := recover(); r != nil {
			parsed = recordFallback(raw, fmt.Sprintf("%v", r))
		}
	}()

	var (
		response        string
		confidence      = 0.5
		reasoning       string
		recommendations []string
		concerns        []string
		currentSection  string
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "RESPONSE:"):
			currentSection = "response"
			response = strings.TrimSpace(strings.TrimPrefix(line, "RESPONSE:"))
		case strings.HasPrefix(line, "CONFIDENCE:"):
			currentSection = "confidence"
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")), 64)
			if err != nil {
				confidence = 0.5
			} else {
				confidence = medical.Clamp01(v)
			}
		case strings.HasPrefix(line, "REASONING:"):
			currentSection = "reasoning"
			reasoning = strings.TrimSpace(strings.TrimPrefix(line, "REASONING:"))
		case strings.HasPrefix(line, "RECOMMENDATIONS:"):
			currentSection = "recommendations"
			recommendations = splitList(strings.TrimPrefix(line, "RECOMMENDATIONS:"))
		case strings.HasPrefix(line, "CONCERNS:"):
			currentSection = "concerns"
			concerns = splitList(strings.TrimPrefix(line, "CONCERNS:"))
		default:
			// Multi-line continuation for the free-text sections.
			switch currentSection {
			case "response":
				response += " " + line
			case "reasoning":
				reasoning += " " + line
			}
		}
	}

	if response == "" {
		response = DefaultResponse
	}
	if reasoning == "" {
		reasoning = DefaultReasoning
	}
	if recommendations == nil {
		recommendations = []string{}
	}
	if concerns == nil {
		concerns = []string{}
	}

	return ParsedOpinion{
		Response:        response,
		Confidence:      confidence,
		Reasoning:       reasoning,
		Recommendations: recommendations,
		Concerns:        concerns,
	}
}

func recordFallback(raw, cause string) ParsedOpinion {
	response := raw
	// Truncate by rune so a multibyte reply is never cut mid-character.
	if runes := []rune(raw); len(runes) > 200 {
		response = string(runes[:200]) + "..."
	}
	return ParsedOpinion{
		Response:        response,
		Confidence:      0.5,
		Reasoning:       ReasonParseError,
		Recommendations: []string{},
		Concerns:        []string{"parse error: " + cause},
		Fallback:        true,
	}
}

func splitList(s string) []string {
	items := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}
