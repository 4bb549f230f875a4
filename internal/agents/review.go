package agents

import (
	"strings"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/parser"
)

// Decision is the Reviewer's verdict
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionIterate Decision = "iterate"
)

// ReviewDecision is the Reviewer's structured output.
type ReviewDecision struct {
	Decision Decision         `json:"decision"`
	Summary  string           `json:"summary,omitempty"`
	Findings []models.Finding `json:"findings"`
}

// Decide applies the approval rule: approve iff no critical or major
// finding remains.
func Decide(findings []models.Finding) Decision {
	if models.HasBlocking(findings) {
		return DecisionIterate
	}
	return DecisionApprove
}

// DecodeReview reads a reviewer response. It never fails: unreadable output
// becomes an iterate decision carrying a major parse finding, and an iterate
// vote without blocking findings is turned into a major finding so that the
// vote and the rule agree.
func DecodeReview(raw string) ReviewDecision {
	var out struct {
		Decision string           `json:"decision"`
		Summary  string           `json:"summary"`
		Findings []models.Finding `json:"findings"`
	}
	if err := parser.ExtractJSON(raw, &out); err != nil {
		findings := []models.Finding{{
			Severity:    models.SeverityMajor,
			Description: "reviewer output could not be read as a decision",
			Source:      Reviewer().String(),
			Kind:        models.ErrorKindParseAnomaly,
		}}
		return ReviewDecision{Decision: Decide(findings), Findings: findings}
	}

	findings := normalizeFindings(out.Findings, Reviewer())
	vote := Decision(strings.ToLower(strings.TrimSpace(out.Decision)))
	if vote == DecisionIterate && !models.HasBlocking(findings) {
		desc := "reviewer requested another iteration"
		if s := strings.TrimSpace(out.Summary); s != "" {
			desc += ": " + s
		}
		findings = append(findings, models.Finding{
			Severity:    models.SeverityMajor,
			Description: desc,
			Source:      Reviewer().String(),
		})
	}

	return ReviewDecision{
		Decision: Decide(findings),
		Summary:  strings.TrimSpace(out.Summary),
		Findings: findings,
	}
}

func normalizeFindings(in []models.Finding, source Role) []models.Finding {
	out := make([]models.Finding, 0, len(in))
	for _, f := range in {
		f.Description = strings.TrimSpace(f.Description)
		if f.Description == "" {
			continue
		}
		f.Severity = normalizeSeverity(f.Severity)
		f.AffectedPath = strings.TrimSpace(f.AffectedPath)
		if f.Source == "" {
			f.Source = source.String()
		}
		out = append(out, f)
	}
	return out
}

// normalizeSeverity maps free-form severities onto the three levels.
// Anything unrecognized counts as major.
func normalizeSeverity(s models.Severity) models.Severity {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "critical", "blocker", "fatal":
		return models.SeverityCritical
	case "minor", "low", "info", "warning", "nit", "trivial":
		return models.SeverityMinor
	default:
		return models.SeverityMajor
	}
}
