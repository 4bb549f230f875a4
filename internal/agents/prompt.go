package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// RoleInput is the read-only view an agent works from. History and Files are
// already compressed; Architecture is the slice relevant to the role.
type RoleInput struct {
	Request      string
	Plan         []string
	Architecture *models.ArchitectureSpec
	Findings     []models.Finding
	History      []models.ConversationMessage
	Files        []models.FileArtifact
	Iteration    int
	// Feedback is extra text for a retried call, e.g. why the last answer
	// was rejected.
	Feedback string
}

func buildRequest(r Role, in RoleInput, model string, maxTokens int, temperature float64) llm.Request {
	var b strings.Builder

	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", title, strings.TrimSpace(body))
	}

	section("Request", in.Request)
	if len(in.Plan) > 0 {
		var plan strings.Builder
		for i, step := range in.Plan {
			fmt.Fprintf(&plan, "%d. %s\n", i+1, step)
		}
		section("Plan", plan.String())
	}
	if in.Architecture != nil {
		raw, err := json.MarshalIndent(in.Architecture, "", "  ")
		if err == nil {
			section("Architecture", "```json\n"+string(raw)+"\n```")
		}
	}
	if len(in.Findings) > 0 {
		title := "Findings"
		if r.Kind == KindDomain {
			title = fmt.Sprintf("Findings to fix (iteration %d)", in.Iteration)
		}
		section(title, formatFindings(in.Findings))
	}
	if len(in.Files) > 0 {
		section("Current files", formatFiles(in.Files))
	}
	section("Note", in.Feedback)

	messages := models.CloneMessages(in.History)
	messages = append(messages, models.ConversationMessage{
		Role:    models.RoleUser,
		Content: b.String(),
	})

	return llm.Request{
		Model:       model,
		System:      systemPrompt(r),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Tag:         r.String(),
	}
}

func formatFindings(findings []models.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s", f.Severity, f.Description)
		if f.AffectedPath != "" {
			fmt.Fprintf(&b, " (%s)", f.AffectedPath)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// formatFiles renders files in the same File:/fence convention agents are
// asked to answer in.
func formatFiles(files []models.FileArtifact) string {
	var b strings.Builder
	for _, f := range files {
		fence := "```"
		for strings.Contains(f.Content, fence) {
			fence += "`"
		}
		fmt.Fprintf(&b, "File: %s\n%s%s\n%s\n%s\n\n", f.Path, fence, f.Language, f.Content, fence)
	}
	return b.String()
}
