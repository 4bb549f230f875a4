package compression

import "github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"

const (
	messageOverheadTokens = 4
	fileOverheadTokens    = 8
)

// Estimator approximates token counts as characters divided by a constant,
// rounded up. It overestimates on purpose.
type Estimator struct {
	CharsPerToken int
}

// Text estimates the tokens in s.
func (e Estimator) Text(s string) int {
	cpt := e.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return (len(s) + cpt - 1) / cpt
}

// Message estimates one message including role framing.
func (e Estimator) Message(m models.ConversationMessage) int {
	return e.Text(m.Content) + messageOverheadTokens
}

// File estimates one file including its path header.
func (e Estimator) File(f models.FileArtifact) int {
	return e.Text(f.Path) + e.Text(f.Content) + fileOverheadTokens
}

// Payload estimates a full history plus file set.
func (e Estimator) Payload(history []models.ConversationMessage, files []models.FileArtifact) int {
	total := 0
	for _, m := range history {
		total += e.Message(m)
	}
	for _, f := range files {
		total += e.File(f)
	}
	return total
}
