package models

import (
	"time"
)

// MessageRole identifies who authored a conversation turn
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one turn of a project conversation. Messages are
// append-only; derived copies are produced by compression, never in place.
type ConversationMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// FileArtifact is a single generated file. Path is unique within one
// generation result.
type FileArtifact struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// CloneMessages returns a copy of the slice so callers can hand out snapshots.
func CloneMessages(in []ConversationMessage) []ConversationMessage {
	if in == nil {
		return nil
	}
	out := make([]ConversationMessage, len(in))
	copy(out, in)
	return out
}

// CloneFiles returns a copy of the slice.
func CloneFiles(in []FileArtifact) []FileArtifact {
	if in == nil {
		return nil
	}
	out := make([]FileArtifact, len(in))
	copy(out, in)
	return out
}

// FilesByPath indexes files by path. Later entries win.
func FilesByPath(files []FileArtifact) map[string]FileArtifact {
	index := make(map[string]FileArtifact, len(files))
	for _, f := range files {
		index[f.Path] = f
	}
	return index
}
