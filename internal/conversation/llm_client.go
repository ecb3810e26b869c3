package conversation

import (
	"context"
	"errors"
	"fmt"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is an internal message representation that can include system prompts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient executes a text-generation request against an assistant backend.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// SafetyBlockedError indicates the provider refused the request or response
// on content-safety grounds. Callers use it for diagnostic logging only; the
// user-facing behavior is the same as any other assistant failure.
type SafetyBlockedError struct {
	Reason string
}

func (e *SafetyBlockedError) Error() string {
	return fmt.Sprintf("conversation: assistant blocked by safety policy: %s", e.Reason)
}

// IsSafetyBlocked reports whether err is (or wraps) a SafetyBlockedError.
func IsSafetyBlocked(err error) bool {
	var blocked *SafetyBlockedError
	return errors.As(err, &blocked)
}
