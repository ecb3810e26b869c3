package conversation

import (
	"fmt"
	"strings"

	"github.com/IanOtollo/whatsapp-ai-bot/internal/identity"
)

// State is the per-sender conversation state driving message routing.
type State string

const (
	// StateUnset is the logical initial state; it is never stored explicitly,
	// a missing record reads back as StateUnset.
	StateUnset  State = ""
	StateMenu   State = "menu"
	StateDirect State = "direct"
	StateAI     State = "ai"
)

// ActionKind identifies the side effect an Action describes.
type ActionKind string

const (
	ActionReply        ActionKind = "reply"
	ActionNotifyOwner  ActionKind = "notify_owner"
	ActionAskAssistant ActionKind = "ask_assistant"
)

// Action describes one outbound side effect. The state machine only produces
// actions; the Dispatcher executes them.
type Action struct {
	Kind ActionKind
	// To is the recipient address for notify_owner actions.
	To string
	// Text is the message body for reply and notify_owner actions.
	Text string
	// Prompt is the full prompt for ask_assistant actions.
	Prompt string
}

// RouterOptions is the read-only configuration the state machine consults.
type RouterOptions struct {
	Owners         []string
	PersonaPrompt  string
	ReplySignature string
}

// Decision is the state machine's output for one inbound message.
type Decision struct {
	Next    State
	Actions []Action
}

const resetCommand = "!reset"

// Canned reply texts.
const (
	menuText = "Hello! Thanks for reaching out. How can we help you today?\n\n" +
		"1. Talk to a person\n" +
		"2. Ask our AI assistant\n\n" +
		"Reply with 1 or 2."
	directAckText         = "Got it! A member of our team will reply to you here shortly."
	invalidChoiceText     = "Sorry, I didn't catch that. Please reply with 1 or 2."
	aiGreetingText        = "You're now chatting with our AI assistant. Ask me anything! Send !reset at any time to start over."
	resetAckText          = "Conversation state has been reset."
	assistantFallbackText = "Sorry, I'm having trouble answering right now. Please try again in a moment."
)

// IsResetCommand reports whether body is the in-band reset command,
// case-insensitively and ignoring surrounding whitespace.
func IsResetCommand(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), resetCommand)
}

// Transition is the conversation state machine. It is pure: given the current
// state and the inbound message it returns the next state and the outbound
// actions to perform, without doing any I/O itself.
//
// The reset command wins over every state. The transition table is total:
// every (state, input) pair maps to a defined next state.
func Transition(current State, body, sender string, opts RouterOptions) Decision {
	if IsResetCommand(body) {
		return Decision{
			Next:    StateUnset,
			Actions: []Action{{Kind: ActionReply, Text: resetAckText}},
		}
	}

	switch current {
	case StateMenu:
		return menuChoice(body, sender, opts)
	case StateDirect:
		// Left for human consumption; no automated reply.
		return Decision{Next: StateDirect}
	case StateAI:
		return Decision{
			Next: StateAI,
			Actions: []Action{{
				Kind:   ActionAskAssistant,
				Prompt: BuildPrompt(opts.PersonaPrompt, body),
			}},
		}
	default:
		// StateUnset, plus anything unrecognized from an older store format.
		return Decision{
			Next:    StateMenu,
			Actions: []Action{{Kind: ActionReply, Text: menuText}},
		}
	}
}

func menuChoice(body, sender string, opts RouterOptions) Decision {
	switch strings.TrimSpace(body) {
	case "1":
		actions := []Action{{Kind: ActionReply, Text: directAckText}}
		alert := fmt.Sprintf("%s chose to talk to a person on WhatsApp. Reply to them directly.", identity.LocalPart(sender))
		for _, owner := range dedupe(opts.Owners) {
			actions = append(actions, Action{Kind: ActionNotifyOwner, To: owner, Text: alert})
		}
		return Decision{Next: StateDirect, Actions: actions}
	case "2":
		return Decision{
			Next:    StateAI,
			Actions: []Action{{Kind: ActionReply, Text: aiGreetingText}},
		}
	default:
		return Decision{
			Next:    StateMenu,
			Actions: []Action{{Kind: ActionReply, Text: invalidChoiceText}},
		}
	}
}

// BuildPrompt assembles the full assistant prompt from the configured persona
// and the user's message.
func BuildPrompt(persona, body string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nUser message: \"")
	b.WriteString(body)
	b.WriteString("\"\n\nAssistant reply:")
	return b.String()
}

// ComposeAssistantReply trims the assistant's raw output and appends the
// configured signature, if any.
func ComposeAssistantReply(raw, signature string) string {
	text := strings.TrimSpace(raw)
	if signature != "" {
		text += "\n\n" + signature
	}
	return text
}

// AssistantFallbackText is the fixed user-visible reply for any assistant
// failure; the underlying cause is only logged.
func AssistantFallbackText() string {
	return assistantFallbackText
}

func dedupe(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
