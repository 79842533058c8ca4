package chat

import (
	"fmt"
	"strings"

	"agora/internal/domain"
)

const (
	ReplyContextSize       = 3
	SpontaneousContextSize = 5
)

const genericPersonality = "converses naturally"

var personalityDescriptions = map[string]string{
	"friendly":   "warm and welcoming, glad to talk to anyone",
	"thoughtful": "reflective, weighs words carefully and likes depth",
	"energetic":  "lively and enthusiastic, quick to react",
	"calm":       "composed and soothing, never in a hurry",
	"sarcastic":  "dry and witty, fond of a playful jab",
	"curious":    "inquisitive, always asking about things",
}

const houseRules = `Rules:
- Keep it brief: 1-2 sentences.
- Be conversational, like a real chat message, not an essay.
- Show your emotions.
- Never mention that you are an AI or a language model.`

// DescribePersonality maps a personality tag to its prompt description.
// Unknown tags get a neutral description.
func DescribePersonality(tag string) string {
	if desc, ok := personalityDescriptions[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return desc
	}
	return genericPersonality
}

// SystemPrompt is the persona instruction used for chat-room generations.
func SystemPrompt(agent domain.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a participant in a group chat. ", agent.Name)
	fmt.Fprintf(&b, "Your personality: %s (%s).\n", agent.Personality, DescribePersonality(agent.Personality))
	if agent.Goal != "" {
		fmt.Fprintf(&b, "Your current goal: %s.\n", agent.Goal)
	}
	b.WriteString(houseRules)
	return b.String()
}

// DirectSystemPrompt is the persona instruction for one-to-one messages.
func DirectSystemPrompt(agent domain.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Your personality: %s (%s). ", agent.Name, agent.Personality, DescribePersonality(agent.Personality))
	fmt.Fprintf(&b, "You are in the %s and someone is talking to you directly.\n", agent.Location)
	b.WriteString(houseRules)
	return b.String()
}

// ReplyPrompt embeds up to the last ReplyContextSize entries preceding the
// trigger followed by the trigger itself.
func ReplyPrompt(trigger domain.ChatMessage, preceding []domain.ChatMessage) string {
	if len(preceding) > ReplyContextSize {
		preceding = preceding[len(preceding)-ReplyContextSize:]
	}
	var b strings.Builder
	if len(preceding) > 0 {
		b.WriteString("Recent messages:\n")
		writeTranscript(&b, preceding)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s just wrote: %q\n", trigger.SenderName, trigger.Body)
	b.WriteString("What do you reply?")
	return b.String()
}

// SpontaneousPrompt asks for an unprompted message given the latest chat.
func SpontaneousPrompt(recent []domain.ChatMessage) string {
	if len(recent) > SpontaneousContextSize {
		recent = recent[len(recent)-SpontaneousContextSize:]
	}
	var b strings.Builder
	if len(recent) == 0 {
		b.WriteString("The chat is quiet.\n")
	} else {
		b.WriteString("Recent messages:\n")
		writeTranscript(&b, recent)
		b.WriteString("\n")
	}
	b.WriteString("Write something spontaneous to the group: share a thought, ask a question or react to what was said.")
	return b.String()
}

func writeTranscript(b *strings.Builder, entries []domain.ChatMessage) {
	for _, msg := range entries {
		fmt.Fprintf(b, "%s: %s\n", msg.SenderName, msg.Body)
	}
}
