package engine

import (
	"strconv"
	"strings"
)

// defaultModelConfidence is assumed when a model names an intent without
// reporting its own confidence.
const defaultModelConfidence = 0.85

// classifySystemPrompt instructs a model tier to act as a single-label
// intent classifier over the rule table's intent vocabulary.
func classifySystemPrompt(intents []string) string {
	var b strings.Builder
	b.WriteString("You are an intent classifier for a customer support system. ")
	b.WriteString("Classify the user's message as exactly one of these intents:\n")
	for _, intent := range intents {
		b.WriteString("- ")
		b.WriteString(intent)
		b.WriteByte('\n')
	}
	b.WriteString("- ")
	b.WriteString(IntentUnknown)
	b.WriteString("\nRespond with a single line: the intent name, optionally followed by a confidence between 0 and 1. No other text.")
	return b.String()
}

// parseClassification extracts (intent, confidence) from a model reply.
// Tolerant of formatting noise: the first known intent found wins, and a
// trailing float is read as the model's confidence. A reply naming no
// known intent parses as unknown with low confidence.
func parseClassification(text string, intents []string) (string, float64) {
	reply := strings.ToLower(strings.TrimSpace(text))
	if reply == "" {
		return IntentUnknown, 0.3
	}

	// Only the first line matters; some models add commentary anyway.
	if idx := strings.IndexByte(reply, '\n'); idx >= 0 {
		reply = reply[:idx]
	}

	matched := ""
	for _, intent := range intents {
		if strings.Contains(reply, strings.ToLower(intent)) {
			matched = intent
			break
		}
	}
	if matched == "" {
		if strings.Contains(reply, IntentUnknown) {
			return IntentUnknown, 0.5
		}
		return IntentUnknown, 0.3
	}

	confidence := defaultModelConfidence
	fields := strings.Fields(strings.Map(func(r rune) rune {
		switch r {
		case ':', ',', '(', ')':
			return ' '
		}
		return r
	}, reply))
	for _, f := range fields {
		if v, err := strconv.ParseFloat(f, 64); err == nil && v >= 0 && v <= 1 {
			confidence = v
		}
	}

	return matched, confidence
}
