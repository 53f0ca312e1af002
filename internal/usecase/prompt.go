package usecase

import (
	"fmt"
	"strings"

	"prospector-agent/internal/domain"
	"prospector-agent/internal/scoring"
)

// openingSubject is the subject line of the seller's first outreach email.
const openingSubject = "Quick question about your current setup"

func buildSellerOpeningMessages(persona string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: sellerSystemPrompt(persona)},
		{Role: "user", Content: strings.Join([]string{
			"Write the opening cold-outreach email to a prospective buyer.",
			"Introduce yourself and the product briefly, and end with one open question about their current setup.",
			"Keep it under 120 words. Plain text only, no subject line.",
		}, "\n")},
	}
}

// buildSellerReplyMessages branches on the qualification outcome: decline,
// ask for the missing details, or propose a meeting.
func buildSellerReplyMessages(persona string, evt domain.InboundEmailEvent, cleanedBody string, res scoring.Result) []domain.ChatMessage {
	var directive string
	switch res.Recommendation {
	case scoring.RecommendDecline:
		directive = "Based on what you have learned, this buyer is not a fit. Politely and briefly decline to continue, thanking them for their time. Do not propose a meeting."
	case scoring.RecommendClarify:
		missing := strings.Join(res.MissingInfo, ", ")
		if missing == "" {
			missing = "their requirements"
		}
		directive = fmt.Sprintf("You need more information before proposing next steps. Ask specifically about: %s. One question per item, keep it short.", missing)
	default:
		directive = "This buyer is a strong fit. Propose a 30-minute intro call and offer two concrete weekday time slots."
	}

	return []domain.ChatMessage{
		{Role: "system", Content: sellerSystemPrompt(persona)},
		{Role: "user", Content: fmt.Sprintf(
			"You received this email from %s with subject %q:\n\n%s\n\n%s\n\nWrite your reply. Under 120 words, plain text only.",
			evt.From, evt.Subject, cleanedBody, directive,
		)},
	}
}

func buildBuyerReplyMessages(persona string, evt domain.InboundEmailEvent, cleanedBody string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buyerSystemPrompt(persona)},
		{Role: "user", Content: fmt.Sprintf(
			"You received this email from %s with subject %q:\n\n%s\n\nWrite your reply in character. Answer what was asked and share relevant details about your company naturally. Under 120 words, plain text only.",
			evt.From, evt.Subject, cleanedBody,
		)},
	}
}

func sellerSystemPrompt(persona string) string {
	return strings.Join([]string{
		"You are playing the seller side of a two-agent email demo.",
		"Persona:",
		normalizePromptInput(persona),
		"",
		"Stay in character, write like a real salesperson, and never mention that you are an AI or part of a demo.",
	}, "\n")
}

func buyerSystemPrompt(persona string) string {
	return strings.Join([]string{
		"You are playing the buyer side of a two-agent email demo.",
		"Persona:",
		normalizePromptInput(persona),
		"",
		"Stay in character, write like a busy professional, and never mention that you are an AI or part of a demo.",
	}, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
