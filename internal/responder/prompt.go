package responder

import (
	"fmt"
	"strings"

	"assistant-hub/internal/domain"
)

type promptContext struct {
	pinnedPrompt string
	assistant    domain.Assistant
}

func buildPromptMessages(ctx promptContext, text string, history []domain.Message, maxHistory int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPersonaPrompt(ctx)},
	}

	if maxHistory > 0 && len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	for _, m := range history {
		if pm, ok := historyToPromptMessage(m); ok {
			messages = append(messages, pm)
		}
	}

	messages = append(messages, domain.ChatMessage{
		Role:    "user",
		Content: text,
	})
	return messages
}

func buildPersonaPrompt(ctx promptContext) string {
	a := ctx.assistant
	lines := []string{
		strings.TrimSpace(ctx.pinnedPrompt),
		"",
		fmt.Sprintf("Eres %s, %s.", a.Name, strings.ToLower(a.Role)),
	}
	if len(a.Specialties) > 0 {
		lines = append(lines, "Especialidades: "+strings.Join(a.Specialties, ", ")+".")
	}
	lines = append(lines,
		"",
		"Reglas:",
		"1) Responde siempre en el idioma del usuario.",
		"2) Entrega el resultado pedido, no un plan para hacerlo.",
		"3) Sé breve y concreto.",
	)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func historyToPromptMessage(m domain.Message) (domain.ChatMessage, bool) {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return domain.ChatMessage{}, false
	}
	switch m.Role {
	case domain.RoleUser, domain.RoleAssistant:
		return domain.ChatMessage{Role: string(m.Role), Content: content}, true
	default:
		return domain.ChatMessage{}, false
	}
}
