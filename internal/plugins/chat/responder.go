package chat

import (
	"fmt"
	"strings"
)

// Responder produces the assistant's reply for a user message. The widget
// ships a keyword lookup; a real model would satisfy the same signature.
type Responder func(message string) string

// cannedReplies is the keyword table, checked in order so the first match
// wins deterministically.
var cannedReplies = []struct {
	keyword string
	reply   string
}{
	{"quién te creó", "Fui creada por IsaDetaSeek como un sistema neural avanzado."},
	{"hola", "¡Hola! Soy AndreaAI, tu asistente neural. ¿En qué puedo ayudarte?"},
	{"ayuda", "Puedo ayudarte con: análisis de datos, mapas mentales, generación de contenido y más."},
	{"preset", "Puedes usar /preset [nombre] para cambiar mi personalidad."},
	{"clear", "Usa /clear para limpiar el chat."},
	{"export", "Usa /export [formato] para exportar la conversación."},
}

// KeywordResponder replies from the canned table when the message contains
// a known keyword, and falls back to an echo reply otherwise.
func KeywordResponder(message string) string {
	lower := strings.ToLower(message)
	for _, entry := range cannedReplies {
		if strings.Contains(lower, entry.keyword) {
			return entry.reply
		}
	}

	return fmt.Sprintf(
		"He procesado tu mensaje: %q. Como sistema neural, puedo ayudarte con análisis, "+
			"mapas mentales, generación de contenido y más. ¿Te gustaría que profundice en algún tema específico?",
		message,
	)
}
