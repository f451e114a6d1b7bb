// Package chat is the conversational loop of the widget. Each visitor gets
// a Controller holding an in-memory transcript and a per-turn state machine.
// A submitted turn is checked against the entitlement rules first; allowed
// turns spend one quota unit and produce a canned reply after a simulated
// model latency, denied turns produce a fixed upsell message and spend
// nothing.
package chat

import (
	"time"

	"github.com/isadetaseek/andrea/internal/plugins/quota"
)

// Sender identifies who produced a transcript entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Label returns the sender name used in transcript exports.
func (s Sender) Label() string {
	switch s {
	case SenderUser:
		return "User"
	case SenderAssistant:
		return "Andrea"
	default:
		return string(s)
	}
}

// Entry is one transcript line. The transcript is append-only and lives in
// memory for the lifetime of the visitor's controller.
type Entry struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Phase is the per-turn state. A turn moves Idle -> Pending -> Completed on
// the allow path; a denied turn goes straight to Denied.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePending   Phase = "pending"
	PhaseCompleted Phase = "completed"
	PhaseDenied    Phase = "denied"
)

// upsellMessage is the fixed reply for a denied turn. The content mirrors
// the widget's registration pitch and is never varied.
const upsellMessage = "🔒 Límite alcanzado\n\n" +
	"Has usado tus conversaciones gratuitas. " +
	"Regístrate para obtener acceso ilimitado:\n\n" +
	"• Conversaciones ilimitadas\n" +
	"• Exportación avanzada\n" +
	"• Modelos IA premium\n" +
	"• Historial ilimitado\n\n" +
	"Haz clic en \"Iniciar sesión\" en la barra lateral para continuar."

// TurnResult is what SubmitTurn reports back to the handler. For a pending
// turn the assistant reply is not included; it is delivered through the
// notification gateway once the simulated latency elapses.
type TurnResult struct {
	Phase   Phase       `json:"phase"`
	Entries []Entry     `json:"entries"`
	Quota   quota.State `json:"quota"`
}

// TurnRequest is the body of a turn submission.
type TurnRequest struct {
	Message string `json:"message" form:"message"`
}
