package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/isadetaseek/andrea/internal/apperror"
	"github.com/isadetaseek/andrea/internal/plugins/identity"
	"github.com/isadetaseek/andrea/internal/plugins/quota"
	"github.com/isadetaseek/andrea/internal/sanitize"
)

// Events is the slice of the notification gateway the controller needs:
// targeted publish of chat events to one visitor's connections.
type Events interface {
	Publish(visitorID, event string, payload any)
}

// Event names published by the controller.
const (
	EventTurnSubmitted = "turn.submitted"
	EventTurnDenied    = "turn.denied"
	EventTurnCompleted = "turn.completed"
	EventTyping        = "typing"
	EventQuotaChanged  = "quota.changed"
)

// Controller runs the conversational loop for one visitor. The entitlement
// check, the counter increment, and the simulated reply latency all happen
// here; handlers stay thin.
//
// The evaluator and counter are required collaborators from construction.
// Nothing is spliced in after the fact.
type Controller struct {
	mu         sync.Mutex
	visitorID  string
	machine    *identity.Machine
	counter    *quota.Counter
	respond    Responder
	latency    time.Duration
	events     Events
	transcript []Entry
	phase      Phase
	timer      *time.Timer
	lastActive time.Time
	closed     bool
}

// NewController creates a controller for one visitor.
func NewController(visitorID string, machine *identity.Machine, counter *quota.Counter, respond Responder, latency time.Duration, events Events) *Controller {
	return &Controller{
		visitorID:  visitorID,
		machine:    machine,
		counter:    counter,
		respond:    respond,
		latency:    latency,
		events:     events,
		phase:      PhaseIdle,
		lastActive: time.Now(),
	}
}

// SubmitTurn runs one turn of the loop. Empty input is rejected with no
// state change. A denied turn appends the upsell message and spends nothing.
// An allowed turn appends the user message, spends one quota unit before the
// reply is produced, and schedules the reply after the simulated latency;
// the reply itself is delivered through the gateway.
func (ctl *Controller) SubmitTurn(ctx context.Context, text string) (*TurnResult, error) {
	message := sanitize.Text(text)
	if message == "" {
		return nil, apperror.NewValidation("message is required")
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.closed {
		return nil, apperror.NewConflict("chat session is closed")
	}
	if ctl.phase == PhasePending {
		return nil, apperror.NewConflict("a turn is already in progress")
	}

	ctl.lastActive = time.Now()

	ident := ctl.machine.Current()

	state, err := ctl.counter.Load(ctx, ctl.visitorID, ident)
	if err != nil {
		// Authenticated identities are entitled regardless of count, so a
		// failed read must not block the turn.
		if !ident.IsAuthenticated() {
			return nil, fmt.Errorf("loading quota: %w", err)
		}
		slog.Warn("quota load failed for authenticated turn",
			slog.String("visitor_id", ctl.visitorID),
			slog.Any("error", err),
		)
		state = quota.State{Limit: ctl.counter.Limit(), Scope: quota.ScopeAccount}
	}

	if !quota.CanChat(ident, state) {
		entry := ctl.append(SenderAssistant, upsellMessage)
		ctl.phase = PhaseDenied
		ctl.publish(EventTurnDenied, entry)
		return &TurnResult{Phase: PhaseDenied, Entries: []Entry{entry}, Quota: state}, nil
	}

	userEntry := ctl.append(SenderUser, message)
	ctl.phase = PhasePending
	ctl.publish(EventTurnSubmitted, userEntry)
	ctl.publish(EventTyping, map[string]bool{"typing": true})

	// Spend the turn before producing the reply. A crash between here and
	// the reply leaves the turn counted, never the other way around.
	newState, err := ctl.counter.Increment(ctx, ctl.visitorID, ident)
	if err != nil {
		slog.Warn("quota increment failed",
			slog.String("visitor_id", ctl.visitorID),
			slog.Any("error", err),
		)
		newState = state
		newState.Count++
	}
	ctl.publish(EventQuotaChanged, newState)

	ctl.timer = time.AfterFunc(ctl.latency, func() {
		ctl.completeTurn(message)
	})

	return &TurnResult{Phase: PhasePending, Entries: []Entry{userEntry}, Quota: newState}, nil
}

// completeTurn fires when the simulated latency elapses: it produces the
// assistant reply and closes out the turn.
func (ctl *Controller) completeTurn(message string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.closed {
		return
	}

	reply := ctl.respond(message)
	entry := ctl.append(SenderAssistant, reply)
	ctl.phase = PhaseCompleted
	ctl.timer = nil
	ctl.lastActive = time.Now()

	ctl.publish(EventTyping, map[string]bool{"typing": false})
	ctl.publish(EventTurnCompleted, entry)
}

// Transcript returns a copy of the transcript so far.
func (ctl *Controller) Transcript() []Entry {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	out := make([]Entry, len(ctl.transcript))
	copy(out, ctl.transcript)
	return out
}

// Clear resets the transcript to empty. A pending reply timer is cancelled;
// the spent turn stays spent.
func (ctl *Controller) Clear() {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.timer != nil {
		ctl.timer.Stop()
		ctl.timer = nil
	}
	ctl.transcript = nil
	ctl.phase = PhaseIdle
	ctl.lastActive = time.Now()
}

// LastActive reports when the visitor last interacted with the controller.
func (ctl *Controller) LastActive() time.Time {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.lastActive
}

// Export serializes the transcript to the flat text format: one record per
// entry, blank-line separated, "[localized-time] Sender: content".
func (ctl *Controller) Export() string {
	entries := ctl.Transcript()

	var b strings.Builder
	for i, entry := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s",
			entry.Timestamp.Local().Format("15:04:05"),
			entry.Sender.Label(),
			entry.Content,
		)
	}
	return b.String()
}

// Phase returns the current turn phase.
func (ctl *Controller) Phase() Phase {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.phase
}

// Close tears the controller down. A pending reply timer is stopped so
// navigation away does not leak work; further submissions are rejected.
func (ctl *Controller) Close() {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.timer != nil {
		ctl.timer.Stop()
		ctl.timer = nil
	}
	ctl.closed = true
}

// append adds an entry to the transcript and returns it. Caller holds the lock.
func (ctl *Controller) append(sender Sender, content string) Entry {
	entry := Entry{Sender: sender, Content: content, Timestamp: time.Now()}
	ctl.transcript = append(ctl.transcript, entry)
	return entry
}

// publish forwards an event to the gateway if one is wired.
func (ctl *Controller) publish(event string, payload any) {
	if ctl.events != nil {
		ctl.events.Publish(ctl.visitorID, event, payload)
	}
}

// --- Registry ---

// Registry hands out one controller per visitor, created lazily on first
// use. Controllers live until Remove is called.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller

	identities *identity.Registry
	counter    *quota.Counter
	respond    Responder
	latency    time.Duration
	events     Events
}

// NewRegistry creates a controller registry with shared collaborators.
func NewRegistry(identities *identity.Registry, counter *quota.Counter, respond Responder, latency time.Duration, events Events) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		identities:  identities,
		counter:     counter,
		respond:     respond,
		latency:     latency,
		events:      events,
	}
}

// Controller returns the visitor's controller, creating it on first use.
func (r *Registry) Controller(visitorID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctl, ok := r.controllers[visitorID]; ok {
		return ctl
	}

	ctl := NewController(visitorID, r.identities.Machine(visitorID), r.counter, r.respond, r.latency, r.events)
	r.controllers[visitorID] = ctl
	return ctl
}

// Remove closes and forgets the visitor's controller.
func (r *Registry) Remove(visitorID string) {
	r.mu.Lock()
	ctl, ok := r.controllers[visitorID]
	delete(r.controllers, visitorID)
	r.mu.Unlock()

	if ok {
		ctl.Close()
	}
}

// Sweep closes and forgets controllers idle for longer than maxIdle, along
// with their identity machines. Run periodically so per-visitor state does
// not accumulate forever. An evicted visitor's transcript is gone; a
// signed-in one gets their identity back from the durable session on the
// next request.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var evicted []*Controller
	var visitors []string
	for visitorID, ctl := range r.controllers {
		if ctl.LastActive().Before(cutoff) {
			evicted = append(evicted, ctl)
			visitors = append(visitors, visitorID)
			delete(r.controllers, visitorID)
		}
	}
	r.mu.Unlock()

	for i, ctl := range evicted {
		ctl.Close()
		r.identities.Remove(visitors[i])
	}
	return len(evicted)
}

// Close tears down every controller. Used during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, ctl := range r.controllers {
		controllers = append(controllers, ctl)
	}
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	for _, ctl := range controllers {
		ctl.Close()
	}
}
