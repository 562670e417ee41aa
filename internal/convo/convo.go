package convo

import (
	"context"

	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/session"
)

// Intent classifies what the caller wants.
type Intent string

const (
	IntentInfoRequest      Intent = "info_request"
	IntentScheduleCallback Intent = "schedule_callback"
	IntentSpam             Intent = "spam"
	IntentEmergency        Intent = "emergency"
	IntentOther            Intent = "other"
)

// Urgency grades how quickly a human should follow up.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Action is the follow-up the system should take for a conversation turn.
type Action string

const (
	ActionNone             Action = "none"
	ActionCreateTask       Action = "create_task"
	ActionSendNotification Action = "send_notification"
	ActionMarkSpam         Action = "mark_spam"
)

// ActionSummary is the structured outcome of one conversation exchange.
type ActionSummary struct {
	Intent  Intent  `json:"intent"`
	Urgency Urgency `json:"urgency"`
	Notes   string  `json:"notes,omitempty"`
	Action  Action  `json:"action"`
}

// Request carries everything an exchanger needs to produce the next reply.
type Request struct {
	History        []session.Turn
	CallerText     string
	Language       string
	CallerName     string
	PhoneNumber    string
	Context        string
	ConversationID string
}

// Reply is the assistant's next utterance plus its structured summary.
// ConversationID is set by remote engines once a backend conversation exists.
type Reply struct {
	Text           string
	Summary        ActionSummary
	ConversationID string
}

// Exchanger produces the next assistant reply for a caller utterance.
// Implementations should prefer a degraded best-effort reply over an error;
// an error signals that no reply could be produced at all.
type Exchanger interface {
	Exchange(ctx context.Context, req Request) (*Reply, error)
	Close() error
}

// NormalizeIntent maps any upstream value onto the known intent set.
func NormalizeIntent(v string) Intent {
	switch Intent(v) {
	case IntentInfoRequest, IntentScheduleCallback, IntentSpam, IntentEmergency, IntentOther:
		return Intent(v)
	default:
		return IntentOther
	}
}

// NormalizeUrgency maps any upstream value onto the known urgency set.
func NormalizeUrgency(v string) Urgency {
	switch Urgency(v) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return Urgency(v)
	default:
		return UrgencyMedium
	}
}

// NormalizeAction maps any upstream value onto the known action set, deriving
// a sensible default from the intent when the action itself is unusable.
func NormalizeAction(v string, intent Intent) Action {
	switch Action(v) {
	case ActionNone, ActionCreateTask, ActionSendNotification, ActionMarkSpam:
		return Action(v)
	}

	switch intent {
	case IntentSpam:
		return ActionMarkSpam
	case IntentEmergency:
		return ActionSendNotification
	default:
		return ActionNone
	}
}

// NormalizeSummary sanitizes a summary that may contain out-of-enum values
// from an upstream source.
func NormalizeSummary(intent, urgency, action, notes string) ActionSummary {
	i := NormalizeIntent(intent)
	return ActionSummary{
		Intent:  i,
		Urgency: NormalizeUrgency(urgency),
		Notes:   notes,
		Action:  NormalizeAction(action, i),
	}
}

// NormalizeLanguage maps a language hint onto the supported set.
func NormalizeLanguage(v string) string {
	switch v {
	case "auto", "ar", "en", "ru":
		return v
	default:
		return "auto"
	}
}
