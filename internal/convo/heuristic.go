package convo

import (
	"context"
	"fmt"
	"strings"
)

// Heuristic is a local rule-based exchanger. It classifies the caller's text
// by keyword, produces a polite acknowledgement, and never fails.
type Heuristic struct {
	assistantName string
}

// NewHeuristic creates a local heuristic exchanger.
func NewHeuristic(assistantName string) *Heuristic {
	if assistantName == "" {
		assistantName = "the AI receptionist"
	}
	return &Heuristic{assistantName: assistantName}
}

// Exchange produces the next reply from keyword rules over the caller text.
func (h *Heuristic) Exchange(ctx context.Context, req Request) (*Reply, error) {
	text := strings.TrimSpace(req.CallerText)

	var reply string
	if text == "" {
		reply = fmt.Sprintf("Hello, this is %s. How may I help you today?", h.assistantName)
	} else {
		name := req.CallerName
		if name == "" {
			name = "there"
		}
		reply = fmt.Sprintf("Thanks %s, I noted: %q. How urgent is this?", name, text)
	}

	return &Reply{
		Text:    reply,
		Summary: deriveSummary(text),
	}, nil
}

// Close releases nothing; the heuristic engine holds no resources.
func (h *Heuristic) Close() error {
	return nil
}

// deriveSummary classifies caller text by keyword. Rule order matters:
// spam markers beat everything, emergencies beat scheduling.
func deriveSummary(text string) ActionSummary {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "spam", "offer", "sales"):
		return ActionSummary{
			Intent:  IntentSpam,
			Urgency: UrgencyLow,
			Notes:   "Flagged as spam",
			Action:  ActionMarkSpam,
		}
	case containsAny(lower, "urgent", "emergency", "hospital"):
		return ActionSummary{
			Intent:  IntentEmergency,
			Urgency: UrgencyHigh,
			Notes:   "Possible emergency",
			Action:  ActionSendNotification,
		}
	case containsAny(lower, "schedule", "book", "call me back", "callback"):
		return ActionSummary{
			Intent:  IntentScheduleCallback,
			Urgency: UrgencyMedium,
			Notes:   "Scheduling intent",
			Action:  ActionCreateTask,
		}
	default:
		return ActionSummary{
			Intent:  IntentInfoRequest,
			Urgency: UrgencyMedium,
			Notes:   "General info",
			Action:  ActionNone,
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
