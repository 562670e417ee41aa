// Development stub for the conversation backend API. Run it next to the
// gateway and point BACKEND_API_BASE_URL at it to exercise the remote
// conversation path without a real backend.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type startRequest struct {
	CallerName   string `json:"callerName"`
	PhoneNumber  string `json:"phoneNumber"`
	LanguageHint string `json:"languageHint"`
	Context      string `json:"context"`
}

type startResponse struct {
	ConversationID          string `json:"conversationId"`
	InitialAssistantMessage string `json:"initialAssistantMessage"`
}

type messageRequest struct {
	ConversationID string `json:"conversationId"`
	From           string `json:"from"`
	Text           string `json:"text"`
}

type action struct {
	Type    string        `json:"type"`
	Payload actionPayload `json:"payload"`
}

type actionPayload struct {
	Notes   string `json:"notes,omitempty"`
	Intent  string `json:"intent,omitempty"`
	Urgency string `json:"urgency,omitempty"`
}

type messageResponse struct {
	Reply          string   `json:"reply"`
	Actions        []action `json:"actions,omitempty"`
	UpdatedSummary string   `json:"updatedSummary,omitempty"`
}

func startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request body", http.StatusBadRequest)
		return
	}

	conversationID := uuid.NewString()

	log.Printf("📞 CONVERSATION STARTED:")
	log.Printf("    Conversation ID: %s", conversationID)
	log.Printf("    Caller: %s (%s)", req.CallerName, req.PhoneNumber)
	log.Printf("    Language: %s", req.LanguageHint)

	resp := startResponse{
		ConversationID:          conversationID,
		InitialAssistantMessage: "Hello, this is the AI receptionist. How may I help you today?",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" {
		http.Error(w, "conversationId is required", http.StatusBadRequest)
		return
	}

	log.Printf("💬 MESSAGE RECEIVED:")
	log.Printf("    Conversation ID: %s", req.ConversationID)
	log.Printf("    From: %s", req.From)
	log.Printf("    Text: %q", req.Text)

	// Simulate processing time
	time.Sleep(100 * time.Millisecond)

	resp := classify(req.Text)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	log.Printf("✅ REPLY SENT: %q", resp.Reply)
}

// classify mirrors the gateway's heuristic rules so stub conversations look
// plausible end to end.
func classify(text string) messageResponse {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "spam", "offer", "sales"):
		return messageResponse{
			Reply: "Thank you, we are not interested. Goodbye.",
			Actions: []action{{
				Type:    "mark_spam",
				Payload: actionPayload{Notes: "Flagged as spam", Intent: "spam", Urgency: "low"},
			}},
			UpdatedSummary: "Spam call",
		}
	case containsAny(lower, "urgent", "emergency", "hospital"):
		return messageResponse{
			Reply: "I understand this is urgent. I am notifying the team right away.",
			Actions: []action{{
				Type:    "send_notification",
				Payload: actionPayload{Notes: "Possible emergency", Intent: "emergency", Urgency: "high"},
			}},
			UpdatedSummary: "Emergency call",
		}
	case containsAny(lower, "schedule", "book", "call me back", "callback"):
		return messageResponse{
			Reply: "Of course, I will schedule a callback for you. What time works best?",
			Actions: []action{{
				Type:    "create_task",
				Payload: actionPayload{Notes: "Scheduling intent", Intent: "schedule_callback", Urgency: "medium"},
			}},
			UpdatedSummary: "Callback requested",
		}
	default:
		return messageResponse{
			Reply:          "Thanks for your question, let me check and get back to you.",
			UpdatedSummary: "General inquiry",
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

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	flag.Parse()

	http.HandleFunc("/conversation/start", startHandler)
	http.HandleFunc("/conversation/message", messageHandler)

	log.Printf("🚀 Backend stub starting on %s", *addr)
	log.Printf("💡 Point the gateway at it: BACKEND_API_BASE_URL=http://localhost%s", *addr)

	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
