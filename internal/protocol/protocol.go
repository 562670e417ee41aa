package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event names used on the media stream socket.
const (
	EventConnected  = "connected"
	EventStart      = "start"
	EventMedia      = "media"
	EventStop       = "stop"
	EventMark       = "mark"
	EventTranscript = "transcript"
)

// Message is the envelope for every event exchanged on a media stream
// connection. Exactly one payload pointer is set, matching Event.
type Message struct {
	Event      string             `json:"event"`
	StreamSID  string             `json:"streamSid,omitempty"`
	Start      *StartPayload      `json:"start,omitempty"`
	Media      *MediaPayload      `json:"media,omitempty"`
	Stop       *StopPayload       `json:"stop,omitempty"`
	Mark       *MarkPayload       `json:"mark,omitempty"`
	Transcript *TranscriptPayload `json:"transcript,omitempty"`
}

// StartPayload carries the stream metadata sent when a call leg begins.
type StartPayload struct {
	StreamSID    string            `json:"streamSid"`
	CallSID      string            `json:"callSid,omitempty"`
	AccountSID   string            `json:"accountSid,omitempty"`
	Tracks       []string          `json:"tracks,omitempty"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one base64-encoded audio frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload carries the stream teardown notice.
type StopPayload struct {
	CallSID string `json:"callSid,omitempty"`
}

// MarkPayload names a playback synchronization point.
type MarkPayload struct {
	Name string `json:"name"`
}

// TranscriptPayload carries one attributed utterance for monitoring clients.
type TranscriptPayload struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Parse decodes a raw socket frame into a Message and validates it.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse stream event: %w", err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return &msg, nil
}

// Validate checks that the required fields for the message's event are present.
func (m *Message) Validate() error {
	switch m.Event {
	case "":
		return fmt.Errorf("stream event missing event name")

	case EventConnected:
		return nil

	case EventStart:
		if m.Start == nil {
			return fmt.Errorf("start event missing start payload")
		}
		if m.Start.StreamSID == "" && m.StreamSID == "" {
			return fmt.Errorf("start event missing stream id")
		}

	case EventMedia:
		if m.Media == nil {
			return fmt.Errorf("media event missing media payload")
		}
		if m.StreamSID == "" {
			return fmt.Errorf("media event missing stream id")
		}
		if m.Media.Payload == "" {
			return fmt.Errorf("media event missing audio payload")
		}

	case EventStop:
		if m.StreamSID == "" {
			return fmt.Errorf("stop event missing stream id")
		}
	}

	// Unknown event names are not an error here; the transport layer decides
	// whether to ignore them.
	return nil
}

// StreamID returns the stream identifier for the message, preferring the
// envelope field and falling back to the start payload.
func (m *Message) StreamID() string {
	if m.StreamSID != "" {
		return m.StreamSID
	}
	if m.Start != nil {
		return m.Start.StreamSID
	}
	return ""
}

// DecodeAudio decodes the base64 audio payload of a media message.
func (m *Message) DecodeAudio() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("message has no media payload")
	}

	frame, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}

	return frame, nil
}

// NewMediaMessage builds an outbound playback event for the given stream.
func NewMediaMessage(streamID string, frame []byte) *Message {
	return &Message{
		Event:     EventMedia,
		StreamSID: streamID,
		Media: &MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(frame),
		},
	}
}

// NewTranscriptMessage builds an outbound transcript event for the given stream.
func NewTranscriptMessage(streamID, role, text string) *Message {
	return &Message{
		Event:     EventTranscript,
		StreamSID: streamID,
		Transcript: &TranscriptPayload{
			Role: role,
			Text: text,
		},
	}
}

// NewMarkMessage builds an outbound mark event for playback sequencing.
func NewMarkMessage(streamID, name string) *Message {
	return &Message{
		Event:     EventMark,
		StreamSID: streamID,
		Mark: &MarkPayload{
			Name: name,
		},
	}
}
