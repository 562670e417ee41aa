package speech

import "context"

// Result is recognized caller speech from one audio frame.
type Result struct {
	Text  string
	Final bool
}

// Hint carries per-session context for a transcription request.
type Hint struct {
	StreamID string
	Language string
}

// Transcriber converts a raw PCM-16 audio frame into recognized text.
// A nil Result with a nil error means the frame held no usable speech.
type Transcriber interface {
	Transcribe(ctx context.Context, frame []byte, hint Hint) (*Result, error)
	Close() error
}

// Synthesizer converts reply text into a PCM audio frame for playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
	Close() error
}
