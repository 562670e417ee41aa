package speech

import (
	"context"
	"fmt"

	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/audio"
)

// LocalTranscriber is a deterministic offline engine. It gates frames on RMS
// energy so silent audio produces no transcript, and derives pseudo text from
// the frame size for everything else. Useful for development and tests when
// no speech backend is reachable.
type LocalTranscriber struct {
	minEnergy float64
}

// NewLocalTranscriber creates a local transcriber with the given silence gate.
func NewLocalTranscriber(minEnergy float64) *LocalTranscriber {
	return &LocalTranscriber{minEnergy: minEnergy}
}

// Transcribe derives a deterministic transcript from the frame.
func (t *LocalTranscriber) Transcribe(ctx context.Context, frame []byte, hint Hint) (*Result, error) {
	if len(frame) == 0 {
		return nil, nil
	}

	if audio.Energy(frame) < t.minEnergy {
		return nil, nil
	}

	return &Result{
		Text:  fmt.Sprintf("Caller said (%d bytes)", len(frame)),
		Final: true,
	}, nil
}

// Close releases nothing; the local engine holds no resources.
func (t *LocalTranscriber) Close() error {
	return nil
}

// LocalSynthesizer is a deterministic offline engine producing a marker frame
// from the reply text.
type LocalSynthesizer struct {
	voice string
}

// NewLocalSynthesizer creates a local synthesizer with the given voice name.
func NewLocalSynthesizer(voice string) *LocalSynthesizer {
	return &LocalSynthesizer{voice: voice}
}

// Synthesize produces a deterministic audio frame for the text.
func (s *LocalSynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot synthesize empty text")
	}

	return []byte(fmt.Sprintf("voice:%s:%s", s.voice, text)), nil
}

// Close releases nothing; the local engine holds no resources.
func (s *LocalSynthesizer) Close() error {
	return nil
}
