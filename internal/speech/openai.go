package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/audio"
)

// OpenAITranscriber transcribes PCM-16 frames through the OpenAI audio API.
type OpenAITranscriber struct {
	client     openai.Client
	model      string
	sampleRate int
}

// NewOpenAITranscriber creates a transcriber backed by the OpenAI audio API.
func NewOpenAITranscriber(apiKey, model string, sampleRate int) *OpenAITranscriber {
	return &OpenAITranscriber{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		sampleRate: sampleRate,
	}
}

// Transcribe wraps the frame in a WAV container and sends it for recognition.
// An empty recognition result is reported as no usable speech, not an error.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, frame []byte, hint Hint) (*Result, error) {
	if len(frame) == 0 {
		return nil, nil
	}

	wav, err := audio.WAVFromPCM16(frame, t.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to frame audio for transcription: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(t.model),
		File:  openai.File(bytes.NewReader(wav), "frame.wav", "audio/wav"),
	}
	if hint.Language != "" && hint.Language != "auto" {
		params.Language = openai.String(hint.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, nil
	}

	return &Result{Text: text, Final: true}, nil
}

// Close releases nothing; the underlying HTTP client needs no teardown.
func (t *OpenAITranscriber) Close() error {
	return nil
}

// OpenAISynthesizer produces playback audio through the OpenAI speech API.
type OpenAISynthesizer struct {
	client openai.Client
	model  string
	voice  string
}

// NewOpenAISynthesizer creates a synthesizer backed by the OpenAI speech API.
func NewOpenAISynthesizer(apiKey, model, voice string) *OpenAISynthesizer {
	return &OpenAISynthesizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		voice:  voice,
	}
}

// Synthesize renders the text as WAV audio.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot synthesize empty text")
	}

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	return data, nil
}

// Close releases nothing; the underlying HTTP client needs no teardown.
func (s *OpenAISynthesizer) Close() error {
	return nil
}
