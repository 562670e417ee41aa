package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/convo"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/metrics"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/session"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/speech"
)

type fakeTranscriber struct {
	fn func(frame []byte) (*speech.Result, error)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, frame []byte, _ speech.Hint) (*speech.Result, error) {
	return f.fn(frame)
}

func (f *fakeTranscriber) Close() error { return nil }

type fakeSynthesizer struct {
	fn func(text string) ([]byte, error)
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	if f.fn != nil {
		return f.fn(text)
	}
	return []byte("audio:" + text), nil
}

func (f *fakeSynthesizer) Close() error { return nil }

type fakeExchanger struct {
	fn func(req convo.Request) (*convo.Reply, error)
}

func (f *fakeExchanger) Exchange(_ context.Context, req convo.Request) (*convo.Reply, error) {
	return f.fn(req)
}

func (f *fakeExchanger) Close() error { return nil }

// recorder collects pipeline output in arrival order.
type recorder struct {
	mu          sync.Mutex
	transcripts []string
	audio       [][]byte
	errors      []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnTranscript: func(_ string, role session.Role, text string) {
			r.mu.Lock()
			r.transcripts = append(r.transcripts, string(role)+":"+text)
			r.mu.Unlock()
		},
		OnAudioOut: func(_ string, frame []byte) {
			r.mu.Lock()
			r.audio = append(r.audio, frame)
			r.mu.Unlock()
		},
		OnError: func(_ string, err error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() (transcripts []string, audio [][]byte, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transcripts...), append([][]byte(nil), r.audio...), append([]error(nil), r.errors...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPipeline(t *testing.T, tr speech.Transcriber, sy speech.Synthesizer, ex convo.Exchanger) (*Pipeline, *recorder) {
	t.Helper()

	if tr == nil {
		tr = &fakeTranscriber{fn: func(frame []byte) (*speech.Result, error) {
			return &speech.Result{Text: fmt.Sprintf("heard %d bytes", len(frame)), Final: true}, nil
		}}
	}
	if sy == nil {
		sy = &fakeSynthesizer{}
	}
	if ex == nil {
		ex = &fakeExchanger{fn: func(req convo.Request) (*convo.Reply, error) {
			return &convo.Reply{Text: "reply to " + req.CallerText}, nil
		}}
	}

	logger := testLogger()
	store := session.NewStore(logger, 16, 64)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := NewPipeline(store, tr, sy, ex, Config{
		FallbackMessage: "Sorry, something went wrong.",
		SessionTimeout:  time.Minute,
	}, logger, m)

	rec := &recorder{}
	p.SetCallbacks(rec.callbacks())

	t.Cleanup(func() { p.Shutdown() })

	return p, rec
}

func TestPipelineProcessesFramesInOrder(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	// The first transcription is slow; later frames must still come out in
	// submission order.
	tr := &fakeTranscriber{fn: func(frame []byte) (*speech.Result, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			time.Sleep(50 * time.Millisecond)
		}
		return &speech.Result{Text: string(frame), Final: true}, nil
	}}

	p, rec := newTestPipeline(t, tr, nil, nil)

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := p.HandleFrame("MS1", []byte(fmt.Sprintf("frame-%02d", i))); err != nil {
			t.Fatalf("HandleFrame %d failed: %v", i, err)
		}
	}

	p.EndSession("MS1")

	transcripts, audio, errs := rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(transcripts) != 20 {
		t.Fatalf("Expected 20 transcripts (caller+assistant per frame), got %d", len(transcripts))
	}
	if len(audio) != 10 {
		t.Fatalf("Expected 10 audio frames, got %d", len(audio))
	}

	for i := 0; i < 10; i++ {
		wantCaller := fmt.Sprintf("caller:frame-%02d", i)
		wantAssistant := fmt.Sprintf("assistant:reply to frame-%02d", i)
		if transcripts[2*i] != wantCaller {
			t.Errorf("Transcript %d = %q, want %q", 2*i, transcripts[2*i], wantCaller)
		}
		if transcripts[2*i+1] != wantAssistant {
			t.Errorf("Transcript %d = %q, want %q", 2*i+1, transcripts[2*i+1], wantAssistant)
		}
	}
}

func TestPipelineFallbackSpokenExactlyOnce(t *testing.T) {
	ex := &fakeExchanger{fn: func(convo.Request) (*convo.Reply, error) {
		return nil, errors.New("backend down")
	}}

	p, rec := newTestPipeline(t, nil, nil, ex)

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := p.HandleFrame("MS1", []byte("audio")); err != nil {
			t.Fatalf("HandleFrame failed: %v", err)
		}
	}

	p.EndSession("MS1")

	transcripts, audio, _ := rec.snapshot()

	var fallbacks int
	for _, tr := range transcripts {
		if strings.HasPrefix(tr, "assistant:") {
			if !strings.Contains(tr, "Sorry, something went wrong.") {
				t.Errorf("Unexpected assistant transcript %q", tr)
			}
			fallbacks++
		}
	}
	if fallbacks != 1 {
		t.Errorf("Expected exactly 1 fallback reply, got %d", fallbacks)
	}
	if len(audio) != 1 {
		t.Errorf("Expected exactly 1 audio frame (the fallback), got %d", len(audio))
	}
}

func TestPipelineRecoversAfterFallback(t *testing.T) {
	var mu sync.Mutex
	fail := true

	ex := &fakeExchanger{fn: func(req convo.Request) (*convo.Reply, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("backend down")
		}
		return &convo.Reply{Text: "all good now"}, nil
	}}

	p, rec := newTestPipeline(t, nil, nil, ex)

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := p.HandleFrame("MS1", []byte("first")); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	// Wait for the first frame to drain, then let the backend recover.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	fail = false
	mu.Unlock()

	if err := p.HandleFrame("MS1", []byte("second")); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	p.EndSession("MS1")

	transcripts, _, _ := rec.snapshot()
	var assistant []string
	for _, tr := range transcripts {
		if strings.HasPrefix(tr, "assistant:") {
			assistant = append(assistant, tr)
		}
	}

	if len(assistant) != 2 {
		t.Fatalf("Expected 2 assistant replies, got %d: %v", len(assistant), assistant)
	}
	if !strings.Contains(assistant[0], "Sorry") {
		t.Errorf("First reply should be the fallback, got %q", assistant[0])
	}
	if assistant[1] != "assistant:all good now" {
		t.Errorf("Second reply should come from the recovered engine, got %q", assistant[1])
	}
}

func TestPipelineTranscribeErrorContained(t *testing.T) {
	tr := &fakeTranscriber{fn: func([]byte) (*speech.Result, error) {
		return nil, errors.New("stt exploded")
	}}

	p, rec := newTestPipeline(t, tr, nil, nil)

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := p.HandleFrame("MS1", []byte("audio")); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	p.EndSession("MS1")

	transcripts, audio, errs := rec.snapshot()
	if len(transcripts) != 0 {
		t.Errorf("Expected no transcripts after STT failure, got %v", transcripts)
	}
	if len(audio) != 0 {
		t.Errorf("Expected no audio after STT failure, got %d frames", len(audio))
	}
	if len(errs) != 1 {
		t.Errorf("Expected 1 error callback, got %d", len(errs))
	}
}

func TestPipelineSilenceProducesNothing(t *testing.T) {
	tr := &fakeTranscriber{fn: func([]byte) (*speech.Result, error) {
		return nil, nil
	}}

	p, rec := newTestPipeline(t, tr, nil, nil)

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := p.HandleFrame("MS1", []byte("silence")); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	p.EndSession("MS1")

	transcripts, audio, errs := rec.snapshot()
	if len(transcripts) != 0 || len(audio) != 0 || len(errs) != 0 {
		t.Errorf("Silence should produce nothing, got %d transcripts, %d audio, %d errors",
			len(transcripts), len(audio), len(errs))
	}
}

func TestPipelineUnknownStreamRejected(t *testing.T) {
	p, rec := newTestPipeline(t, nil, nil, nil)

	err := p.HandleFrame("never-started", []byte("audio"))
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}

	transcripts, audio, _ := rec.snapshot()
	if len(transcripts) != 0 || len(audio) != 0 {
		t.Error("Frame for unknown stream must not produce output")
	}
}

func TestPipelineEndSessionIdempotent(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, nil)

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	p.EndSession("MS1")
	p.EndSession("MS1")
	p.EndSession("missing")

	if err := p.HandleFrame("MS1", []byte("late")); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Frame after end should be rejected, got %v", err)
	}
}

func TestPipelineConcurrentEndSessionCountsOnce(t *testing.T) {
	logger := testLogger()
	store := session.NewStore(logger, 16, 64)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	ex := &fakeExchanger{fn: func(req convo.Request) (*convo.Reply, error) {
		return &convo.Reply{Text: "ok"}, nil
	}}
	p := NewPipeline(store, &fakeTranscriber{fn: func(frame []byte) (*speech.Result, error) {
		return &speech.Result{Text: "hi", Final: true}, nil
	}}, &fakeSynthesizer{}, ex, Config{
		FallbackMessage: "Sorry.",
		SessionTimeout:  time.Minute,
	}, logger, m)
	t.Cleanup(func() { p.Shutdown() })

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// A stop event racing the idle janitor must not double-count the end.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.EndSession("MS1")
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.SessionsEnded); got != 1 {
		t.Errorf("Expected sessions ended counter of 1, got %v", got)
	}
}

func TestPipelineStoresConversationID(t *testing.T) {
	var mu sync.Mutex
	var seenIDs []string

	ex := &fakeExchanger{fn: func(req convo.Request) (*convo.Reply, error) {
		mu.Lock()
		seenIDs = append(seenIDs, req.ConversationID)
		mu.Unlock()
		return &convo.Reply{Text: "ok", ConversationID: "conv-42"}, nil
	}}

	p, _ := newTestPipeline(t, nil, nil, ex)

	if err := p.CreateSession("MS1", session.Hints{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := p.HandleFrame("MS1", []byte("one")); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if err := p.HandleFrame("MS1", []byte("two")); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	p.EndSession("MS1")

	mu.Lock()
	defer mu.Unlock()
	if len(seenIDs) != 2 {
		t.Fatalf("Expected 2 exchanges, got %d", len(seenIDs))
	}
	if seenIDs[0] != "" {
		t.Errorf("First exchange should carry no conversation id, got %q", seenIDs[0])
	}
	if seenIDs[1] != "conv-42" {
		t.Errorf("Second exchange should reuse the backend id, got %q", seenIDs[1])
	}
}

func TestPipelineSessionsAreIsolated(t *testing.T) {
	ex := &fakeExchanger{fn: func(req convo.Request) (*convo.Reply, error) {
		if len(req.History) > 1 {
			return nil, fmt.Errorf("history leaked across sessions: %v", req.History)
		}
		return &convo.Reply{Text: "ok"}, nil
	}}

	p, rec := newTestPipeline(t, nil, nil, ex)

	for _, id := range []string{"MS1", "MS2", "MS3"} {
		if err := p.CreateSession(id, session.Hints{}); err != nil {
			t.Fatalf("CreateSession %s failed: %v", id, err)
		}
		if err := p.HandleFrame(id, []byte("hello from "+id)); err != nil {
			t.Fatalf("HandleFrame %s failed: %v", id, err)
		}
	}

	for _, id := range []string{"MS1", "MS2", "MS3"} {
		p.EndSession(id)
	}

	_, audio, errs := rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(audio) != 3 {
		t.Errorf("Expected 3 audio frames, got %d", len(audio))
	}
}
