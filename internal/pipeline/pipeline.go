package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/convo"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/metrics"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/session"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/speech"
)

const (
	stageTranscribe = "transcribe"
	stageExchange   = "exchange"
	stageSynthesize = "synthesize"

	janitorInterval = 30 * time.Second
)

// Callbacks receive pipeline output for delivery back to the caller's
// transport. Nil callbacks are skipped.
type Callbacks struct {
	// OnTranscript fires for every turn appended to a session's history.
	OnTranscript func(streamID string, role session.Role, text string)
	// OnAudioOut fires with synthesized assistant audio ready for playback.
	OnAudioOut func(streamID string, frame []byte)
	// OnError fires when a frame's processing chain fails.
	OnError func(streamID string, err error)
}

// Config contains pipeline behavior settings.
type Config struct {
	FallbackMessage string
	SessionTimeout  time.Duration
}

// Pipeline runs the per-call processing chain: transcribe the caller's audio,
// exchange the text with the conversation engine, and synthesize the reply.
// Each session's frames run on that session's single worker, so stages for
// one call never interleave; separate calls proceed in parallel.
type Pipeline struct {
	store       *session.Store
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	exchanger   convo.Exchanger
	config      Config
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu        sync.RWMutex
	callbacks Callbacks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline creates the processing pipeline over the given collaborators.
func NewPipeline(store *session.Store, transcriber speech.Transcriber, synthesizer speech.Synthesizer, exchanger convo.Exchanger, config Config, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		store:       store,
		transcriber: transcriber,
		synthesizer: synthesizer,
		exchanger:   exchanger,
		config:      config,
		logger:      logger,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetCallbacks installs the output callbacks. Call before frames arrive.
func (p *Pipeline) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	p.callbacks = cb
	p.mu.Unlock()
}

func (p *Pipeline) getCallbacks() Callbacks {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.callbacks
}

// Start launches the idle session janitor.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.janitor()
}

// CreateSession registers a session for the stream, or refreshes the existing
// one. Repeated start events for the same stream are harmless.
func (p *Pipeline) CreateSession(streamID string, hints session.Hints) error {
	_, existed := p.store.Get(streamID)
	if _, err := p.store.GetOrCreate(streamID, hints); err != nil {
		return err
	}

	if !existed {
		p.metrics.RecordSessionCreated()
		p.metrics.SetActiveSessions(p.store.Count())
	}
	return nil
}

// HandleFrame submits one caller audio frame to the stream's ordered queue.
// Frames for unknown streams are rejected; a full queue drops the frame.
func (p *Pipeline) HandleFrame(streamID string, frame []byte) error {
	s, ok := p.store.Get(streamID)
	if !ok {
		p.metrics.RecordFrameDropped("unknown_session")
		return session.ErrSessionNotFound
	}

	s.Touch()
	p.metrics.RecordFrameReceived()

	err := s.Enqueue(func() { p.processFrame(s, frame) })
	if err != nil {
		switch {
		case errors.Is(err, session.ErrQueueFull):
			p.metrics.RecordFrameDropped("queue_full")
			p.logger.Warn("Dropping frame, session queue full",
				slog.String("stream_id", streamID),
				slog.Int("frame_bytes", len(frame)),
			)
		case errors.Is(err, session.ErrSessionInactive):
			p.metrics.RecordFrameDropped("inactive_session")
		}
		return err
	}

	return nil
}

// processFrame runs the full chain for one frame on the session's worker.
func (p *Pipeline) processFrame(s *session.Session, frame []byte) {
	cb := p.getCallbacks()

	// Stage 1: speech to text.
	text, ok := p.transcribe(s, frame, cb)
	if !ok {
		return
	}

	s.AppendTurn(session.RoleCaller, text)
	if cb.OnTranscript != nil {
		cb.OnTranscript(s.StreamID, session.RoleCaller, text)
	}

	// Stage 2: conversation exchange, with the one-time fallback on failure.
	replyText, ok := p.exchange(s, text)
	if !ok {
		return
	}

	s.AppendTurn(session.RoleAssistant, replyText)
	if cb.OnTranscript != nil {
		cb.OnTranscript(s.StreamID, session.RoleAssistant, replyText)
	}

	// Stage 3: text to speech.
	audio, err := p.synthesize(s, replyText)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(s.StreamID, err)
		}
		return
	}

	if cb.OnAudioOut != nil {
		cb.OnAudioOut(s.StreamID, audio)
	}
	p.metrics.RecordFrameProcessed()
}

// transcribe runs the STT stage. A false return means the chain stops here:
// either the frame held no speech or the engine failed.
func (p *Pipeline) transcribe(s *session.Session, frame []byte, cb Callbacks) (string, bool) {
	start := time.Now()
	result, err := p.transcriber.Transcribe(p.ctx, frame, speech.Hint{
		StreamID: s.StreamID,
		Language: s.Language,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		p.metrics.RecordStageError(stageTranscribe, elapsed)
		p.logger.Error("Transcription failed",
			slog.String("stream_id", s.StreamID),
			slog.String("error", err.Error()),
		)
		if cb.OnError != nil {
			cb.OnError(s.StreamID, fmt.Errorf("transcription failed: %w", err))
		}
		return "", false
	}

	p.metrics.RecordStageSuccess(stageTranscribe, elapsed)

	if result == nil || result.Text == "" {
		// Silence or noise, nothing to say back.
		return "", false
	}

	return result.Text, true
}

// exchange runs the conversation stage. On failure it applies the session's
// one-time fallback: the first failing exchange yields the configured apology,
// later failures yield nothing.
func (p *Pipeline) exchange(s *session.Session, callerText string) (string, bool) {
	start := time.Now()
	reply, err := p.exchanger.Exchange(p.ctx, convo.Request{
		History:        s.History(),
		CallerText:     callerText,
		Language:       s.Language,
		CallerName:     s.CallerName,
		PhoneNumber:    s.PhoneNumber,
		ConversationID: s.ConversationID(),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		p.metrics.RecordStageError(stageExchange, elapsed)
		p.logger.Error("Conversation exchange failed",
			slog.String("stream_id", s.StreamID),
			slog.String("error", err.Error()),
		)

		if s.MarkFallbackSent() {
			p.metrics.RecordFallbackEmitted()
			p.logger.Info("Speaking fallback reply",
				slog.String("stream_id", s.StreamID),
			)
			return p.config.FallbackMessage, true
		}
		return "", false
	}

	p.metrics.RecordStageSuccess(stageExchange, elapsed)

	if reply.ConversationID != "" {
		s.SetConversationID(reply.ConversationID)
	}

	p.logger.Debug("Exchange completed",
		slog.String("stream_id", s.StreamID),
		slog.String("intent", string(reply.Summary.Intent)),
		slog.String("urgency", string(reply.Summary.Urgency)),
		slog.String("action", string(reply.Summary.Action)),
	)

	return reply.Text, true
}

// synthesize runs the TTS stage.
func (p *Pipeline) synthesize(s *session.Session, text string) ([]byte, error) {
	start := time.Now()
	audio, err := p.synthesizer.Synthesize(p.ctx, text, s.Language)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		p.metrics.RecordStageError(stageSynthesize, elapsed)
		p.logger.Error("Synthesis failed",
			slog.String("stream_id", s.StreamID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	p.metrics.RecordStageSuccess(stageSynthesize, elapsed)
	return audio, nil
}

// EndSession drains the session's queue and removes it. No-op for unknown
// streams, and safe to call more than once for the same stream. Removal from
// the store decides the winner when callers race, so session-end metrics are
// recorded exactly once.
func (p *Pipeline) EndSession(streamID string) {
	s, ok := p.store.Get(streamID)
	if !ok {
		return
	}

	s.Close()
	if !p.store.Remove(streamID) {
		return
	}

	p.metrics.RecordSessionEnded(time.Since(s.CreatedAt).Seconds())
	p.metrics.SetActiveSessions(p.store.Count())
}

// janitor periodically ends sessions idle past the configured timeout.
func (p *Pipeline) janitor() {
	defer p.wg.Done()

	if p.config.SessionTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			for _, streamID := range p.store.Stale(p.config.SessionTimeout) {
				p.logger.Info("Ending idle session",
					slog.String("stream_id", streamID),
					slog.Duration("timeout", p.config.SessionTimeout),
				)
				p.EndSession(streamID)
			}
		}
	}
}

// Shutdown ends all sessions, stops the janitor, and closes the collaborators.
func (p *Pipeline) Shutdown() error {
	p.cancel()

	for _, info := range p.store.List() {
		p.EndSession(info.StreamID)
	}

	p.wg.Wait()

	var errs []error
	if err := p.transcriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transcriber: %w", err))
	}
	if err := p.synthesizer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close synthesizer: %w", err))
	}
	if err := p.exchanger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close exchanger: %w", err))
	}

	return errors.Join(errs...)
}
