package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/config"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/metrics"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/pipeline"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/protocol"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/session"
)

// StreamServer accepts media stream WebSocket connections and relays events
// between callers and the processing pipeline.
type StreamServer struct {
	config   *config.ServerConfig
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	// Stream id to connection bindings for outbound delivery.
	connMu sync.RWMutex
	conns  map[string]*streamConn

	wg sync.WaitGroup

	// Basic counters for the stats endpoint
	connectionsAccepted uint64
	framesReceived      uint64
	protocolErrors      uint64
	mu                  sync.RWMutex
}

// streamConn wraps one WebSocket connection. Gorilla connections allow only
// one concurrent writer, so every write goes through writeMu.
type streamConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	// Stream ids started on this connection, for cleanup on disconnect.
	mu      sync.Mutex
	streams map[string]struct{}
}

func (c *streamConn) send(msg *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *streamConn) bind(streamID string) {
	c.mu.Lock()
	c.streams[streamID] = struct{}{}
	c.mu.Unlock()
}

func (c *streamConn) unbind(streamID string) {
	c.mu.Lock()
	delete(c.streams, streamID)
	c.mu.Unlock()
}

func (c *streamConn) boundStreams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	return ids
}

// NewStreamServer creates the media stream server and installs itself as the
// pipeline's output transport.
func NewStreamServer(cfg *config.ServerConfig, logger *slog.Logger, p *pipeline.Pipeline, m *metrics.Metrics) *StreamServer {
	s := &StreamServer{
		config:   cfg,
		logger:   logger,
		pipeline: p,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*streamConn),
	}

	p.SetCallbacks(pipeline.Callbacks{
		OnTranscript: s.sendTranscript,
		OnAudioOut:   s.sendAudio,
		OnError:      s.onPipelineError,
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.StreamPath, s.handleStream)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	return s
}

// Start begins accepting media stream connections.
func (s *StreamServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info("Media stream server started",
		slog.String("address", addr),
		slog.String("path", s.config.StreamPath),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Media stream server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the listener's bound address. Valid after Start.
func (s *StreamServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server and ends all live sessions.
func (s *StreamServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping media stream server...")

	err := s.server.Shutdown(ctx)

	s.connMu.Lock()
	conns := make(map[*streamConn]struct{})
	for _, c := range s.conns {
		conns[c] = struct{}{}
	}
	s.conns = make(map[string]*streamConn)
	s.connMu.Unlock()

	for c := range conns {
		for _, streamID := range c.boundStreams() {
			s.pipeline.EndSession(streamID)
		}
		c.ws.Close()
	}

	s.wg.Wait()

	s.mu.RLock()
	connections := s.connectionsAccepted
	frames := s.framesReceived
	protocolErrors := s.protocolErrors
	s.mu.RUnlock()

	s.logger.Info("Media stream server stopped",
		slog.Uint64("connections_accepted", connections),
		slog.Uint64("frames_received", frames),
		slog.Uint64("protocol_errors", protocolErrors),
	)

	return err
}

// handleStream upgrades one HTTP request to a media stream WebSocket and runs
// its read loop until the peer disconnects.
func (s *StreamServer) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.connectionsAccepted++
	s.mu.Unlock()

	conn := &streamConn{
		ws:      ws,
		streams: make(map[string]struct{}),
	}

	s.logger.Info("Media stream connection opened",
		slog.String("remote_addr", r.RemoteAddr),
	)

	s.readLoop(conn, r.RemoteAddr)
}

// readLoop drains inbound events for one connection. On exit it ends every
// session the connection started.
func (s *StreamServer) readLoop(conn *streamConn, remoteAddr string) {
	defer func() {
		for _, streamID := range conn.boundStreams() {
			s.logger.Info("Ending session on disconnect",
				slog.String("stream_id", streamID),
				slog.String("remote_addr", remoteAddr),
			)
			s.pipeline.EndSession(streamID)
			s.unbindConn(streamID)
		}
		conn.ws.Close()

		s.logger.Info("Media stream connection closed",
			slog.String("remote_addr", remoteAddr),
		)
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Media stream read error",
					slog.String("remote_addr", remoteAddr),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			s.recordProtocolError()
			s.logger.Warn("Invalid stream event",
				slog.String("remote_addr", remoteAddr),
				slog.Int("size", len(data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.handleMessage(conn, msg, remoteAddr)
	}
}

// handleMessage dispatches one parsed stream event.
func (s *StreamServer) handleMessage(conn *streamConn, msg *protocol.Message, remoteAddr string) {
	switch msg.Event {
	case protocol.EventConnected:
		s.logger.Debug("Stream handshake received",
			slog.String("remote_addr", remoteAddr),
		)

	case protocol.EventStart:
		s.handleStart(conn, msg, remoteAddr)

	case protocol.EventMedia:
		s.handleMedia(msg, remoteAddr)

	case protocol.EventStop:
		s.handleStop(conn, msg)

	case protocol.EventMark:
		s.logger.Debug("Mark acknowledged",
			slog.String("stream_id", msg.StreamID()),
		)

	default:
		s.logger.Warn("Unknown stream event",
			slog.String("event", msg.Event),
			slog.String("remote_addr", remoteAddr),
		)
	}
}

// handleStart registers a session for the announced stream and binds the
// stream id to this connection for outbound delivery.
func (s *StreamServer) handleStart(conn *streamConn, msg *protocol.Message, remoteAddr string) {
	streamID := msg.StreamID()

	hints := session.Hints{}
	if msg.Start != nil {
		hints.CallID = msg.Start.CallSID
		if params := msg.Start.CustomParams; params != nil {
			hints.Language = params["language"]
			hints.CallerName = params["callerName"]
			hints.PhoneNumber = params["phoneNumber"]
		}
	}

	if err := s.pipeline.CreateSession(streamID, hints); err != nil {
		s.logger.Error("Failed to create session",
			slog.String("stream_id", streamID),
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	conn.bind(streamID)
	s.bindConn(streamID, conn)

	s.logger.Info("Stream started",
		slog.String("stream_id", streamID),
		slog.String("call_id", hints.CallID),
		slog.String("remote_addr", remoteAddr),
	)
}

// handleMedia decodes and forwards one caller audio frame.
func (s *StreamServer) handleMedia(msg *protocol.Message, remoteAddr string) {
	streamID := msg.StreamID()

	frame, err := msg.DecodeAudio()
	if err != nil {
		s.recordProtocolError()
		s.logger.Warn("Undecodable audio frame",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.framesReceived++
	s.mu.Unlock()

	if err := s.pipeline.HandleFrame(streamID, frame); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			s.logger.Warn("Frame for unknown stream",
				slog.String("stream_id", streamID),
				slog.String("remote_addr", remoteAddr),
				slog.Int("frame_bytes", len(frame)),
			)
		case errors.Is(err, session.ErrQueueFull), errors.Is(err, session.ErrSessionInactive):
			// Already counted and logged by the pipeline.
		default:
			s.logger.Error("Frame handling failed",
				slog.String("stream_id", streamID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleStop ends the stream's session and releases the binding.
func (s *StreamServer) handleStop(conn *streamConn, msg *protocol.Message) {
	streamID := msg.StreamID()

	s.pipeline.EndSession(streamID)
	conn.unbind(streamID)
	s.unbindConn(streamID)

	s.logger.Info("Stream stopped",
		slog.String("stream_id", streamID),
	)
}

func (s *StreamServer) bindConn(streamID string, conn *streamConn) {
	s.connMu.Lock()
	s.conns[streamID] = conn
	s.connMu.Unlock()
}

func (s *StreamServer) unbindConn(streamID string) {
	s.connMu.Lock()
	delete(s.conns, streamID)
	s.connMu.Unlock()
}

func (s *StreamServer) connFor(streamID string) (*streamConn, bool) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	c, ok := s.conns[streamID]
	return c, ok
}

// sendTranscript delivers one attributed utterance to the stream's peer.
func (s *StreamServer) sendTranscript(streamID string, role session.Role, text string) {
	conn, ok := s.connFor(streamID)
	if !ok {
		return
	}

	if err := conn.send(protocol.NewTranscriptMessage(streamID, string(role), text)); err != nil {
		s.logger.Warn("Failed to send transcript",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()),
		)
	}
}

// sendAudio delivers synthesized assistant audio, followed by a mark event so
// the peer can track playback completion.
func (s *StreamServer) sendAudio(streamID string, frame []byte) {
	conn, ok := s.connFor(streamID)
	if !ok {
		s.logger.Debug("Dropping audio for unbound stream",
			slog.String("stream_id", streamID),
			slog.Int("frame_bytes", len(frame)),
		)
		return
	}

	if err := conn.send(protocol.NewMediaMessage(streamID, frame)); err != nil {
		s.logger.Warn("Failed to send audio",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := conn.send(protocol.NewMarkMessage(streamID, uuid.NewString())); err != nil {
		s.logger.Warn("Failed to send mark",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *StreamServer) onPipelineError(streamID string, err error) {
	s.logger.Error("Pipeline error",
		slog.String("stream_id", streamID),
		slog.String("error", err.Error()),
	)
}

func (s *StreamServer) recordProtocolError() {
	s.mu.Lock()
	s.protocolErrors++
	s.mu.Unlock()
	s.metrics.RecordProtocolError()
}

// GetStatistics returns current transport statistics.
func (s *StreamServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.connMu.RLock()
	bound := len(s.conns)
	s.connMu.RUnlock()

	return ServerStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		FramesReceived:      s.framesReceived,
		ProtocolErrors:      s.protocolErrors,
		BoundStreams:        uint64(bound),
	}
}

// ServerStatistics represents transport performance counters.
type ServerStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	FramesReceived      uint64 `json:"frames_received"`
	ProtocolErrors      uint64 `json:"protocol_errors"`
	BoundStreams        uint64 `json:"bound_streams"`
}
