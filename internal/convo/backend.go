package convo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BackendConfig contains remote conversation backend client configuration
type BackendConfig struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Backend is the remote conversation collaborator. It creates a backend
// conversation on the first exchange of a session and relays caller messages
// to it afterwards. All failures are transient from the pipeline's point of
// view and feed the fallback policy there.
type Backend struct {
	config     BackendConfig
	httpClient *http.Client
	logger     *slog.Logger
	semaphore  chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	mu              sync.RWMutex
}

// BackendStats represents backend client statistics
type BackendStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	ActiveRequests  int     `json:"active_requests"`
}

type startConversationRequest struct {
	CallerName   string `json:"callerName,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	LanguageHint string `json:"languageHint,omitempty"`
	Context      string `json:"context,omitempty"`
}

type startConversationResponse struct {
	ConversationID          string `json:"conversationId"`
	InitialAssistantMessage string `json:"initialAssistantMessage"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	From           string `json:"from"`
	Text           string `json:"text"`
}

type actionPayload struct {
	Type    string `json:"type"`
	Payload struct {
		Notes   string `json:"notes,omitempty"`
		Intent  string `json:"intent,omitempty"`
		Urgency string `json:"urgency,omitempty"`
	} `json:"payload"`
}

type sendMessageResponse struct {
	Reply          string          `json:"reply"`
	Actions        []actionPayload `json:"actions,omitempty"`
	UpdatedSummary string          `json:"updatedSummary,omitempty"`
}

// NewBackend creates a remote conversation backend client.
func NewBackend(config BackendConfig, logger *slog.Logger) (*Backend, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Backend{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    logger,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Exchange relays the caller's text to the backend conversation, starting a
// new backend conversation first when the session has none yet.
func (b *Backend) Exchange(ctx context.Context, req Request) (*Reply, error) {
	select {
	case b.semaphore <- struct{}{}:
		defer func() { <-b.semaphore }()
	case <-ctx.Done():
		return nil, fmt.Errorf("exchange cancelled while waiting for slot: %w", ctx.Err())
	}

	conversationID := req.ConversationID
	var greeting string
	if conversationID == "" {
		started, err := b.startConversation(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to start backend conversation: %w", err)
		}
		conversationID = started.ConversationID
		greeting = started.InitialAssistantMessage

		b.logger.Info("Backend conversation started",
			slog.String("conversation_id", conversationID),
			slog.String("language_hint", NormalizeLanguage(req.Language)),
		)
	}

	msg, err := b.sendMessage(ctx, conversationID, req.CallerText)
	if err != nil {
		return nil, fmt.Errorf("failed to send message to backend: %w", err)
	}

	// The backend's greeting arrives with the start response; speak it ahead
	// of the first reply so the caller hears it.
	text := msg.Reply
	if greeting != "" {
		if text == "" {
			text = greeting
		} else {
			text = greeting + " " + text
		}
	}

	summary := ActionSummary{
		Intent:  IntentOther,
		Urgency: UrgencyMedium,
		Notes:   msg.UpdatedSummary,
		Action:  ActionNone,
	}
	if len(msg.Actions) > 0 {
		first := msg.Actions[0]
		notes := first.Payload.Notes
		if notes == "" {
			notes = msg.UpdatedSummary
		}
		summary = NormalizeSummary(first.Payload.Intent, first.Payload.Urgency, first.Type, notes)
	}

	return &Reply{
		Text:           text,
		Summary:        summary,
		ConversationID: conversationID,
	}, nil
}

// Close releases nothing; the underlying HTTP client needs no teardown.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) startConversation(ctx context.Context, req Request) (*startConversationResponse, error) {
	body := startConversationRequest{
		CallerName:   req.CallerName,
		PhoneNumber:  req.PhoneNumber,
		LanguageHint: NormalizeLanguage(req.Language),
		Context:      req.Context,
	}

	var resp startConversationResponse
	if err := b.post(ctx, "/conversation/start", body, &resp); err != nil {
		return nil, err
	}

	if resp.ConversationID == "" {
		return nil, fmt.Errorf("backend returned empty conversation id")
	}

	return &resp, nil
}

func (b *Backend) sendMessage(ctx context.Context, conversationID, text string) (*sendMessageResponse, error) {
	body := sendMessageRequest{
		ConversationID: conversationID,
		From:           "caller",
		Text:           text,
	}

	var resp sendMessageResponse
	if err := b.post(ctx, "/conversation/message", body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// post sends one JSON request with retries and exponential backoff. Server
// errors and transport errors retry; client errors do not.
func (b *Backend) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	requestID := uuid.NewString()
	b.mu.Lock()
	b.totalRequests++
	b.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			b.mu.Lock()
			b.totalRetries++
			b.mu.Unlock()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
			b.logger.Warn("Retrying backend request",
				slog.String("path", path),
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return b.fail(ctx.Err())
			}
		}

		retryable, err := b.doRequest(ctx, path, requestID, payload, out)
		if err == nil {
			b.mu.Lock()
			b.successRequests++
			b.mu.Unlock()
			return nil
		}

		lastErr = err
		if !retryable {
			break
		}
	}

	return b.fail(lastErr)
}

func (b *Backend) fail(err error) error {
	b.mu.Lock()
	b.failedRequests++
	b.mu.Unlock()
	return err
}

// doRequest performs a single HTTP round trip. The boolean reports whether
// the failure is worth retrying.
func (b *Backend) doRequest(ctx context.Context, path, requestID string, payload []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return true, fmt.Errorf("backend error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("backend rejected request: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return false, nil
}

// Stats returns current backend client statistics.
func (b *Backend) Stats() BackendStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BackendStats{
		TotalRequests:   b.totalRequests,
		SuccessRequests: b.successRequests,
		FailedRequests:  b.failedRequests,
		TotalRetries:    b.totalRetries,
		ActiveRequests:  len(b.semaphore),
	}
	if b.totalRequests > 0 {
		stats.SuccessRate = float64(b.successRequests) / float64(b.totalRequests)
	}
	return stats
}
