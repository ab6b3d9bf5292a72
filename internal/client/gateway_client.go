package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/metrics"
	"github.com/NoraXie/echoid/internal/util"
)

const (
	gatewaySendTextPath    = "/api/sendText"
	gatewayStartTypingPath = "/api/startTyping"
	gatewayStopTypingPath  = "/api/stopTyping"
)

// ErrGatewayStatus is wrapped when the gateway answers with a non-2xx status.
var ErrGatewayStatus = errors.New("gateway returned an error status")

// GatewayClient talks to the EchoB messaging gateway. Every call is paced by
// one process-wide limiter. With no API URL configured the client runs dry:
// messages are logged instead of sent.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	session    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type gatewayRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text,omitempty"`
}

func NewGatewayClient(cfg *config.Config, logger *zap.Logger) *GatewayClient {
	gw := cfg.Gateway
	limit := rate.Limit(gw.RatePerSec)
	if gw.RatePerSec <= 0 {
		limit = rate.Inf
	}

	if gw.APIURL == "" {
		logger.Warn("ECHOB_API_URL not set, gateway client runs dry")
	}

	return &GatewayClient{
		baseURL:    gw.APIURL,
		apiKey:     gw.APIKey,
		session:    gw.Session,
		httpClient: &http.Client{Timeout: gw.Timeout},
		limiter:    rate.NewLimiter(limit, max(gw.RateBurst, 1)),
		logger:     logger.Named("gateway"),
	}
}

// SendText delivers text to chatID.
func (g *GatewayClient) SendText(ctx context.Context, chatID, text string) error {
	if g.baseURL == "" {
		g.logger.Info("Dry run sendText", util.Phone("chat_id", chatID), zap.Int("length", len(text)))
		return nil
	}
	if err := g.post(ctx, "send_text", gatewaySendTextPath, gatewayRequest{Session: g.session, ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// StartTyping shows the typing indicator. Callers treat failures as non-fatal.
func (g *GatewayClient) StartTyping(ctx context.Context, chatID string) error {
	if g.baseURL == "" {
		return nil
	}
	if err := g.post(ctx, "start_typing", gatewayStartTypingPath, gatewayRequest{Session: g.session, ChatID: chatID}); err != nil {
		return fmt.Errorf("failed to start typing: %w", err)
	}
	return nil
}

// StopTyping clears the typing indicator. Callers treat failures as non-fatal.
func (g *GatewayClient) StopTyping(ctx context.Context, chatID string) error {
	if g.baseURL == "" {
		return nil
	}
	if err := g.post(ctx, "stop_typing", gatewayStopTypingPath, gatewayRequest{Session: g.session, ChatID: chatID}); err != nil {
		return fmt.Errorf("failed to stop typing: %w", err)
	}
	return nil
}

func (g *GatewayClient) post(ctx context.Context, operation, path string, payload gatewayRequest) (err error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("outbound rate limiter: %w", err)
	}

	// limiter wait is excluded from the observed latency
	start := time.Now()
	defer func() { metrics.RecordGatewayCall(operation, err, time.Since(start)) }()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Warn("Gateway rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet))
		return fmt.Errorf("%w: %s %d", ErrGatewayStatus, path, resp.StatusCode)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
