package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
)

// Gateway sends messages through the WhatsApp HTTP gateway. Each phone
// line is a path segment of the gateway API.
type Gateway struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Logger  zerolog.Logger
}

func NewGateway(baseURL, token string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Logger:  logger,
	}
}

func (g *Gateway) SendText(ctx context.Context, handle string, line int, text string) error {
	return g.post(ctx, line, "send-text", map[string]any{
		"to":   handle,
		"text": text,
	})
}

func (g *Gateway) SendImage(ctx context.Context, handle string, line int, url, caption string) error {
	return g.post(ctx, line, "send-image", map[string]any{
		"to":      handle,
		"url":     url,
		"caption": caption,
	})
}

func (g *Gateway) SendVideo(ctx context.Context, handle string, line int, url, caption string) error {
	return g.post(ctx, line, "send-video", map[string]any{
		"to":      handle,
		"url":     url,
		"caption": caption,
	})
}

func (g *Gateway) SendDocument(ctx context.Context, handle string, line int, url, caption, filename string) error {
	return g.post(ctx, line, "send-document", map[string]any{
		"to":       handle,
		"url":      url,
		"caption":  caption,
		"filename": filename,
	})
}

func (g *Gateway) post(ctx context.Context, line int, op string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &appErrors.TransportPermanentError{Err: err}
	}

	url := fmt.Sprintf("%s/api/%d/%s", g.BaseURL, NormalizeLine(line), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &appErrors.TransportPermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		// network-level failures are retryable
		return &appErrors.TransportTransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	reqErr := fmt.Errorf("%s returned %d: %s", op, resp.StatusCode, bytes.TrimSpace(detail))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		g.Logger.Warn().Int("line", line).Str("op", op).Msg("gateway rate limited")
		return &appErrors.TransportTransientError{RateLimited: true, Err: reqErr}
	case resp.StatusCode >= 500:
		return &appErrors.TransportTransientError{Err: reqErr}
	default:
		return &appErrors.TransportPermanentError{Code: resp.StatusCode, Err: reqErr}
	}
}

var _ Sender = (*Gateway)(nil)
