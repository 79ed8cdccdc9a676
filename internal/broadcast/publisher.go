package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/telemetry"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// HTTPPublisher posts messages to the realtime service publish endpoint.
type HTTPPublisher struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPPublisher(baseURL, token string, timeout time.Duration) *HTTPPublisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPPublisher{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/publish",
		token:    token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("publish %s: unexpected status %d", msg.Event, resp.StatusCode)
	}
	return nil
}

// LogPublisher stands in when no realtime service is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, msg Message) error {
	telemetry.LoggerFromContext(ctx).Debug().Str("event", msg.Event).Strs("rooms", msg.Targets()).Msg("realtime disabled, event not published")
	return nil
}
