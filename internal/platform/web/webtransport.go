// --- File: internal/platform/web/webtransport.go ---
// Package web delivers payloads to browser push services using VAPID.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-service/webpushservice/config"
)

// maxErrorBody bounds how much of a rejection body is kept for logging.
const maxErrorBody = 512

// Transport is an immutable VAPID client that owns its key pair.
type Transport struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	urgency    webpush.Urgency
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTransport builds a transport from the VAPID config.
// A nil httpClient falls back to a dedicated default client.
func NewTransport(cfg config.VapidConfig, httpClient *http.Client, logger *slog.Logger) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultVapidTTL
	}
	return &Transport{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        ttl,
		urgency:    webpush.Urgency(cfg.Urgency),
		httpClient: httpClient,
		logger:     logger.With("component", "WebPushTransport"),
	}
}

// Deliver makes exactly one push attempt. Any 2xx is success; everything
// else comes back as a *dispatch.DeliveryError carrying the status code.
func (t *Transport) Deliver(ctx context.Context, sub dispatch.Subscription, payload []byte) error {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		Subscriber:      t.subscriber,
		VAPIDPublicKey:  t.publicKey,
		VAPIDPrivateKey: t.privateKey,
		TTL:             t.ttl,
		Urgency:         t.urgency,
		HTTPClient:      t.httpClient,
	})
	if err != nil {
		// Transport error (DNS, timeout, bad key material): no status code.
		return &dispatch.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.logger.Debug("WebPush accepted", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return nil
	}

	deliveryErr := &dispatch.DeliveryError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		deliveryErr.Err = fmt.Errorf("failed to read rejection body: %w", err)
		return deliveryErr
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		deliveryErr.Err = errors.New(msg)
	}
	return deliveryErr
}
