// --- File: pkg/dispatch/interfaces.go ---
// Package dispatch contains the public domain models and contracts shared by
// the broadcast engine, its storage backends and its push transports.
package dispatch

import (
	"context"
)

// Subscription is one registered web-push endpoint.
// Endpoint is the natural key; P256dh and Auth are the client's key material,
// kept exactly as the browser reported them (base64url strings).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Payload is the message delivered to every subscriber during a broadcast.
type Payload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DefaultPayload is the fixed message sent by the broadcast endpoints.
var DefaultPayload = Payload{
	Title:   "Notification",
	Content: "This is a push notification",
}

// SubscriptionStore defines the contract for persisting subscriptions.
// Implementations must be safe for concurrent use: a broadcast lists and
// deletes while independent subscribe/unsubscribe calls are in flight.
type SubscriptionStore interface {
	// FindByEndpoint returns the stored subscription or ErrNotFound.
	FindByEndpoint(ctx context.Context, endpoint string) (Subscription, error)

	// Insert stores a new subscription. It must be atomic on the endpoint:
	// if a record already exists it returns ErrConstraintViolation and leaves
	// the existing record untouched.
	Insert(ctx context.Context, sub Subscription) error

	// DeleteByEndpoint removes the record and reports how many were removed (0 or 1).
	DeleteByEndpoint(ctx context.Context, endpoint string) (int64, error)

	// ListAll returns a point-in-time snapshot. Order is not guaranteed.
	ListAll(ctx context.Context) ([]Subscription, error)
}

// Transport performs a single delivery attempt to one subscription.
// A failed attempt returns a *DeliveryError; use IsGone to decide whether
// the subscription should be forgotten.
type Transport interface {
	Deliver(ctx context.Context, sub Subscription, payload []byte) error
}
