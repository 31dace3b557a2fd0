// Package engine implements the subscription lifecycle and the broadcast
// fan-out that reconciles the store against push service responses.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
)

// Config bounds a broadcast. Zero values mean no limit and no timeout.
type Config struct {
	// MaxConcurrency caps in-flight deliveries per broadcast.
	MaxConcurrency int
	// DeliveryTimeout bounds each individual push attempt.
	DeliveryTimeout time.Duration
}

// Engine is safe for concurrent use. All shared state lives in the store.
type Engine struct {
	store     dispatch.SubscriptionStore
	transport dispatch.Transport
	cfg       Config
	logger    *slog.Logger
}

func New(store dispatch.SubscriptionStore, transport dispatch.Transport, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("component", "DispatchEngine"),
	}
}

// Subscribe stores sub unless its endpoint is already known.
// created is false for an existing endpoint, including one that was inserted
// concurrently between our lookup and our insert.
func (e *Engine) Subscribe(ctx context.Context, sub dispatch.Subscription) (bool, error) {
	_, err := e.store.FindByEndpoint(ctx, sub.Endpoint)
	if err == nil {
		e.logger.Debug("Subscription already exists", "endpoint", sub.Endpoint)
		return false, nil
	}
	if !errors.Is(err, dispatch.ErrNotFound) {
		return false, &dispatch.StorageError{Op: "lookup", Err: err}
	}

	if err := e.store.Insert(ctx, sub); err != nil {
		if errors.Is(err, dispatch.ErrConstraintViolation) {
			e.logger.Debug("Subscription inserted concurrently", "endpoint", sub.Endpoint)
			return false, nil
		}
		return false, &dispatch.StorageError{Op: "insert", Err: err}
	}

	e.logger.Info("Subscription created", "endpoint", sub.Endpoint)
	return true, nil
}

// Unsubscribe removes the subscription for endpoint.
// removed is false when no such subscription exists.
func (e *Engine) Unsubscribe(ctx context.Context, endpoint string) (bool, error) {
	if _, err := e.store.FindByEndpoint(ctx, endpoint); err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			return false, nil
		}
		return false, &dispatch.StorageError{Op: "lookup", Err: err}
	}

	n, err := e.store.DeleteByEndpoint(ctx, endpoint)
	if err != nil {
		return false, &dispatch.StorageError{Op: "delete", Err: err}
	}

	if n > 0 {
		e.logger.Info("Subscription removed", "endpoint", endpoint)
	}
	return n > 0, nil
}

// Broadcast sends payload to every stored subscription and waits for all
// attempts to finish. Delivery failures are reported per endpoint in the
// Report; only a failure to list subscriptions is returned as an error.
func (e *Engine) Broadcast(ctx context.Context, payload dispatch.Payload) (*dispatch.Report, error) {
	broadcastID := uuid.NewString()
	log := e.logger.With("broadcast_id", broadcastID)

	subs, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, &dispatch.StorageError{Op: "list", Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	report := &dispatch.Report{
		BroadcastID: broadcastID,
		Results:     make([]dispatch.Result, len(subs)),
	}

	// A plain Group: one subscriber's failure must never cancel the others.
	var g errgroup.Group
	if e.cfg.MaxConcurrency > 0 {
		g.SetLimit(e.cfg.MaxConcurrency)
	}
	for i, sub := range subs {
		g.Go(func() error {
			report.Results[i] = e.deliver(ctx, log, sub, body)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("Broadcast complete",
		"receipt", report.Receipt(),
		"pruned", report.Pruned(),
	)
	return report, nil
}

// deliver makes one attempt and, for a gone endpoint, reconciles the store.
func (e *Engine) deliver(ctx context.Context, log *slog.Logger, sub dispatch.Subscription, body []byte) dispatch.Result {
	res := dispatch.Result{Endpoint: sub.Endpoint}

	deliverCtx := ctx
	if e.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
		defer cancel()
	}

	err := e.transport.Deliver(deliverCtx, sub, body)
	if err == nil {
		res.Outcome = dispatch.OutcomeDelivered
		return res
	}

	res.Err = err
	res.StatusCode = dispatch.StatusCode(err)

	if !dispatch.IsGone(err) {
		res.Outcome = dispatch.OutcomeFailed
		log.Warn("Push delivery failed", "endpoint", sub.Endpoint, "status", res.StatusCode, "err", err)
		return res
	}

	res.Outcome = dispatch.OutcomeGone
	e.reconcile(ctx, log, &res)
	return res
}

// reconcile deletes a subscription the push service reported as gone.
// It uses the broadcast context, not the expired per-delivery one.
func (e *Engine) reconcile(ctx context.Context, log *slog.Logger, res *dispatch.Result) {
	n, err := e.store.DeleteByEndpoint(ctx, res.Endpoint)
	if err != nil {
		res.PruneErr = &dispatch.StorageError{Op: "prune", Err: err}
		log.Error("Failed to prune expired subscription", "endpoint", res.Endpoint, "err", err)
		return
	}
	res.Pruned = n > 0
	log.Info("Pruned expired subscription", "endpoint", res.Endpoint, "status", res.StatusCode, "removed", n)
}
