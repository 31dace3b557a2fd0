// Package api exposes the subscription lifecycle and broadcast trigger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
)

// Engine is the subset of the dispatch engine the handlers drive.
type Engine interface {
	Subscribe(ctx context.Context, sub dispatch.Subscription) (bool, error)
	Unsubscribe(ctx context.Context, endpoint string) (bool, error)
	Broadcast(ctx context.Context, payload dispatch.Payload) (*dispatch.Report, error)
}

type SubscriptionAPI struct {
	Engine Engine
	Logger *slog.Logger
}

func NewSubscriptionAPI(engine Engine, logger *slog.Logger) *SubscriptionAPI {
	return &SubscriptionAPI{
		Engine: engine,
		Logger: logger.With("component", "SubscriptionAPI"),
	}
}

// SubscribeRequest mirrors the browser's PushSubscription.toJSON().
type SubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type SendResponse struct {
	Message     string `json:"message"`
	BroadcastID string `json:"broadcast_id"`
	Receipt     string `json:"receipt"`
}

func (api *SubscriptionAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Warn("Subscribe: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription data")
		return
	}

	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		api.Logger.Warn("Subscribe: Validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription data")
		return
	}

	created, err := api.Engine.Subscribe(r.Context(), dispatch.Subscription{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		api.Logger.Error("Subscribe: storage failed", "endpoint", req.Endpoint, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "subscription failed")
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Subscription already exists."})
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Subscription successful."})
}

func (api *SubscriptionAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Warn("Unsubscribe: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Endpoint == "" {
		api.Logger.Warn("Unsubscribe: Validation failed", "reason", "missing endpoint")
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	removed, err := api.Engine.Unsubscribe(r.Context(), req.Endpoint)
	if err != nil {
		api.Logger.Error("Unsubscribe: storage failed", "endpoint", req.Endpoint, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "unsubscribe failed")
		return
	}

	if !removed {
		writeJSON(w, http.StatusNotFound, MessageResponse{Message: "Subscription not found."})
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Unsubscribed successfully."})
}

// Send broadcasts the default payload to every subscriber. Individual
// delivery failures do not change the status; only a storage failure does.
// The broadcast runs to completion even if the caller disconnects; each
// delivery is still bounded by the engine's delivery timeout.
func (api *SubscriptionAPI) Send(w http.ResponseWriter, r *http.Request) {
	report, err := api.Engine.Broadcast(context.WithoutCancel(r.Context()), dispatch.DefaultPayload)
	if err != nil {
		api.Logger.Error("Send: broadcast failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		Message:     "Notifications sent.",
		BroadcastID: report.BroadcastID,
		Receipt:     report.Receipt(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
