package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-webpush-service/internal/platform/web"
	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-service/webpushservice/config"
)

// newClientKeys generates the key material a browser would report in
// PushSubscription.getKey(): an uncompressed P-256 point and a 16 byte secret.
func newClientKeys(t *testing.T) (string, string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func TestDeliver_Lifecycle(t *testing.T) {
	var hits atomic.Int32

	// 1. Setup Mock Push Service (Simulates Google/Mozilla Push Server)
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated) // 201
		case "/expired":
			w.WriteHeader(http.StatusGone) // 410
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("upstream unavailable"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	// 2. Real VAPID keys: the library signs a JWT with the private key.
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	transport := web.NewTransport(config.VapidConfig{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "mailto:test-runner@tinywideclouds.com",
	}, mockServer.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	payload := []byte(`{"title":"Test","content":"Body"}`)
	p256dh, auth := newClientKeys(t)

	subAt := func(path string) dispatch.Subscription {
		return dispatch.Subscription{Endpoint: mockServer.URL + path, P256dh: p256dh, Auth: auth}
	}

	t.Run("Success - 201", func(t *testing.T) {
		err := transport.Deliver(ctx, subAt("/success"), payload)
		require.NoError(t, err)
	})

	t.Run("Gone - 410", func(t *testing.T) {
		err := transport.Deliver(ctx, subAt("/expired"), payload)
		require.Error(t, err)
		assert.True(t, dispatch.IsGone(err))
		assert.Equal(t, http.StatusGone, dispatch.StatusCode(err))
	})

	t.Run("Gone - 404", func(t *testing.T) {
		err := transport.Deliver(ctx, subAt("/unknown"), payload)
		assert.True(t, dispatch.IsGone(err))
	})

	t.Run("Rejected - 500 is not gone", func(t *testing.T) {
		err := transport.Deliver(ctx, subAt("/error"), payload)
		require.Error(t, err)
		assert.False(t, dispatch.IsGone(err))
		assert.Equal(t, http.StatusInternalServerError, dispatch.StatusCode(err))
		assert.Contains(t, err.Error(), "upstream unavailable")
	})

	assert.Equal(t, int32(4), hits.Load())
}

func TestDeliver_TransportFailure(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := mockServer.URL + "/closed"
	mockServer.Close() // Connection refused from here on

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	transport := web.NewTransport(config.VapidConfig{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "ops@tinywideclouds.com",
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p256dh, auth := newClientKeys(t)
	err = transport.Deliver(context.Background(), dispatch.Subscription{Endpoint: endpoint, P256dh: p256dh, Auth: auth}, []byte("{}"))

	require.Error(t, err)
	assert.False(t, dispatch.IsGone(err))
	assert.Equal(t, 0, dispatch.StatusCode(err))
}

func TestDeliver_TruncatedRejectionBody(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte("short"))

		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	transport := web.NewTransport(config.VapidConfig{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "ops@tinywideclouds.com",
	}, mockServer.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	p256dh, auth := newClientKeys(t)
	err = transport.Deliver(context.Background(), dispatch.Subscription{Endpoint: mockServer.URL + "/gone", P256dh: p256dh, Auth: auth}, []byte("{}"))

	require.Error(t, err)
	assert.True(t, dispatch.IsGone(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "failed to read rejection body")
}
