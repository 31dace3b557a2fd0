package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
)

// DefaultCollection is the root collection holding one document per endpoint.
const DefaultCollection = "webpush_subscriptions"

// FirestoreStore implements dispatch.SubscriptionStore using Google Cloud Firestore.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreStore"),
	}
}

// subscriptionRecord is the internal DB representation.
type subscriptionRecord struct {
	Endpoint  string    `firestore:"endpoint"`
	P256dh    string    `firestore:"p256dh"`
	Auth      string    `firestore:"auth"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (r subscriptionRecord) toSubscription() dispatch.Subscription {
	return dispatch.Subscription{Endpoint: r.Endpoint, P256dh: r.P256dh, Auth: r.Auth}
}

func (s *FirestoreStore) FindByEndpoint(ctx context.Context, endpoint string) (dispatch.Subscription, error) {
	snap, err := s.subscriptionRef(endpoint).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return dispatch.Subscription{}, dispatch.ErrNotFound
	}
	if err != nil {
		return dispatch.Subscription{}, fmt.Errorf("firestore get failed: %w", err)
	}

	var record subscriptionRecord
	if err := snap.DataTo(&record); err != nil {
		return dispatch.Subscription{}, fmt.Errorf("firestore decode failed: %w", err)
	}
	return record.toSubscription(), nil
}

// Insert uses Create, which fails with AlreadyExists when the document for
// this endpoint is present. That keeps uniqueness atomic across instances.
func (s *FirestoreStore) Insert(ctx context.Context, sub dispatch.Subscription) error {
	record := subscriptionRecord{
		Endpoint:  sub.Endpoint,
		P256dh:    sub.P256dh,
		Auth:      sub.Auth,
		CreatedAt: time.Now(),
	}

	_, err := s.subscriptionRef(sub.Endpoint).Create(ctx, record)
	if status.Code(err) == codes.AlreadyExists {
		return dispatch.ErrConstraintViolation
	}
	if err != nil {
		return fmt.Errorf("firestore create failed: %w", err)
	}
	return nil
}

func (s *FirestoreStore) DeleteByEndpoint(ctx context.Context, endpoint string) (int64, error) {
	// The Exists precondition turns "nothing to delete" into NotFound,
	// which is how we learn the removed count.
	_, err := s.subscriptionRef(endpoint).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("firestore delete failed: %w", err)
	}
	return 1, nil
}

func (s *FirestoreStore) ListAll(ctx context.Context) ([]dispatch.Subscription, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	subs := make([]dispatch.Subscription, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record subscriptionRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping undecodable subscription", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		subs = append(subs, record.toSubscription())
	}

	return subs, nil
}

// subscriptionRef: {collection}/{sha256(endpoint)}
// Endpoints are URLs and may contain '/', which Firestore forbids in IDs.
func (s *FirestoreStore) subscriptionRef(endpoint string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(hashEndpoint(endpoint))
}

func hashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}
