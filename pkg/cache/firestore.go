package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string `yaml:"project_id"`
	CollectionName string `yaml:"collection"`
}

// snapshotDocument is the stored form of a snapshot. The value is kept as
// encoded JSON so that any payload shape round-trips unchanged.
type snapshotDocument struct {
	Type        string    `firestore:"type"`
	CollectedAt time.Time `firestore:"collectedAt"`
	Payload     []byte    `firestore:"payload"`
}

// FirestoreSink writes the latest snapshot of each metric to a document named
// after the metric type.
//
// Meant for low volume deployments; Firestore documents are limited to 1 MiB.
type FirestoreSink[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSink creates a new FirestoreSink.
func NewFirestoreSink[V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSink[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSink initialized.")

	return &FirestoreSink[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSink").Logger(),
	}, nil
}

// Store writes the metric to its document, replacing the previous snapshot.
func (s *FirestoreSink[V]) Store(ctx context.Context, metric types.Metric[V]) error {
	docID := metric.Type.String()
	payload, err := json.Marshal(metric.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for %s: %w", docID, err)
	}
	doc := snapshotDocument{
		Type:        docID,
		CollectedAt: metric.CollectedAt,
		Payload:     payload,
	}
	if _, err := s.client.Collection(s.collectionName).Doc(docID).Set(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("key", docID).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", docID, err)
	}
	s.logger.Debug().Str("key", docID).Msg("Successfully wrote snapshot to Firestore.")
	return nil
}

// Fetch reads the snapshot document for a metric type.
func (s *FirestoreSink[V]) Fetch(ctx context.Context, metricType types.MetricType) (types.Metric[V], error) {
	var zero types.Metric[V]
	docID := metricType.String()
	docSnap, err := s.client.Collection(s.collectionName).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Warn().Str("key", docID).Msg("Snapshot document not found in Firestore.")
			return zero, fmt.Errorf("%s: %w", docID, ErrSnapshotNotFound)
		}
		s.logger.Error().Err(err).Str("key", docID).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", docID, err)
	}

	var doc snapshotDocument
	if err := docSnap.DataTo(&doc); err != nil {
		return zero, fmt.Errorf("firestore DataTo for %s: %w", docID, err)
	}
	var value V
	if err := json.Unmarshal(doc.Payload, &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal snapshot for %s: %w", docID, err)
	}
	return types.Metric[V]{Type: metricType, Value: value, CollectedAt: doc.CollectedAt}, nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreSink[V]) Close() error {
	s.logger.Info().Msg("FirestoreSink does not close the injected Firestore client.")
	return nil
}
