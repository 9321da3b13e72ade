// Package archive keeps a history of cached snapshots in Google Cloud Storage.
// Each stored snapshot becomes one gzipped JSON Lines object.
package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the GCS destination.
type Config struct {
	BucketName   string `yaml:"bucket"`
	ObjectPrefix string `yaml:"prefix"`
}

// Record is one line of an archive object.
type Record struct {
	MetricType  string          `json:"metric_type"`
	CollectedAt time.Time       `json:"collected_at"`
	Data        json.RawMessage `json:"data"`
}

// SplitFunc turns a cached value into the raw elements to archive, one per line.
type SplitFunc[V any] func(V) ([]json.RawMessage, error)

// GCSArchiveSink writes every snapshot it is given to
// <prefix>/<TYPE>/yyyy/mm/dd/<uuid>.jsonl.gz.
type GCSArchiveSink[V any] struct {
	client GCSClient
	config Config
	split  SplitFunc[V]
	logger zerolog.Logger
}

var (
	_ cache.SnapshotSink[types.RepositorySnapshot] = (*GCSArchiveSink[types.RepositorySnapshot])(nil)
	_ cache.SnapshotSink[json.RawMessage]          = (*GCSArchiveSink[json.RawMessage])(nil)
)

// NewGCSArchiveSink creates a sink that archives the elements returned by split.
func NewGCSArchiveSink[V any](gcsClient GCSClient, config Config, split SplitFunc[V], logger zerolog.Logger) (*GCSArchiveSink[V], error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	if split == nil {
		return nil, errors.New("split function cannot be nil")
	}
	return &GCSArchiveSink[V]{
		client: gcsClient,
		config: config,
		split:  split,
		logger: logger.With().Str("component", "GCSArchiveSink").Logger(),
	}, nil
}

// NewRepositoryArchiveSink archives each repository of a snapshot as one line,
// exactly as upstream returned it.
func NewRepositoryArchiveSink(gcsClient GCSClient, config Config, logger zerolog.Logger) (*GCSArchiveSink[types.RepositorySnapshot], error) {
	return NewGCSArchiveSink[types.RepositorySnapshot](gcsClient, config, func(s types.RepositorySnapshot) ([]json.RawMessage, error) {
		return SplitRaw(s.Raw)
	}, logger)
}

// NewRawArchiveSink archives proxied payloads.
func NewRawArchiveSink(gcsClient GCSClient, config Config, logger zerolog.Logger) (*GCSArchiveSink[json.RawMessage], error) {
	return NewGCSArchiveSink[json.RawMessage](gcsClient, config, SplitRaw, logger)
}

// SplitRaw returns the elements of a JSON array, or the value itself if it is
// not an array.
func SplitRaw(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid JSON")
	}
	return []json.RawMessage{raw}, nil
}

// ObjectName returns where a snapshot collected for metric is written.
func (s *GCSArchiveSink[V]) ObjectName(metric types.Metric[V], id string) string {
	day := metric.CollectedAt.UTC().Format("2006/01/02")
	return path.Join(s.config.ObjectPrefix, metric.Type.String(), day, fmt.Sprintf("%s.jsonl.gz", id))
}

// Store uploads the snapshot as a new object.
func (s *GCSArchiveSink[V]) Store(ctx context.Context, metric types.Metric[V]) error {
	items, err := s.split(metric.Value)
	if err != nil {
		return fmt.Errorf("splitting %s snapshot: %w", metric.Type, err)
	}
	if len(items) == 0 {
		s.logger.Debug().Str("metric_type", metric.Type.String()).Msg("Empty snapshot, nothing to archive.")
		return nil
	}

	objectName := s.ObjectName(metric, uuid.NewString())
	collectedAt := metric.CollectedAt.UTC()
	gcsWriter := s.client.Bucket(s.config.BucketName).Object(objectName).NewWriter(ctx, ObjectAttrs{
		ContentType:     "application/x-ndjson",
		ContentEncoding: "gzip",
		Metadata: map[string]string{
			"metric_type":  metric.Type.String(),
			"collected_at": collectedAt.Format(time.RFC3339),
			"records":      strconv.Itoa(len(items)),
		},
	})
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, item := range items {
			rec := Record{MetricType: metric.Type.String(), CollectedAt: collectedAt, Data: item}
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				_ = gz.Close()
				return
			}
		}
		err = gz.Close()
	}()

	bytesWritten, pipeReadErr := io.Copy(gcsWriter, pr)
	closeErr := gcsWriter.Close()

	if pipeReadErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, pipeReadErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	s.logger.Info().
		Str("object_name", objectName).
		Int("record_count", len(items)).
		Int64("bytes_written", bytesWritten).
		Msg("Archived snapshot to GCS.")
	return nil
}

// Close is a no-op; each Store finishes its own upload.
func (s *GCSArchiveSink[V]) Close() error {
	return nil
}
