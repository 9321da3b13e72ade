package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DataBatchInserter inserts a batch of rows into a data store.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BigQueryConfig holds the BigQuery destination.
type BigQueryConfig struct {
	ProjectID       string `yaml:"project_id"`
	DatasetID       string `yaml:"dataset_id"`
	TableID         string `yaml:"table_id"`
	CredentialsFile string `yaml:"credentials_file"`
	// TopN keeps only the N most starred repositories of each snapshot.
	// Zero keeps all of them.
	TopN int `yaml:"top_n"`
}

// NewBigQueryClient creates a BigQuery client, using the credentials file when
// one is given and Application Default Credentials otherwise.
func NewBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryInserter streams rows of T into one table.
type BigQueryInserter[T any] struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter opens the configured table, creating it with a schema
// inferred from T if it does not exist yet.
func NewBigQueryInserter[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryConfig,
	logger zerolog.Logger,
) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil || cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("bigquery dataset and table are required")
	}

	logger = logger.With().
		Str("component", "BigQueryInserter").
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		var zero T
		schema, err := bigquery.InferSchema(zero)
		if err != nil {
			return nil, fmt.Errorf("failed to infer schema for type %T: %w", zero, err)
		}
		meta := &bigquery.TableMetadata{
			Schema: schema,
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.DayPartitioningType,
				Field: partitionField(schema),
			},
		}
		if err := tableRef.Create(ctx, meta); err != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
		logger.Info().Msg("BigQuery table created.")
	}

	return &BigQueryInserter[T]{
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// partitionField returns the first TIMESTAMP column, or "" to partition by
// ingestion time.
func partitionField(schema bigquery.Schema) string {
	for _, f := range schema {
		if f.Type == bigquery.TimestampFieldType {
			return f.Name
		}
	}
	return ""
}

// InsertBatch streams items into the table. Row level failures are logged
// one by one and returned wrapped.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	if err := i.inserter.Put(ctx, items); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}

	i.logger.Debug().Int("batch_size", len(items)).Msg("Inserted batch into BigQuery.")
	return nil
}

// Close does nothing; the client belongs to the caller.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}
