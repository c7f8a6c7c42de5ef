package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// AssociationRow is one alt to main association as stored in the history table.
type AssociationRow struct {
	SnapshotID  string    `bigquery:"snapshot_id"`
	SourceGuild string    `bigquery:"source_guild"`
	TargetGuild string    `bigquery:"target_guild"`
	Alt         string    `bigquery:"alt"`
	Main        string    `bigquery:"main"`
	CreatedAt   time.Time `bigquery:"created_at"`
}

// RowsFor flattens a snapshot into history rows.
func RowsFor(s *types.Snapshot) []*AssociationRow {
	rows := make([]*AssociationRow, 0, s.AssociationCount())
	for _, g := range s.LinkedCharacters {
		for _, alt := range g.Alts {
			rows = append(rows, &AssociationRow{
				SnapshotID:  s.ID,
				SourceGuild: s.SourceGuild,
				TargetGuild: s.TargetGuild,
				Alt:         alt,
				Main:        g.Main,
				CreatedAt:   s.CreatedAt,
			})
		}
	}
	return rows
}

// RowInserter inserts a batch of history rows into a data store.
type RowInserter interface {
	InsertBatch(ctx context.Context, rows []*AssociationRow) error
	Close() error
}

// BigQueryDatasetConfig holds configuration for the history dataset and table.
type BigQueryDatasetConfig struct {
	DatasetID string
	TableID   string
}

// NewProductionBigQueryClient creates a BigQuery client, using credentialsFile
// when given and Application Default Credentials otherwise.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryInserter streams history rows into a BigQuery table.
type BigQueryInserter struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter connects to the history table, creating it with a schema
// inferred from AssociationRow when it does not exist yet.
func NewBigQueryInserter(ctx context.Context, client *bigquery.Client, cfg *BigQueryDatasetConfig, logger zerolog.Logger) (*BigQueryInserter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}
	logger = logger.With().Str("component", "BigQueryInserter").Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		schema, inferErr := bigquery.InferSchema(AssociationRow{})
		if inferErr != nil {
			return nil, fmt.Errorf("failed to infer history schema: %w", inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); createErr != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Msg("BigQuery table created successfully.")
	}

	return &BigQueryInserter{inserter: tableRef.Inserter(), logger: logger}, nil
}

// InsertBatch streams rows, logging each row-level failure.
func (i *BigQueryInserter) InsertBatch(ctx context.Context, rows []*AssociationRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := i.inserter.Put(ctx, rows); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}
	i.logger.Debug().Int("batch_size", len(rows)).Msg("Inserted history rows into BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed by the caller.
func (i *BigQueryInserter) Close() error {
	return nil
}

// BigQueryHistory records every stored snapshot's associations.
type BigQueryHistory struct {
	inserter RowInserter
}

// NewBigQueryHistory creates a history notifier over inserter.
func NewBigQueryHistory(inserter RowInserter) *BigQueryHistory {
	return &BigQueryHistory{inserter: inserter}
}

// SnapshotRefreshed inserts one row per association.
func (h *BigQueryHistory) SnapshotRefreshed(ctx context.Context, snapshot *types.Snapshot) error {
	return h.inserter.InsertBatch(ctx, RowsFor(snapshot))
}
