package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"repoindex/types"
)

const DefaultBatchSize = 50

var ErrBatchUpsert = errors.New("batch upsert failed")

// Upserter is the part of the datastore the coordinator needs.
type Upserter interface {
	Upsert(ctx context.Context, docs []types.Document) ([]string, error)
}

type BatchReport struct {
	Calls    int
	Upserted int
	IDs      []string
}

// Batches splits docs into contiguous slices of at most size documents.
func Batches(docs []types.Document, size int) [][]types.Document {
	if size < 1 {
		size = DefaultBatchSize
	}
	batches := make([][]types.Document, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		batches = append(batches, docs[start:end])
	}
	return batches
}

// UpsertBatches upserts docs one batch at a time, in order. The first failure stops
// the loop; batches already written stay written.
func UpsertBatches(ctx context.Context, up Upserter, docs []types.Document, size int, logger *slog.Logger) (BatchReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var report BatchReport

	batches := Batches(docs, size)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: batch %d/%d: %w", ErrBatchUpsert, i+1, len(batches), err)
		}

		report.Calls++
		ids, err := up.Upsert(ctx, batch)
		if err != nil {
			return report, fmt.Errorf("%w: batch %d/%d: %w", ErrBatchUpsert, i+1, len(batches), err)
		}
		if len(ids) != len(batch) {
			logger.Warn("upsert returned unexpected id count",
				"batch", i+1, "documents", len(batch), "ids", len(ids))
		}
		report.Upserted += len(batch)
		report.IDs = append(report.IDs, ids...)
		logger.Debug("batch upserted", "batch", i+1, "of", len(batches), "documents", len(batch))
	}
	return report, nil
}
