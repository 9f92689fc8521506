package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querymesh/querymesh/internal/storage"
	"github.com/querymesh/querymesh/internal/store"
)

type Config struct {
	// BatchSize flushes when the buffer reaches this many records.
	// Defaults to 500.
	BatchSize int
	// FlushInterval flushes whatever has accumulated. Defaults to 5m.
	FlushInterval time.Duration
}

// Archiver buffers audit records and uploads them as parquet batches
// under audit/<year>/<month>/<day>/. Records are buffered in memory
// only; a crash loses at most one batch, the durable copy lives in the
// metastore.
type Archiver struct {
	objects storage.ObjectStore
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex
	buffer []store.GenerationRecord
}

func NewArchiver(objects storage.ObjectStore, cfg Config, logger *slog.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{objects: objects, cfg: cfg, logger: logger}
}

// Record queues one audit row. A full buffer triggers a synchronous
// flush.
func (a *Archiver) Record(ctx context.Context, record store.GenerationRecord) {
	a.mu.Lock()
	a.buffer = append(a.buffer, record)
	full := len(a.buffer) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		if err := a.Flush(ctx); err != nil {
			a.logger.Warn("audit archive flush failed", slog.String("error", err.Error()))
		}
	}
}

// Flush encodes the buffered records and uploads them. An upload failure
// puts the records back so the next flush retries them.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	encoded, err := EncodeGenerations(batch)
	if err != nil {
		return fmt.Errorf("encode audit batch: %w", err)
	}

	key := batchKey(time.Now().UTC())
	if _, err := a.objects.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	}); err != nil {
		a.mu.Lock()
		a.buffer = append(batch, a.buffer...)
		a.mu.Unlock()
		return fmt.Errorf("upload audit batch: %w", err)
	}

	a.logger.Info("archived audit batch",
		slog.String("key", key),
		slog.Int64("records", encoded.RecordCount))
	return nil
}

// Run flushes on the configured interval until the context ends, with a
// final flush on shutdown.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.Flush(flushCtx); err != nil {
				a.logger.Warn("final audit flush failed", slog.String("error", err.Error()))
			}
			cancel()
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Warn("audit archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

func batchKey(now time.Time) string {
	return fmt.Sprintf("audit/%04d/%02d/%02d/%s.parquet", now.Year(), now.Month(), now.Day(), uuid.NewString())
}
