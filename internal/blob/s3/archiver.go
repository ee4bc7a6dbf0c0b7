package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// archiveBatch caps how many audit rows one sweep uploads.
const archiveBatch = 500

// Archiver periodically copies settled liquidation audit rows older
// than the retention window into object storage: one JSON object per
// liquidation keyed "liquidations/YYYY/MM/DD/<id>.json" for point
// lookup, plus one NDJSON bundle per sweep for bulk consumption.
type Archiver struct {
	writer    *Writer
	audits    domain.LiquidationStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer *Writer, audits domain.LiquidationStore, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		writer:    writer,
		audits:    audits,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps on a ticker until the context ends.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.sweep(ctx); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Archiver) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-a.retention)
	recs, err := a.audits.ListSettledBefore(ctx, cutoff, domain.ListOpts{Limit: archiveBatch})
	if err != nil {
		return fmt.Errorf("list settled liquidations: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	for _, rec := range recs {
		if err := a.upload(ctx, rec); err != nil {
			return err
		}
	}
	if err := a.uploadBundle(ctx, recs); err != nil {
		return err
	}
	a.logger.Info("archived liquidations", slog.Int("count", len(recs)))
	return nil
}

// uploadBundle streams the sweep's rows as one NDJSON object so
// analytics jobs can load a sweep without listing the per-row keys.
func (a *Archiver) uploadBundle(ctx context.Context, recs []domain.LiquidationRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("marshal liquidation %s: %w", rec.ID, err)
		}
	}
	key := fmt.Sprintf("liquidations/bundles/%s.ndjson",
		time.Now().UTC().Format("20060102T150405Z"))
	return a.writer.PutStream(ctx, key, &buf, minPartSize, "application/x-ndjson")
}

func (a *Archiver) upload(ctx context.Context, rec domain.LiquidationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal liquidation %s: %w", rec.ID, err)
	}
	key := fmt.Sprintf("liquidations/%s/%s.json",
		rec.TriggeredAt.UTC().Format("2006/01/02"), rec.ID)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}
	return nil
}
