package deductions

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Publisher receives every non-empty batch after its bills are written.
// Delivery to payroll (email, SFTP) sits behind this interface.
type Publisher interface {
	Publish(ctx context.Context, batch *ExportBatch) error
}

// =============================================================================
// LOG PUBLISHER
// =============================================================================

// LogPublisher only records that a batch is ready.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, batch *ExportBatch) error {
	p.logger.Printf("[Deductions] Batch %s ready for %s: %d lines", batch.ID, batch.Period, len(batch.Lines))
	return nil
}

// =============================================================================
// OUTBOX PUBLISHER
// =============================================================================

// OutboxPublisher drops the CSV and XLSX files into <dir>/<period>/ for
// pickup. A rerun of the same period replaces the files.
type OutboxPublisher struct {
	dir    string
	logger *log.Logger
}

func NewOutboxPublisher(dir string, logger *log.Logger) *OutboxPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &OutboxPublisher{dir: dir, logger: logger}
}

func (p *OutboxPublisher) Publish(ctx context.Context, batch *ExportBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(p.dir, batch.Period.String())
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create outbox %s: %w", target, err)
	}

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, batch); err != nil {
		return err
	}
	xlsx, err := RenderXLSX(batch)
	if err != nil {
		return err
	}

	files := map[string][]byte{
		FileName(batch.Period, "csv"):  csvBuf.Bytes(),
		FileName(batch.Period, "xlsx"): xlsx,
	}
	for name, data := range files {
		path := filepath.Join(target, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	p.logger.Printf("[Deductions] Wrote batch %s to %s", batch.ID, target)
	return nil
}

// Dir is the outbox root.
func (p *OutboxPublisher) Dir() string {
	return p.dir
}
