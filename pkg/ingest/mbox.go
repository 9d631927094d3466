package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-mbox"
	"github.com/sirupsen/logrus"
)

// ImportStats counts the outcome of an import run.
type ImportStats struct {
	Stored  int
	Skipped int
}

// ImportMbox streams every message of an mbox archive into the store.
// Messages that cannot be parsed are skipped and counted rather than
// aborting the run. Storage failures abort.
func ImportMbox(ctx context.Context, w MessageWriter, r io.Reader, opts Options, log *logrus.Logger) (ImportStats, error) {
	reader := mbox.NewReader(r)
	var stats ImportStats

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		msg, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msg)
		if err != nil {
			return stats, fmt.Errorf("message %d read: %w", idx, err)
		}

		if _, err := StoreRaw(ctx, w, raw, opts); err != nil {
			if errors.Is(err, ErrUnparsable) {
				stats.Skipped++
				log.WithError(err).WithField("index", idx).Warn("Skipping unreadable message")
				continue
			}
			return stats, fmt.Errorf("message %d: %w", idx, err)
		}
		stats.Stored++
	}
}
