package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// IMAPOptions locates a remote folder to pull messages from.
type IMAPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
	Since    time.Time
	Tag      string
	Timeout  time.Duration
}

// ImportIMAP copies messages from a remote IMAP folder into the store. The
// folder is opened read-only, so nothing is flagged or deleted remotely.
func ImportIMAP(ctx context.Context, w MessageWriter, opts IMAPOptions, log *logrus.Logger) (ImportStats, error) {
	var stats ImportStats

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer c.Logout()

	if opts.Timeout > 0 {
		c.Timeout = opts.Timeout
	}

	if err := c.Login(opts.Username, opts.Password); err != nil {
		return stats, fmt.Errorf("authentication failed")
	}

	folder := opts.Folder
	if folder == "" {
		folder = "INBOX"
	}

	mbox, err := c.Select(folder, true) // read-only
	if err != nil {
		return stats, fmt.Errorf("folder does not exist: %s", folder)
	}
	if mbox.Messages == 0 {
		return stats, nil
	}

	criteria := imap.NewSearchCriteria()
	if !opts.Since.IsZero() {
		criteria.Since = opts.Since
	}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return stats, fmt.Errorf("search failed: %w", err)
	}
	if len(seqNums) == 0 {
		return stats, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			stats.Skipped++
			continue
		}

		raw, err := io.ReadAll(r)
		if err != nil {
			stats.Skipped++
			continue
		}

		if _, err := StoreRaw(ctx, w, raw, Options{Tag: opts.Tag}); err != nil {
			if errors.Is(err, ErrUnparsable) {
				stats.Skipped++
				log.WithError(err).Warn("Skipping unreadable message")
				continue
			}
			// Drain the fetch so its goroutine can finish before we bail
			go func() {
				for range messages {
				}
			}()
			return stats, err
		}
		stats.Stored++
	}

	if err := <-done; err != nil {
		return stats, fmt.Errorf("fetch failed: %w", err)
	}

	return stats, nil
}
