// Package ingest feeds raw messages into the store: from the SMTP
// listener, from mbox archives and from remote IMAP folders. Every path
// funnels through StoreRaw so all sources produce identical records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maildepot/maildepot/pkg/mail"
)

// ErrUnparsable marks input that is not a readable mail message. Archive
// imports skip these; the SMTP listener rejects them.
var ErrUnparsable = errors.New("message could not be parsed")

// MessageWriter is the storage surface ingest writes to. *storage.Store
// satisfies it.
type MessageWriter interface {
	SaveMessage(ctx context.Context, m *mail.Message) (int64, error)
	AddDelivery(ctx context.Context, d *mail.Delivery) (int64, error)
}

// Options carries the envelope and source metadata for one raw message.
// Empty MailFrom and RcptTo fall back to the parsed From and To headers,
// which is what archive imports rely on.
type Options struct {
	MailFrom        string
	RcptTo          []string
	Tag             string
	ReceivedWithSSL bool
}

// StoreRaw parses raw once and stores one processed inbound copy per
// recipient, each with a receipt delivery record. It returns the stored
// copies in recipient order.
func StoreRaw(ctx context.Context, w MessageWriter, raw []byte, opts Options) ([]*mail.Message, error) {
	parsed, err := mail.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	parsed.Direction = mail.DirectionInbound
	parsed.Status = mail.StatusProcessed
	parsed.ReceivedWithSSL = opts.ReceivedWithSSL
	if opts.Tag != "" {
		parsed.Tag = opts.Tag
	}
	if opts.MailFrom != "" {
		parsed.MailFrom = opts.MailFrom
	}

	recipients := opts.RcptTo
	if len(recipients) == 0 {
		recipients = []string{parsed.RcptTo}
	}

	stored := make([]*mail.Message, 0, len(recipients))
	for _, rcpt := range recipients {
		m := *parsed
		m.ID = 0
		m.Token = ""
		m.RcptTo = rcpt

		if _, err := w.SaveMessage(ctx, &m); err != nil {
			return stored, fmt.Errorf("failed to store message for %s: %w", rcpt, err)
		}

		receipt := &mail.Delivery{
			MessageID:   m.ID,
			Status:      string(mail.StatusProcessed),
			Details:     "Message received and stored",
			SentWithSSL: opts.ReceivedWithSSL,
			LogID:       newLogID(),
			Time:        time.Now(),
		}
		if _, err := w.AddDelivery(ctx, receipt); err != nil {
			return stored, fmt.Errorf("failed to record receipt for %s: %w", rcpt, err)
		}

		stored = append(stored, &m)
	}

	return stored, nil
}

func newLogID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
