package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Parse decodes a raw RFC 2822 message into a Message. It collects every
// header, picks the first text/plain and text/html inline parts as the
// bodies, decodes attachment parts in full, and derives a plain body from
// the HTML one when the message carries no text/plain part. The From/To
// headers seed MailFrom/RcptTo; intake paths that know the real envelope
// overwrite them afterwards.
func Parse(raw []byte) (*Message, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	m := &Message{
		Raw:     raw,
		Size:    int64(len(raw)),
		Headers: Header{},
	}

	header := mr.Header

	fields := header.Fields()
	for fields.Next() {
		key := fields.Key()
		m.Headers[key] = append(m.Headers[key], strings.TrimSpace(fields.Value()))
	}

	if subject, err := header.Subject(); err == nil {
		m.Subject = subject
	} else {
		m.Subject = header.Get("Subject")
	}

	m.MessageID = strings.Trim(strings.TrimSpace(header.Get("Message-Id")), "<>")

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		m.MailFrom = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil && len(to) > 0 {
		m.RcptTo = to[0].Address
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		m.Timestamp = date
	} else {
		m.Timestamp = time.Now()
	}

	// Extract bodies and attachments
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := p.Header.(type) {
		case *gomail.InlineHeader:
			b, _ := io.ReadAll(p.Body)
			ct, _, _ := h.ContentType()
			if strings.Contains(ct, "text/html") {
				if m.HTMLBody == "" {
					m.HTMLBody = string(b)
				}
			} else if strings.Contains(ct, "text/plain") {
				if m.PlainBody == "" {
					m.PlainBody = string(b)
				}
			}
		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			b, _ := io.ReadAll(p.Body)
			m.Attachments = append(m.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Body:        b,
			})
		}
	}

	if m.PlainBody == "" && m.HTMLBody != "" {
		m.PlainBody = HTMLToText(m.HTMLBody)
	}

	return m, nil
}
