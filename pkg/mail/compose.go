package mail

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
)

// ComposeOptions represents the structured parameters for building an
// outbound message.
type ComposeOptions struct {
	From        string
	To          []string
	CC          []string
	Subject     string
	PlainBody   string
	HTMLBody    string
	Headers     map[string]string
	Attachments []Attachment
}

// Compose builds the raw RFC 2822 bytes for the given options and returns
// them together with the generated message id (without angle brackets).
// Validation of the options happens at the API boundary; Compose only fails
// when message assembly itself fails.
func Compose(opts ComposeOptions, hostname string) ([]byte, string, error) {
	e := email.NewEmail()

	e.From = opts.From
	e.To = opts.To

	if len(opts.CC) > 0 {
		e.Cc = opts.CC
	}

	e.Subject = opts.Subject

	if opts.PlainBody != "" {
		e.Text = []byte(opts.PlainBody)
	}
	if opts.HTMLBody != "" {
		e.HTML = []byte(opts.HTMLBody)
	}

	for name, value := range opts.Headers {
		e.Headers.Set(name, value)
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), hostname)
	e.Headers.Set("Message-Id", "<"+messageID+">")

	for _, att := range opts.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if _, err := e.Attach(bytes.NewReader(att.Body), att.Filename, contentType); err != nil {
			return nil, "", fmt.Errorf("failed to attach file %s: %w", att.Filename, err)
		}
	}

	raw, err := e.Bytes()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build message: %w", err)
	}

	return raw, messageID, nil
}
