package handler

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/maildepot/maildepot/pkg/mail"
)

// SendReceipt identifies one stored copy of a submitted message.
type SendReceipt struct {
	ID    int64  `json:"id"`
	Token string `json:"token"`
}

// SendResult is the payload of the send actions: the Message-ID header
// value plus one receipt per recipient.
type SendResult struct {
	MessageID string                 `json:"message_id"`
	Messages  map[string]SendReceipt `json:"messages"`
}

// handleSendMessage handles the send.message action: build an outbound
// message from structured parameters and store one pending copy per
// recipient (to and cc alike).
func (h *Handler) handleSendMessage(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	opts := mail.ComposeOptions{
		To: stringList(args["to"]),
		CC: stringList(args["cc"]),
	}
	if len(opts.To) == 0 {
		return nil, &ParameterError{Message: "at least one `to` recipient is required"}
	}

	if from, ok := args["from"].(string); ok {
		opts.From = from
	}
	if opts.From == "" {
		return nil, &ParameterError{Message: "`from` parameter is required but is missing"}
	}

	if subject, ok := args["subject"].(string); ok {
		opts.Subject = subject
	}

	if plainBody, ok := args["plain_body"].(string); ok {
		opts.PlainBody = plainBody
	}
	if htmlBody, ok := args["html_body"].(string); ok {
		opts.HTMLBody = htmlBody
	}
	if opts.PlainBody == "" && opts.HTMLBody == "" {
		return nil, &ParameterError{Message: "either `plain_body` or `html_body` is required"}
	}

	if headers, ok := args["headers"].(map[string]interface{}); ok {
		opts.Headers = make(map[string]string, len(headers))
		for name, value := range headers {
			if s, ok := value.(string); ok {
				opts.Headers[name] = s
			}
		}
	}

	attachments, err := parseAttachments(args["attachments"])
	if err != nil {
		return nil, err
	}
	opts.Attachments = attachments

	tag, _ := args["tag"].(string)
	bounce, _ := args["bounce"].(bool)

	raw, messageID, err := mail.Compose(opts, h.hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to compose message: %w", err)
	}

	// The envelope sender is the bare address parsed back out of the
	// composed From header, not the display form the caller supplied.
	recipients := append(append([]string{}, opts.To...), opts.CC...)
	return h.storeOutbound(ctx, raw, "", recipients, tag, bounce, messageID)
}

// handleSendRaw handles the send.raw action: store a pre-built RFC 2822
// message for the given envelope.
func (h *Handler) handleSendRaw(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	mailFrom, ok := args["mail_from"].(string)
	if !ok || mailFrom == "" {
		return nil, &ParameterError{Message: "`mail_from` parameter is required but is missing"}
	}

	rcptTo := stringList(args["rcpt_to"])
	if len(rcptTo) == 0 {
		return nil, &ParameterError{Message: "at least one `rcpt_to` recipient is required"}
	}

	data, ok := args["data"].(string)
	if !ok || data == "" {
		return nil, &ParameterError{Message: "`data` parameter is required but is missing"}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &ParameterError{Message: "`data` parameter is not valid base64"}
	}

	bounce, _ := args["bounce"].(bool)

	return h.storeOutbound(ctx, raw, mailFrom, rcptTo, "", bounce, "")
}

// storeOutbound parses the raw message once and stores one pending
// outbound copy per recipient, each with its own token. Non-empty mailFrom
// and messageID override the values derived from the message headers.
func (h *Handler) storeOutbound(ctx context.Context, raw []byte, mailFrom string, recipients []string, tag string, bounce bool, messageID string) (*SendResult, error) {
	parsed, err := mail.Parse(raw)
	if err != nil {
		return nil, &ParameterError{Message: fmt.Sprintf("message could not be parsed: %v", err)}
	}

	parsed.Direction = mail.DirectionOutbound
	parsed.Status = mail.StatusPending
	parsed.Bounce = bounce
	if tag != "" {
		parsed.Tag = tag
	}
	if mailFrom != "" {
		parsed.MailFrom = mailFrom
	}
	if messageID == "" {
		messageID = parsed.MessageID
	}

	receipts := make(map[string]SendReceipt, len(recipients))
	for _, rcpt := range recipients {
		m := *parsed
		m.ID = 0
		m.Token = ""
		m.RcptTo = rcpt

		if _, err := h.store.SaveMessage(ctx, &m); err != nil {
			return nil, fmt.Errorf("failed to store message for %s: %w", rcpt, err)
		}

		receipts[rcpt] = SendReceipt{ID: m.ID, Token: m.Token}
	}

	return &SendResult{MessageID: messageID, Messages: receipts}, nil
}

// parseAttachments decodes the attachments parameter: a list of objects
// with name, content_type and base64 data fields.
func parseAttachments(v interface{}) ([]mail.Attachment, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, nil
	}

	var attachments []mail.Attachment
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		name, _ := entry["name"].(string)
		if name == "" {
			return nil, &ParameterError{Message: "an attachment is missing a `name`"}
		}

		data, _ := entry["data"].(string)
		body, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, &ParameterError{Message: fmt.Sprintf("attachment `%s` data is not valid base64", name)}
		}

		contentType, _ := entry["content_type"].(string)
		attachments = append(attachments, mail.Attachment{
			Filename:    name,
			ContentType: contentType,
			Body:        body,
		})
	}

	return attachments, nil
}

// stringList extracts a list of strings from a decoded JSON value,
// tolerating both []interface{} (HTTP requests) and []string (in-process
// callers).
func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []interface{}:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return list
	default:
		return nil
	}
}
