package handler

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/maildepot/maildepot/pkg/mail"
)

// The nine expansion groups, in the order they appear in a projection.
const (
	groupStatus          = "status"
	groupDetails         = "details"
	groupInspection      = "inspection"
	groupPlainBody       = "plain_body"
	groupHTMLBody        = "html_body"
	groupAttachments     = "attachments"
	groupHeaders         = "headers"
	groupRawMessage      = "raw_message"
	groupActivityEntries = "activity_entries"
)

// MessageProjection is the JSON shape of one message under an expansion
// directive. id and token are always present; every group field is filled
// in only when its group is active and omitted from the output otherwise.
type MessageProjection struct {
	ID              int64                   `json:"id"`
	Token           string                  `json:"token"`
	Status          *StatusProjection       `json:"status,omitempty"`
	Details         *DetailsProjection      `json:"details,omitempty"`
	Inspection      *InspectionProjection   `json:"inspection,omitempty"`
	PlainBody       *string                 `json:"plain_body,omitempty"`
	HTMLBody        *string                 `json:"html_body,omitempty"`
	Attachments     *[]AttachmentProjection `json:"attachments,omitempty"`
	Headers         *mail.Header            `json:"headers,omitempty"`
	RawMessage      *string                 `json:"raw_message,omitempty"`
	ActivityEntries *ActivityProjection     `json:"activity_entries,omitempty"`
}

// StatusProjection is the status group.
type StatusProjection struct {
	Status              string `json:"status"`
	LastDeliveryAttempt *int64 `json:"last_delivery_attempt"`
	Held                bool   `json:"held"`
	HoldExpiry          *int64 `json:"hold_expiry"`
}

// DetailsProjection is the details group.
type DetailsProjection struct {
	RcptTo          string `json:"rcpt_to"`
	MailFrom        string `json:"mail_from"`
	Subject         string `json:"subject"`
	MessageID       string `json:"message_id"`
	Timestamp       int64  `json:"timestamp"`
	Direction       string `json:"direction"`
	Size            int64  `json:"size"`
	Bounce          bool   `json:"bounce"`
	BounceForID     int64  `json:"bounce_for_id"`
	Tag             string `json:"tag"`
	ReceivedWithSSL bool   `json:"received_with_ssl"`
}

// InspectionProjection is the inspection group.
type InspectionProjection struct {
	Inspected     bool    `json:"inspected"`
	Spam          bool    `json:"spam"`
	SpamScore     float64 `json:"spam_score"`
	Threat        bool    `json:"threat"`
	ThreatDetails string  `json:"threat_details"`
}

// AttachmentProjection is one entry of the attachments group. Data, Size
// and Hash are derived from the raw attachment body on every projection.
type AttachmentProjection struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Size        int    `json:"size"`
	Hash        string `json:"hash"`
}

// ActivityProjection is the activity_entries group.
type ActivityProjection struct {
	Loads  int `json:"loads"`
	Clicks int `json:"clicks"`
}

// messageGroups drives projection in the fixed group order. A build
// function runs only when its group is active, which keeps the expensive
// groups (attachment encoding and hashing in particular) lazy. The same
// table serves the single-message and collection endpoints.
var messageGroups = []struct {
	name  string
	build func(*MessageProjection, *mail.Message)
}{
	{groupStatus, buildStatus},
	{groupDetails, buildDetails},
	{groupInspection, buildInspection},
	{groupPlainBody, buildPlainBody},
	{groupHTMLBody, buildHTMLBody},
	{groupAttachments, buildAttachments},
	{groupHeaders, buildHeaders},
	{groupRawMessage, buildRawMessage},
	{groupActivityEntries, buildActivityEntries},
}

// ProjectMessage builds the projection of m under the given directive.
// Groups are independent of each other; activating one never changes the
// shape of another.
func ProjectMessage(m *mail.Message, ex Expansions) *MessageProjection {
	p := &MessageProjection{ID: m.ID, Token: m.Token}

	for _, group := range messageGroups {
		if ex.Active(group.name) {
			group.build(p, m)
		}
	}

	return p
}

func buildStatus(p *MessageProjection, m *mail.Message) {
	p.Status = &StatusProjection{
		Status:              string(m.Status),
		LastDeliveryAttempt: epochPtr(m.LastDeliveryAttempt),
		Held:                m.Held,
		HoldExpiry:          epochPtr(m.HoldExpiry),
	}
}

func buildDetails(p *MessageProjection, m *mail.Message) {
	p.Details = &DetailsProjection{
		RcptTo:          m.RcptTo,
		MailFrom:        m.MailFrom,
		Subject:         m.Subject,
		MessageID:       m.MessageID,
		Timestamp:       m.Timestamp.Unix(),
		Direction:       string(m.Direction),
		Size:            m.Size,
		Bounce:          m.Bounce,
		BounceForID:     m.BounceForID,
		Tag:             m.Tag,
		ReceivedWithSSL: m.ReceivedWithSSL,
	}
}

func buildInspection(p *MessageProjection, m *mail.Message) {
	p.Inspection = &InspectionProjection{
		Inspected:     m.Inspected,
		Spam:          m.Spam,
		SpamScore:     m.SpamScore,
		Threat:        m.Threat,
		ThreatDetails: m.ThreatDetails,
	}
}

func buildPlainBody(p *MessageProjection, m *mail.Message) {
	p.PlainBody = &m.PlainBody
}

func buildHTMLBody(p *MessageProjection, m *mail.Message) {
	p.HTMLBody = &m.HTMLBody
}

func buildAttachments(p *MessageProjection, m *mail.Message) {
	attachments := make([]AttachmentProjection, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		attachments = append(attachments, AttachmentProjection{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Data:        base64.StdEncoding.EncodeToString(att.Body),
			Size:        len(att.Body),
			Hash:        sha1Hex(att.Body),
		})
	}
	// An active group serializes as [] when the message has no attachments
	p.Attachments = &attachments
}

func buildHeaders(p *MessageProjection, m *mail.Message) {
	headers := m.Headers
	if headers == nil {
		headers = mail.Header{}
	}
	p.Headers = &headers
}

func buildRawMessage(p *MessageProjection, m *mail.Message) {
	raw := base64.StdEncoding.EncodeToString(m.Raw)
	p.RawMessage = &raw
}

func buildActivityEntries(p *MessageProjection, m *mail.Message) {
	p.ActivityEntries = &ActivityProjection{Loads: m.Loads, Clicks: m.Clicks}
}

// DeliveryProjection is the fixed, non-expandable shape of one delivery
// record.
type DeliveryProjection struct {
	ID          int64   `json:"id"`
	Status      string  `json:"status"`
	Details     string  `json:"details"`
	Output      *string `json:"output"`
	SentWithSSL bool    `json:"sent_with_ssl"`
	LogID       string  `json:"log_id"`
	Time        *int64  `json:"time"`
	Timestamp   int64   `json:"timestamp"`
}

// ProjectDelivery builds the projection of one delivery. The transport
// output is whitespace-trimmed and nulled when empty.
func ProjectDelivery(d mail.Delivery) DeliveryProjection {
	p := DeliveryProjection{
		ID:          d.ID,
		Status:      d.Status,
		Details:     d.Details,
		SentWithSSL: d.SentWithSSL,
		LogID:       d.LogID,
		Time:        epochPtr(d.Time),
		Timestamp:   d.Timestamp.Unix(),
	}

	if output := strings.TrimSpace(d.Output); output != "" {
		p.Output = &output
	}

	return p
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func epochPtr(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	v := t.Unix()
	return &v
}
