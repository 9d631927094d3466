package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/maildepot/maildepot/pkg/mail"
)

// ErrNotFound is returned when a lookup matches no message.
var ErrNotFound = errors.New("message not found")

const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		token                 TEXT NOT NULL UNIQUE,
		status                TEXT NOT NULL,
		last_delivery_attempt INTEGER,
		held                  BOOLEAN NOT NULL DEFAULT 0,
		hold_expiry           INTEGER,
		rcpt_to               TEXT NOT NULL DEFAULT '',
		mail_from             TEXT NOT NULL DEFAULT '',
		subject               TEXT NOT NULL DEFAULT '',
		message_id            TEXT NOT NULL DEFAULT '',
		timestamp             INTEGER NOT NULL,
		direction             TEXT NOT NULL,
		size                  INTEGER NOT NULL DEFAULT 0,
		bounce                BOOLEAN NOT NULL DEFAULT 0,
		bounce_for_id         INTEGER NOT NULL DEFAULT 0,
		tag                   TEXT NOT NULL DEFAULT '',
		received_with_ssl     BOOLEAN NOT NULL DEFAULT 0,
		inspected             BOOLEAN NOT NULL DEFAULT 0,
		spam                  BOOLEAN NOT NULL DEFAULT 0,
		spam_score            REAL NOT NULL DEFAULT 0,
		threat                BOOLEAN NOT NULL DEFAULT 0,
		threat_details        TEXT NOT NULL DEFAULT '',
		plain_body            TEXT NOT NULL DEFAULT '',
		html_body             TEXT NOT NULL DEFAULT '',
		raw                   BLOB,
		headers               TEXT NOT NULL DEFAULT '{}',
		loads                 INTEGER NOT NULL DEFAULT 0,
		clicks                INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_rcpt_to ON messages (rcpt_to);
	CREATE INDEX IF NOT EXISTS idx_messages_mail_from ON messages (mail_from);

	CREATE TABLE IF NOT EXISTS deliveries (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id    INTEGER NOT NULL,
		status        TEXT NOT NULL,
		details       TEXT NOT NULL DEFAULT '',
		output        TEXT NOT NULL DEFAULT '',
		sent_with_ssl BOOLEAN NOT NULL DEFAULT 0,
		log_id        TEXT NOT NULL DEFAULT '',
		time          INTEGER,
		timestamp     INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_message_id ON deliveries (message_id);

	CREATE TABLE IF NOT EXISTS attachments (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id   INTEGER NOT NULL,
		filename     TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		body         BLOB,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments (message_id);
`

const messageColumns = `id, token, status, last_delivery_attempt, held, hold_expiry,
	rcpt_to, mail_from, subject, message_id, timestamp, direction, size, bounce,
	bounce_for_id, tag, received_with_ssl, inspected, spam, spam_score, threat,
	threat_details, plain_body, html_body, raw, headers, loads, clicks`

const insertMessageStmt = `
	INSERT INTO messages (token, status, last_delivery_attempt, held, hold_expiry,
		rcpt_to, mail_from, subject, message_id, timestamp, direction, size, bounce,
		bounce_for_id, tag, received_with_ssl, inspected, spam, spam_score, threat,
		threat_details, plain_body, html_body, raw, headers, loads, clicks)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectMessageStmt = `
	SELECT ` + messageColumns + ` FROM messages WHERE id = ?
`

const insertAttachmentStmt = `
	INSERT INTO attachments (message_id, filename, content_type, body) VALUES (?, ?, ?, ?)
`

const selectAttachmentsStmt = `
	SELECT filename, content_type, body FROM attachments WHERE message_id = ? ORDER BY id
`

const insertDeliveryStmt = `
	INSERT INTO deliveries (message_id, status, details, output, sent_with_ssl, log_id, time, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const selectDeliveriesStmt = `
	SELECT id, message_id, status, details, output, sent_with_ssl, log_id, time, timestamp
	FROM deliveries WHERE message_id = ? ORDER BY id
`

// MessageFilter selects messages for QueryMessages. Zero-valued fields are
// left out of the WHERE clause.
type MessageFilter struct {
	RcptTo    string
	MailFrom  string
	Timestamp *TimeRange
}

// TimeRange bounds the message timestamp in epoch seconds. A zero bound is
// open on that side.
type TimeRange struct {
	GreaterThan int64
	LessThan    int64
}

// Store persists messages, their deliveries and their attachments in a
// single SQLite database.
type Store struct {
	db                *sql.DB
	insertMessage     *sql.Stmt
	selectMessage     *sql.Stmt
	insertAttachment  *sql.Stmt
	selectAttachments *sql.Stmt
	insertDelivery    *sql.Stmt
	selectDeliveries  *sql.Stmt
}

// Open opens (creating if necessary) the message database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Exec(schema): %w", err)
	}

	s := &Store{db: db}

	s.insertMessage, err = db.Prepare(insertMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertMessageStmt): %w", err)
	}
	s.selectMessage, err = db.Prepare(selectMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectMessageStmt): %w", err)
	}
	s.insertAttachment, err = db.Prepare(insertAttachmentStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertAttachmentStmt): %w", err)
	}
	s.selectAttachments, err = db.Prepare(selectAttachmentsStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectAttachmentsStmt): %w", err)
	}
	s.insertDelivery, err = db.Prepare(insertDeliveryStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertDeliveryStmt): %w", err)
	}
	s.selectDeliveries, err = db.Prepare(selectDeliveriesStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectDeliveriesStmt): %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage inserts a message and its attachments in one transaction.
// A missing token, timestamp or status is filled in before the insert, and
// the assigned row id is stored back into m.ID.
func (s *Store) SaveMessage(ctx context.Context, m *mail.Message) (int64, error) {
	if m.Token == "" {
		m.Token = newToken()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.Status == "" {
		m.Status = mail.StatusPending
	}

	headers, err := marshalHeaders(m.Headers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode headers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("db.BeginTx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.StmtContext(ctx, s.insertMessage).ExecContext(ctx,
		m.Token, string(m.Status), epochOrNil(m.LastDeliveryAttempt), m.Held,
		epochOrNil(m.HoldExpiry), m.RcptTo, m.MailFrom, m.Subject, m.MessageID,
		m.Timestamp.Unix(), string(m.Direction), m.Size, m.Bounce, m.BounceForID,
		m.Tag, m.ReceivedWithSSL, m.Inspected, m.Spam, m.SpamScore, m.Threat,
		m.ThreatDetails, m.PlainBody, m.HTMLBody, m.Raw, headers, m.Loads, m.Clicks)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}

	for _, att := range m.Attachments {
		_, err := tx.StmtContext(ctx, s.insertAttachment).ExecContext(ctx,
			id, att.Filename, att.ContentType, att.Body)
		if err != nil {
			return 0, fmt.Errorf("failed to insert attachment %s: %w", att.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("tx.Commit: %w", err)
	}

	m.ID = id
	return id, nil
}

// FindMessage loads one message with its attachments. Returns ErrNotFound
// when no row matches.
func (s *Store) FindMessage(ctx context.Context, id int64) (*mail.Message, error) {
	row := s.selectMessage.QueryRowContext(ctx, id)

	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", id, err)
	}

	if err := s.loadAttachments(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// QueryMessages returns the messages matching the filter, newest first.
func (s *Store) QueryMessages(ctx context.Context, filter MessageFilter) ([]*mail.Message, error) {
	var conds []string
	var args []interface{}

	if filter.RcptTo != "" {
		conds = append(conds, "rcpt_to = ?")
		args = append(args, filter.RcptTo)
	}
	if filter.MailFrom != "" {
		conds = append(conds, "mail_from = ?")
		args = append(args, filter.MailFrom)
	}
	if filter.Timestamp != nil {
		if filter.Timestamp.GreaterThan != 0 {
			conds = append(conds, "timestamp > ?")
			args = append(args, filter.Timestamp.GreaterThan)
		}
		if filter.Timestamp.LessThan != 0 {
			conds = append(conds, "timestamp < ?")
			args = append(args, filter.Timestamp.LessThan)
		}
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*mail.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	for _, m := range messages {
		if err := s.loadAttachments(ctx, m); err != nil {
			return nil, err
		}
	}

	return messages, nil
}

// Deliveries returns the delivery records for a message in insertion order.
func (s *Store) Deliveries(ctx context.Context, messageID int64) ([]mail.Delivery, error) {
	rows, err := s.selectDeliveries.QueryContext(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []mail.Delivery
	for rows.Next() {
		var d mail.Delivery
		var eventTime sql.NullInt64
		var timestamp int64
		err := rows.Scan(&d.ID, &d.MessageID, &d.Status, &d.Details, &d.Output,
			&d.SentWithSSL, &d.LogID, &eventTime, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.Time = timeFromEpoch(eventTime)
		d.Timestamp = time.Unix(timestamp, 0).UTC()
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deliveries: %w", err)
	}

	return deliveries, nil
}

// AddDelivery appends a delivery record for a message. A missing timestamp
// is filled in, and the assigned row id is stored back into d.ID.
func (s *Store) AddDelivery(ctx context.Context, d *mail.Delivery) (int64, error) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	res, err := s.insertDelivery.ExecContext(ctx, d.MessageID, d.Status, d.Details,
		d.Output, d.SentWithSSL, d.LogID, epochOrNil(d.Time), d.Timestamp.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert delivery: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}

	d.ID = id
	return id, nil
}

func (s *Store) loadAttachments(ctx context.Context, m *mail.Message) error {
	rows, err := s.selectAttachments.QueryContext(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var att mail.Attachment
		if err := rows.Scan(&att.Filename, &att.ContentType, &att.Body); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, att)
	}
	return rows.Err()
}

func scanMessage(row interface {
	Scan(dest ...interface{}) error
}) (*mail.Message, error) {
	var m mail.Message
	var status, direction, headers string
	var lastAttempt, holdExpiry sql.NullInt64
	var timestamp int64

	err := row.Scan(&m.ID, &m.Token, &status, &lastAttempt, &m.Held, &holdExpiry,
		&m.RcptTo, &m.MailFrom, &m.Subject, &m.MessageID, &timestamp, &direction,
		&m.Size, &m.Bounce, &m.BounceForID, &m.Tag, &m.ReceivedWithSSL,
		&m.Inspected, &m.Spam, &m.SpamScore, &m.Threat, &m.ThreatDetails,
		&m.PlainBody, &m.HTMLBody, &m.Raw, &headers, &m.Loads, &m.Clicks)
	if err != nil {
		return nil, err
	}

	m.Status = mail.Status(status)
	m.Direction = mail.Direction(direction)
	m.LastDeliveryAttempt = timeFromEpoch(lastAttempt)
	m.HoldExpiry = timeFromEpoch(holdExpiry)
	m.Timestamp = time.Unix(timestamp, 0).UTC()

	if err := json.Unmarshal([]byte(headers), &m.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}

	return &m, nil
}

func marshalHeaders(h mail.Header) (string, error) {
	if h == nil {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func epochOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timeFromEpoch(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}

// newToken returns the public token assigned to stored messages, a 32
// character hex string.
func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
