package mail

import "time"

// Status is the delivery-pipeline state of a message. Messages enter the
// store as pending (outbound) or processed (inbound); the later states are
// written by delivery workers outside this process.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusSent      Status = "sent"
	StatusSoftFail  Status = "soft_fail"
	StatusHardFail  Status = "hard_fail"
	StatusHeld      Status = "held"
	StatusBounced   Status = "bounced"
)

// Direction records whether a message was received into the store or
// queued out of it.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Header maps a header name to its values in arrival order.
type Header map[string][]string

// Message is a stored mail message together with everything the retrieval
// API can project: envelope and content fields, inspection results, bodies,
// raw bytes, headers, attachments and activity counters. The ID is assigned
// at insert and never changes; inspection and status fields are updated by
// pipeline stages elsewhere and are read-only here.
type Message struct {
	ID    int64
	Token string

	Status              Status
	LastDeliveryAttempt time.Time // zero = never attempted
	Held                bool
	HoldExpiry          time.Time // zero = no expiry

	RcptTo          string
	MailFrom        string
	Subject         string
	MessageID       string
	Timestamp       time.Time
	Direction       Direction
	Size            int64
	Bounce          bool
	BounceForID     int64
	Tag             string
	ReceivedWithSSL bool

	Inspected     bool
	Spam          bool
	SpamScore     float64
	Threat        bool
	ThreatDetails string

	PlainBody string
	HTMLBody  string
	Raw       []byte

	Headers     Header
	Attachments []Attachment

	Loads  int
	Clicks int
}

// Delivery is one delivery-attempt record belonging to a message. Rows are
// written at ingest time or by the delivery pipeline and read back in
// insertion order.
type Delivery struct {
	ID          int64
	MessageID   int64
	Status      string
	Details     string
	Output      string
	SentWithSSL bool
	LogID       string
	Time        time.Time // zero = no event time recorded
	Timestamp   time.Time
}

// Attachment is one decoded MIME attachment. Body holds the raw bytes;
// encoded, sized and hashed representations are derived from Body at
// projection time, never stored.
type Attachment struct {
	Filename    string
	ContentType string
	Body        []byte
}
