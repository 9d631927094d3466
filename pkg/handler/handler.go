package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/maildepot/maildepot/pkg/mail"
	"github.com/maildepot/maildepot/pkg/storage"
)

// Store is the storage surface the handler reads from and writes to.
// *storage.Store satisfies it; tests use a fake.
type Store interface {
	FindMessage(ctx context.Context, id int64) (*mail.Message, error)
	QueryMessages(ctx context.Context, filter storage.MessageFilter) ([]*mail.Message, error)
	Deliveries(ctx context.Context, messageID int64) ([]mail.Delivery, error)
	SaveMessage(ctx context.Context, m *mail.Message) (int64, error)
}

// Handler serves the message retrieval and injection actions.
type Handler struct {
	store    Store
	loc      *time.Location
	hostname string
}

// New creates a handler backed by the given store. Date parameters are
// interpreted in loc (UTC when nil); hostname feeds generated message ids.
func New(store Store, loc *time.Location, hostname string) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:    store,
		loc:      loc,
		hostname: hostname,
	}
}

// Call dispatches one action by name and returns its result payload. The
// transport layer wraps the payload (or the error) in the response
// envelope.
func (h *Handler) Call(ctx context.Context, action string, args map[string]interface{}) (interface{}, error) {
	switch action {
	case "messages.message":
		return h.handleMessage(ctx, args)
	case "messages.deliveries":
		return h.handleDeliveries(ctx, args)
	case "messages.query":
		return h.handleQuery(ctx, args)
	case "send.message":
		return h.handleSendMessage(ctx, args)
	case "send.raw":
		return h.handleSendRaw(ctx, args)
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}

// Actions returns the action names Call accepts.
func Actions() []string {
	return []string{
		"messages.message",
		"messages.deliveries",
		"messages.query",
		"send.message",
		"send.raw",
	}
}
