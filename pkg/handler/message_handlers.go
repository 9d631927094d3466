package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/maildepot/maildepot/pkg/mail"
	"github.com/maildepot/maildepot/pkg/storage"
)

var errMissingID = &ParameterError{Message: "`id` parameter is required but is missing"}

// handleMessage handles the messages.message action: resolve one message
// by id and project it under the request's expansion directive.
func (h *Handler) handleMessage(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	rawID, ok := args["id"]
	if !idSupplied(rawID, ok) {
		return nil, errMissingID
	}

	m, err := h.findMessage(ctx, rawID)
	if err != nil {
		return nil, err
	}

	return ProjectMessage(m, ParseExpansions(args["_expansions"])), nil
}

// handleDeliveries handles the messages.deliveries action: the message's
// delivery history in insertion order, in the fixed delivery shape.
func (h *Handler) handleDeliveries(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	rawID, ok := args["id"]
	if !idSupplied(rawID, ok) {
		return nil, errMissingID
	}

	m, err := h.findMessage(ctx, rawID)
	if err != nil {
		return nil, err
	}

	deliveries, err := h.store.Deliveries(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	projections := make([]DeliveryProjection, 0, len(deliveries))
	for _, d := range deliveries {
		projections = append(projections, ProjectDelivery(d))
	}
	return projections, nil
}

// handleQuery handles the messages.query action: filter messages by
// recipient, sender and time window, newest first. When the request
// carried no _expansions value at all the result degrades to bare ids.
func (h *Handler) handleQuery(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	filter := storage.MessageFilter{}

	if to, ok := args["to"].(string); ok && to != "" {
		filter.RcptTo = to
	}
	if from, ok := args["from"].(string); ok && from != "" {
		filter.MailFrom = from
	}

	// Both bounds must parse before storage is touched
	var window storage.TimeRange
	haveWindow := false

	if before, ok := args["before"].(string); ok && before != "" {
		epoch, err := ParseTimeWindow(before, h.loc)
		if err != nil {
			return nil, windowParameterError("before")
		}
		window.LessThan = epoch
		haveWindow = true
	}
	if after, ok := args["after"].(string); ok && after != "" {
		epoch, err := ParseTimeWindow(after, h.loc)
		if err != nil {
			return nil, windowParameterError("after")
		}
		window.GreaterThan = epoch
		haveWindow = true
	}
	if haveWindow {
		filter.Timestamp = &window
	}

	messages, err := h.store.QueryMessages(ctx, filter)
	if err != nil {
		return nil, err
	}

	ex := ParseExpansions(args["_expansions"])
	if !ex.Supplied() {
		ids := make([]int64, 0, len(messages))
		for _, m := range messages {
			ids = append(ids, m.ID)
		}
		return ids, nil
	}

	projections := make([]*MessageProjection, 0, len(messages))
	for _, m := range messages {
		projections = append(projections, ProjectMessage(m, ex))
	}
	return projections, nil
}

// findMessage resolves the raw id parameter against the store, translating
// a storage miss into the typed not-found error that echoes the client's
// identifier.
func (h *Handler) findMessage(ctx context.Context, rawID interface{}) (*mail.Message, error) {
	m, err := h.store.FindMessage(ctx, messageID(rawID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewMessageNotFoundError(rawID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// idSupplied reports whether the id parameter is present and non-empty.
func idSupplied(v interface{}, ok bool) bool {
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

// messageID converts the raw id parameter to a numeric message id. JSON
// numbers arrive as float64; a non-numeric string becomes 0, which matches
// no stored message.
func messageID(v interface{}) int64 {
	switch id := v.(type) {
	case float64:
		return int64(id)
	case int64:
		return id
	case int:
		return int64(id)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		return n
	default:
		return 0
	}
}
