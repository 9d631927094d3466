package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/maildepot/maildepot/pkg/mail"
	"github.com/maildepot/maildepot/pkg/storage"
)

// fakeStore records every call so tests can assert which storage
// operations a handler performed.
type fakeStore struct {
	messages   map[int64]*mail.Message
	deliveries map[int64][]mail.Delivery

	queryResult []*mail.Message
	lastFilter  storage.MessageFilter

	findCalls     int
	queryCalls    int
	deliveryCalls int
	saveCalls     int

	nextID int64
	saved  []*mail.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:   map[int64]*mail.Message{},
		deliveries: map[int64][]mail.Delivery{},
	}
}

func (f *fakeStore) FindMessage(ctx context.Context, id int64) (*mail.Message, error) {
	f.findCalls++
	m, ok := f.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) QueryMessages(ctx context.Context, filter storage.MessageFilter) ([]*mail.Message, error) {
	f.queryCalls++
	f.lastFilter = filter
	return f.queryResult, nil
}

func (f *fakeStore) Deliveries(ctx context.Context, messageID int64) ([]mail.Delivery, error) {
	f.deliveryCalls++
	return f.deliveries[messageID], nil
}

func (f *fakeStore) SaveMessage(ctx context.Context, m *mail.Message) (int64, error) {
	f.saveCalls++
	f.nextID++
	m.ID = f.nextID
	m.Token = fmt.Sprintf("token%d", f.nextID)
	f.saved = append(f.saved, m)
	return m.ID, nil
}

func newTestHandler(store Store) *Handler {
	return New(store, time.UTC, "mail.example.com")
}

func TestMessageRequiresID(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"absent": {},
		"nil":    {"id": nil},
		"empty":  {"id": ""},
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			_, err := newTestHandler(store).Call(context.Background(), "messages.message", args)

			var perr *ParameterError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected ParameterError, got %v", err)
			}
			if perr.Message != "`id` parameter is required but is missing" {
				t.Errorf("Unexpected message: %s", perr.Message)
			}
			if store.findCalls != 0 {
				t.Errorf("Expected no storage lookup, got %d", store.findCalls)
			}
		})
	}
}

func TestMessageNotFound(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	_, err := h.Call(context.Background(), "messages.message", map[string]interface{}{"id": "12345"})

	var nf *MessageNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected MessageNotFoundError, got %v", err)
	}
	if nf.Message != "No message found matching provided ID" {
		t.Errorf("Unexpected message: %s", nf.Message)
	}
	if nf.ID != "12345" {
		t.Errorf("Expected the id echoed verbatim, got %v", nf.ID)
	}

	// JSON numbers arrive as float64 and are echoed as supplied
	_, err = h.Call(context.Background(), "messages.message", map[string]interface{}{"id": float64(99)})
	if !errors.As(err, &nf) {
		t.Fatalf("Expected MessageNotFoundError, got %v", err)
	}
	if nf.ID != float64(99) {
		t.Errorf("Expected the numeric id echoed, got %v", nf.ID)
	}

	if store.findCalls != 2 {
		t.Errorf("Expected 2 storage lookups, got %d", store.findCalls)
	}
}

func TestMessageNonNumericID(t *testing.T) {
	store := newFakeStore()
	store.messages[1] = sampleMessage()

	_, err := newTestHandler(store).Call(context.Background(), "messages.message", map[string]interface{}{"id": "not-a-number"})

	var nf *MessageNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected MessageNotFoundError, got %v", err)
	}
	if nf.ID != "not-a-number" {
		t.Errorf("Expected the raw value echoed, got %v", nf.ID)
	}
}

func TestMessageExpansions(t *testing.T) {
	store := newFakeStore()
	store.messages[42] = sampleMessage()
	h := newTestHandler(store)

	cases := []struct {
		name       string
		expansions interface{}
		supply     bool
		wantKeys   int
	}{
		{name: "absent", supply: false, wantKeys: 2},
		{name: "false", expansions: false, supply: true, wantKeys: 2},
		{name: "true", expansions: true, supply: true, wantKeys: 2 + len(allGroups)},
		{name: "named", expansions: []interface{}{"status", "plain_body"}, supply: true, wantKeys: 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := map[string]interface{}{"id": float64(42)}
			if tc.supply {
				args["_expansions"] = tc.expansions
			}

			result, err := h.Call(context.Background(), "messages.message", args)
			if err != nil {
				t.Fatalf("Failed to fetch message: %v", err)
			}

			projection, ok := result.(*MessageProjection)
			if !ok {
				t.Fatalf("Expected *MessageProjection, got %T", result)
			}
			keys := projectionKeys(t, projection)
			if len(keys) != tc.wantKeys {
				t.Errorf("Expected %d keys, got %d (%v)", tc.wantKeys, len(keys), keys)
			}
		})
	}
}

func TestDeliveries(t *testing.T) {
	store := newFakeStore()
	store.messages[42] = sampleMessage()
	store.deliveries[42] = []mail.Delivery{
		{ID: 1, Status: "sent", Details: "Accepted", Output: "250 OK\n", LogID: "a", Timestamp: time.Now()},
		{ID: 2, Status: "soft_fail", Details: "Greylisted", LogID: "b", Timestamp: time.Now()},
	}

	result, err := newTestHandler(store).Call(context.Background(), "messages.deliveries", map[string]interface{}{"id": float64(42)})
	if err != nil {
		t.Fatalf("Failed to fetch deliveries: %v", err)
	}

	projections, ok := result.([]DeliveryProjection)
	if !ok {
		t.Fatalf("Expected []DeliveryProjection, got %T", result)
	}
	if len(projections) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(projections))
	}
	if projections[0].ID != 1 || projections[1].ID != 2 {
		t.Errorf("Expected insertion order, got %d then %d", projections[0].ID, projections[1].ID)
	}
	if projections[0].Output == nil || *projections[0].Output != "250 OK" {
		t.Errorf("Expected trimmed output, got %v", projections[0].Output)
	}
	if projections[1].Output != nil {
		t.Errorf("Expected nil output for second delivery, got %v", projections[1].Output)
	}
}

func TestDeliveriesRequiresID(t *testing.T) {
	store := newFakeStore()
	_, err := newTestHandler(store).Call(context.Background(), "messages.deliveries", map[string]interface{}{})

	var perr *ParameterError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ParameterError, got %v", err)
	}
	if store.findCalls != 0 || store.deliveryCalls != 0 {
		t.Error("Expected no storage calls")
	}
}

func TestDeliveriesUnknownMessage(t *testing.T) {
	store := newFakeStore()
	_, err := newTestHandler(store).Call(context.Background(), "messages.deliveries", map[string]interface{}{"id": float64(9)})

	var nf *MessageNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected MessageNotFoundError, got %v", err)
	}
	if store.deliveryCalls != 0 {
		t.Error("Expected no delivery lookup after a missed message")
	}
}

func TestDeliveriesEmptyHistory(t *testing.T) {
	store := newFakeStore()
	store.messages[42] = sampleMessage()

	result, err := newTestHandler(store).Call(context.Background(), "messages.deliveries", map[string]interface{}{"id": float64(42)})
	if err != nil {
		t.Fatalf("Failed to fetch deliveries: %v", err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Expected empty array, got %s", data)
	}
}

func TestQueryFilterShape(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	_, err := h.Call(context.Background(), "messages.query", map[string]interface{}{
		"to":    "a@x.com",
		"after": "2024-01-01",
	})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	if store.lastFilter.RcptTo != "a@x.com" {
		t.Errorf("Expected recipient filter, got %q", store.lastFilter.RcptTo)
	}
	if store.lastFilter.MailFrom != "" {
		t.Errorf("Expected no sender filter, got %q", store.lastFilter.MailFrom)
	}
	if store.lastFilter.Timestamp == nil {
		t.Fatal("Expected a time range")
	}
	wantAfter := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	if store.lastFilter.Timestamp.GreaterThan != wantAfter {
		t.Errorf("Expected lower bound %d, got %d", wantAfter, store.lastFilter.Timestamp.GreaterThan)
	}
	if store.lastFilter.Timestamp.LessThan != 0 {
		t.Errorf("Expected open upper bound, got %d", store.lastFilter.Timestamp.LessThan)
	}
}

func TestQueryBothBounds(t *testing.T) {
	store := newFakeStore()

	_, err := newTestHandler(store).Call(context.Background(), "messages.query", map[string]interface{}{
		"from":   "sender@example.com",
		"after":  "2024-01-01",
		"before": "2024-02-01 10:30",
	})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	if store.lastFilter.MailFrom != "sender@example.com" {
		t.Errorf("Expected sender filter, got %q", store.lastFilter.MailFrom)
	}
	wantBefore := time.Date(2024, 2, 1, 10, 30, 0, 0, time.UTC).Unix()
	if store.lastFilter.Timestamp == nil || store.lastFilter.Timestamp.LessThan != wantBefore {
		t.Errorf("Expected upper bound %d, got %+v", wantBefore, store.lastFilter.Timestamp)
	}
}

func TestQueryInvalidDates(t *testing.T) {
	cases := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{
			name: "before",
			args: map[string]interface{}{"before": "01/02/2024"},
			want: "`before` parameter is not a valid date: use YYYY-MM-DD or YYYY-MM-DD HH:MM",
		},
		{
			name: "after",
			args: map[string]interface{}{"after": "2024-01-01T10:00:00Z"},
			want: "`after` parameter is not a valid date: use YYYY-MM-DD or YYYY-MM-DD HH:MM",
		},
		{
			name: "both invalid reports before first",
			args: map[string]interface{}{"before": "nope", "after": "also nope"},
			want: "`before` parameter is not a valid date: use YYYY-MM-DD or YYYY-MM-DD HH:MM",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			_, err := newTestHandler(store).Call(context.Background(), "messages.query", tc.args)

			var perr *ParameterError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected ParameterError, got %v", err)
			}
			if perr.Message != tc.want {
				t.Errorf("Unexpected message: %s", perr.Message)
			}
			if store.queryCalls != 0 {
				t.Errorf("Expected no storage query, got %d", store.queryCalls)
			}
		})
	}
}

func TestQueryWithoutExpansionsReturnsIDs(t *testing.T) {
	store := newFakeStore()
	first, second := sampleMessage(), sampleMessage()
	first.ID, second.ID = 7, 3
	store.queryResult = []*mail.Message{first, second}

	result, err := newTestHandler(store).Call(context.Background(), "messages.query", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	ids, ok := result.([]int64)
	if !ok {
		t.Fatalf("Expected []int64, got %T", result)
	}
	if len(ids) != 2 || ids[0] != 7 || ids[1] != 3 {
		t.Errorf("Expected ids in store order, got %v", ids)
	}
}

func TestQueryWithExpansions(t *testing.T) {
	store := newFakeStore()
	store.queryResult = []*mail.Message{sampleMessage()}
	h := newTestHandler(store)

	result, err := h.Call(context.Background(), "messages.query", map[string]interface{}{
		"_expansions": []interface{}{"details"},
	})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	projections, ok := result.([]*MessageProjection)
	if !ok {
		t.Fatalf("Expected []*MessageProjection, got %T", result)
	}
	if len(projections) != 1 {
		t.Fatalf("Expected 1 projection, got %d", len(projections))
	}
	if projections[0].Details == nil {
		t.Error("Expected details group to be built")
	}
	if projections[0].Status != nil {
		t.Error("Expected status group to stay unbuilt")
	}

	// An explicit false still selects the projection shape, just bare
	result, err = h.Call(context.Background(), "messages.query", map[string]interface{}{
		"_expansions": false,
	})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if _, ok := result.([]*MessageProjection); !ok {
		t.Fatalf("Expected []*MessageProjection, got %T", result)
	}
}

func TestQueryEmptyResult(t *testing.T) {
	store := newFakeStore()

	result, err := newTestHandler(store).Call(context.Background(), "messages.query", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Expected empty array, got %s", data)
	}
}

func TestCallUnknownAction(t *testing.T) {
	_, err := newTestHandler(newFakeStore()).Call(context.Background(), "messages.nope", nil)
	if err == nil || err.Error() != "unknown action: messages.nope" {
		t.Errorf("Expected unknown action error, got %v", err)
	}
}
