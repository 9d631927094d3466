package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/maildepot/maildepot/pkg/mail"
)

func TestSendMessage(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	result, err := h.Call(context.Background(), "send.message", map[string]interface{}{
		"to":         []interface{}{"a@x.com", "b@x.com"},
		"cc":         []interface{}{"c@x.com"},
		"from":       "Sender <s@x.com>",
		"subject":    "Hello",
		"plain_body": "Hi there",
		"tag":        "newsletter",
		"headers":    map[string]interface{}{"X-Campaign": "q3"},
		"attachments": []interface{}{
			map[string]interface{}{
				"name":         "report.txt",
				"content_type": "text/plain",
				"data":         base64.StdEncoding.EncodeToString([]byte("hello")),
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}

	res, ok := result.(*SendResult)
	if !ok {
		t.Fatalf("Expected *SendResult, got %T", result)
	}
	if !strings.HasSuffix(res.MessageID, "@mail.example.com") {
		t.Errorf("Expected generated message id on our hostname, got %s", res.MessageID)
	}

	if store.saveCalls != 3 {
		t.Fatalf("Expected one stored copy per recipient, got %d", store.saveCalls)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("Expected 3 receipts, got %d", len(res.Messages))
	}
	for _, rcpt := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		receipt, ok := res.Messages[rcpt]
		if !ok {
			t.Errorf("Expected a receipt for %s", rcpt)
			continue
		}
		if receipt.ID == 0 || receipt.Token == "" {
			t.Errorf("Expected a populated receipt for %s, got %+v", rcpt, receipt)
		}
	}

	for i, rcpt := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		m := store.saved[i]
		if m.RcptTo != rcpt {
			t.Errorf("Expected copy %d for %s, got %s", i, rcpt, m.RcptTo)
		}
		if m.Direction != mail.DirectionOutbound {
			t.Errorf("Expected outbound direction, got %s", m.Direction)
		}
		if m.Status != mail.StatusPending {
			t.Errorf("Expected pending status, got %s", m.Status)
		}
	}

	first := store.saved[0]
	if first.MailFrom != "s@x.com" {
		t.Errorf("Expected bare envelope sender, got %s", first.MailFrom)
	}
	if first.Subject != "Hello" {
		t.Errorf("Expected subject Hello, got %s", first.Subject)
	}
	if first.Tag != "newsletter" {
		t.Errorf("Expected tag newsletter, got %s", first.Tag)
	}
	if first.MessageID != res.MessageID {
		t.Errorf("Expected stored message id %s, got %s", res.MessageID, first.MessageID)
	}
	if !strings.Contains(first.PlainBody, "Hi there") {
		t.Errorf("Expected plain body to survive, got %q", first.PlainBody)
	}
	if got := first.Headers["X-Campaign"]; len(got) != 1 || got[0] != "q3" {
		t.Errorf("Expected custom header to survive, got %v", got)
	}
	if len(first.Attachments) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(first.Attachments))
	}
	if first.Attachments[0].Filename != "report.txt" || string(first.Attachments[0].Body) != "hello" {
		t.Errorf("Unexpected attachment: %+v", first.Attachments[0])
	}
}

func TestSendMessageValidation(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"to":         []interface{}{"a@x.com"},
			"from":       "s@x.com",
			"plain_body": "Hi",
		}
	}

	cases := []struct {
		name   string
		mutate func(args map[string]interface{})
		want   string
	}{
		{
			name:   "missing to",
			mutate: func(args map[string]interface{}) { delete(args, "to") },
			want:   "at least one `to` recipient is required",
		},
		{
			name:   "empty to",
			mutate: func(args map[string]interface{}) { args["to"] = []interface{}{} },
			want:   "at least one `to` recipient is required",
		},
		{
			name:   "missing from",
			mutate: func(args map[string]interface{}) { delete(args, "from") },
			want:   "`from` parameter is required but is missing",
		},
		{
			name:   "missing bodies",
			mutate: func(args map[string]interface{}) { delete(args, "plain_body") },
			want:   "either `plain_body` or `html_body` is required",
		},
		{
			name: "attachment without name",
			mutate: func(args map[string]interface{}) {
				args["attachments"] = []interface{}{map[string]interface{}{"data": "aGk="}}
			},
			want: "an attachment is missing a `name`",
		},
		{
			name: "attachment with bad base64",
			mutate: func(args map[string]interface{}) {
				args["attachments"] = []interface{}{map[string]interface{}{"name": "report.txt", "data": "!!!"}}
			},
			want: "attachment `report.txt` data is not valid base64",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			args := base()
			tc.mutate(args)

			_, err := newTestHandler(store).Call(context.Background(), "send.message", args)

			var perr *ParameterError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected ParameterError, got %v", err)
			}
			if perr.Message != tc.want {
				t.Errorf("Unexpected message: %s", perr.Message)
			}
			if store.saveCalls != 0 {
				t.Errorf("Expected nothing stored, got %d saves", store.saveCalls)
			}
		})
	}
}

func TestSendRaw(t *testing.T) {
	raw := strings.Join([]string{
		"From: header@x.com",
		"To: r1@x.com",
		"Subject: Raw",
		"Message-Id: <raw-test@x.com>",
		"Date: Mon, 05 Feb 2024 10:00:00 +0000",
		"Content-Type: text/plain",
		"",
		"Body line",
		"",
	}, "\r\n")

	store := newFakeStore()
	result, err := newTestHandler(store).Call(context.Background(), "send.raw", map[string]interface{}{
		"mail_from": "env@x.com",
		"rcpt_to":   []interface{}{"r1@x.com", "r2@x.com"},
		"data":      base64.StdEncoding.EncodeToString([]byte(raw)),
	})
	if err != nil {
		t.Fatalf("Failed to send raw message: %v", err)
	}

	res, ok := result.(*SendResult)
	if !ok {
		t.Fatalf("Expected *SendResult, got %T", result)
	}
	if res.MessageID != "raw-test@x.com" {
		t.Errorf("Expected the parsed message id, got %s", res.MessageID)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("Expected 2 receipts, got %d", len(res.Messages))
	}

	if store.saveCalls != 2 {
		t.Fatalf("Expected 2 stored copies, got %d", store.saveCalls)
	}
	for i, rcpt := range []string{"r1@x.com", "r2@x.com"} {
		m := store.saved[i]
		if m.RcptTo != rcpt {
			t.Errorf("Expected copy %d for %s, got %s", i, rcpt, m.RcptTo)
		}
		if m.MailFrom != "env@x.com" {
			t.Errorf("Expected the envelope sender, got %s", m.MailFrom)
		}
		if m.Direction != mail.DirectionOutbound || m.Status != mail.StatusPending {
			t.Errorf("Unexpected state: %s/%s", m.Direction, m.Status)
		}
	}
}

func TestSendRawValidation(t *testing.T) {
	cases := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{
			name: "missing mail_from",
			args: map[string]interface{}{"rcpt_to": []interface{}{"r@x.com"}, "data": "aGk="},
			want: "`mail_from` parameter is required but is missing",
		},
		{
			name: "missing rcpt_to",
			args: map[string]interface{}{"mail_from": "s@x.com", "data": "aGk="},
			want: "at least one `rcpt_to` recipient is required",
		},
		{
			name: "missing data",
			args: map[string]interface{}{"mail_from": "s@x.com", "rcpt_to": []interface{}{"r@x.com"}},
			want: "`data` parameter is required but is missing",
		},
		{
			name: "invalid base64",
			args: map[string]interface{}{"mail_from": "s@x.com", "rcpt_to": []interface{}{"r@x.com"}, "data": "!!!"},
			want: "`data` parameter is not valid base64",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			_, err := newTestHandler(store).Call(context.Background(), "send.raw", tc.args)

			var perr *ParameterError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected ParameterError, got %v", err)
			}
			if perr.Message != tc.want {
				t.Errorf("Unexpected message: %s", perr.Message)
			}
			if store.saveCalls != 0 {
				t.Errorf("Expected nothing stored, got %d saves", store.saveCalls)
			}
		})
	}
}
