package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "AIJudge-Chain/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDispatchesToAllChannels(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, b, nil)

	if got := d.Channels(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected channels: %v", got)
	}

	err := d.Notify(context.Background(), Event{Code: "X", TaskID: "t1"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	event := Event{
		Code:       "TASK_RETRIES_EXHAUSTED",
		Severity:   xerrors.SeverityCritical,
		TaskID:     "task-9",
		Attempts:   3,
		MaxRetries: 3,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.TaskID != "task-9" || received.Attempts != 3 {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestWebhookNotifierSignsCanonicalBody(t *testing.T) {
	var body []byte
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Secret: "hook-secret", Client: srv.Client()}
	event := Event{Code: "TASK_RETRIES_EXHAUSTED", TaskID: "task-1", Attempts: 2, MaxRetries: 2}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signature != Sign("hook-secret", body) {
		t.Fatalf("signature mismatch: %s", signature)
	}
	// 规范化后的键按字典序排列。
	if !bytes.HasPrefix(body, []byte(`{"attempts":2,"code":"TASK_RETRIES_EXHAUSTED"`)) {
		t.Fatalf("body is not canonical: %s", body)
	}
	if Sign("other", body) == signature {
		t.Fatalf("different secrets must produce different signatures")
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{TaskID: "t"}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured notifier should be a no-op, got %v", err)
	}
}
