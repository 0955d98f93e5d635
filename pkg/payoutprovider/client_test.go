package payoutprovider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

type countingObserver struct {
	retries atomic.Int32
}

func (o *countingObserver) IncProviderRetry(string) { o.retries.Add(1) }

func newTestClient(t *testing.T, srv *httptest.Server, obs RetryObserver) *Client {
	t.Helper()
	client, err := NewClient(ClientParams{
		BaseURL:      srv.URL,
		ClientID:     "client-1",
		ClientSecret: "shh",
		Timeout:      time.Second,
		MaxRetries:   2,
		RetryBase:    time.Millisecond,
		HTTPClient:   srv.Client(),
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Observer:     obs,
		Clock:        func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if _, err := NewClient(ClientParams{BaseURL: "https://x.example.com", ClientID: "id", Logger: logg}); err == nil {
		t.Fatalf("expected error without secret")
	}
	if _, err := NewClient(ClientParams{BaseURL: "not a url", ClientID: "id", ClientSecret: "s", Logger: logg}); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
}

func TestSubmitBatchSignsRequest(t *testing.T) {
	var got wireSubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payouts/batches" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get(headerClientID) != "client-1" {
			t.Errorf("missing client id header")
		}
		if r.Header.Get(headerTimestamp) != "1700000000" {
			t.Errorf("unexpected timestamp %q", r.Header.Get(headerTimestamp))
		}
		want := Sign("shh", requestSigningPayload("1700000000", r.Method, r.URL.Path, body))
		if r.Header.Get(headerSignature) != want {
			t.Errorf("signature mismatch")
		}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"batch_id":"EXT-1","status":"PENDING"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil)
	resp, err := client.SubmitBatch(context.Background(), SubmitRequest{
		SenderBatchID: "batch-1",
		Currency:      "USD",
		Items: []Item{
			{SenderItemID: "item-1", Receiver: "a@example.com", AmountCents: 1205},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.ExternalBatchID != "EXT-1" || resp.Status != "PENDING" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(got.Items) != 1 || got.Items[0].Amount.Value != "12.05" || got.Items[0].Amount.Currency != "USD" {
		t.Fatalf("unexpected wire items %+v", got.Items)
	}
}

func TestSubmitBatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"batch_id":"EXT-2","status":"PENDING"}`))
	}))
	defer srv.Close()

	obs := &countingObserver{}
	client := newTestClient(t, srv, obs)
	resp, err := client.SubmitBatch(context.Background(), SubmitRequest{
		SenderBatchID: "batch-2",
		Currency:      "USD",
		Items:         []Item{{SenderItemID: "i", Receiver: "r@example.com", AmountCents: 100}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.ExternalBatchID != "EXT-2" {
		t.Fatalf("unexpected batch id %q", resp.ExternalBatchID)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if obs.retries.Load() != 1 {
		t.Fatalf("expected 1 retry observed, got %d", obs.retries.Load())
	}
}

func TestSubmitBatchDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"INSUFFICIENT_FUNDS","message":"sender balance too low"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil)
	_, err := client.SubmitBatch(context.Background(), SubmitRequest{
		SenderBatchID: "batch-3",
		Currency:      "USD",
		Items:         []Item{{SenderItemID: "i", Receiver: "r@example.com", AmountCents: 100}},
	})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if perr.StatusCode != http.StatusUnprocessableEntity || perr.Code != "INSUFFICIENT_FUNDS" || perr.Retryable {
		t.Fatalf("unexpected error %+v", perr)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestSubmitBatchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil)
	_, err := client.SubmitBatch(context.Background(), SubmitRequest{
		SenderBatchID: "batch-4",
		Currency:      "USD",
		Items:         []Item{{SenderItemID: "i", Receiver: "r@example.com", AmountCents: 100}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGetBatchParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/payouts/batches/EXT-9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"batch_id":"EXT-9",
			"sender_batch_id":"batch-9",
			"status":"SUCCESS",
			"items":[
				{"item_id":"X1","sender_item_id":"item-1","status":"SUCCESS","receiver":"a@example.com","amount":{"value":"10.50","currency":"USD"}},
				{"item_id":"X2","sender_item_id":"item-2","status":"RETURNED","receiver":"b@example.com","amount":{"value":"3.00","currency":"USD"},"error":"RECEIVER_UNREGISTERED"}
			]
		}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil)
	status, err := client.GetBatch(context.Background(), "EXT-9")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if status.Status != "SUCCESS" || status.SenderBatchID != "batch-9" || len(status.Items) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Items[0].AmountCents != 1050 || status.Items[1].AmountCents != 300 {
		t.Fatalf("unexpected amounts %+v", status.Items)
	}
	if status.Items[1].Error != "RECEIVER_UNREGISTERED" {
		t.Fatalf("expected item error to be carried")
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event_id":"evt-1"}`)
	sig := Sign("secret", payload)

	if !VerifySignature("secret", payload, sig) {
		t.Fatalf("expected signature to verify")
	}
	if !VerifySignature("secret", payload, "sha256="+sig) {
		t.Fatalf("expected prefixed signature to verify")
	}
	if VerifySignature("other", payload, sig) {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifySignature("", payload, sig) {
		t.Fatalf("expected empty secret to fail")
	}
	if VerifySignature("secret", payload, "zz") {
		t.Fatalf("expected malformed signature to fail")
	}
}
