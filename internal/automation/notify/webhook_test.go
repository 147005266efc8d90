package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan slackPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload slackPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithDefaultChannel("#power"))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "Garage Delta hit 18%", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload := <-payloadCh
	if payload.Text != "Garage Delta hit 18%" {
		t.Fatalf("text = %q", payload.Text)
	}
	if payload.Channel != "#power" {
		t.Fatalf("default channel not applied, got %q", payload.Channel)
	}

	if err := channel.Send(context.Background(), "explicit", "#ops"); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload = <-payloadCh
	if payload.Channel != "#ops" {
		t.Fatalf("explicit channel lost, got %q", payload.Channel)
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello", ""); err == nil {
		t.Fatalf("non-2xx must be an error")
	}
}

func TestWebhookChannelEmptyURL(t *testing.T) {
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatalf("empty url must be rejected")
	}
}
