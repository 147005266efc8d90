package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type capturedCommand struct {
	Serial  string         `json:"sn"`
	CmdCode string         `json:"cmdCode"`
	Params  map[string]any `json:"params"`
}

func TestClientSendsCommands(t *testing.T) {
	captured := make(chan capturedCommand, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if r.Header.Get("AccessKey") != "ak" {
			t.Errorf("missing access key header")
		}
		var cmd capturedCommand
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		captured <- cmd
		json.NewEncoder(w).Encode(map[string]any{"code": 0})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "ak", "sk")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.SetChargingPower(context.Background(), "SN123", 800); err != nil {
		t.Fatalf("set charging power: %v", err)
	}
	cmd := <-captured
	if cmd.Serial != "SN123" || cmd.CmdCode != "setChargingPower" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if watts, ok := cmd.Params["watts"].(float64); !ok || watts != 800 {
		t.Fatalf("watts param = %v", cmd.Params["watts"])
	}

	if err := client.SetACOutput(context.Background(), "SN123", true); err != nil {
		t.Fatalf("set ac output: %v", err)
	}
	cmd = <-captured
	if enabled, ok := cmd.Params["enabled"].(float64); !ok || enabled != 1 {
		t.Fatalf("enabled param = %v", cmd.Params["enabled"])
	}
}

func TestClientDeviceRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 1001, "message": "device offline"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.SetDCOutput(context.Background(), "SN123", false)
	if err == nil {
		t.Fatalf("expected rejection error")
	}
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.SetMaxChargeSOC(context.Background(), "SN404", 80); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestClientEmptySerial(t *testing.T) {
	client, err := NewClient("http://localhost", "", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.SetMinDischargeSOC(context.Background(), "", 10); err == nil {
		t.Fatalf("empty serial must be rejected")
	}
}
