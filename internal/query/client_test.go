package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["question"] != "total sales per region" || body["session_id"] != "conv-1" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"explanation_text": "The west region leads with 1.2M.",
			"structured_data": {"rows": [["west", 1200000]]},
			"visualization_spec": {"type": "bar"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	ans, err := c.Ask(context.Background(), "total sales per region", "conv-1")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !ans.Success || ans.Explanation != "The west region leads with 1.2M." {
		t.Fatalf("answer = %+v", ans)
	}
	if len(ans.Data) == 0 || len(ans.Visualization) == 0 {
		t.Fatal("structured payloads were dropped")
	}
}

func TestAskFailurePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "Unknown column: revenue"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	ans, err := c.Ask(context.Background(), "sum revenue", "conv-1")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Success || ans.Error != "Unknown column: revenue" {
		t.Fatalf("answer = %+v", ans)
	}
}

func TestAskTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	if _, err := c.Ask(context.Background(), "anything", "conv-1"); err == nil {
		t.Fatal("expected error on 502")
	}
}
