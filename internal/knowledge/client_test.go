package knowledge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := DefaultClientConfig(srv.URL)
	cfg.APIKey = "test-key"
	c, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClientInteraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/interactions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Error("missing API key header")
		}
		if r.URL.Query().Get("a") != "aspirin" || r.URL.Query().Get("b") != "warfarin" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"severity":"severe","description":"increased bleeding risk","management":"monitor INR"}`))
	}))
	defer srv.Close()

	fact, err := newTestClient(t, srv).Interaction(context.Background(), "Aspirin", "Warfarin")
	if err != nil {
		t.Fatalf("Interaction: %v", err)
	}
	if fact == nil || fact.Severity != safety.SeveritySevere || fact.Management != "monitor INR" {
		t.Errorf("fact = %+v", fact)
	}
}

func TestClientInteractionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	// No data on record is a normal answer, not an outage.
	fact, err := newTestClient(t, srv).Interaction(context.Background(), "aspirin", "vitamin d")
	if err != nil {
		t.Fatalf("Interaction: %v", err)
	}
	if fact != nil {
		t.Errorf("fact = %+v, want nil", fact)
	}
}

func TestClientInteractionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Interaction(context.Background(), "aspirin", "warfarin")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestClientInteractionUnknownSeverity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"severity":"catastrophic","description":"bad feed row"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Interaction(context.Background(), "aspirin", "warfarin")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("unrecognized severity should degrade to ErrUnavailable, got %v", err)
	}
}

func TestClientMinimumGap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/timing-gaps" && r.URL.Query().Get("a") == "aspirin" {
			w.Write([]byte(`{"minimum_gap_minutes":240}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	gap, ok, err := c.MinimumGap(ctx, "aspirin", "ibuprofen")
	if err != nil || !ok || gap != 4*time.Hour {
		t.Errorf("MinimumGap = %v, %v, %v", gap, ok, err)
	}

	_, ok, err = c.MinimumGap(ctx, "warfarin", "ibuprofen")
	if err != nil || ok {
		t.Errorf("missing hint should report ok=false, got %v, %v", ok, err)
	}
}

func TestClientSubstitutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("drug") != "ibuprofen" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"substitutes":[{"id":"s1","name":"acetaminophen","safety_rating":0.9}]}`))
	}))
	defer srv.Close()

	subs, err := newTestClient(t, srv).Substitutes(context.Background(), "Ibuprofen")
	if err != nil {
		t.Fatalf("Substitutes: %v", err)
	}
	if len(subs) != 1 || subs[0].Name != "acetaminophen" {
		t.Errorf("substitutes = %+v", subs)
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}, nil); err == nil {
		t.Error("NewClient without a base URL should fail")
	}
}
