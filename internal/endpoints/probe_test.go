package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func healthServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "system_health" {
			resp["result"] = map[string]any{"peers": 5, "isSyncing": false}
		} else {
			resp["error"] = map[string]any{"message": "Method not found"}
		}
		_ = conn.WriteJSON(resp)
	}))
}

func TestProbeReachableEndpoint(t *testing.T) {
	srv := healthServer(t)
	defer srv.Close()

	ep := Endpoint{ID: "local", URL: srv.URL}
	res := Probe(context.Background(), ep, 2*time.Second)
	if res.Err != nil {
		t.Fatalf("probe: %v", res.Err)
	}
	if !res.Reachable {
		t.Fatal("endpoint should be reachable")
	}
	if res.Latency <= 0 {
		t.Fatalf("latency not measured: %v", res.Latency)
	}
}

func TestProbeUnreachableEndpoint(t *testing.T) {
	// A server we shut down immediately leaves a port nothing listens on.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := Probe(context.Background(), Endpoint{ID: "dead", URL: url}, 500*time.Millisecond)
	if res.Reachable {
		t.Fatal("dead endpoint reported reachable")
	}
	if res.Err == nil {
		t.Fatal("expected a dial error")
	}
}

func TestProbeRejectsUnsupportedScheme(t *testing.T) {
	res := Probe(context.Background(), Endpoint{ID: "bad", URL: "ftp://example.com"}, time.Second)
	if res.Reachable || res.Err == nil {
		t.Fatalf("expected failure for unsupported scheme, got %+v", res)
	}
}

func TestProbeAllCoversEveryEndpoint(t *testing.T) {
	srv := healthServer(t)
	defer srv.Close()

	c, err := NewCatalog([]Endpoint{
		{ID: "up", URL: srv.URL},
		{ID: "bad", URL: "ftp://nowhere"},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	results := ProbeAll(context.Background(), c, 2*time.Second)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	byID := map[string]ProbeResult{}
	for _, r := range results {
		byID[r.Endpoint.ID] = r
	}
	if !byID["up"].Reachable {
		t.Fatalf("live endpoint not reachable: %v", byID["up"].Err)
	}
	if byID["bad"].Reachable {
		t.Fatal("bad endpoint reported reachable")
	}
}
