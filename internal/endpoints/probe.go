package endpoints

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ProbeResult reports one endpoint's reachability.
type ProbeResult struct {
	Endpoint  Endpoint
	Reachable bool
	Latency   time.Duration
	Err       error
}

// WSEndpoint normalizes an endpoint URL to its websocket form.
func WSEndpoint(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	switch {
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		return url
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return ""
}

// Probe dials the endpoint's websocket and issues system_health, enforcing
// the timeout itself rather than trusting the node's retry behavior.
func Probe(ctx context.Context, ep Endpoint, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := ProbeResult{Endpoint: ep}

	wsURL := WSEndpoint(ep.URL)
	if wsURL == "" {
		result.Err = ErrUnknownEndpoint
		return result
	}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		result.Err = err
		return result
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "system_health",
		"params":  []any{},
	}
	if err := conn.WriteJSON(req); err != nil {
		result.Err = err
		return result
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		result.Err = err
		return result
	}
	if resp.Error != nil {
		result.Err = errProbe(resp.Error.Message)
		return result
	}

	result.Reachable = true
	result.Latency = time.Since(start)
	return result
}

// ProbeAll probes every catalog entry concurrently, each under its own
// timeout.
func ProbeAll(ctx context.Context, c *Catalog, timeout time.Duration) []ProbeResult {
	eps := c.All()
	results := make([]ProbeResult, len(eps))
	var wg sync.WaitGroup
	for i, ep := range eps {
		wg.Add(1)
		go func(i int, ep Endpoint) {
			defer wg.Done()
			results[i] = Probe(ctx, ep, timeout)
		}(i, ep)
	}
	wg.Wait()
	return results
}

type errProbe string

func (e errProbe) Error() string { return "probe: " + string(e) }
