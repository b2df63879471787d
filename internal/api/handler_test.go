package api

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"substratescope/internal/chain"
	"substratescope/internal/chain/chaintest"
	"substratescope/internal/connection"
	"substratescope/internal/endpoints"
	"substratescope/internal/metrics"
)

func testHandler(t *testing.T, fake *chaintest.FakeClient) (*Handler, *connection.Manager) {
	t.Helper()
	dialer := func(ctx context.Context, url string) (chain.Client, error) {
		return fake, nil
	}
	manager := connection.NewManager(dialer, time.Second, zap.NewNop())
	catalog, err := endpoints.NewCatalog([]endpoints.Endpoint{
		{ID: "local", DisplayName: "Local", URL: "ws://localhost:9944"},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	h := &Handler{
		Manager:        manager,
		Catalog:        catalog,
		Metrics:        metrics.New(prometheus.NewRegistry()),
		Log:            zap.NewNop(),
		MaxBlocks:      32,
		TopAccountsCap: 10,
		ValidatorsCap:  10,
	}
	return h, manager
}

func serve(t *testing.T, h *Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(h, prometheus.NewRegistry())
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	srv.Router.ServeHTTP(rr, req)
	return rr
}

func TestTopAccountsRoute(t *testing.T) {
	fake := chaintest.New()
	fake.Balances = []chain.BalanceEntry{
		{Address: "poor", Free: big.NewInt(1)},
		{Address: "rich", Free: big.NewInt(1000)},
		{Address: "middling", Free: big.NewInt(50)},
	}
	h, manager := testHandler(t, fake)
	if err := manager.Connect(context.Background(), h.Catalog.All()[0]); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer manager.Disconnect()

	rr := serve(t, h, http.MethodGet, "/accounts/top?n=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var got []balanceView
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got[0].Address != "rich" || got[1].Address != "middling" {
		t.Fatalf("unexpected ranking: %+v", got)
	}
}

func TestValidatorsRouteUsesConfiguredCap(t *testing.T) {
	fake := chaintest.New()
	fake.Validators = []string{"v1", "v2", "v3"}
	h, manager := testHandler(t, fake)
	h.ValidatorsCap = 2
	if err := manager.Connect(context.Background(), h.Catalog.All()[0]); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer manager.Disconnect()

	rr := serve(t, h, http.MethodGet, "/validators")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var got []validatorView
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the configured cap of 2, got %d", len(got))
	}
}

func TestChainRoutesAnswer503WhenDisconnected(t *testing.T) {
	h, _ := testHandler(t, chaintest.New())
	paths := []string{
		"/accounts/top", "/validators", "/blocks/recent",
		"/blocks/1", "/transfers/recent", "/tx/0xabc",
	}
	for _, path := range paths {
		rr := serve(t, h, http.MethodGet, path)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, rr.Code)
		}
	}
}
