package api

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"substratescope/internal/aggregate"
	"substratescope/internal/chain"
	"substratescope/internal/connection"
	"substratescope/internal/endpoints"
	"substratescope/internal/metrics"
	"substratescope/internal/scan"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	Manager *connection.Manager
	Catalog *endpoints.Catalog
	Metrics *metrics.Metrics
	Log     *zap.Logger

	// Caps from config. MaxBlocks bounds every scan a caller can request.
	MaxBlocks      int
	TopAccountsCap int
	ValidatorsCap  int
	ScanRate       float64
}

type blockView struct {
	Number         uint64 `json:"number"`
	Hash           string `json:"hash"`
	ParentHash     string `json:"parentHash"`
	Timestamp      string `json:"timestamp,omitempty"`
	ExtrinsicCount int    `json:"extrinsicCount"`
	AuthorAddress  string `json:"authorAddress,omitempty"`
}

type transferView struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	Method      string `json:"method"`
	Signer      string `json:"signer,omitempty"`
	Dest        string `json:"dest,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Tip         string `json:"tip"`
	Nonce       uint64 `json:"nonce"`
}

type balanceView struct {
	Address string `json:"address"`
	Free    string `json:"freeBalance"`
	Nonce   uint64 `json:"nonce"`
}

type validatorView struct {
	Address        string `json:"address"`
	TotalStake     string `json:"totalStake"`
	OwnStake       string `json:"ownStake"`
	NominatorCount int    `json:"nominatorCount"`
	Commission     string `json:"commissionPercent"`
	AuthoredBlocks uint32 `json:"authoredBlocks"`
	AuthoredKnown  bool   `json:"authoredKnown"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"state": h.Manager.State().String(),
	}
	if err := h.Manager.LastError(); err != nil {
		resp["lastError"] = err.Error()
	}
	if h.Manager.IsConnected() {
		resp["endpoint"] = h.Manager.Endpoint()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EndpointID string `json:"endpointId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.EndpointID != "" {
		if err := h.Catalog.Select(req.EndpointID); err != nil {
			writeError(w, http.StatusNotFound, "unknown endpoint")
			return
		}
	}
	ep, err := h.Catalog.Selected()
	if err != nil {
		writeError(w, http.StatusPreconditionFailed, "endpoint catalog is empty")
		return
	}

	if err := h.Manager.Connect(r.Context(), ep); err != nil {
		h.Metrics.ConnectTotal.WithLabelValues("failure").Inc()
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.Metrics.ConnectTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"state": h.Manager.State().String()})
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.Manager.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"state": h.Manager.State().String()})
}

func (h *Handler) Endpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Catalog.All())
}

func (h *Handler) AddEndpoint(w http.ResponseWriter, r *http.Request) {
	var ep endpoints.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Catalog.Add(ep); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) RemoveEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Remove(chi.URLParam(r, "endpointId")); err != nil {
		writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) ProbeEndpoints(w http.ResponseWriter, r *http.Request) {
	results := endpoints.ProbeAll(r.Context(), h.Catalog, 5*time.Second)
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		entry := map[string]any{
			"endpoint":  res.Endpoint,
			"reachable": res.Reachable,
		}
		if res.Reachable {
			entry["latencyMs"] = res.Latency.Milliseconds()
		} else if res.Err != nil {
			entry["error"] = res.Err.Error()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) RecentBlocks(w http.ResponseWriter, r *http.Request) {
	scanner, ok := h.scanner(w)
	if !ok {
		return
	}
	n := queryInt(r, "n", 10, 100)
	h.Metrics.ScansTotal.WithLabelValues("blocks").Inc()

	blocks, err := scanner.RecentBlocks(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusBadGateway, "scan failed")
		return
	}
	out := make([]blockView, 0, len(blocks))
	for i := range blocks {
		out = append(out, toBlockView(&blocks[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	scanner, ok := h.scanner(w)
	if !ok {
		return
	}
	blk, err := scanner.Block(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "block fetch failed")
		return
	}
	if blk == nil {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	view := struct {
		blockView
		Extrinsics []transferView `json:"extrinsics"`
	}{blockView: toBlockView(blk)}
	for i := range blk.Extrinsics {
		view.Extrinsics = append(view.Extrinsics, toTransferView(&blk.Extrinsics[i]))
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) RecentTransfers(w http.ResponseWriter, r *http.Request) {
	scanner, ok := h.scanner(w)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 10, 100)
	maxBlocks := queryInt(r, "maxBlocks", h.MaxBlocks, h.MaxBlocks)
	h.Metrics.ScansTotal.WithLabelValues("transfers").Inc()

	result, err := scanner.RecentTransfers(r.Context(), limit, maxBlocks)
	if err != nil {
		writeError(w, http.StatusBadGateway, "scan failed")
		return
	}
	transfers := make([]transferView, 0, len(result.Transfers))
	for i := range result.Transfers {
		transfers = append(transfers, toTransferView(&result.Transfers[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transfers":     transfers,
		"blocksScanned": result.BlocksScanned,
		"exhausted":     result.Exhausted,
	})
}

func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	scanner, ok := h.scanner(w)
	if !ok {
		return
	}
	maxBlocks := queryInt(r, "maxBlocks", h.MaxBlocks, h.MaxBlocks)
	h.Metrics.ScansTotal.WithLabelValues("find_tx").Inc()

	ext, err := scanner.FindTransaction(r.Context(), chi.URLParam(r, "hash"), maxBlocks)
	if err != nil {
		writeError(w, http.StatusBadGateway, "scan failed")
		return
	}
	if ext == nil {
		writeError(w, http.StatusNotFound, "transaction not found in scanned range")
		return
	}
	writeJSON(w, http.StatusOK, toTransferView(ext))
}

func (h *Handler) TopAccounts(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w)
	if !ok {
		return
	}
	n := queryInt(r, "n", h.TopAccountsCap, 200)

	agg := aggregate.New(client, h.Log)
	entries, err := agg.TopAccountsByBalance(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusBadGateway, "balance enumeration failed")
		return
	}
	out := make([]balanceView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, balanceView{
			Address: entry.Address,
			Free:    entry.Free.String(),
			Nonce:   entry.Nonce,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ActiveValidators(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w)
	if !ok {
		return
	}
	n := queryInt(r, "n", h.ValidatorsCap, 200)

	agg := aggregate.New(client, h.Log)
	stats, err := agg.ActiveValidators(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusBadGateway, "validator lookup failed")
		return
	}
	out := make([]validatorView, 0, len(stats))
	for _, stat := range stats {
		out = append(out, validatorView{
			Address:        stat.Address,
			TotalStake:     bigString(stat.TotalStake),
			OwnStake:       bigString(stat.OwnStake),
			NominatorCount: stat.NominatorCount,
			Commission:     aggregate.FormatCommission(stat.CommissionPerbill),
			AuthoredBlocks: stat.AuthoredBlocks,
			AuthoredKnown:  stat.AuthoredKnown,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// client returns the live client or answers 503; views must never read a
// cached connection of their own.
func (h *Handler) client(w http.ResponseWriter) (chain.Client, bool) {
	client := h.Manager.Client()
	if client == nil || !h.Manager.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "not connected")
		return nil, false
	}
	return client, true
}

func (h *Handler) scanner(w http.ResponseWriter) (*scan.Scanner, bool) {
	client, ok := h.client(w)
	if !ok {
		return nil, false
	}
	opts := []scan.Option{
		scan.WithProgress(func(scanned, bound int) {
			h.Metrics.BlocksFetched.Inc()
		}),
	}
	if h.ScanRate > 0 {
		opts = append(opts, scan.WithRateLimit(h.ScanRate))
	}
	return scan.New(client, h.Log, opts...), true
}

func toBlockView(blk *chain.Block) blockView {
	view := blockView{
		Number:         blk.Number,
		Hash:           blk.Hash,
		ParentHash:     blk.ParentHash,
		ExtrinsicCount: blk.ExtrinsicCount(),
		AuthorAddress:  blk.AuthorAddress,
	}
	if !blk.Timestamp.IsZero() {
		view.Timestamp = blk.Timestamp.Format(time.RFC3339)
	}
	return view
}

func toTransferView(ext *chain.Extrinsic) transferView {
	view := transferView{
		Hash:        ext.Hash,
		BlockNumber: ext.BlockNumber,
		BlockHash:   ext.BlockHash,
		Method:      ext.Section + "." + ext.Method,
		Signer:      ext.Signer,
		Dest:        ext.Dest,
		Tip:         bigString(ext.Tip),
		Nonce:       ext.Nonce,
	}
	if ext.Amount != nil {
		view.Amount = ext.Amount.String()
	}
	return view
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
