// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package statusapi is the status/query HTTP server (C9): GET /status, GET
// /{chain}/balances, and POST /{chain}/{tx_hash} for a manual rescan.
package statusapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainbridge/relay/internal/network"
)

// Direction pairs a source chain with the target it approves withdrawals
// on, for the manual rescan endpoint.
type Direction struct {
	Source *network.Network
	Target *network.Network
}

// RescanRequest is a manually requested re-scan of a single transaction,
// enqueued by the POST /{chain}/{tx_hash} handler and consumed by the
// orchestrator on the same path the live watcher uses.
type RescanRequest struct {
	Chain  string
	TxHash common.Hash
}

// Server is the status/query HTTP server.
type Server struct {
	Home *network.Network
	Side *network.Network

	HomeToSide Direction
	SideToHome Direction

	rescans chan RescanRequest

	mu       sync.RWMutex
	balances map[string]map[common.Address]*big.Int
}

// New builds a Server and registers a balance tracker on both networks so
// GET /{chain}/balances serves a maintained snapshot rather than
// re-scanning chain history on every request.
func New(home, side *network.Network) *Server {
	s := &Server{
		Home: home,
		Side: side,
		HomeToSide: Direction{Source: home, Target: side},
		SideToHome: Direction{Source: side, Target: home},
		rescans:    make(chan RescanRequest, 64),
		balances: map[string]map[common.Address]*big.Int{
			"home": {},
			"side": {},
		},
	}
	home.SetBalanceTracker(s.tracker("home"))
	side.SetBalanceTracker(s.tracker("side"))
	return s
}

func (s *Server) tracker(chain string) func(common.Address, *big.Int) {
	return func(addr common.Address, amount *big.Int) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.balances[chain][addr] = new(big.Int).Set(amount)
	}
}

// Rescans is consumed by the orchestrator to service manual rescan
// requests against the live approval path.
func (s *Server) Rescans() <-chan RescanRequest { return s.rescans }

// Handler returns the mux this server answers on, including /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleChainRoutes)
	return mux
}

type chainStatus struct {
	RelayEthBalance    *big.Int `json:"relay_eth_balance"`
	RelayLastBlock     *uint64  `json:"relay_last_block"`
	ContractNctBalance *big.Int `json:"contract_nct_balance"`
}

type statusResponse struct {
	Home chainStatus `json:"home"`
	Side chainStatus `json:"side"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Home: fetchStatus(r, s.Home),
		Side: fetchStatus(r, s.Side),
	}
	writeJSON(w, http.StatusOK, resp)
}

func fetchStatus(r *http.Request, n *network.Network) chainStatus {
	ctx := r.Context()
	var cs chainStatus
	if bal, err := n.Chain.BalanceAt(ctx, n.Account, nil); err == nil {
		cs.RelayEthBalance = bal
	} else {
		log.Warn("status: could not fetch eth balance", "network", n.Name, "err", err)
	}
	if block, err := n.Chain.BlockNumber(ctx); err == nil {
		cs.RelayLastBlock = &block
	} else {
		log.Warn("status: could not fetch last block", "network", n.Name, "err", err)
	}
	if bal, err := n.Token.BalanceOf(ctx, n.Relay.Address); err == nil {
		cs.ContractNctBalance = bal
	} else {
		log.Warn("status: could not fetch contract balance", "network", n.Name, "err", err)
	}
	return cs
}

// handleChainRoutes dispatches GET /{chain}/balances and
// POST /{chain}/{tx_hash}.
func (s *Server) handleChainRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	chain := strings.ToLower(parts[0])
	if chain != "home" && chain != "side" {
		http.Error(w, "unknown chain", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "balances" && r.Method == http.MethodGet:
		s.handleBalances(w, chain)
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.handleRescan(w, chain, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBalances(w http.ResponseWriter, chain string) {
	s.mu.RLock()
	snapshot := make(map[string]*big.Int, len(s.balances[chain]))
	for addr, bal := range s.balances[chain] {
		snapshot[addr.Hex()] = bal
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": snapshot})
}

func (s *Server) handleRescan(w http.ResponseWriter, chain, rawHash string) {
	hash, err := parseTxHash(rawHash)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tx hash: %s", err), http.StatusBadRequest)
		return
	}
	select {
	case s.rescans <- RescanRequest{Chain: chain, TxHash: hash}:
	default:
		log.Warn("statusapi: rescan queue full, dropping request", "chain", chain, "tx", hash)
	}
	w.WriteHeader(http.StatusOK)
}

func parseTxHash(raw string) (common.Hash, error) {
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("statusapi: could not encode response", "err", err)
	}
}
