// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package statusapi

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/relay/internal/chainclient/chainmock"
	"github.com/chainbridge/relay/internal/contracts"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/testutils"
)

func newTestNetwork(t *testing.T, name string, chain *chainmock.Client) *network.Network {
	t.Helper()
	key := testutils.NewKey(t)
	dir, _ := testutils.NewKeyDir(t, key)
	net, err := network.New(network.Config{
		Name:          name,
		Chain:         chain,
		TokenAddress:  common.HexToAddress("0x1"),
		RelayAddress:  common.HexToAddress("0x2"),
		Account:       key.Address,
		KeyDir:        dir,
		ChainID:       big.NewInt(1),
		Confirmations: 1,
		Timeout:       time.Second,
		Retries:       1,
		GasLimit:      21000,
	})
	require.NoError(t, err)
	return net
}

func TestHandleBalancesReflectsTrackedBalances(t *testing.T) {
	home := newTestNetwork(t, "home", chainmock.New())
	side := newTestNetwork(t, "side", chainmock.New())
	s := New(home, side)

	addr := common.HexToAddress("0xdead")
	home.NoteBalance(addr, big.NewInt(42))

	req := httptest.NewRequest(http.MethodGet, "/home/balances", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Balances map[string]*big.Int `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, big.NewInt(42), body.Balances[addr.Hex()])
}

func TestHandleRescanEnqueuesRequest(t *testing.T) {
	home := newTestNetwork(t, "home", chainmock.New())
	side := newTestNetwork(t, "side", chainmock.New())
	s := New(home, side)

	txHash := common.HexToHash("0xaabbcc")
	req := httptest.NewRequest(http.MethodPost, "/home/"+txHash.Hex()[2:], nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	select {
	case got := <-s.Rescans():
		require.Equal(t, "home", got.Chain)
		require.Equal(t, txHash, got.TxHash)
	default:
		t.Fatal("expected a queued rescan request")
	}
}

func TestHandleRescanRejectsInvalidTxHash(t *testing.T) {
	home := newTestNetwork(t, "home", chainmock.New())
	side := newTestNetwork(t, "side", chainmock.New())
	s := New(home, side)

	req := httptest.NewRequest(http.MethodPost, "/home/not-a-hash", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUnknownChainRejected(t *testing.T) {
	home := newTestNetwork(t, "home", chainmock.New())
	side := newTestNetwork(t, "side", chainmock.New())
	s := New(home, side)

	req := httptest.NewRequest(http.MethodGet, "/other/balances", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusEndpointReportsBothChains(t *testing.T) {
	homeChain := chainmock.New()
	homeChain.PushBalance(big.NewInt(5))
	homeChain.PushBlockNumber(100)
	homeChain.PushCallContract(mustPackBalanceOf(t, big.NewInt(7)), nil)
	home := newTestNetwork(t, "home", homeChain)

	sideChain := chainmock.New()
	sideChain.PushBalance(big.NewInt(1))
	sideChain.PushBlockNumber(50)
	sideChain.PushCallContract(mustPackBalanceOf(t, big.NewInt(2)), nil)
	side := newTestNetwork(t, "side", sideChain)

	s := New(home, side)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, big.NewInt(5), resp.Home.RelayEthBalance)
	require.Equal(t, uint64(100), *resp.Home.RelayLastBlock)
}

func mustPackBalanceOf(t *testing.T, amount *big.Int) []byte {
	t.Helper()
	data, err := contracts.TokenABI.Methods["balanceOf"].Outputs.Pack(amount)
	require.NoError(t, err)
	return data
}

func TestParseTxHash(t *testing.T) {
	hash, err := parseTxHash("0x0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, common.BigToHash(big.NewInt(1)), hash)

	_, err = parseTxHash("zz")
	require.Error(t, err)

	_, err = parseTxHash("00")
	require.Error(t, err)
}
