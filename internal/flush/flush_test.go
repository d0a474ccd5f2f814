// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package flush

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/relay/internal/chainclient/chainmock"
	"github.com/chainbridge/relay/internal/contracts"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/relaytypes"
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
	require.NoError(t, net.Unlock(testutils.Password))
	require.NoError(t, net.SeedNonce(context.Background()))
	return net
}

func TestDebitSaturatesAtZero(t *testing.T) {
	balances := map[common.Address]*big.Int{}
	addr := common.HexToAddress("0x1")
	credit(balances, addr, big.NewInt(10))
	debit(balances, addr, big.NewInt(50))
	require.Equal(t, 0, balances[addr].Sign())
}

func TestCreditAccumulates(t *testing.T) {
	balances := map[common.Address]*big.Int{}
	addr := common.HexToAddress("0x1")
	credit(balances, addr, big.NewInt(10))
	credit(balances, addr, big.NewInt(15))
	require.Equal(t, big.NewInt(25), balances[addr])
}

func TestCompareAddressOrdering(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	require.Negative(t, compareAddress(a, b))
	require.Positive(t, compareAddress(b, a))
	require.Zero(t, compareAddress(a, a))
}

func TestReconstructBalancesReplaysTransfers(t *testing.T) {
	chain := chainmock.New()
	source := newTestNetwork(t, "side", chain)

	from := common.HexToAddress("0xaaa")
	to := common.HexToAddress("0xbbb")
	amount := big.NewInt(1000)
	data := make([]byte, 32)
	amount.FillBytes(data)

	chain.PushFilterLogs([]types.Log{{
		Topics: []common.Hash{contracts.TransferEventSignature, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:   data,
	}})

	balances, err := reconstructBalances(context.Background(), source, 500)
	require.NoError(t, err)
	require.Equal(t, 0, balances[from].Sign())
	require.Equal(t, amount, balances[to])
}

func TestExcludeUnderFeeDropsLowBalances(t *testing.T) {
	chain := chainmock.New()
	target := newTestNetwork(t, "home", chain)
	feesOut, err := contracts.RelayABI.Methods["fees"].Outputs.Pack(big.NewInt(50))
	require.NoError(t, err)
	chain.PushCallContract(feesOut, nil)

	holders := []holder{
		{Address: common.HexToAddress("0x1"), Balance: big.NewInt(10)},
		{Address: common.HexToAddress("0x2"), Balance: big.NewInt(100)},
	}
	out, err := excludeUnderFee(context.Background(), target, holders)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, common.HexToAddress("0x2"), out[0].Address)
}

func TestWithdrawHoldersSkipsAlreadyProcessed(t *testing.T) {
	chain := chainmock.New()
	target := newTestNetwork(t, "home", chain)

	h := holder{Address: common.HexToAddress("0x1"), Balance: big.NewInt(100)}
	event := &relaytypes.Event{Receipt: &types.Receipt{
		TxHash:      common.HexToHash("0xaa"),
		BlockHash:   common.HexToHash("0xbb"),
		BlockNumber: big.NewInt(10),
	}}

	withdrawalOut, err := contracts.RelayABI.Methods["withdrawals"].Outputs.Pack(h.Address, h.Balance, true)
	require.NoError(t, err)
	chain.PushCallContract(withdrawalOut, nil)

	attempted, err := withdrawHolders(context.Background(), target, event, []holder{h})
	require.NoError(t, err)
	require.Equal(t, 0, attempted)
}
