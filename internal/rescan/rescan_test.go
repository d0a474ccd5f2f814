// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package rescan

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/relay/internal/chainclient/chainmock"
	"github.com/chainbridge/relay/internal/contracts"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/testutils"
)

func newTestNetwork(t *testing.T, name string, chain *chainmock.Client, confirmations uint64) *network.Network {
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
		Confirmations: confirmations,
		Timeout:       time.Second,
		Retries:       1,
		GasLimit:      21000,
	})
	require.NoError(t, err)
	require.NoError(t, net.Unlock(testutils.Password))
	require.NoError(t, net.SeedNonce(context.Background()))
	return net
}

func packWithdrawal(t *testing.T, dest common.Address, amount *big.Int, processed bool) []byte {
	t.Helper()
	data, err := contracts.RelayABI.Methods["withdrawals"].Outputs.Pack(dest, amount, processed)
	require.NoError(t, err)
	return data
}

func TestScanApprovesMatchingTransfer(t *testing.T) {
	sourceChain := chainmock.New()
	source := newTestNetwork(t, "side", sourceChain, 10)
	targetChain := chainmock.New()
	target := newTestNetwork(t, "home", targetChain, 1)

	dest := common.HexToAddress("0xdead")
	amount := big.NewInt(100)
	data := make([]byte, 32)
	amount.FillBytes(data)
	txHash := common.HexToHash("0xaa")

	sourceChain.PushFilterLogs([]types.Log{{
		Address:     source.Token.Address,
		Topics:      []common.Hash{contracts.TransferEventSignature, common.BytesToHash(dest.Bytes()), common.BytesToHash(source.Relay.Address.Bytes())},
		Data:        data,
		TxHash:      txHash,
		BlockNumber: 990,
	}})
	sourceChain.PushReceipt(&types.Receipt{
		TxHash:      txHash,
		BlockHash:   common.HexToHash("0xbb"),
		BlockNumber: big.NewInt(990),
	}, nil)

	targetChain.PushCallContract(packWithdrawal(t, common.Address{}, big.NewInt(0), false), nil)
	targetChain.PushCallContract(nil, errors.New("revert"))
	targetChain.PushGasPrice(big.NewInt(1))
	targetChain.PushSendResult(&types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}, nil)

	scan(context.Background(), source, target, 2000)

	state, ok := target.PendingGet(txHash)
	require.False(t, ok, "rescan approves out-of-band, never touching the live pending state machine")
	_ = state
}

func TestScanSkipsMints(t *testing.T) {
	sourceChain := chainmock.New()
	source := newTestNetwork(t, "side", sourceChain, 10)
	target := newTestNetwork(t, "home", chainmock.New(), 1)

	amount := big.NewInt(100)
	data := make([]byte, 32)
	amount.FillBytes(data)

	sourceChain.PushFilterLogs([]types.Log{{
		Address: source.Token.Address,
		Topics:  []common.Hash{contracts.TransferEventSignature, common.Hash{}, common.BytesToHash(source.Relay.Address.Bytes())},
		Data:    data,
	}})

	// A mint is dropped before any receipt/withdrawal query. Nothing is
	// queued for those calls; scan would only log a warning if it made one,
	// so this checks that a mint log is handled without panicking.
	scan(context.Background(), source, target, 2000)
}

func TestScanSkipsHeadTooLowForWindow(t *testing.T) {
	sourceChain := chainmock.New()
	source := newTestNetwork(t, "side", sourceChain, 10)
	target := newTestNetwork(t, "home", chainmock.New(), 1)

	// head < confirmations*2 + LookbackLeeway: scan must return before
	// ever calling FilterLogs (5 < 10*2+5).
	scan(context.Background(), source, target, 5)
}
