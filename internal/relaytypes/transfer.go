// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relaytypes holds the data model shared by every relay pipeline:
// Transfer, Anchor, Withdrawal, Wallet and Event. None of it is persisted —
// it is reconstructed from chain data on every run.
package relaytypes

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transfer is the bridged unit: an ERC-20 Transfer into the relay contract,
// identified by the transaction and block it was mined in.
type Transfer struct {
	Destination common.Address
	Amount      *big.Int
	TxHash      common.Hash
	BlockHash   common.Hash
	BlockNumber uint64
	// Removed is true when the originating log was invalidated by a reorg.
	Removed bool
}

func (t Transfer) String() string {
	return fmt.Sprintf("Transfer{to: %s, amount: %s, tx: %s, block: %d, removed: %t}",
		t.Destination.Hex(), t.Amount, t.TxHash.Hex(), t.BlockNumber, t.Removed)
}

// FromReceipt builds a Transfer from a decoded log payload and the receipt
// of the transaction that emitted it. The receipt supplies the canonical
// block hash/number — the log itself is never trusted for those fields.
func FromReceipt(destination common.Address, amount *big.Int, removed bool, receipt *types.Receipt) (Transfer, error) {
	if receipt == nil {
		return Transfer{}, fmt.Errorf("relaytypes: nil receipt")
	}
	if receipt.BlockHash == (common.Hash{}) {
		return Transfer{}, fmt.Errorf("relaytypes: receipt %s missing block hash", receipt.TxHash.Hex())
	}
	if receipt.BlockNumber == nil {
		return Transfer{}, fmt.Errorf("relaytypes: receipt %s missing block number", receipt.TxHash.Hex())
	}
	return Transfer{
		Destination: destination,
		Amount:      new(big.Int).Set(amount),
		TxHash:      receipt.TxHash,
		BlockHash:   receipt.BlockHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Removed:     removed,
	}, nil
}

// WithdrawalHash returns the withdrawal hash is the contract's key for a
// pending/processed withdrawal: keccak256(tx_hash || block_hash || be32(block_number)).
func (t Transfer) WithdrawalHash() common.Hash {
	return WithdrawalHash(t.TxHash, t.BlockHash, t.BlockNumber)
}

// WithdrawalHash is the free-standing form of Transfer.WithdrawalHash, used
// by the flush pipeline to hash synthetic transfers that were never backed
// by a real log.
func WithdrawalHash(txHash, blockHash common.Hash, blockNumber uint64) common.Hash {
	var numBytes [32]byte
	new(big.Int).SetUint64(blockNumber).FillBytes(numBytes[:])
	return crypto.Keccak256Hash(txHash.Bytes(), blockHash.Bytes(), numBytes[:])
}

// Anchor commits a side-chain block's hash and number into the home-chain
// relay contract.
type Anchor struct {
	BlockHash   common.Hash
	BlockNumber uint64
}

// Withdrawal is a read-only projection of on-chain withdrawal state.
type Withdrawal struct {
	Destination common.Address
	Amount      *big.Int
	Processed   bool
}

// Wallet is a holder address and its balance. The flush pipeline's balance
// reconstruction keeps its own map and holder type and does not produce it.
type Wallet struct {
	Address common.Address
	Balance *big.Int
}

// Event pairs a log with the receipt of the transaction that emitted it.
// Used to represent the Flush() log that triggers the flush pipeline.
type Event struct {
	Log     types.Log
	Receipt *types.Receipt
}
