// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbridge/relay/internal/relaytypes"
)

// Relay wraps the relay contract deployed on one chain.
type Relay struct {
	Address  common.Address
	contract *bind.BoundContract
}

// NewRelay builds a Relay bound to addr using caller for eth_call.
func NewRelay(addr common.Address, caller Caller) *Relay {
	return &Relay{
		Address:  addr,
		contract: bind.NewBoundContract(addr, RelayABI, caller, nil, nil),
	}
}

// Withdrawals returns the on-chain withdrawal record for hash.
func (r *Relay) Withdrawals(ctx context.Context, hash common.Hash) (relaytypes.Withdrawal, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.contract.Call(opts, &out, "withdrawals", hash); err != nil {
		return relaytypes.Withdrawal{}, err
	}
	return relaytypes.Withdrawal{
		Destination: out[0].(common.Address),
		Amount:      out[1].(*big.Int),
		Processed:   out[2].(bool),
	}, nil
}

// WithdrawalApprovals returns the signer at withdrawalApprovals[hash][index].
// The contract reverts once index runs past the end of the approval list —
// callers use that revert as the iteration terminator (spec.md §6).
func (r *Relay) WithdrawalApprovals(ctx context.Context, hash common.Hash, index uint64) (common.Address, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.contract.Call(opts, &out, "withdrawalApprovals", hash, new(big.Int).SetUint64(index)); err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// HasApproved walks withdrawalApprovals[hash][*] and reports whether account
// already appears, stopping at the first revert (end of list).
func (r *Relay) HasApproved(ctx context.Context, hash common.Hash, account common.Address) (bool, error) {
	for i := uint64(0); ; i++ {
		signer, err := r.WithdrawalApprovals(ctx, hash, i)
		if err != nil {
			// A revert here is the iterator terminator, not a failure.
			return false, nil
		}
		if signer == account {
			return true, nil
		}
	}
}

// Fees returns the relay's withdrawal fee threshold.
func (r *Relay) Fees(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.contract.Call(opts, &out, "fees"); err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// FeeWallet returns the address fee/remainder sweeps are withdrawn to.
func (r *Relay) FeeWallet(ctx context.Context) (common.Address, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.contract.Call(opts, &out, "feeWallet"); err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// FlushBlock returns the block number a Flush() was recorded at, or zero if
// the chain has never been flushed.
func (r *Relay) FlushBlock(ctx context.Context) (uint64, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.contract.Call(opts, &out, "flushBlock"); err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

// PackAnchor ABI-encodes a call to anchor(blockHash, blockNumber).
func (r *Relay) PackAnchor(blockHash common.Hash, blockNumber uint64) ([]byte, error) {
	return RelayABI.Pack("anchor", blockHash, new(big.Int).SetUint64(blockNumber))
}

// PackApproveWithdrawal ABI-encodes a call to approveWithdrawal(...).
func (r *Relay) PackApproveWithdrawal(t relaytypes.Transfer) ([]byte, error) {
	return RelayABI.Pack("approveWithdrawal", t.Destination, t.Amount, t.TxHash, t.BlockHash, new(big.Int).SetUint64(t.BlockNumber))
}

// PackUnapproveWithdrawal ABI-encodes a call to unapproveWithdrawal(...).
func (r *Relay) PackUnapproveWithdrawal(t relaytypes.Transfer) ([]byte, error) {
	return RelayABI.Pack("unapproveWithdrawal", t.TxHash, t.BlockHash, new(big.Int).SetUint64(t.BlockNumber))
}

// Pack dispatches by function name for callers (txsender) that only know
// the function and its already-ordered params.
func (r *Relay) Pack(fn string, params ...interface{}) ([]byte, error) {
	data, err := RelayABI.Pack(fn, params...)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack %s: %w", fn, err)
	}
	return data, nil
}
