// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transfer is the live transfer pipeline (C6): it subscribes to
// ERC-20 Transfer logs landing on the relay contract on one chain and
// drives the withdrawal-approval state machine on the other.
package transfer

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/chainbridge/relay/internal/chainclient"
	"github.com/chainbridge/relay/internal/contracts"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/relaymetrics"
	"github.com/chainbridge/relay/internal/relaytypes"
	"github.com/chainbridge/relay/internal/streamutil"
	"github.com/chainbridge/relay/internal/txsender"
)

// confirmationPollInterval is the cadence the reorg-aware confirmation wait
// re-checks both the chain head and the target's pending state at.
const confirmationPollInterval = 1 * time.Second

// Run subscribes to Transfer logs on source.Token whose `to` is
// source.Relay.Address and, for each one, drives the approval state
// machine on target. It returns when the subscription ends — with error on
// a transport failure or timeout, nil if source becomes flushed.
func Run(ctx context.Context, source, target *network.Network) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{source.Token.Address},
		Topics:    [][]common.Hash{{contracts.TransferEventSignature}, nil, {source.Relay.Address}},
	}
	logs, sub, err := source.Chain.SubscribeLogs(ctx, query)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	results := streamutil.Flushed(ctx,
		streamutil.Timeout(ctx, logs, source.Timeout, chainclient.ErrConnectionUnavailable),
		source)

	for r := range results {
		if r.Err != nil {
			return r.Err
		}
		l := r.Value
		go handle(ctx, source, target, l)
	}
	return nil
}

// handle resolves a single Transfer log into a relaytypes.Transfer and feeds
// it into the approval state machine on target.
func handle(ctx context.Context, source, target *network.Network, l types.Log) {
	if len(l.Topics) < 2 || len(l.Data) < 32 {
		log.Warn("transfer: malformed Transfer log, skipping", "network", source.Name, "tx", l.TxHash)
		return
	}
	destination := common.BytesToAddress(l.Topics[1].Bytes())
	amount := new(big.Int).SetBytes(l.Data[:32])

	if l.Removed {
		receipt, err := source.GetReceipt(ctx, true, l.TxHash)
		if err != nil {
			log.Warn("transfer: could not fetch receipt for removed log", "network", source.Name, "tx", l.TxHash, "err", err)
			return
		}
		t, err := relaytypes.FromReceipt(destination, amount, true, receipt)
		if err != nil {
			log.Warn("transfer: could not build transfer from receipt", "network", source.Name, "tx", l.TxHash, "err", err)
			return
		}
		apply(ctx, source, target, t)
		return
	}

	confirmed, err := awaitConfirmations(ctx, source, target, l)
	if err != nil {
		log.Warn("transfer: confirmation wait error", "network", source.Name, "tx", l.TxHash, "err", err)
		return
	}
	if !confirmed {
		// Abandoned: the source log flipped to removed while we waited.
		// The removed delivery for the same log handles the state change.
		return
	}

	receipt, err := source.GetReceipt(ctx, false, l.TxHash)
	if err != nil {
		log.Warn("transfer: could not fetch confirmed receipt", "network", source.Name, "tx", l.TxHash, "err", err)
		return
	}
	t, err := relaytypes.FromReceipt(destination, amount, false, receipt)
	if err != nil {
		log.Warn("transfer: could not build transfer from receipt", "network", source.Name, "tx", l.TxHash, "err", err)
		return
	}
	apply(ctx, source, target, t)
}

// awaitConfirmations blocks until l's block has source.Confirmations
// descendants, polling target's pending state each tick so an in-flight
// wait abandons itself the moment the source log is reorged out.
func awaitConfirmations(ctx context.Context, source, target *network.Network, l types.Log) (bool, error) {
	need := l.BlockNumber + source.Confirmations
	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()
	for {
		if state, ok := target.PendingGet(l.TxHash); ok && state == network.Removed {
			return false, nil
		}
		head, err := source.Chain.BlockNumber(ctx)
		if err != nil {
			log.Warn("transfer: error polling block number", "network", source.Name, "err", err)
		} else if head >= need {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// apply runs the approval state machine transition (spec table, keyed by
// tx hash) for t and spawns the resulting approve/unapprove, if any.
func apply(ctx context.Context, source, target *network.Network, t relaytypes.Transfer) {
	state, known := target.PendingGet(t.TxHash)
	switch {
	case !known:
		if !t.Removed {
			target.PendingSet(t.TxHash, network.WaitApproval)
			go approve(ctx, source, target, t)
		} else {
			target.PendingSet(t.TxHash, network.Removed)
		}
	case state == network.WaitApproval, state == network.Approved:
		if t.Removed {
			target.PendingSet(t.TxHash, network.Removed)
			go unapprove(ctx, target, t)
		}
	case state == network.Removed:
		if !t.Removed {
			target.PendingSet(t.TxHash, network.WaitApproval)
			go approve(ctx, source, target, t)
		}
	}
}

// approve rechecks the four preconditions spec.md §4.6 requires before
// submitting approveWithdrawal, then submits it via txsender and, on
// success, advances the pending state to Approved.
func approve(ctx context.Context, source, target *network.Network, t relaytypes.Transfer) {
	sent, err := MaybeApprove(ctx, source, target, t)
	if err != nil {
		log.Error("approve: send failed", "network", target.Name, "tx", t.TxHash, "err", err)
		return
	}
	if sent {
		target.PendingSet(t.TxHash, network.Approved)
	}
}

// MaybeApprove runs the four preconditions spec.md §4.6 requires before
// approving a withdrawal — source not flushed, destination unset or
// matching, not yet processed, this account not already a signer — and
// submits approveWithdrawal if all hold. It reports whether a transaction
// was sent, without touching target's pending state, so both the live
// state machine (approve, above) and the out-of-band rescanner (C7) can
// drive it.
func MaybeApprove(ctx context.Context, source, target *network.Network, t relaytypes.Transfer) (bool, error) {
	if source.IsFlushed() {
		return false, nil
	}
	hash := t.WithdrawalHash()

	withdrawal, err := target.Relay.Withdrawals(ctx, hash)
	if err != nil {
		return false, err
	}
	if withdrawal.Destination != (common.Address{}) && withdrawal.Destination != t.Destination {
		return false, nil
	}
	if withdrawal.Processed {
		return false, nil
	}
	alreadySigned, err := target.Relay.HasApproved(ctx, hash, target.Account)
	if err != nil {
		return false, err
	}
	if alreadySigned {
		return false, nil
	}

	_, err = txsender.Send(ctx, target, "approveWithdrawal",
		t.Destination, t.Amount, t.TxHash, t.BlockHash, new(big.Int).SetUint64(t.BlockNumber))
	if err != nil {
		return false, err
	}
	target.NoteBalance(t.Destination, t.Amount)
	relaymetrics.ApprovalsTotal.WithLabelValues(target.Name).Inc()
	return true, nil
}

// Rescan resolves txHash's receipt on source and replays any matching
// Transfer logs it emitted into the same approval state machine the live
// watcher uses — C9's manual-rescan endpoint funnels through this instead
// of a separate code path. (C7's backfill calls MaybeApprove directly.)
func Rescan(ctx context.Context, source, target *network.Network, txHash common.Hash) error {
	receipt, err := source.Chain.TransactionReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != source.Token.Address {
			continue
		}
		if len(l.Topics) < 3 || l.Topics[0] != contracts.TransferEventSignature {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != source.Relay.Address {
			continue
		}
		if len(l.Data) < 32 {
			continue
		}
		destination := common.BytesToAddress(l.Topics[1].Bytes())
		amount := new(big.Int).SetBytes(l.Data[:32])
		t, err := relaytypes.FromReceipt(destination, amount, false, receipt)
		if err != nil {
			log.Warn("rescan: could not build transfer", "network", source.Name, "tx", txHash, "err", err)
			continue
		}
		apply(ctx, source, target, t)
	}
	return nil
}

// unapprove submits unapproveWithdrawal; failure is logged, not retried —
// the next reorg event (or a later approve) drives corrective action.
func unapprove(ctx context.Context, target *network.Network, t relaytypes.Transfer) {
	_, err := txsender.Send(ctx, target, "unapproveWithdrawal",
		t.TxHash, t.BlockHash, new(big.Int).SetUint64(t.BlockNumber))
	if err != nil {
		log.Warn("unapprove: send failed, not retried", "network", target.Name, "tx", t.TxHash, "err", err)
		return
	}
	relaymetrics.UnapprovalsTotal.WithLabelValues(target.Name).Inc()
}
