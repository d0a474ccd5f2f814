// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rescan is the past-transfer backfill pipeline (C7): every
// `interval` blocks it re-scans a sliding window of Transfer logs and
// re-approves anything the live watcher missed or failed to approve.
package rescan

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/chainbridge/relay/internal/chainclient"
	"github.com/chainbridge/relay/internal/contracts"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/relaytypes"
	"github.com/chainbridge/relay/internal/streamutil"
	"github.com/chainbridge/relay/internal/transfer"
)

// LookbackRange is the number of blocks each scan looks back over.
const LookbackRange = 1000

// LookbackLeeway offsets the window's near edge, away from blocks the live
// watcher (C6) may still have in flight.
const LookbackLeeway = 5

// Run subscribes to heads on source and, every source.Interval blocks,
// rescans the window [head-confirmations*2-LookbackRange,
// head-confirmations*2-LookbackLeeway] for Transfers that still need
// approving. The doubled confirmations (rather than source.Confirmations)
// is carried over from the original implementation as a defense against
// racing the live watcher's own confirmation wait; preserved as-is.
func Run(ctx context.Context, source, target *network.Network) error {
	heads, sub, err := source.Chain.SubscribeNewHead(ctx)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	results := streamutil.Flushed(ctx,
		streamutil.Timeout(ctx, heads, source.Timeout, chainclient.ErrConnectionUnavailable),
		source)

	for r := range results {
		if r.Err != nil {
			return r.Err
		}
		head := r.Value
		if head == nil || head.Number == nil {
			continue
		}
		if source.Interval == 0 {
			continue
		}
		h := head.Number.Uint64()
		if h%source.Interval != 0 {
			continue
		}
		go scan(ctx, source, target, h)
	}
	return nil
}

func scan(ctx context.Context, source, target *network.Network, head uint64) {
	confirmations := source.Confirmations * 2
	if head < confirmations+LookbackLeeway {
		return
	}
	to := head - confirmations - LookbackLeeway
	var from uint64
	if head > confirmations+LookbackRange {
		from = head - confirmations - LookbackRange
	}

	logs, err := source.Chain.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{source.Token.Address},
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{{contracts.TransferEventSignature}, nil, {source.Relay.Address}},
	})
	if err != nil {
		log.Warn("rescan: getLogs failed", "network", source.Name, "from", from, "to", to, "err", err)
		return
	}

	for _, l := range logs {
		if l.Removed {
			continue
		}
		if len(l.Topics) < 2 || len(l.Data) < 32 {
			continue
		}
		destination := common.BytesToAddress(l.Topics[1].Bytes())
		if destination == (common.Address{}) {
			// Mint: Transfer from the zero address. Not a bridge deposit.
			continue
		}
		receipt, err := source.Chain.TransactionReceipt(ctx, l.TxHash)
		if err != nil {
			log.Warn("rescan: could not fetch receipt", "network", source.Name, "tx", l.TxHash, "err", err)
			continue
		}
		amount := new(big.Int).SetBytes(l.Data[:32])
		t, err := relaytypes.FromReceipt(destination, amount, false, receipt)
		if err != nil {
			log.Warn("rescan: could not build transfer", "network", source.Name, "tx", l.TxHash, "err", err)
			continue
		}
		if _, err := transfer.MaybeApprove(ctx, source, target, t); err != nil {
			log.Error("rescan: approve failed", "network", target.Name, "tx", t.TxHash, "err", err)
		}
	}
}
