// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package anchor is the side-to-home anchor pipeline (C5): it watches
// side-chain heads and, at a fixed cadence, commits a side-chain block's
// hash and number into the home-chain relay contract.
package anchor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/chainbridge/relay/internal/chainclient"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/relaymetrics"
	"github.com/chainbridge/relay/internal/streamutil"
	"github.com/chainbridge/relay/internal/txsender"
)

// Run subscribes to heads on source and, whenever a head's number satisfies
// the anchor cadence (number mod source.AnchorFrequency == source.Confirmations),
// submits anchor(blockHash, blockNumber) to target for the block
// `number - source.Confirmations` blocks behind. It returns when the
// subscription ends — with error on a transport failure or timeout, nil if
// source becomes flushed.
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
			log.Warn("anchor: head missing number, skipping", "network", source.Name)
			continue
		}
		number := head.Number.Uint64()
		if number%source.AnchorFrequency != source.Confirmations {
			continue
		}
		anchorBlock := number - source.Confirmations
		// Fire-and-forget: the sender handles its own retries, and the
		// next head will retrigger anchoring at the next cadence boundary
		// regardless of whether this one succeeds.
		go submit(ctx, source, target, anchorBlock)
	}
	return nil
}

func submit(ctx context.Context, source, target *network.Network, blockNumber uint64) {
	header, err := source.Chain.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		log.Warn("anchor: could not fetch block, skipping", "network", source.Name, "block", blockNumber, "err", err)
		return
	}
	if header == nil || header.Number == nil {
		log.Warn("anchor: block missing number, skipping", "network", source.Name, "block", blockNumber)
		return
	}
	blockHash := header.Hash()
	if blockHash == (common.Hash{}) {
		log.Warn("anchor: block missing hash, skipping", "network", source.Name, "block", blockNumber)
		return
	}

	if _, err := txsender.Send(ctx, target, "anchor", blockHash, header.Number); err != nil {
		log.Error("anchor: send failed", "source", source.Name, "target", target.Name, "block", blockNumber, "err", err)
		return
	}
	relaymetrics.AnchorsTotal.WithLabelValues(target.Name).Inc()
}
