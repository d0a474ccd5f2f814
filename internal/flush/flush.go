// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package flush is the flush pipeline (C8): on a Flush() event it
// reconstructs every side-chain holder's balance, filters out contracts and
// sub-fee balances, withdraws each remaining holder to the home chain, and
// sweeps whatever remains in the relay contract to the fee wallet.
package flush

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/chainbridge/relay/internal/chainclient"
	"github.com/chainbridge/relay/internal/contracts"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/relaymetrics"
	"github.com/chainbridge/relay/internal/relaytypes"
	"github.com/chainbridge/relay/internal/streamutil"
	"github.com/chainbridge/relay/internal/txsender"
)

// balanceWindowSize is the block window balance reconstruction replays
// Transfer logs in.
const balanceWindowSize = 1000

// processedPollInterval is the cadence withdrawHolders/sweepRemainder poll
// the target relay's withdrawals() at while waiting for processed.
const processedPollInterval = 1 * time.Second

type holder struct {
	Address common.Address
	Balance *big.Int
}

// Run watches source for a live Flush() log and, on the first one, runs
// the full flush pipeline. The pipeline is single-flight per chain — once
// source.SetFlushed is called, the subscription is left open only long
// enough to observe that one log; Run then returns and the Flushed gate on
// every other pipeline watching source keeps them from racing it.
func Run(ctx context.Context, source, target *network.Network) error {
	logs, sub, err := source.Chain.SubscribeLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{source.Relay.Address},
		Topics:    [][]common.Hash{{contracts.FlushEventSignature}},
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	results := streamutil.Timeout(ctx, logs, source.Timeout, chainclient.ErrConnectionUnavailable)
	for r := range results {
		if r.Err != nil {
			return r.Err
		}
		l := r.Value
		if l.Removed {
			log.Warn("flush: Flush log removed by reorg, ignoring", "network", source.Name, "tx", l.TxHash)
			continue
		}
		receipt, err := source.Chain.TransactionReceipt(ctx, l.TxHash)
		if err != nil {
			return fmt.Errorf("flush: fetch Flush receipt: %w", err)
		}
		event := &relaytypes.Event{Log: l, Receipt: receipt}
		source.SetFlushed(event)
		return Process(ctx, source, target, event)
	}
	return nil
}

// Recover runs past-flush recovery at startup: if source.CheckFlushBlock
// reports an in-progress flush, the pipeline resumes from stage 1 before
// anything else runs.
func Recover(ctx context.Context, source, target *network.Network) error {
	event, err := source.CheckFlushBlock(ctx)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}
	source.SetFlushed(event)
	return Process(ctx, source, target, event)
}

// Process runs the five flush stages against event, which pins the flush's
// transaction hash, block hash, and block number.
func Process(ctx context.Context, source, target *network.Network, event *relaytypes.Event) error {
	if event.Receipt.BlockNumber == nil {
		return fmt.Errorf("flush: Flush receipt missing block number")
	}
	flushBlock := event.Receipt.BlockNumber.Uint64()

	balances, err := reconstructBalances(ctx, source, flushBlock)
	if err != nil {
		return fmt.Errorf("flush: balance reconstruction: %w", err)
	}

	holders := excludeContracts(ctx, source, balances)
	holders, err = excludeUnderFee(ctx, target, holders)
	if err != nil {
		return fmt.Errorf("flush: fee filter: %w", err)
	}
	sort.Slice(holders, func(i, j int) bool {
		return compareAddress(holders[i].Address, holders[j].Address) < 0
	})

	attempted, err := withdrawHolders(ctx, target, event, holders)
	if err != nil {
		return fmt.Errorf("flush: per-holder withdrawal: %w", err)
	}

	if err := sweepRemainder(ctx, target, event, attempted); err != nil {
		return fmt.Errorf("flush: remainder sweep: %w", err)
	}
	log.Info("flush complete", "network", source.Name, "holders", len(holders), "attempted", attempted)
	return nil
}

func compareAddress(a, b common.Address) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// reconstructBalances replays every Transfer log on source.Token in
// balanceWindowSize-block windows over [0, flushBlock], saturating debits
// at zero (mints are Transfers from the zero address, handled the same as
// any other debit/credit pair).
func reconstructBalances(ctx context.Context, source *network.Network, flushBlock uint64) (map[common.Address]*big.Int, error) {
	balances := make(map[common.Address]*big.Int)
	for from := uint64(0); from <= flushBlock; from += balanceWindowSize {
		to := from + balanceWindowSize - 1
		if to > flushBlock {
			to = flushBlock
		}
		logs, err := source.Chain.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{source.Token.Address},
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Topics:    [][]common.Hash{{contracts.TransferEventSignature}},
		})
		if err != nil {
			return nil, fmt.Errorf("getLogs [%d,%d]: %w", from, to, err)
		}
		for _, l := range logs {
			if l.Removed || len(l.Topics) < 3 || len(l.Data) < 32 {
				continue
			}
			fromAddr := common.BytesToAddress(l.Topics[1].Bytes())
			toAddr := common.BytesToAddress(l.Topics[2].Bytes())
			amount := new(big.Int).SetBytes(l.Data[:32])
			debit(balances, fromAddr, amount)
			credit(balances, toAddr, amount)
		}
	}
	return balances, nil
}

func debit(balances map[common.Address]*big.Int, addr common.Address, amount *big.Int) {
	bal := balances[addr]
	if bal == nil {
		bal = new(big.Int)
	}
	balances[addr] = bigMax(new(big.Int).Sub(bal, amount), new(big.Int))
}

// bigMax returns the larger of a or b. The result is one of the two
// arguments itself, not a copy.
func bigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) > 0 {
		return a
	}
	return b
}

func credit(balances map[common.Address]*big.Int, addr common.Address, amount *big.Int) {
	bal := balances[addr]
	if bal == nil {
		bal = new(big.Int)
	}
	balances[addr] = new(big.Int).Add(bal, amount)
}

// excludeContracts drops the zero address, zero balances, and any holder
// whose account has code (eth_getCode non-empty).
func excludeContracts(ctx context.Context, source *network.Network, balances map[common.Address]*big.Int) []holder {
	var holders []holder
	for addr, bal := range balances {
		if addr == (common.Address{}) || bal.Sign() <= 0 {
			continue
		}
		code, err := source.Chain.CodeAt(ctx, addr, nil)
		if err != nil {
			log.Warn("flush: could not check code, excluding holder", "network", source.Name, "addr", addr, "err", err)
			continue
		}
		if len(code) > 0 {
			continue
		}
		holders = append(holders, holder{Address: addr, Balance: bal})
	}
	return holders
}

// excludeUnderFee drops any holder whose balance does not exceed the
// target relay's fee threshold. The fee is a filter threshold only — it is
// not subtracted from the withdrawn amount (preserved verbatim from the
// original).
func excludeUnderFee(ctx context.Context, target *network.Network, holders []holder) ([]holder, error) {
	fees, err := target.Relay.Fees(ctx)
	if err != nil {
		return nil, err
	}
	var out []holder
	for _, h := range holders {
		if h.Balance.Cmp(fees) <= 0 {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// withdrawHolders submits one approveWithdrawal per holder, in address
// order, skipping any whose withdrawal is already processed, and waits for
// each to finish processing before moving to the next (the pipeline is
// single-flight by design — no benefit to overlapping these).
func withdrawHolders(ctx context.Context, target *network.Network, event *relaytypes.Event, holders []holder) (int, error) {
	attempted := 0
	for i, h := range holders {
		t := relaytypes.Transfer{
			Destination: h.Address,
			Amount:      h.Balance,
			TxHash:      event.Receipt.TxHash,
			BlockHash:   event.Receipt.BlockHash,
			BlockNumber: event.Receipt.BlockNumber.Uint64() + uint64(i),
		}
		hash := t.WithdrawalHash()

		withdrawal, err := target.Relay.Withdrawals(ctx, hash)
		if err != nil {
			return attempted, err
		}
		if withdrawal.Processed {
			continue
		}

		attempted++
		if _, err := txsender.Send(ctx, target, "approveWithdrawal",
			t.Destination, t.Amount, t.TxHash, t.BlockHash, new(big.Int).SetUint64(t.BlockNumber)); err != nil {
			return attempted, fmt.Errorf("holder %s: %w", h.Address, err)
		}
		if err := waitProcessed(ctx, target, hash); err != nil {
			return attempted, fmt.Errorf("holder %s: %w", h.Address, err)
		}
		target.NoteBalance(h.Address, h.Balance)
		relaymetrics.FlushHoldersProcessed.WithLabelValues(target.Name).Inc()
	}
	return attempted, nil
}

// sweepRemainder withdraws whatever token balance is left in target's
// relay contract to its configured fee wallet, using the same
// synthetic-Transfer pattern as withdrawHolders with block_number offset
// by attempted+1. That offset lies past every holder's offset unless two
// or more holders were skipped as already processed, in which case it can
// equal a skipped holder's offset.
func sweepRemainder(ctx context.Context, target *network.Network, event *relaytypes.Event, attempted int) error {
	remaining, err := target.Token.BalanceOf(ctx, target.Relay.Address)
	if err != nil {
		return err
	}
	if remaining.Sign() == 0 {
		return nil
	}
	feeWallet, err := target.Relay.FeeWallet(ctx)
	if err != nil {
		return err
	}

	t := relaytypes.Transfer{
		Destination: feeWallet,
		Amount:      remaining,
		TxHash:      event.Receipt.TxHash,
		BlockHash:   event.Receipt.BlockHash,
		BlockNumber: event.Receipt.BlockNumber.Uint64() + uint64(attempted) + 1,
	}
	hash := t.WithdrawalHash()

	withdrawal, err := target.Relay.Withdrawals(ctx, hash)
	if err != nil {
		return err
	}
	if withdrawal.Processed {
		return nil
	}

	if _, err := txsender.Send(ctx, target, "approveWithdrawal",
		t.Destination, t.Amount, t.TxHash, t.BlockHash, new(big.Int).SetUint64(t.BlockNumber)); err != nil {
		return err
	}
	return waitProcessed(ctx, target, hash)
}

func waitProcessed(ctx context.Context, target *network.Network, hash common.Hash) error {
	ticker := time.NewTicker(processedPollInterval)
	defer ticker.Stop()
	for {
		withdrawal, err := target.Relay.Withdrawals(ctx, hash)
		if err == nil && withdrawal.Processed {
			return nil
		}
		if err != nil {
			log.Warn("flush: error polling withdrawal status", "network", target.Name, "hash", hash, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
