// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package network holds the per-chain shared context (C4): the contract
// handles, the operator account, and the three pieces of state every
// pipeline on that chain touches concurrently — the nonce counter, the
// flushed gate, and the pending-approval LRU.
package network

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/chainbridge/relay/internal/chainclient"
	"github.com/chainbridge/relay/internal/contracts"
	"github.com/chainbridge/relay/internal/relayerr"
	"github.com/chainbridge/relay/internal/relaymetrics"
	"github.com/chainbridge/relay/internal/relaytypes"
)

// DefaultPendingSize is the minimum LRU size spec.md §4.4 requires.
const DefaultPendingSize = 1024

// receiptPollInterval is the fixed cadence GetReceipt retries at.
const receiptPollInterval = 1 * time.Second

// ApprovalState is the live-transfer approval state machine's key state
// (spec.md §4.6 table), keyed by tx hash in Network.pending.
type ApprovalState int

const (
	// WaitApproval means an approval has been started for the transfer but
	// approveWithdrawal has not (yet) been sent successfully.
	WaitApproval ApprovalState = iota
	// Approved means the withdrawal has been approved and is not known to
	// have been reorged out.
	Approved
	// Removed means the originating log was reorged out; an unapprove may
	// have been sent, or none was needed.
	Removed
)

func (s ApprovalState) String() string {
	switch s {
	case WaitApproval:
		return "WaitApproval"
	case Approved:
		return "Approved"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// GasPricePolicy clamps a node-suggested gas price between an optional
// floor and ceiling ("ask the node and optionally clamp", spec.md §1).
type GasPricePolicy struct {
	Floor   *big.Int
	Ceiling *big.Int
}

func (p GasPricePolicy) clamp(suggested *big.Int) *big.Int {
	price := new(big.Int).Set(suggested)
	if p.Floor != nil && price.Cmp(p.Floor) < 0 {
		price.Set(p.Floor)
	}
	if p.Ceiling != nil && price.Cmp(p.Ceiling) > 0 {
		price.Set(p.Ceiling)
	}
	return price
}

// Config is the construction-time configuration for one chain, per
// spec.md §4.4.
type Config struct {
	Name             string // "home" or "side", used only for logging
	Chain            chainclient.Client
	TokenAddress     common.Address
	RelayAddress     common.Address
	Account          common.Address
	KeyDir           string
	ChainID          *big.Int
	Confirmations    uint64
	AnchorFrequency  uint64
	Interval         uint64
	Timeout          time.Duration
	Retries          int
	GasLimit         uint64
	GasPricePolicy   GasPricePolicy
	PendingSize      int
}

// Network is the shared, per-chain context pipelines run against.
type Network struct {
	Name            string
	Chain           chainclient.Client
	Token           *contracts.Token
	Relay           *contracts.Relay
	Account         common.Address
	ChainID         *big.Int
	Confirmations   uint64
	AnchorFrequency uint64
	Interval        uint64
	Timeout         time.Duration
	Retries         int
	gasLimit        uint64
	gasPricePolicy  GasPricePolicy

	keystore *keystore.KeyStore
	keystoreAccount accounts.Account

	nonce uint64 // atomic

	flushMu sync.RWMutex
	flushed *relaytypes.Event

	pendingMu sync.RWMutex
	pending   *lru.Cache

	balanceNote func(common.Address, *big.Int)
}

// SetBalanceTracker registers a callback invoked every time a withdrawal is
// approved on this chain, so C9's balances snapshot can stay current
// without re-scanning on every request. Nil clears it.
func (n *Network) SetBalanceTracker(f func(common.Address, *big.Int)) {
	n.balanceNote = f
}

// NoteBalance reports a withdrawal of amount to addr on this chain to the
// registered balance tracker, if any.
func (n *Network) NoteBalance(addr common.Address, amount *big.Int) {
	if n.balanceNote != nil {
		n.balanceNote(addr, amount)
	}
}

// New constructs a Network from cfg. It does not unlock the account or fetch
// the initial nonce — callers do that explicitly (Unlock, SeedNonce) so
// startup failures are attributable to a specific step.
func New(cfg Config) (*Network, error) {
	if cfg.Confirmations == 0 && cfg.AnchorFrequency != 0 {
		// not itself an error; anchor cadence validity is checked by the
		// caller per spec.md §6 startup constraints.
	}
	size := cfg.PendingSize
	if size < DefaultPendingSize {
		size = DefaultPendingSize
	}
	pending, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("network: new pending LRU: %w", err)
	}

	ks := keystore.NewKeyStore(cfg.KeyDir, keystore.StandardScryptN, keystore.StandardScryptP)
	acct, err := findAccount(ks, cfg.Account)
	if err != nil {
		return nil, err
	}

	return &Network{
		Name:            cfg.Name,
		Chain:           cfg.Chain,
		Token:           contracts.NewToken(cfg.TokenAddress, cfg.Chain),
		Relay:           contracts.NewRelay(cfg.RelayAddress, cfg.Chain),
		Account:         cfg.Account,
		ChainID:         cfg.ChainID,
		Confirmations:   cfg.Confirmations,
		AnchorFrequency: cfg.AnchorFrequency,
		Interval:        cfg.Interval,
		Timeout:         cfg.Timeout,
		Retries:         cfg.Retries,
		gasLimit:        cfg.GasLimit,
		gasPricePolicy:  cfg.GasPricePolicy,
		keystore:        ks,
		keystoreAccount: acct,
		pending:         pending,
	}, nil
}

func findAccount(ks *keystore.KeyStore, addr common.Address) (accounts.Account, error) {
	for _, a := range ks.Accounts() {
		if a.Address == addr {
			return a, nil
		}
	}
	return accounts.Account{Address: addr}, nil
}

// Unlock decrypts the operator's keyfile and keeps it unlocked for the
// lifetime of the process (spec.md §4.4 `unlock`).
func (n *Network) Unlock(password string) error {
	if err := n.keystore.Unlock(n.keystoreAccount, password); err != nil {
		return fmt.Errorf("%w: %s: %s", relayerr.ErrCouldNotUnlockAccount, n.Name, err)
	}
	return nil
}

// Keystore exposes the underlying keystore for txsender's signing step.
func (n *Network) Keystore() *keystore.KeyStore { return n.keystore }

// KeystoreAccount is the accounts.Account handle matching Account.
func (n *Network) KeystoreAccount() accounts.Account { return n.keystoreAccount }

// SeedNonce fetches the account's current nonce from the node and uses it
// as the counter's starting point.
func (n *Network) SeedNonce(ctx context.Context) error {
	nonce, err := n.Chain.PendingNonceAt(ctx, n.Account)
	if err != nil {
		return fmt.Errorf("network: seed nonce: %w", err)
	}
	atomic.StoreUint64(&n.nonce, nonce)
	return nil
}

// NextNonce atomically returns the next nonce to use and advances the
// counter (spec.md invariant 2: strictly increasing).
func (n *Network) NextNonce() uint64 {
	return atomic.AddUint64(&n.nonce, 1) - 1
}

// ResyncNonce refreshes the counter from the node's latest pending nonce,
// in response to an observed "nonce too low" rejection.
func (n *Network) ResyncNonce(ctx context.Context) error {
	nonce, err := n.Chain.PendingNonceAt(ctx, n.Account)
	if err != nil {
		return fmt.Errorf("network: resync nonce: %w", err)
	}
	atomic.StoreUint64(&n.nonce, nonce)
	relaymetrics.NonceResyncsTotal.WithLabelValues(n.Name).Inc()
	log.Info("resynced nonce", "network", n.Name, "nonce", nonce)
	return nil
}

// GetGasLimit returns the fixed gas limit configured for this chain.
func (n *Network) GetGasLimit() uint64 { return n.gasLimit }

// FinalizeGasPrice asks the node for a gas price and clamps it per policy.
func (n *Network) FinalizeGasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := n.Chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("network: suggest gas price: %w", err)
	}
	return n.gasPricePolicy.clamp(suggested), nil
}

// IsFlushed implements streamutil.FlushGate.
func (n *Network) IsFlushed() bool {
	n.flushMu.RLock()
	defer n.flushMu.RUnlock()
	return n.flushed != nil
}

// Flushed returns the event that triggered the flush, or nil if this chain
// has not been flushed.
func (n *Network) Flushed() *relaytypes.Event {
	n.flushMu.RLock()
	defer n.flushMu.RUnlock()
	return n.flushed
}

// SetFlushed records that this chain has been flushed, or (passing nil)
// that it has not. The flush pipeline calls it both at startup recovery and
// on a live Flush log.
func (n *Network) SetFlushed(e *relaytypes.Event) {
	n.flushMu.Lock()
	defer n.flushMu.Unlock()
	n.flushed = e
}

// PendingGet returns the approval state recorded for txHash, if any.
func (n *Network) PendingGet(txHash common.Hash) (ApprovalState, bool) {
	n.pendingMu.RLock()
	defer n.pendingMu.RUnlock()
	v, ok := n.pending.Peek(txHash)
	if !ok {
		return 0, false
	}
	return v.(ApprovalState), true
}

// PendingSet records the approval state for txHash.
func (n *Network) PendingSet(txHash common.Hash, state ApprovalState) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	n.pending.Add(txHash, state)
	relaymetrics.PendingSize.WithLabelValues(n.Name).Set(float64(n.pending.Len()))
}

// GetReceipt loops until txHash's receipt is visible on chain, honoring
// ctx cancellation. removed is carried through for logging only — reorged
// logs still resolve against the transaction's original receipt.
func (n *Network) GetReceipt(ctx context.Context, removed bool, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := n.Chain.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && err != ethereum.NotFound {
			log.Warn("error fetching receipt", "network", n.Name, "tx", txHash, "removed", removed, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CheckFlushBlock queries relay.flushBlock() and, if set, rehydrates the
// Flush event (log + receipt) so a restarted relay resumes flush
// processing instead of re-approving withdrawals on a flushed chain.
func (n *Network) CheckFlushBlock(ctx context.Context) (*relaytypes.Event, error) {
	block, err := n.Relay.FlushBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("network: check flush block: %w", err)
	}
	if block == 0 {
		return nil, nil
	}
	log.Info("flush block set on startup", "network", n.Name, "block", block)

	from := block
	if from > 0 {
		from--
	}
	logs, err := n.Chain.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{n.Relay.Address},
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(block + 1),
		Topics:    [][]common.Hash{{contracts.FlushEventSignature}},
	})
	if err != nil {
		return nil, fmt.Errorf("network: get flush log: %w", err)
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("network: flush block %d set but no Flush log found", block)
	}
	flushLog := logs[0]
	receipt, err := n.Chain.TransactionReceipt(ctx, flushLog.TxHash)
	if err != nil {
		return nil, fmt.Errorf("network: get flush receipt: %w", err)
	}
	return &relaytypes.Event{Log: flushLog, Receipt: receipt}, nil
}
