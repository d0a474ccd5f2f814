// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainclient is the thin capability surface the rest of the relay
// uses to talk to an EVM node: subscribe heads/logs, one-shot RPC calls, and
// submit-with-confirmations. It is the only package that touches transport.
package chainclient

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NonceTooLowSubstring is matched against the node's rejection reason by
// substring (go-ethereum and most clients don't expose a typed error for
// this).
const NonceTooLowSubstring = "nonce too low"

// ErrConnectionUnavailable is the transport error streamutil.Timeout raises
// once a subscription has gone quiet past its deadline.
var ErrConnectionUnavailable = errors.New("chainclient: connection unavailable")

// IsNonceTooLow reports whether err is the node's "nonce too low" rejection.
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(err.Error(), NonceTooLowSubstring)
}

// Client is the capability set spec.md §4.1 requires of a chain connection.
// The production implementation wraps *ethclient.Client; chainmock provides
// a queue-driven test double (C11).
type Client interface {
	// SubscribeNewHead streams block headers as they land. The
	// subscription's Err() channel reports why it ended; the ethclient-backed
	// implementation does not close the returned channel (chainmock closes
	// it on Close).
	SubscribeNewHead(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error)
	// SubscribeLogs streams logs matching q, including removed=true
	// entries delivered on reorg.
	SubscribeLogs(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, ethereum.Subscription, error)

	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// SendRawWithConfirmations submits a signed raw transaction and
	// resolves once its containing block has `confirmations` descendants.
	// A node rejection with "nonce too low" in its message is returned
	// unwrapped so txsender can detect it by substring.
	SendRawWithConfirmations(ctx context.Context, raw []byte, confirmations uint64) (*types.Receipt, error)

	Close()
}

// confirmationPollInterval is the fixed cadence SendRawWithConfirmations
// polls at, per spec.md §4.1.
const confirmationPollInterval = 1 * time.Second
