// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainmock is the C11 test double for chainclient.Client: tests
// enqueue RPC responses ahead of time and emit synthetic heads/logs into the
// subscriptions the code under test opened, mirroring
// original_source/src/mock/transport.rs's MockTransport but typed per call
// instead of carrying raw JSON-RPC values.
package chainmock

import (
	"context"
	"errors"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoResponseQueued is returned by BlockByNumber, HeaderByNumber,
// TransactionReceipt, BlockNumber, CallContract and SendRawWithConfirmations
// when nothing is enqueued for them, mirroring MockTransport's Unreachable
// error on an empty queue. The other calls fall back to a default result
// (nil code, zero balance, gas price 1, nonce 0, no logs).
var ErrNoResponseQueued = errors.New("chainmock: no response queued")

type receiptResp struct {
	receipt *types.Receipt
	err     error
}

type sendResp struct {
	receipt *types.Receipt
	err     error
}

// Client is a fully in-memory chainclient.Client. All queues are FIFO: the
// first enqueued response is the first one consumed.
type Client struct {
	mu sync.Mutex

	blocks     []*types.Block
	headers    []*types.Header
	receipts   []receiptResp
	code       [][]byte
	balances   []*big.Int
	blockNums  []uint64
	gasPrices  []*big.Int
	nonces     []uint64
	callResult [][]byte
	callErr    []error
	filterLogs [][]types.Log
	sendResps  []sendResp

	headSubs []chan *types.Header
	logSubs  []chan types.Log

	closed bool
}

// New returns an empty mock client; tests populate it with the Push* methods
// before exercising the pipeline under test.
func New() *Client {
	return &Client{}
}

func (c *Client) PushBlockByNumber(b *types.Block)       { c.mu.Lock(); c.blocks = append(c.blocks, b); c.mu.Unlock() }
func (c *Client) PushHeaderByNumber(h *types.Header)     { c.mu.Lock(); c.headers = append(c.headers, h); c.mu.Unlock() }
func (c *Client) PushBlockNumber(n uint64)               { c.mu.Lock(); c.blockNums = append(c.blockNums, n); c.mu.Unlock() }
func (c *Client) PushGasPrice(p *big.Int)                { c.mu.Lock(); c.gasPrices = append(c.gasPrices, p); c.mu.Unlock() }
func (c *Client) PushNonce(n uint64)                     { c.mu.Lock(); c.nonces = append(c.nonces, n); c.mu.Unlock() }
func (c *Client) PushCode(code []byte)                   { c.mu.Lock(); c.code = append(c.code, code); c.mu.Unlock() }
func (c *Client) PushBalance(bal *big.Int)               { c.mu.Lock(); c.balances = append(c.balances, bal); c.mu.Unlock() }
func (c *Client) PushFilterLogs(logs []types.Log)        { c.mu.Lock(); c.filterLogs = append(c.filterLogs, logs); c.mu.Unlock() }

func (c *Client) PushReceipt(r *types.Receipt, err error) {
	c.mu.Lock()
	c.receipts = append(c.receipts, receiptResp{r, err})
	c.mu.Unlock()
}

func (c *Client) PushCallContract(result []byte, err error) {
	c.mu.Lock()
	c.callResult = append(c.callResult, result)
	c.callErr = append(c.callErr, err)
	c.mu.Unlock()
}

// PushSendResult enqueues the outcome of the next SendRawWithConfirmations
// call — used to script nonce-desync-then-success scenarios (spec.md
// scenario C).
func (c *Client) PushSendResult(r *types.Receipt, err error) {
	c.mu.Lock()
	c.sendResps = append(c.sendResps, sendResp{r, err})
	c.mu.Unlock()
}

// EmitHead broadcasts h to every open head subscription.
func (c *Client) EmitHead(h *types.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.headSubs {
		ch <- h
	}
}

// EmitLog broadcasts l to every open log subscription.
func (c *Client) EmitLog(l types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.logSubs {
		ch <- l
	}
}

// HeadSubscriptionCount reports how many live head subscriptions exist, for
// assertions that a pipeline actually subscribed.
func (c *Client) HeadSubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.headSubs)
}

// LogSubscriptionCount reports how many live log subscriptions exist.
func (c *Client) LogSubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logSubs)
}

type mockSubscription struct {
	errCh chan error
}

func (s *mockSubscription) Unsubscribe() {}
func (s *mockSubscription) Err() <-chan error { return s.errCh }

func (c *Client) SubscribeNewHead(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error) {
	ch := make(chan *types.Header, 16)
	c.mu.Lock()
	c.headSubs = append(c.headSubs, ch)
	c.mu.Unlock()
	return ch, &mockSubscription{errCh: make(chan error, 1)}, nil
}

func (c *Client) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, ethereum.Subscription, error) {
	ch := make(chan types.Log, 16)
	c.mu.Lock()
	c.logSubs = append(c.logSubs, ch)
	c.mu.Unlock()
	return ch, &mockSubscription{errCh: make(chan error, 1)}, nil
}

func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return nil, ErrNoResponseQueued
	}
	b := c.blocks[0]
	c.blocks = c.blocks[1:]
	return b, nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.headers) == 0 {
		return nil, ErrNoResponseQueued
	}
	h := c.headers[0]
	c.headers = c.headers[1:]
	return h, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.receipts) == 0 {
		return nil, ErrNoResponseQueued
	}
	r := c.receipts[0]
	c.receipts = c.receipts[1:]
	return r.receipt, r.err
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.code) == 0 {
		return nil, nil
	}
	code := c.code[0]
	c.code = c.code[1:]
	return code, nil
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.balances) == 0 {
		return big.NewInt(0), nil
	}
	b := c.balances[0]
	c.balances = c.balances[1:]
	return b, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blockNums) == 0 {
		return 0, ErrNoResponseQueued
	}
	n := c.blockNums[0]
	c.blockNums = c.blockNums[1:]
	return n, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.gasPrices) == 0 {
		return big.NewInt(1), nil
	}
	p := c.gasPrices[0]
	c.gasPrices = c.gasPrices[1:]
	return p, nil
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.nonces) == 0 {
		return 0, nil
	}
	n := c.nonces[0]
	c.nonces = c.nonces[1:]
	return n, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.callResult) == 0 {
		return nil, ErrNoResponseQueued
	}
	res, err := c.callResult[0], c.callErr[0]
	c.callResult, c.callErr = c.callResult[1:], c.callErr[1:]
	return res, err
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.filterLogs) == 0 {
		return nil, nil
	}
	logs := c.filterLogs[0]
	c.filterLogs = c.filterLogs[1:]
	return logs, nil
}

func (c *Client) SendRawWithConfirmations(ctx context.Context, raw []byte, confirmations uint64) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendResps) == 0 {
		return nil, ErrNoResponseQueued
	}
	r := c.sendResps[0]
	c.sendResps = c.sendResps[1:]
	return r.receipt, r.err
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, ch := range c.headSubs {
		close(ch)
	}
	for _, ch := range c.logSubs {
		close(ch)
	}
	c.headSubs = nil
	c.logSubs = nil
}
