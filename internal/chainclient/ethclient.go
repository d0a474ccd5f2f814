// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// ethClient is the production Client, backed by a WebSocket ethclient.Client.
type ethClient struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// Dial connects to an EVM node over the given WebSocket URI.
func Dial(ctx context.Context, wsURI string) (Client, error) {
	rc, err := rpc.DialContext(ctx, wsURI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", wsURI, err)
	}
	return &ethClient{rpc: rc, eth: ethclient.NewClient(rc)}, nil
}

func (c *ethClient) SubscribeNewHead(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error) {
	ch := make(chan *types.Header)
	sub, err := c.eth.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("chainclient: subscribe heads: %w", err)
	}
	return ch, sub, nil
}

func (c *ethClient) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, ethereum.Subscription, error) {
	ch := make(chan types.Log)
	sub, err := c.eth.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("chainclient: subscribe logs: %w", err)
	}
	return ch, sub, nil
}

func (c *ethClient) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return c.eth.BlockByNumber(ctx, number)
}

func (c *ethClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

func (c *ethClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

func (c *ethClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, blockNumber)
}

func (c *ethClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, blockNumber)
}

func (c *ethClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *ethClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

func (c *ethClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *ethClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

func (c *ethClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

func (c *ethClient) SendRawWithConfirmations(ctx context.Context, raw []byte, confirmations uint64) (*types.Receipt, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("chainclient: decode raw tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}

	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if confirmations == 0 {
		return receipt, nil
	}
	return c.waitConfirmations(ctx, receipt, confirmations)
}

func (c *ethClient) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && err != ethereum.NotFound {
			log.Warn("error polling for transaction receipt", "tx", txHash, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *ethClient) waitConfirmations(ctx context.Context, receipt *types.Receipt, confirmations uint64) (*types.Receipt, error) {
	target := receipt.BlockNumber.Uint64() + confirmations
	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()
	for {
		head, err := c.eth.BlockNumber(ctx)
		if err != nil {
			log.Warn("error polling for block number while waiting for confirmations", "err", err)
		} else if head >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *ethClient) Close() {
	c.eth.Close()
}
