// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txsender is the single place every pipeline (anchor, transfer,
// rescan, flush) goes through to submit a transaction to the relay
// contract: build, sign, send, and — on a nonce-too-low rejection —
// resync and retry (C3).
package txsender

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/chainbridge/relay/internal/chainclient"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/relayerr"
)

// Send builds a call to fn on the relay contract with params, signs it with
// net's operator account, and submits it, waiting for net.Confirmations
// confirmations. On a "nonce too low" rejection it resyncs the nonce
// counter from the node and retries, up to net.Retries times (net.Retries+1
// attempts in all).
func Send(ctx context.Context, net *network.Network, fn string, params ...interface{}) (*types.Receipt, error) {
	data, err := net.Relay.Pack(fn, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", relayerr.ErrCouldNotBuildTransaction, err)
	}

	attempts := net.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		receipt, err := send(ctx, net, net.Relay.Address, data)
		if err == nil {
			if statusErr := checkStatus(net, fn, receipt); statusErr != nil {
				return receipt, statusErr
			}
			return receipt, nil
		}
		lastErr = err

		if !chainclient.IsNonceTooLow(err) {
			return nil, err
		}

		log.Warn("nonce too low, resyncing and retrying",
			"network", net.Name, "fn", fn, "attempt", attempt+1, "of", attempts)
		if resyncErr := net.ResyncNonce(ctx); resyncErr != nil {
			return nil, fmt.Errorf("txsender: resync after nonce-too-low: %w", resyncErr)
		}
	}
	return nil, fmt.Errorf("txsender: %s: exhausted %d attempts: %w", fn, attempts, lastErr)
}

// send builds, signs and submits a single attempt at the network's next
// nonce (net.NextNonce). It does not retry — callers handle the nonce-too-low / resync loop.
func send(ctx context.Context, net *network.Network, to common.Address, data []byte) (*types.Receipt, error) {
	gasPrice, err := net.FinalizeGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", relayerr.ErrCouldNotBuildTransaction, err)
	}
	nonce := net.NextNonce()

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    nil,
		Gas:      net.GetGasLimit(),
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := net.Keystore().SignTx(net.KeystoreAccount(), tx, net.ChainID)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %s", relayerr.ErrCouldNotBuildTransaction, err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %s", relayerr.ErrCouldNotBuildTransaction, err)
	}

	log.Debug("submitting transaction", "network", net.Name, "to", to, "nonce", nonce, "gasPrice", gasPrice)
	return net.Chain.SendRawWithConfirmations(ctx, raw, net.Confirmations)
}

// checkStatus inspects a mined receipt's status: 1 means success, 0 means
// the call reverted on-chain (a contract-level reject, never retried here —
// it is left for the past-rescanner to retry). Pre-Byzantium chains encode
// the post-transaction state root in PostState instead of a status bit; a
// receipt like that is logged and treated as success, since there is no way
// to recover a pass/fail verdict from it.
func checkStatus(net *network.Network, fn string, receipt *types.Receipt) error {
	if len(receipt.PostState) > 0 {
		log.Warn("txsender: receipt has no status field, treating as success",
			"network", net.Name, "fn", fn, "tx", receipt.TxHash)
		return nil
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("%w: %s: tx %s", relayerr.ErrTransactionReverted, fn, receipt.TxHash)
	}
	return nil
}
