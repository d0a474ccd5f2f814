// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relayerr collects the sentinel errors surfaced at startup and
// across package boundaries, so callers can errors.Is against them instead
// of matching message text.
package relayerr

import "errors"

var (
	// ErrInvalidConfirmations is returned when confirmations is configured
	// to be >= anchor_frequency on a chain where anchoring is enabled.
	ErrInvalidConfirmations = errors.New("relayerr: confirmations must be less than anchor frequency")

	// ErrInvalidAnchorFrequency is returned when anchor_frequency is zero
	// on a chain where anchoring is enabled.
	ErrInvalidAnchorFrequency = errors.New("relayerr: anchor frequency must be greater than zero")

	// ErrCouldNotUnlockAccount wraps a keystore decryption failure.
	ErrCouldNotUnlockAccount = errors.New("relayerr: could not unlock account")

	// ErrCouldNotBuildTransaction wraps a failure to ABI-encode or sign a
	// transaction before submission.
	ErrCouldNotBuildTransaction = errors.New("relayerr: could not build transaction")

	// ErrMissingRemoteKey is returned when a required key is absent from
	// the remote configuration tier.
	ErrMissingRemoteKey = errors.New("relayerr: missing remote configuration key")

	// ErrTransactionReverted is returned when a mined transaction's receipt
	// reports status 0: a contract-level reject, not a transport failure.
	// Callers must not retry it — see txsender.Send.
	ErrTransactionReverted = errors.New("relayerr: transaction reverted on-chain")
)
