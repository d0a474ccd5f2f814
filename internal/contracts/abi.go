// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contracts wraps the two contracts this relay talks to: the
// bridged ERC-20 token and the relay contract itself. Neither ABI is
// authored here — both are the minimal read/write surface spec.md §6
// documents as externally owned.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// tokenABIJSON is the minimal ERC-20 surface the relay needs: balanceOf and
// the Transfer event.
const tokenABIJSON = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]}
]`

// relayABIJSON is the minimal relay-contract surface: anchor, the
// withdrawal-approval lifecycle, the fee/flush queries, and the Flush event.
const relayABIJSON = `[
	{"type":"event","name":"Flush","anonymous":false,"inputs":[]},
	{"type":"function","name":"anchor","stateMutability":"nonpayable",
		"inputs":[{"name":"blockHash","type":"bytes32"},{"name":"blockNumber","type":"uint256"}],
		"outputs":[]},
	{"type":"function","name":"approveWithdrawal","stateMutability":"nonpayable",
		"inputs":[
			{"name":"destination","type":"address"},
			{"name":"amount","type":"uint256"},
			{"name":"txHash","type":"bytes32"},
			{"name":"blockHash","type":"bytes32"},
			{"name":"blockNumber","type":"uint256"}
		],
		"outputs":[]},
	{"type":"function","name":"unapproveWithdrawal","stateMutability":"nonpayable",
		"inputs":[
			{"name":"txHash","type":"bytes32"},
			{"name":"blockHash","type":"bytes32"},
			{"name":"blockNumber","type":"uint256"}
		],
		"outputs":[]},
	{"type":"function","name":"withdrawals","stateMutability":"view",
		"inputs":[{"name":"hash","type":"bytes32"}],
		"outputs":[
			{"name":"destination","type":"address"},
			{"name":"amount","type":"uint256"},
			{"name":"processed","type":"bool"}
		]},
	{"type":"function","name":"withdrawalApprovals","stateMutability":"view",
		"inputs":[{"name":"hash","type":"bytes32"},{"name":"index","type":"uint256"}],
		"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"fees","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"feeWallet","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"flushBlock","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	// TokenABI is the parsed ERC-20 ABI.
	TokenABI abi.ABI
	// RelayABI is the parsed relay-contract ABI.
	RelayABI abi.ABI

	// TransferEventSignature is keccak256("Transfer(address,address,uint256)"),
	// the topic[0] every ERC-20 Transfer log carries.
	TransferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	// FlushEventSignature is keccak256("Flush()").
	FlushEventSignature = crypto.Keccak256Hash([]byte("Flush()"))
)

func init() {
	var err error
	TokenABI, err = abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic("contracts: invalid embedded token ABI: " + err.Error())
	}
	RelayABI, err = abi.JSON(strings.NewReader(relayABIJSON))
	if err != nil {
		panic("contracts: invalid embedded relay ABI: " + err.Error())
	}
}
