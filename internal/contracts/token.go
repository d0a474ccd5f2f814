// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package contracts

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the read-only subset of chainclient.Client contracts need to
// perform calls. Satisfied by bind.ContractCaller.
type Caller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Token wraps the bridged ERC-20 token contract.
type Token struct {
	Address  common.Address
	contract *bind.BoundContract
}

// NewToken builds a Token bound to addr using caller for eth_call/eth_getCode.
func NewToken(addr common.Address, caller Caller) *Token {
	return &Token{
		Address:  addr,
		contract: bind.NewBoundContract(addr, TokenABI, caller, nil, nil),
	}
}

// BalanceOf returns the token balance of account at the latest block.
func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := t.contract.Call(opts, &out, "balanceOf", account); err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}
