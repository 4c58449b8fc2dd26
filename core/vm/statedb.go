package vm

import (
	"math/big"

	"github.com/evmbatch/evmbatch/core/types"
)

// StateDB provides the call-frame host with access to the world state. The
// interface is defined here so implementations can live outside this package;
// it covers the operations the call path performs (account lifecycle,
// balance movement, code lookup, journaling, and log accumulation) plus nonce
// access and code installation, which the call path itself does not use.
type StateDB interface {
	CreateAccount(addr types.Address)
	Exist(addr types.Address) bool

	GetBalance(addr types.Address) *big.Int
	AddBalance(addr types.Address, amount *big.Int)
	SubBalance(addr types.Address, amount *big.Int)

	GetNonce(addr types.Address) uint64
	SetNonce(addr types.Address, nonce uint64)

	GetCode(addr types.Address) []byte
	SetCode(addr types.Address, code []byte)

	// Snapshot and revert. Reverting must undo every state mutation made
	// after the snapshot, including accumulated logs.
	Snapshot() int
	RevertToSnapshot(id int)

	AddLog(log *types.Log)
}
