package vm

import (
	"math/big"

	"github.com/evmbatch/evmbatch/core/types"
)

// Contract represents the execution context handed to a ContractRunner.
type Contract struct {
	CallerAddress types.Address
	Address       types.Address
	Code          []byte
	Input         []byte
	Gas           uint64
	Value         *big.Int
}

// NewContract creates a new contract context for execution.
func NewContract(caller, addr types.Address, value *big.Int, gas uint64) *Contract {
	return &Contract{
		CallerAddress: caller,
		Address:       addr,
		Value:         value,
		Gas:           gas,
	}
}

// UseGas attempts to consume the given gas. Returns false if insufficient gas.
func (c *Contract) UseGas(gas uint64) bool {
	if c.Gas < gas {
		return false
	}
	c.Gas -= gas
	return true
}

// ContractRunner executes contract bytecode. The interpreter is an external
// collaborator of this package: integrations plug a full EVM interpreter in
// here, tests plug stubs. The runner reads and consumes contract.Gas and
// returns the output together with nil, ErrExecutionReverted, or another
// execution error.
type ContractRunner interface {
	Run(evm *EVM, contract *Contract, input []byte) ([]byte, error)
}
