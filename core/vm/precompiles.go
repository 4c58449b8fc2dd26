package vm

import (
	"errors"
	"math/big"

	"github.com/evmbatch/evmbatch/core/types"
)

// PrecompiledContract is the interface for native precompiled contracts.
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// PrecompileEnv carries the call context a context-aware precompile executes
// under: its own address, the caller it is transparent for, the apparent
// value, the static flag, the subcall host, and the log sink.
type PrecompileEnv struct {
	Address       types.Address
	Caller        types.Address
	ApparentValue *big.Int
	IsStatic      bool
	Host          Subcaller
	Logs          LogSink
}

// ContextPrecompile is implemented by precompiles that need call context and
// host access in addition to their input bytes. Such contracts meter their
// own gas: RunWithEnv receives the full supplied gas and returns what is
// left. Contracts in the active map that implement ContextPrecompile are
// dispatched through RunWithEnv; their PrecompiledContract methods are only
// exercised by hosts that cannot provide an environment.
type ContextPrecompile interface {
	PrecompiledContract
	RunWithEnv(env *PrecompileEnv, input []byte, suppliedGas uint64) (output []byte, gasLeft uint64, err error)
}

// ErrNoCallContext is returned when a context precompile is invoked through
// the plain Run interface, which cannot supply a host environment.
var ErrNoCallContext = errors.New("precompile: host call context required")

// PrecompiledContractsDefault is the precompile set served by this module.
var PrecompiledContractsDefault = map[types.Address]PrecompiledContract{
	BatchAddress: &BatchPrecompile{},
}

// IsPrecompiledContract checks if the given address is a precompiled
// contract in the default set.
func IsPrecompiledContract(addr types.Address) bool {
	_, ok := PrecompiledContractsDefault[addr]
	return ok
}
