package vm

// evm.go implements the call-frame host: value transfers with snapshot and
// revert semantics, precompile dispatch (including context precompiles), and
// the Subcaller primitive precompiles drive nested calls through. Bytecode
// execution is delegated to the configured ContractRunner.

import (
	"errors"
	"math/big"

	"github.com/evmbatch/evmbatch/core/types"
)

var (
	ErrOutOfGas             = errors.New("out of gas")
	ErrExecutionReverted    = errors.New("execution reverted")
	ErrWriteProtection      = errors.New("write protection")
	ErrMaxCallDepthExceeded = errors.New("max call depth exceeded")
	ErrInsufficientBalance  = errors.New("insufficient balance for transfer")
	ErrNoStateDB            = errors.New("no state database")
	ErrNoContractRunner     = errors.New("contract execution not configured")
)

// Config holds EVM configuration options.
type Config struct {
	MaxCallDepth int
}

// EVM is the execution environment for a single top-level call and the
// frames nested under it.
type EVM struct {
	Config  Config
	StateDB StateDB

	// Runner executes bytecode for accounts that carry code. A nil runner
	// fails such calls; transfers and precompiles do not need one.
	Runner ContractRunner

	depth       int
	readOnly    bool
	precompiles map[types.Address]PrecompiledContract
}

// NewEVM creates a new EVM instance.
func NewEVM(config Config) *EVM {
	if config.MaxCallDepth == 0 {
		config.MaxCallDepth = MaxCallDepth
	}
	return &EVM{Config: config}
}

// NewEVMWithState creates a new EVM instance with state access.
func NewEVMWithState(config Config, stateDB StateDB) *EVM {
	evm := NewEVM(config)
	evm.StateDB = stateDB
	return evm
}

// SetPrecompiles replaces the EVM's precompile map.
func (evm *EVM) SetPrecompiles(p map[types.Address]PrecompiledContract) {
	evm.precompiles = p
}

// precompile returns the precompiled contract at addr, falling back to the
// default set if no custom map has been set.
func (evm *EVM) precompile(addr types.Address) (PrecompiledContract, bool) {
	m := evm.precompiles
	if m == nil {
		m = PrecompiledContractsDefault
	}
	p, ok := m[addr]
	return p, ok
}

// Call executes a message call to the given address with the given input,
// gas, and value. State changes made by a failed call are reverted before
// Call returns. A non-revert error from bytecode execution, or a missing
// runner, additionally consumes all remaining gas in the frame; checks that
// fail before execution (call depth, write protection, balance) return the
// supplied gas, and precompiles report their own remaining gas.
func (evm *EVM) Call(caller, addr types.Address, input []byte, gas uint64, value *big.Int) ([]byte, uint64, error) {
	if evm.depth > evm.Config.MaxCallDepth {
		return nil, gas, ErrMaxCallDepthExceeded
	}
	if evm.StateDB == nil {
		return nil, gas, ErrNoStateDB
	}

	transfersValue := value != nil && value.Sign() > 0
	if transfersValue {
		if evm.readOnly {
			return nil, gas, ErrWriteProtection
		}
		if evm.StateDB.GetBalance(caller).Cmp(value) < 0 {
			return nil, gas, ErrInsufficientBalance
		}
	}

	snapshot := evm.StateDB.Snapshot()

	p, isPrecompile := evm.precompile(addr)

	if !evm.StateDB.Exist(addr) {
		if !isPrecompile && !transfersValue {
			// Do not materialize empty accounts for zero-value calls.
			return nil, gas, nil
		}
		evm.StateDB.CreateAccount(addr)
	}

	if transfersValue {
		evm.StateDB.SubBalance(caller, value)
		evm.StateDB.AddBalance(addr, value)
	}

	if isPrecompile {
		ret, gasLeft, err := evm.runPrecompile(p, caller, addr, value, input, gas)
		if err != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
		}
		return ret, gasLeft, err
	}

	code := evm.StateDB.GetCode(addr)
	if len(code) == 0 {
		// No code to execute, the call succeeds with no return data.
		return nil, gas, nil
	}
	if evm.Runner == nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		return nil, 0, ErrNoContractRunner
	}

	contract := NewContract(caller, addr, value, gas)
	contract.Code = code

	evm.depth++
	ret, err := evm.Runner.Run(evm, contract, input)
	evm.depth--

	gasLeft := contract.Gas

	if err != nil && !errors.Is(err, ErrExecutionReverted) {
		// Non-revert error: revert state, consume all gas.
		evm.StateDB.RevertToSnapshot(snapshot)
		gasLeft = 0
	} else if errors.Is(err, ErrExecutionReverted) {
		// Revert: revert state, return remaining gas.
		evm.StateDB.RevertToSnapshot(snapshot)
	}

	return ret, gasLeft, err
}

// runPrecompile dispatches a precompiled contract. Context precompiles get
// the full environment and meter their own gas; plain precompiles keep the
// RequiredGas/Run flow.
func (evm *EVM) runPrecompile(p PrecompiledContract, caller, addr types.Address, value *big.Int, input []byte, gas uint64) ([]byte, uint64, error) {
	if cp, ok := p.(ContextPrecompile); ok {
		apparent := value
		if apparent == nil {
			apparent = new(big.Int)
		}
		env := &PrecompileEnv{
			Address:       addr,
			Caller:        caller,
			ApparentValue: apparent,
			IsStatic:      evm.readOnly,
			Host:          evm,
			Logs:          evm.StateDB,
		}
		return cp.RunWithEnv(env, input, gas)
	}

	gasCost := p.RequiredGas(input)
	if gas < gasCost {
		return nil, 0, ErrOutOfGas
	}
	output, err := p.Run(input)
	return output, gas - gasCost, err
}

// Subcall implements Subcaller on top of Call, preserving the caller the
// requesting precompile is transparent for.
func (evm *EVM) Subcall(call *Subcall) *SubcallResult {
	var value *big.Int
	if call.Transfer != nil {
		value = call.Transfer.Value
	}

	prevReadOnly := evm.readOnly
	if call.IsStatic {
		evm.readOnly = true
	}
	ret, gasLeft, err := evm.Call(call.Context.Caller, call.Address, call.Input, call.Gas, value)
	evm.readOnly = prevReadOnly

	return &SubcallResult{
		Output: ret,
		Cost:   call.Gas - gasLeft,
		Err:    err,
	}
}
