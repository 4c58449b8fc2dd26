// batch.go wires the batch precompile into go-ethereum.
//
// go-ethereum's PrecompiledContract interface hands a precompile nothing but
// its input bytes, so a contract that needs the caller identity and a subcall
// host cannot be registered into gethvm.PrecompiledContracts directly (the
// same class of limitation the EVM's unexported jump table imposes on custom
// opcodes). Integrations instead route calls targeting the batch address to
// BatchCaller, which runs the engine against the live geth EVM and StateDB.
package geth

import (
	"errors"
	"math/big"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/evmbatch/evmbatch/core/types"
	"github.com/evmbatch/evmbatch/core/vm"
)

// BatchExtensionNote documents why the batch contract cannot live in
// go-ethereum's plain precompile map.
const BatchExtensionNote = "go-ethereum precompiles receive input bytes only; the batch contract needs caller context and a subcall host"

// Host implements vm.Subcaller and vm.LogSink on top of a go-ethereum EVM
// and its StateDB. Callee logs land in the StateDB during EVM.Call, so they
// precede any status log the engine adds afterwards.
type Host struct {
	evm     *gethvm.EVM
	statedb gethvm.StateDB
}

// NewHost creates a host over the given geth EVM and state database.
func NewHost(evm *gethvm.EVM, statedb gethvm.StateDB) *Host {
	return &Host{evm: evm, statedb: statedb}
}

// Subcall implements vm.Subcaller.
func (h *Host) Subcall(call *vm.Subcall) *vm.SubcallResult {
	var value *big.Int
	if call.Transfer != nil {
		value = call.Transfer.Value
	}

	var (
		ret     []byte
		gasLeft uint64
		err     error
	)
	caller := ToGethAddress(call.Context.Caller)
	target := ToGethAddress(call.Address)
	if call.IsStatic {
		ret, gasLeft, err = h.evm.StaticCall(caller, target, call.Input, call.Gas)
	} else {
		ret, gasLeft, err = h.evm.Call(caller, target, call.Input, call.Gas, ToUint256(value))
	}

	return &vm.SubcallResult{
		Output: ret,
		Cost:   call.Gas - gasLeft,
		Err:    ClassifyGethError(err),
	}
}

// AddLog implements vm.LogSink.
func (h *Host) AddLog(l *types.Log) {
	h.statedb.AddLog(ToGethLog(l))
}

// ClassifyGethError maps go-ethereum execution errors onto the error classes
// the batch engine branches on. Unrecognized errors pass through unchanged
// and land in the engine's generic failure class.
func ClassifyGethError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gethvm.ErrExecutionReverted):
		return vm.ErrExecutionReverted
	case errors.Is(err, gethvm.ErrOutOfGas):
		return vm.ErrOutOfGas
	case errors.Is(err, gethvm.ErrInsufficientBalance):
		return vm.ErrInsufficientBalance
	default:
		return err
	}
}

// BatchCaller runs the batch contract against a go-ethereum EVM.
type BatchCaller struct {
	host     *Host
	contract vm.BatchPrecompile
}

// NewBatchCaller creates a caller bound to the given geth EVM and state
// database.
func NewBatchCaller(evm *gethvm.EVM, statedb gethvm.StateDB) *BatchCaller {
	return &BatchCaller{host: NewHost(evm, statedb)}
}

// BatchAddress returns the batch contract's address as a geth address, for
// routing and access-list warming.
func BatchAddress() gethcommon.Address {
	return ToGethAddress(vm.BatchAddress)
}

// Call dispatches a batch calldata buffer on behalf of caller with the given
// gas. The caller is observed as msg.sender by every subcall. The returned
// error classes mirror the engine's: nil, vm.ErrExecutionReverted (output
// carries the revert data), or vm.ErrOutOfGas.
func (b *BatchCaller) Call(caller gethcommon.Address, input []byte, gas uint64) ([]byte, uint64, error) {
	env := &vm.PrecompileEnv{
		Address:       vm.BatchAddress,
		Caller:        FromGethAddress(caller),
		ApparentValue: new(big.Int),
		IsStatic:      false,
		Host:          b.host,
		Logs:          b.host,
	}
	return b.contract.RunWithEnv(env, input, gas)
}
