package vm

// subcall.go defines the host-facing subcall primitive: the record a
// precompile hands to its host to request a nested call, and the result
// record the host hands back. The EVM in this package implements Subcaller;
// other hosts (a go-ethereum EVM, test doubles) implement it as well.

import (
	"math/big"

	"github.com/evmbatch/evmbatch/core/types"
)

// CallContext carries the execution context the callee observes.
type CallContext struct {
	// Address is the account whose storage and balance the callee runs
	// against (the call target for plain calls).
	Address types.Address

	// Caller is the msg.sender the callee observes.
	Caller types.Address

	// ApparentValue is the msg.value the callee observes.
	ApparentValue *big.Int
}

// Transfer describes a value movement performed together with a call.
type Transfer struct {
	Source types.Address
	Target types.Address
	Value  *big.Int
}

// Subcall describes one nested call requested from the host.
type Subcall struct {
	Address  types.Address
	Transfer *Transfer // nil when no value moves
	Input    []byte
	Gas      uint64
	IsStatic bool
	Context  CallContext
}

// SubcallResult is the host's complete account of one finished subcall.
//
// Err is nil on success, ErrExecutionReverted when the callee reverted (with
// Output carrying the revert data), ErrOutOfGas when the callee exhausted its
// gas, and any other error for the remaining failure class. Cost is the gas
// consumed out of Subcall.Gas. Logs emitted by the callee must have reached
// the shared log sink before Subcall returns, so callers observe them ahead
// of any log they emit themselves.
type SubcallResult struct {
	Output []byte
	Cost   uint64
	Err    error
}

// Subcaller is the synchronous subcall primitive a host exposes to
// precompiles. The callee runs to completion, including any nested calls it
// makes, before Subcall returns.
type Subcaller interface {
	Subcall(call *Subcall) *SubcallResult
}

// LogSink accumulates log records in emission order. StateDB satisfies it.
type LogSink interface {
	AddLog(log *types.Log)
}
