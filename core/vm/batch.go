package vm

// batch.go implements the batch precompiled contract. A single call into the
// contract at BatchAddress dispatches an ordered sequence of subcalls, each
// with an optional value transfer and its own calldata, and records one
// status log per completed subcall. The three entry points differ only in
// how a failed subcall is handled: batchSome logs it and keeps going,
// batchSomeUntilFailure logs it and stops, batchAll aborts the whole batch.
//
// The contract is transparent with respect to msg.sender: every subcall
// observes the original caller of the batch, not the batch address. Before
// each subcall the engine withholds the cost of one status log (plus one
// unit of margin) from the forwarded gas, so that a subcall consuming
// everything handed to it still leaves enough to record its outcome.

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/evmbatch/evmbatch/core/types"
	"github.com/evmbatch/evmbatch/crypto"
)

// BatchAddress is the reserved address the batch contract is served at.
var BatchAddress = types.BytesToAddress([]byte{0x08, 0x08})

// Canonical signatures of the three batch entry points.
const (
	batchSomeSignature             = "batchSome(address[],uint256[],bytes[],bool)"
	batchSomeUntilFailureSignature = "batchSomeUntilFailure(address[],uint256[],bytes[],bool)"
	batchAllSignature              = "batchAll(address[],uint256[],bytes[],bool)"
)

// Selectors of the batch entry points (keccak-4 of the canonical signatures):
// batchSome 0x3d662152, batchSomeUntilFailure 0x310a0280, batchAll 0x9cb89af4.
var (
	SelectorBatchSome             = ComputeSelector(batchSomeSignature)
	SelectorBatchSomeUntilFailure = ComputeSelector(batchSomeUntilFailureSignature)
	SelectorBatchAll              = ComputeSelector(batchAllSignature)
)

// Topic0 of the status events emitted for every completed subcall.
var (
	TopicSubcallSucceeded = crypto.Keccak256Hash([]byte("SubcallSucceeded(uint256)"))
	TopicSubcallFailed    = crypto.Keccak256Hash([]byte("SubcallFailed(uint256)"))
)

// ErrUnknownSelector is reported when the leading four calldata bytes match
// none of the batch entry points.
var ErrUnknownSelector = errors.New("batch: unknown selector")

// BatchMode identifies which batch entry point was invoked.
type BatchMode uint8

const (
	// BatchSome logs each subcall failure and continues with the next one.
	BatchSome BatchMode = iota

	// BatchSomeUntilFailure logs the first subcall failure and stops, still
	// returning success for the prefix that ran.
	BatchSomeUntilFailure

	// BatchAll aborts the entire batch on the first subcall failure,
	// propagating a revert (ErrOutOfGas when the subcall ran out of gas) so
	// the host unwinds every state change.
	BatchAll
)

// String implements fmt.Stringer.
func (m BatchMode) String() string {
	switch m {
	case BatchSome:
		return "batchSome"
	case BatchSomeUntilFailure:
		return "batchSomeUntilFailure"
	case BatchAll:
		return "batchAll"
	default:
		return fmt.Sprintf("BatchMode(%d)", uint8(m))
	}
}

// Selector returns the 4-byte selector of the mode's entry point.
func (m BatchMode) Selector() [4]byte {
	switch m {
	case BatchSomeUntilFailure:
		return SelectorBatchSomeUntilFailure
	case BatchAll:
		return SelectorBatchAll
	default:
		return SelectorBatchSome
	}
}

// BatchModeFromSelector resolves the leading 4 calldata bytes to a mode.
func BatchModeFromSelector(sel [4]byte) (BatchMode, bool) {
	switch sel {
	case SelectorBatchSome:
		return BatchSome, true
	case SelectorBatchSomeUntilFailure:
		return BatchSomeUntilFailure, true
	case SelectorBatchAll:
		return BatchAll, true
	default:
		return 0, false
	}
}

// SubcallSucceededLog builds the status log recording that subcall index
// completed successfully.
func SubcallSucceededLog(precompile types.Address, index int) *types.Log {
	return &types.Log{
		Address: precompile,
		Topics:  []types.Hash{TopicSubcallSucceeded},
		Data:    Uint256ToBytes(uint64(index)),
	}
}

// SubcallFailedLog builds the status log recording that subcall index failed.
func SubcallFailedLog(precompile types.Address, index int) *types.Log {
	return &types.Log{
		Address: precompile,
		Topics:  []types.Hash{TopicSubcallFailed},
		Data:    Uint256ToBytes(uint64(index)),
	}
}

// SubcallStatusLogCost returns the gas charged for one status log: a single
// topic over a 32-byte index payload.
func SubcallStatusLogCost() uint64 {
	return logGasCost(1, 32)
}

// BatchPrecompile is the batch contract. It carries no state of its own;
// everything it touches belongs to the host.
type BatchPrecompile struct{}

// RequiredGas implements PrecompiledContract. The batch wrapper adds no
// intrinsic cost: gas accrues per subcall and per status log during dispatch.
func (c *BatchPrecompile) RequiredGas(input []byte) uint64 {
	return 0
}

// Run implements PrecompiledContract. The batch contract cannot run without
// a host environment.
func (c *BatchPrecompile) Run(input []byte) ([]byte, error) {
	return nil, ErrNoCallContext
}

// RunWithEnv implements ContextPrecompile: it decodes the batch, dispatches
// the subcalls in order, and synthesizes the terminal outcome.
func (c *BatchPrecompile) RunWithEnv(env *PrecompileEnv, input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	if env.IsStatic {
		return nil, suppliedGas, ErrWriteProtection
	}
	if len(input) < 4 {
		return batchRevert(suppliedGas, ErrUnknownSelector)
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	mode, ok := BatchModeFromSelector(sel)
	if !ok {
		return batchRevert(suppliedGas, ErrUnknownSelector)
	}

	in, err := DecodeBatchInput(input[4:])
	if err != nil {
		return batchRevert(suppliedGas, err)
	}

	statusCost := SubcallStatusLogCost()
	gasReserve := statusCost + 1
	remaining := suppliedGas

	for i, target := range in.Targets {
		// The reserve guarantees a status log can still be paid for after
		// the subcall, whatever the subcall consumes.
		if remaining < gasReserve {
			if mode == BatchAll {
				return nil, 0, ErrOutOfGas
			}
			break
		}
		forwarded := remaining - gasReserve

		value := new(big.Int)
		if i < len(in.Values) && in.Values[i] != nil {
			value = in.Values[i]
		}
		var data []byte
		if i < len(in.CallData) {
			data = in.CallData[i]
		}

		call := &Subcall{
			Address:  target,
			Input:    data,
			Gas:      forwarded,
			IsStatic: false,
			Context: CallContext{
				Address:       target,
				Caller:        env.Caller,
				ApparentValue: value,
			},
		}
		if value.Sign() > 0 {
			call.Transfer = &Transfer{
				Source: env.Caller,
				Target: target,
				Value:  value,
			}
		}

		res := env.Host.Subcall(call)
		if res.Cost >= remaining {
			remaining = 0
		} else {
			remaining -= res.Cost
		}

		d := decideSubcall(mode, res.Err)
		if d.emit {
			log := SubcallSucceededLog(env.Address, i)
			if d.failed {
				log = SubcallFailedLog(env.Address, i)
			}
			env.Logs.AddLog(log)
			if statusCost >= remaining {
				remaining = 0
			} else {
				remaining -= statusCost
			}
		}
		if d.abort != nil {
			if errors.Is(d.abort, ErrOutOfGas) {
				return nil, 0, ErrOutOfGas
			}
			if errors.Is(res.Err, ErrExecutionReverted) {
				// Pass the callee's revert data through verbatim.
				return res.Output, remaining, ErrExecutionReverted
			}
			return nil, remaining, ErrExecutionReverted
		}
		if d.halt {
			break
		}
	}

	return nil, remaining, nil
}

// subcallDisposition describes what the engine does after observing one
// subcall result.
type subcallDisposition struct {
	failed bool  // the status log records a failure
	emit   bool  // a status log is emitted for this subcall
	halt   bool  // iteration stops, the batch still returns success
	abort  error // terminal outcome replacing batch success
}

// decideSubcall maps a subcall result to the mode's disposition.
func decideSubcall(mode BatchMode, err error) subcallDisposition {
	switch {
	case err == nil:
		return subcallDisposition{emit: true}

	case errors.Is(err, ErrExecutionReverted):
		switch mode {
		case BatchSome:
			return subcallDisposition{failed: true, emit: true}
		case BatchSomeUntilFailure:
			return subcallDisposition{failed: true, emit: true, halt: true}
		default:
			return subcallDisposition{abort: ErrExecutionReverted}
		}

	case errors.Is(err, ErrOutOfGas):
		if mode == BatchAll {
			return subcallDisposition{abort: ErrOutOfGas}
		}
		return subcallDisposition{failed: true, emit: true, halt: true}

	default:
		if mode == BatchAll {
			return subcallDisposition{abort: ErrExecutionReverted}
		}
		return subcallDisposition{failed: true, emit: true, halt: true}
	}
}

// batchRevert surfaces a dispatch or decode failure as a top-level revert
// whose output carries the readable reason.
func batchRevert(gasLeft uint64, cause error) ([]byte, uint64, error) {
	return []byte(cause.Error()), gasLeft, fmt.Errorf("%w: %w", ErrExecutionReverted, cause)
}
