package vm

// batch_abi.go implements the calldata codec for the batch precompile: the
// standard Ethereum ABI encoding of the argument tuple
// (address[], uint256[], bytes[], bool), with head/tail offset handling and
// strict bounds checks, plus the 4-byte selector helper.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/evmbatch/evmbatch/core/types"
	"github.com/evmbatch/evmbatch/crypto"
)

// Common ABI errors.
var (
	ErrABIShortData      = errors.New("abi: data too short")
	ErrABIOffsetOverflow = errors.New("abi: offset exceeds data length")
	ErrABIInvalidBool    = errors.New("abi: invalid bool value")
)

// BatchInput is the decoded argument tuple of a batch call. The three
// vectors may have different lengths: the engine iterates over Targets and
// treats missing Values/CallData entries as zero value and empty input,
// while excess entries in the longer vectors are ignored.
type BatchInput struct {
	Targets  []types.Address
	Values   []*big.Int
	CallData [][]byte

	// Reserved is the trailing boolean of the call signature. It is decoded
	// strictly but has no effect on dispatch.
	Reserved bool
}

// ComputeSelector computes the 4-byte function selector from a canonical
// function signature string like "batchAll(address[],uint256[],bytes[],bool)".
func ComputeSelector(signature string) [4]byte {
	hash := crypto.Keccak256([]byte(signature))
	var sel [4]byte
	copy(sel[:], hash[:4])
	return sel
}

// DecodeBatchInput decodes the ABI-encoded argument tuple of a batch call.
// The data must not include the 4-byte selector.
func DecodeBatchInput(data []byte) (*BatchInput, error) {
	offTargets, err := abiWordToOffset(data, 0)
	if err != nil {
		return nil, err
	}
	offValues, err := abiWordToOffset(data, 32)
	if err != nil {
		return nil, err
	}
	offCallData, err := abiWordToOffset(data, 64)
	if err != nil {
		return nil, err
	}

	in := &BatchInput{}

	in.Reserved, err = abiDecodeBool(data, 96)
	if err != nil {
		return nil, err
	}
	in.Targets, err = abiDecodeAddressSlice(data, offTargets)
	if err != nil {
		return nil, err
	}
	in.Values, err = abiDecodeUintSlice(data, offValues)
	if err != nil {
		return nil, err
	}
	in.CallData, err = abiDecodeBytesSlice(data, offCallData)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// EncodeBatchCall encodes a complete batch calldata buffer: the selector for
// the given mode followed by the ABI-encoded argument tuple.
func EncodeBatchCall(mode BatchMode, in *BatchInput) []byte {
	sel := mode.Selector()
	encoded := EncodeBatchInput(in)
	out := make([]byte, 4+len(encoded))
	copy(out[:4], sel[:])
	copy(out[4:], encoded)
	return out
}

// EncodeBatchInput ABI-encodes the argument tuple using head/tail encoding.
func EncodeBatchInput(in *BatchInput) []byte {
	const headSize = 4 * 32

	var tail []byte

	head := make([]byte, 0, headSize)

	// targets offset, then tail: length + one word per address.
	head = append(head, abiPadUint(uint64(headSize+len(tail)))...)
	tail = append(tail, abiPadUint(uint64(len(in.Targets)))...)
	for _, a := range in.Targets {
		tail = append(tail, abiPad32(a.Bytes())...)
	}

	// values offset, then tail: length + one word per value.
	head = append(head, abiPadUint(uint64(headSize+len(tail)))...)
	tail = append(tail, abiPadUint(uint64(len(in.Values)))...)
	for _, v := range in.Values {
		if v == nil {
			v = new(big.Int)
		}
		tail = append(tail, abiPad32(v.Bytes())...)
	}

	// calldatas offset, then tail: length + element heads + element tails.
	head = append(head, abiPadUint(uint64(headSize+len(tail)))...)
	tail = append(tail, abiPadUint(uint64(len(in.CallData)))...)
	elemHeadSize := len(in.CallData) * 32
	var elemTail []byte
	for _, b := range in.CallData {
		tail = append(tail, abiPadUint(uint64(elemHeadSize+len(elemTail)))...)
		elemTail = append(elemTail, abiPadUint(uint64(len(b)))...)
		padded := make([]byte, (len(b)+31)/32*32)
		copy(padded, b)
		elemTail = append(elemTail, padded...)
	}
	tail = append(tail, elemTail...)

	// Trailing bool is static and lives in the head.
	if in.Reserved {
		head = append(head, abiPad32([]byte{1})...)
	} else {
		head = append(head, make([]byte, 32)...)
	}

	return append(head, tail...)
}

// Uint256ToBytes converts a uint64 to a big-endian 32-byte representation.
func Uint256ToBytes(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

// abiWordToOffset reads the 32-byte word at pos as a dynamic-data offset and
// validates it against the data length.
func abiWordToOffset(data []byte, pos int) (int, error) {
	if pos+32 > len(data) {
		return 0, fmt.Errorf("%w: need 32 bytes at offset %d, have %d", ErrABIShortData, pos, len(data))
	}
	word := new(big.Int).SetBytes(data[pos : pos+32])
	if word.BitLen() > 63 {
		return 0, fmt.Errorf("%w: offset word at %d", ErrABIOffsetOverflow, pos)
	}
	off := int(word.Int64())
	if off >= len(data) {
		return 0, fmt.Errorf("%w: offset %d, data length %d", ErrABIOffsetOverflow, off, len(data))
	}
	return off, nil
}

// abiWordToLength reads the 32-byte word at pos as an element count and
// rejects counts that cannot fit in the remaining data.
func abiWordToLength(data []byte, pos, elemSize int) (int, error) {
	if pos+32 > len(data) {
		return 0, fmt.Errorf("%w: length word at offset %d", ErrABIShortData, pos)
	}
	word := new(big.Int).SetBytes(data[pos : pos+32])
	if word.BitLen() > 63 {
		return 0, fmt.Errorf("%w: length word at %d", ErrABIOffsetOverflow, pos)
	}
	n := int(word.Int64())
	if elemSize > 0 && n > (len(data)-pos)/elemSize {
		return 0, fmt.Errorf("%w: %d elements at offset %d exceed data", ErrABIShortData, n, pos)
	}
	return n, nil
}

func abiDecodeBool(data []byte, pos int) (bool, error) {
	if pos+32 > len(data) {
		return false, fmt.Errorf("%w: bool at offset %d", ErrABIShortData, pos)
	}
	word := new(big.Int).SetBytes(data[pos : pos+32])
	switch {
	case word.Sign() == 0:
		return false, nil
	case word.Cmp(big.NewInt(1)) == 0:
		return true, nil
	default:
		return false, ErrABIInvalidBool
	}
}

func abiDecodeAddressSlice(data []byte, off int) ([]types.Address, error) {
	n, err := abiWordToLength(data, off, 32)
	if err != nil {
		return nil, err
	}
	out := make([]types.Address, n)
	pos := off + 32
	for i := 0; i < n; i++ {
		if pos+32 > len(data) {
			return nil, fmt.Errorf("%w: address at offset %d", ErrABIShortData, pos)
		}
		copy(out[i][:], data[pos+12:pos+32])
		pos += 32
	}
	return out, nil
}

func abiDecodeUintSlice(data []byte, off int) ([]*big.Int, error) {
	n, err := abiWordToLength(data, off, 32)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, n)
	pos := off + 32
	for i := 0; i < n; i++ {
		if pos+32 > len(data) {
			return nil, fmt.Errorf("%w: uint256 at offset %d", ErrABIShortData, pos)
		}
		out[i] = new(big.Int).SetBytes(data[pos : pos+32])
		pos += 32
	}
	return out, nil
}

func abiDecodeBytesSlice(data []byte, off int) ([][]byte, error) {
	n, err := abiWordToLength(data, off, 32)
	if err != nil {
		return nil, err
	}
	base := off + 32
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		headPos := base + i*32
		if headPos+32 > len(data) {
			return nil, fmt.Errorf("%w: bytes element offset at %d", ErrABIShortData, headPos)
		}
		word := new(big.Int).SetBytes(data[headPos : headPos+32])
		if word.BitLen() > 63 {
			return nil, fmt.Errorf("%w: bytes element offset at %d", ErrABIOffsetOverflow, headPos)
		}
		elemPos := base + int(word.Int64())
		if elemPos >= len(data) {
			return nil, fmt.Errorf("%w: bytes element at %d, data length %d", ErrABIOffsetOverflow, elemPos, len(data))
		}
		m, err := abiWordToLength(data, elemPos, 1)
		if err != nil {
			return nil, err
		}
		start := elemPos + 32
		if start+m > len(data) {
			return nil, fmt.Errorf("%w: bytes element data at %d, length %d", ErrABIShortData, start, m)
		}
		elem := make([]byte, m)
		copy(elem, data[start:start+m])
		out[i] = elem
	}
	return out, nil
}

// abiPad32 left-pads a byte slice to 32 bytes with zero bytes.
func abiPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// abiPadUint encodes a uint64 as a 32-byte big-endian word.
func abiPadUint(v uint64) []byte {
	return Uint256ToBytes(v)
}
