package vm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/evmbatch/evmbatch/core/types"
)

// testAccount is one account in the in-memory test state.
type testAccount struct {
	balance *big.Int
	nonce   uint64
	code    []byte
}

func (a *testAccount) clone() *testAccount {
	return &testAccount{
		balance: new(big.Int).Set(a.balance),
		nonce:   a.nonce,
		code:    a.code,
	}
}

type testSnapshot struct {
	accounts map[types.Address]*testAccount
	logCount int
}

// testStateDB is an in-memory StateDB with journaled snapshots covering
// accounts and logs.
type testStateDB struct {
	accounts  map[types.Address]*testAccount
	logs      []*types.Log
	snapshots []testSnapshot
}

func newTestStateDB() *testStateDB {
	return &testStateDB{accounts: make(map[types.Address]*testAccount)}
}

func (s *testStateDB) account(addr types.Address) *testAccount {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &testAccount{balance: new(big.Int)}
		s.accounts[addr] = acc
	}
	return acc
}

func (s *testStateDB) CreateAccount(addr types.Address) {
	if _, ok := s.accounts[addr]; !ok {
		s.accounts[addr] = &testAccount{balance: new(big.Int)}
	}
}

func (s *testStateDB) Exist(addr types.Address) bool {
	_, ok := s.accounts[addr]
	return ok
}

func (s *testStateDB) GetBalance(addr types.Address) *big.Int {
	if acc, ok := s.accounts[addr]; ok {
		return new(big.Int).Set(acc.balance)
	}
	return new(big.Int)
}

func (s *testStateDB) AddBalance(addr types.Address, amount *big.Int) {
	s.account(addr).balance.Add(s.account(addr).balance, amount)
}

func (s *testStateDB) SubBalance(addr types.Address, amount *big.Int) {
	s.account(addr).balance.Sub(s.account(addr).balance, amount)
}

func (s *testStateDB) GetNonce(addr types.Address) uint64 {
	if acc, ok := s.accounts[addr]; ok {
		return acc.nonce
	}
	return 0
}

func (s *testStateDB) SetNonce(addr types.Address, nonce uint64) {
	s.account(addr).nonce = nonce
}

func (s *testStateDB) GetCode(addr types.Address) []byte {
	if acc, ok := s.accounts[addr]; ok {
		return acc.code
	}
	return nil
}

func (s *testStateDB) SetCode(addr types.Address, code []byte) {
	s.account(addr).code = code
}

func (s *testStateDB) Snapshot() int {
	copied := make(map[types.Address]*testAccount, len(s.accounts))
	for addr, acc := range s.accounts {
		copied[addr] = acc.clone()
	}
	s.snapshots = append(s.snapshots, testSnapshot{accounts: copied, logCount: len(s.logs)})
	return len(s.snapshots) - 1
}

func (s *testStateDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snapshots) {
		return
	}
	snap := s.snapshots[id]
	s.accounts = snap.accounts
	s.logs = s.logs[:snap.logCount]
	s.snapshots = s.snapshots[:id]
}

func (s *testStateDB) AddLog(l *types.Log) {
	s.logs = append(s.logs, l)
}

// runnerFunc adapts a function to the ContractRunner interface.
type runnerFunc func(evm *EVM, contract *Contract, input []byte) ([]byte, error)

func (f runnerFunc) Run(evm *EVM, contract *Contract, input []byte) ([]byte, error) {
	return f(evm, contract, input)
}

func TestEVMCallTransfer(t *testing.T) {
	statedb := newTestStateDB()
	statedb.CreateAccount(batchAlice)
	statedb.AddBalance(batchAlice, big.NewInt(10_000))

	evm := NewEVMWithState(Config{}, statedb)

	ret, gasLeft, err := evm.Call(batchAlice, batchBob, nil, 50_000, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(ret) != 0 {
		t.Errorf("return data: got %x, want empty", ret)
	}
	if gasLeft != 50_000 {
		t.Errorf("gas left: got %d, want 50000", gasLeft)
	}
	if got := statedb.GetBalance(batchBob); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("bob balance: got %v, want 1000", got)
	}
	if got := statedb.GetBalance(batchAlice); got.Cmp(big.NewInt(9_000)) != 0 {
		t.Errorf("alice balance: got %v, want 9000", got)
	}
}

func TestEVMCallInsufficientBalance(t *testing.T) {
	statedb := newTestStateDB()
	statedb.CreateAccount(batchAlice)
	statedb.AddBalance(batchAlice, big.NewInt(100))

	evm := NewEVMWithState(Config{}, statedb)

	_, gasLeft, err := evm.Call(batchAlice, batchBob, nil, 50_000, big.NewInt(1_000))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("error: got %v, want %v", err, ErrInsufficientBalance)
	}
	if errors.Is(err, ErrExecutionReverted) {
		t.Error("insufficient balance must not classify as a revert")
	}
	if gasLeft != 50_000 {
		t.Errorf("gas left: got %d, want 50000", gasLeft)
	}
	if got := statedb.GetBalance(batchAlice); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("alice balance: got %v, want 100", got)
	}
}

func TestEVMCallZeroValueNoAccount(t *testing.T) {
	statedb := newTestStateDB()
	evm := NewEVMWithState(Config{}, statedb)

	target := types.HexToAddress("0xeeee")
	_, _, err := evm.Call(batchAlice, target, nil, 10_000, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if statedb.Exist(target) {
		t.Error("zero-value call materialized an empty account")
	}
}

func TestEVMCallRunnerRevert(t *testing.T) {
	statedb := newTestStateDB()
	statedb.CreateAccount(batchAlice)
	statedb.AddBalance(batchAlice, big.NewInt(10_000))
	statedb.CreateAccount(batchBob)
	statedb.SetCode(batchBob, []byte{0x60, 0x00, 0x60, 0x00, 0xfd})

	evm := NewEVMWithState(Config{}, statedb)
	evm.Runner = runnerFunc(func(_ *EVM, c *Contract, _ []byte) ([]byte, error) {
		c.UseGas(100)
		return []byte("nope"), ErrExecutionReverted
	})

	ret, gasLeft, err := evm.Call(batchAlice, batchBob, nil, 50_000, big.NewInt(1_000))
	if !errors.Is(err, ErrExecutionReverted) {
		t.Fatalf("error: got %v, want revert", err)
	}
	if string(ret) != "nope" {
		t.Errorf("revert data: got %q, want %q", ret, "nope")
	}
	if gasLeft != 50_000-100 {
		t.Errorf("gas left: got %d, want %d", gasLeft, 50_000-100)
	}
	if got := statedb.GetBalance(batchBob); got.Sign() != 0 {
		t.Errorf("bob balance after revert: got %v, want 0", got)
	}
	if got := statedb.GetBalance(batchAlice); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("alice balance after revert: got %v, want 10000", got)
	}
}

func TestEVMCallRunnerError(t *testing.T) {
	statedb := newTestStateDB()
	statedb.CreateAccount(batchAlice)
	statedb.AddBalance(batchAlice, big.NewInt(10_000))
	statedb.CreateAccount(batchBob)
	statedb.SetCode(batchBob, []byte{0xfe})

	evm := NewEVMWithState(Config{}, statedb)
	evm.Runner = runnerFunc(func(_ *EVM, c *Contract, _ []byte) ([]byte, error) {
		return nil, errors.New("bad instruction")
	})

	_, gasLeft, err := evm.Call(batchAlice, batchBob, nil, 50_000, big.NewInt(1_000))
	if err == nil || errors.Is(err, ErrExecutionReverted) {
		t.Fatalf("error: got %v, want non-revert execution error", err)
	}
	if gasLeft != 0 {
		t.Errorf("gas left: got %d, want 0", gasLeft)
	}
	if got := statedb.GetBalance(batchAlice); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("alice balance after error: got %v, want 10000", got)
	}
}

func TestEVMCallNoRunner(t *testing.T) {
	statedb := newTestStateDB()
	statedb.CreateAccount(batchBob)
	statedb.SetCode(batchBob, []byte{0x00})

	evm := NewEVMWithState(Config{}, statedb)

	_, gasLeft, err := evm.Call(batchAlice, batchBob, nil, 10_000, nil)
	if !errors.Is(err, ErrNoContractRunner) {
		t.Fatalf("error: got %v, want %v", err, ErrNoContractRunner)
	}
	if gasLeft != 0 {
		t.Errorf("gas left: got %d, want 0", gasLeft)
	}
}

func TestEVMCallDepthLimit(t *testing.T) {
	statedb := newTestStateDB()
	evm := NewEVMWithState(Config{}, statedb)
	evm.depth = evm.Config.MaxCallDepth + 1

	_, gasLeft, err := evm.Call(batchAlice, batchBob, nil, 10_000, nil)
	if !errors.Is(err, ErrMaxCallDepthExceeded) {
		t.Fatalf("error: got %v, want %v", err, ErrMaxCallDepthExceeded)
	}
	if gasLeft != 10_000 {
		t.Errorf("gas left: got %d, want 10000", gasLeft)
	}
}

// fixedPrecompile is a plain precompile charging a fixed cost and echoing
// its input.
type fixedPrecompile struct {
	cost uint64
}

func (p *fixedPrecompile) RequiredGas(input []byte) uint64 { return p.cost }

func (p *fixedPrecompile) Run(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

func TestEVMCallPlainPrecompile(t *testing.T) {
	statedb := newTestStateDB()
	evm := NewEVMWithState(Config{}, statedb)

	addr := types.BytesToAddress([]byte{0x42})
	evm.SetPrecompiles(map[types.Address]PrecompiledContract{
		addr: &fixedPrecompile{cost: 500},
	})

	ret, gasLeft, err := evm.Call(batchAlice, addr, []byte{0x01, 0x02}, 10_000, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(ret) != 2 {
		t.Errorf("return data length: got %d, want 2", len(ret))
	}
	if gasLeft != 9_500 {
		t.Errorf("gas left: got %d, want 9500", gasLeft)
	}

	_, gasLeft, err = evm.Call(batchAlice, addr, nil, 100, nil)
	if !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("underfunded precompile: got %v, want %v", err, ErrOutOfGas)
	}
	if gasLeft != 0 {
		t.Errorf("gas left: got %d, want 0", gasLeft)
	}
}

func TestEVMSubcallStaticTransfer(t *testing.T) {
	statedb := newTestStateDB()
	statedb.CreateAccount(batchAlice)
	statedb.AddBalance(batchAlice, big.NewInt(10_000))

	evm := NewEVMWithState(Config{}, statedb)

	res := evm.Subcall(&Subcall{
		Address:  batchBob,
		Transfer: &Transfer{Source: batchAlice, Target: batchBob, Value: big.NewInt(1)},
		Gas:      10_000,
		IsStatic: true,
		Context:  CallContext{Address: batchBob, Caller: batchAlice, ApparentValue: big.NewInt(1)},
	})
	if !errors.Is(res.Err, ErrWriteProtection) {
		t.Fatalf("error: got %v, want %v", res.Err, ErrWriteProtection)
	}
	if evm.readOnly {
		t.Error("readOnly flag leaked out of the static subcall")
	}
}

func TestEVMSubcallCostAccounting(t *testing.T) {
	statedb := newTestStateDB()
	statedb.CreateAccount(batchAlice)
	statedb.AddBalance(batchAlice, big.NewInt(10_000))
	statedb.CreateAccount(batchBob)
	statedb.SetCode(batchBob, []byte{0x00})

	evm := NewEVMWithState(Config{}, statedb)
	evm.Runner = runnerFunc(func(_ *EVM, c *Contract, _ []byte) ([]byte, error) {
		c.UseGas(1_234)
		return nil, nil
	})

	res := evm.Subcall(&Subcall{
		Address: batchBob,
		Gas:     10_000,
		Context: CallContext{Address: batchBob, Caller: batchAlice, ApparentValue: new(big.Int)},
	})
	if res.Err != nil {
		t.Fatalf("subcall: %v", res.Err)
	}
	if res.Cost != 1_234 {
		t.Errorf("cost: got %d, want 1234", res.Cost)
	}
}
