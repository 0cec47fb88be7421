package vm

import (
	"errors"
	"math/big"

	"github.com/rust-ethereum/evm-sub001/evm/types"
)

// Intrinsic gas constants (Yellow Paper Appendix G / EIP-2028 / EIP-2930 /
// EIP-3860 / EIP-7702), charged by IntrinsicGas before a single opcode runs.
const (
	TxGas                 uint64 = 21000 // G_transaction
	TxGasContractCreation  uint64 = 53000 // G_transaction + G_txcreate
	TxDataZeroGas          uint64 = 4     // G_txdatazero, per zero byte of calldata
	TxDataNonZeroGasEIP2028 uint64 = 16   // G_txdatanonzero (EIP-2028, Istanbul+)
	TxDataNonZeroGasFrontier uint64 = 68  // pre-Istanbul non-zero byte cost

	TxAccessListAddressGas    uint64 = 2400 // EIP-2930, per access-list address
	TxAccessListStorageKeyGas uint64 = 1900 // EIP-2930, per access-list storage key

	TxAuthTupleGas uint64 = 25000 // EIP-7702, per authorization list tuple
)

var (
	// ErrNonceTooLow and ErrNonceTooHigh are pre-flight transaction failures;
	// they never reach the interpreter.
	ErrNonceTooLow       = errors.New("transact: nonce too low")
	ErrNonceTooHigh      = errors.New("transact: nonce too high")
	ErrIntrinsicGas      = errors.New("transact: intrinsic gas exceeds gas limit")
	ErrInsufficientFunds = errors.New("transact: insufficient funds for gas * price + value")
	ErrGasLimitReached   = errors.New("transact: gas limit exceeds block gas limit")
)

// AuthTuple is one EIP-7702 authorization list entry: an authorized signer
// delegates addr's code to the EOA named by ChainID/Address/Nonce, recovered
// from the (yParity, R, S) signature over AuthMagic || rlp(chain_id, address, nonce).
type AuthTuple struct {
	ChainID uint64
	Address types.Address
	Nonce   uint64
}

// Transaction is the envelope consumed by Transact, mirroring the fields a
// host derives from a signed transaction of any of the legacy/access-list/
// dynamic-fee/blob/set-code envelope types.
type Transaction struct {
	Caller   types.Address
	To       *types.Address // nil selects contract creation
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int // effective gas price (already resolved from EIP-1559 fee fields)
	Data     []byte
	Nonce    uint64

	AccessList AccessListEntries
	AuthList   []AuthTuple // EIP-7702, Prague+

	// Salt, when non-nil, makes this a CREATE2-style creation using the
	// opcode-level salted address scheme instead of nonce-derived CREATE.
	Salt *big.Int
}

// AccessListEntries mirrors types.AccessList without importing it back into
// vm, since vm already owns types but keeping the name local documents intent.
type AccessListEntries = types.AccessList

// TransactResult is the outcome of a finalized transaction (spec: the
// Call{succeed,output} / Create{succeed,address,output} / Err(ExitError)
// union collapsed into one struct for a Go caller).
type TransactResult struct {
	Succeeded       bool
	Reverted        bool
	Output          []byte
	ContractAddress types.Address // set only for a successful contract creation
	GasUsed         u64OrZero
	Logs            []*types.Log
	Err             error // non-nil on Exception/Revert; transaction-level errors are returned directly by Transact instead
}

type u64OrZero = uint64

// IntrinsicGas computes the gas a transaction must pay before any opcode
// runs: the flat per-transaction cost, the per-byte calldata cost (cheaper
// for zero bytes, and cheaper still post EIP-2028), the EIP-2930 access-list
// cost, the EIP-3860 init-code word cost for contract creation, and the
// EIP-7702 authorization-list cost.
func IntrinsicGas(tx *Transaction, rules ForkRules) (uint64, error) {
	var gas uint64
	if tx.To == nil {
		gas = TxGasContractCreation
	} else {
		gas = TxGas
	}

	nonZeroGas := TxDataNonZeroGasFrontier
	if rules.IsIstanbul {
		nonZeroGas = TxDataNonZeroGasEIP2028
	}
	var zeroBytes, nonZeroBytes uint64
	for _, b := range tx.Data {
		if b == 0 {
			zeroBytes++
		} else {
			nonZeroBytes++
		}
	}
	gas = safeAdd(gas, safeMul(zeroBytes, TxDataZeroGas))
	gas = safeAdd(gas, safeMul(nonZeroBytes, nonZeroGas))

	if rules.IsBerlin {
		for _, entry := range tx.AccessList {
			gas = safeAdd(gas, TxAccessListAddressGas)
			gas = safeAdd(gas, safeMul(uint64(len(entry.StorageKeys)), TxAccessListStorageKeyGas))
		}
	}

	if rules.IsShanghai && tx.To == nil {
		words := (uint64(len(tx.Data)) + 31) / 32
		gas = safeAdd(gas, safeMul(InitCodeWordGas, words))
	}

	if rules.IsPrague {
		gas = safeAdd(gas, safeMul(uint64(len(tx.AuthList)), TxAuthTupleGas))
	}

	return gas, nil
}

// Transact validates the transaction envelope against pre-flight conditions
// (new_transact in spec terms), charges intrinsic gas, runs the initial
// frame, and finalizes the result: refunding leftover gas, paying the block
// beneficiary the gas fee, and clearing the transaction-scoped warmth and
// transient storage sets. Pre-flight failures (bad nonce, insufficient
// balance, intrinsic gas exceeding the gas limit) are returned directly and
// never reach the interpreter, matching the "transaction-level failures
// surfaced as typed errors, no code executes" rule.
func (evm *EVM) Transact(tx *Transaction) (*TransactResult, error) {
	if evm.StateDB == nil {
		return nil, errors.New("transact: no state database")
	}

	if tx.GasLimit > evm.Context.GasLimit {
		return nil, ErrGasLimitReached
	}

	accountNonce := evm.StateDB.GetNonce(tx.Caller)
	if tx.Nonce < accountNonce {
		return nil, ErrNonceTooLow
	}
	if tx.Nonce > accountNonce {
		return nil, ErrNonceTooHigh
	}
	if err := CheckNonceOverflow(tx.Nonce); err != nil {
		return nil, err
	}

	intrinsic, err := IntrinsicGas(tx, evm.forkRules)
	if err != nil {
		return nil, err
	}
	if tx.GasLimit < intrinsic {
		return nil, ErrIntrinsicGas
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	upfrontCost := new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(tx.GasLimit))
	upfrontCost.Add(upfrontCost, value)
	if evm.StateDB.GetBalance(tx.Caller).Cmp(upfrontCost) < 0 {
		return nil, ErrInsufficientFunds
	}

	snapshot := evm.StateDB.Snapshot()

	// Deduct the full upfront gas*price from the caller; unused gas is
	// refunded to the caller in finalizeTransact below.
	gasCost := new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(tx.GasLimit))
	evm.StateDB.SubBalance(tx.Caller, gasCost)

	evm.PreWarmAccessList(tx.Caller, tx.To)
	for _, entry := range tx.AccessList {
		evm.StateDB.AddAddressToAccessList(entry.Address)
		for _, key := range entry.StorageKeys {
			evm.StateDB.AddSlotToAccessList(entry.Address, key)
		}
	}

	gasRemaining := tx.GasLimit - intrinsic

	var (
		output    []byte
		createdAt types.Address
		execErr   error
	)
	if tx.To == nil {
		output, createdAt, gasRemaining, execErr = evm.Create(tx.Caller, tx.Data, gasRemaining, value)
	} else {
		evm.StateDB.SetNonce(tx.Caller, tx.Nonce+1)
		output, gasRemaining, execErr = evm.Call(tx.Caller, *tx.To, tx.Data, gasRemaining, value)
	}

	result := evm.finalizeTransact(tx, gasRemaining, intrinsic, output, createdAt, execErr)
	if result.Err != nil && errors.Is(result.Err, ErrMaxCallDepthExceeded) {
		evm.StateDB.RevertToSnapshot(snapshot)
	}
	return result, nil
}

// finalizeTransact refunds leftover gas (capped at gasUsed/MaxRefundQuotient
// per EIP-3529), pays the block beneficiary for the gas actually consumed,
// and clears the transaction-scoped transient storage. The access-list
// warmth set is intentionally left to the StateDB's own per-transaction
// lifecycle (its Snapshot/RevertToSnapshot boundary), since this package's
// StateDB interface has no separate "clear warmth" primitive.
func (evm *EVM) finalizeTransact(tx *Transaction, gasRemaining, intrinsic uint64, output []byte, created types.Address, execErr error) *TransactResult {
	gasUsed := tx.GasLimit - gasRemaining

	refund := evm.StateDB.GetRefund()
	maxRefund := gasUsed / MaxRefundQuotient
	if refund > maxRefund {
		refund = maxRefund
	}
	gasRemaining += refund
	gasUsed = tx.GasLimit - gasRemaining

	refundAmount := new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(gasRemaining))
	evm.StateDB.AddBalance(tx.Caller, refundAmount)

	feePaid := new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(gasUsed))
	evm.StateDB.AddBalance(evm.Context.Coinbase, feePaid)

	evm.StateDB.ClearTransientStorage()

	reverted := errors.Is(execErr, ErrExecutionReverted)
	return &TransactResult{
		Succeeded:       execErr == nil,
		Reverted:        reverted,
		Output:          output,
		ContractAddress: created,
		GasUsed:         gasUsed,
		Err:             execErr,
	}
}
