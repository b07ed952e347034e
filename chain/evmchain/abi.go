package evmchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferEventSignature is the Transfer(address,address,uint256) topic
// every ERC-20 deposit and sweep log is keyed on.
var TransferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	addressTy, _  = abi.NewType("address", "", nil)
	uint256Ty, _  = abi.NewType("uint256", "", nil)
	addressArrTy, _ = abi.NewType("address[]", "", nil)
	uint256ArrTy, _ = abi.NewType("uint256[]", "", nil)
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

var (
	erc20TransferSelector  = selector("transfer(address,uint256)")
	erc20ApproveSelector   = selector("approve(address,uint256)")
	erc20BalanceOfSelector = selector("balanceOf(address)")
	erc20AllowanceSelector = selector("allowance(address,address)")
	erc20DecimalsSelector  = selector("decimals()")

	batchNativeSelector = selector("processBatchNative(address[],uint256[])")
	batchErc20Selector  = selector("processBatchErc20(address,address[],uint256[])")
)

// packERC20Transfer builds calldata for ERC20.transfer(to, amount).
func packERC20Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	args := abi.Arguments{{Type: addressTy}, {Type: uint256Ty}}
	packed, err := args.Pack(to, amount)
	if err != nil {
		return nil, fmt.Errorf("evmchain: packing transfer: %w", err)
	}
	return append(append([]byte{}, erc20TransferSelector...), packed...), nil
}

// packERC20Approve builds calldata for ERC20.approve(spender, amount).
func packERC20Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	args := abi.Arguments{{Type: addressTy}, {Type: uint256Ty}}
	packed, err := args.Pack(spender, amount)
	if err != nil {
		return nil, fmt.Errorf("evmchain: packing approve: %w", err)
	}
	return append(append([]byte{}, erc20ApproveSelector...), packed...), nil
}

// packERC20BalanceOf builds calldata for ERC20.balanceOf(owner).
func packERC20BalanceOf(owner common.Address) ([]byte, error) {
	args := abi.Arguments{{Type: addressTy}}
	packed, err := args.Pack(owner)
	if err != nil {
		return nil, fmt.Errorf("evmchain: packing balanceOf: %w", err)
	}
	return append(append([]byte{}, erc20BalanceOfSelector...), packed...), nil
}

// packERC20Allowance builds calldata for ERC20.allowance(owner, spender).
func packERC20Allowance(owner, spender common.Address) ([]byte, error) {
	args := abi.Arguments{{Type: addressTy}, {Type: addressTy}}
	packed, err := args.Pack(owner, spender)
	if err != nil {
		return nil, fmt.Errorf("evmchain: packing allowance: %w", err)
	}
	return append(append([]byte{}, erc20AllowanceSelector...), packed...), nil
}

// unpackUint256 decodes a single uint256 return value, the shape shared by
// balanceOf and allowance.
func unpackUint256(out []byte) (*big.Int, error) {
	args := abi.Arguments{{Type: uint256Ty}}
	vals, err := args.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("evmchain: unpacking uint256 return: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("evmchain: expected 1 return value, got %d", len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evmchain: return value is not a uint256")
	}
	return v, nil
}

// packBatchNative builds calldata for the configured batch processor
// contract's processBatchNative(recipients, amounts), the settlement call
// the batcher issues for a bucket of native-currency withdrawals.
func packBatchNative(recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	if len(recipients) != len(amounts) {
		return nil, fmt.Errorf("evmchain: recipients/amounts length mismatch")
	}
	args := abi.Arguments{{Type: addressArrTy}, {Type: uint256ArrTy}}
	packed, err := args.Pack(recipients, amounts)
	if err != nil {
		return nil, fmt.Errorf("evmchain: packing processBatchNative: %w", err)
	}
	return append(append([]byte{}, batchNativeSelector...), packed...), nil
}

// packBatchERC20 builds calldata for processBatchErc20(token, recipients,
// amounts), requiring the batch processor hold sufficient allowance from
// the hot wallet beforehand.
func packBatchERC20(token common.Address, recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	if len(recipients) != len(amounts) {
		return nil, fmt.Errorf("evmchain: recipients/amounts length mismatch")
	}
	args := abi.Arguments{{Type: addressTy}, {Type: addressArrTy}, {Type: uint256ArrTy}}
	packed, err := args.Pack(token, recipients, amounts)
	if err != nil {
		return nil, fmt.Errorf("evmchain: packing processBatchErc20: %w", err)
	}
	return append(append([]byte{}, batchErc20Selector...), packed...), nil
}
