package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"referral-tree/logger"
)

// ErrInvalidAddress is returned when a read is requested for a malformed address.
var ErrInvalidAddress = errors.New("chain: invalid address")

const getNodeMethod = "getNode"

// referralABI describes the view used to read one node of the referral tree.
const referralABI = `[{
	"type": "function",
	"name": "getNode",
	"stateMutability": "view",
	"inputs": [{"name": "player", "type": "address"}],
	"outputs": [
		{"name": "startTime", "type": "uint256"},
		{"name": "balance", "type": "uint256"},
		{"name": "point", "type": "uint256"},
		{"name": "depthLeftBranch", "type": "uint256"},
		{"name": "depthRightBranch", "type": "uint256"},
		{"name": "depth", "type": "uint256"},
		{"name": "player", "type": "address"},
		{"name": "parent", "type": "address"},
		{"name": "leftChild", "type": "address"},
		{"name": "rightChild", "type": "address"},
		{"name": "isPointChanged", "type": "bool"},
		{"name": "unbalancedAllowance", "type": "bool"}
	]
}]`

// Reader reads the raw node tuple for an address.
type Reader interface {
	ReadNode(ctx context.Context, address string) ([]any, error)
}

// Caller is the subset of ethclient.Client used by ContractReader.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractReader reads nodes from the referral contract through an RPC endpoint
type ContractReader struct {
	caller   Caller
	contract common.Address
	abi      abi.ABI
	closer   func()
}

// IsAddress reports whether s is a 20-byte hex address, with or without 0x.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ReferralABI returns the parsed contract ABI.
func ReferralABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(referralABI))
}

// NewContractReader wraps an existing caller.
func NewContractReader(caller Caller, contract string) (*ContractReader, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("%w: contract %q", ErrInvalidAddress, contract)
	}
	parsed, err := ReferralABI()
	if err != nil {
		return nil, err
	}
	return &ContractReader{
		caller:   caller,
		contract: common.HexToAddress(contract),
		abi:      parsed,
	}, nil
}

// DialContractReader connects to rpcURL and returns a reader for contract.
func DialContractReader(ctx context.Context, rpcURL, contract string) (*ContractReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	r, err := NewContractReader(client, contract)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.closer = client.Close
	return r, nil
}

// ReadNode calls getNode(address) and returns the unpacked outputs in order.
func (r *ContractReader) ReadNode(ctx context.Context, address string) ([]any, error) {
	if !IsAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	input, err := r.abi.Pack(getNodeMethod, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: input}, nil)
	if err != nil {
		logger.Logger.Error("getNode call failed", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("chain: getNode %s: %w", address, err)
	}
	values, err := r.abi.Unpack(getNodeMethod, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack getNode: %w", err)
	}
	return values, nil
}

// Close releases the underlying RPC connection, if the reader owns one.
func (r *ContractReader) Close() {
	if r.closer != nil {
		r.closer()
	}
}
