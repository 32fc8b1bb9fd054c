package scanner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/types"
)

var newTokenArgs = mustArguments("uint16", "address")
var newPriorityRequestArgs = mustArguments("address", "uint64", "uint8", "bytes", "uint256")
var blockCommitArgs = mustArguments("uint32", "bytes32", "bytes32", "uint256")
var blockExecutedArgs = mustArguments("uint32")
var blocksRevertArgs = mustArguments("uint32", "uint32")

func mustArguments(types_ ...string) abi.Arguments {
	args := make(abi.Arguments, len(types_))
	for i, t := range types_ {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

// decodeNewToken unpacks a NewToken(uint16 token_id, address l1_address)
// log and resolves the symbol via ERC20Symbol (spec §4.1).
func decodeNewToken(ctx context.Context, client l1client.Client, lg gethtypes.Log) (TokenRegistration, error) {
	vals, err := newTokenArgs.Unpack(lg.Data)
	if err != nil {
		return TokenRegistration{}, fmt.Errorf("scanner: decode NewToken: %w", err)
	}
	tokenID, ok := vals[0].(uint16)
	if !ok {
		return TokenRegistration{}, fmt.Errorf("scanner: NewToken token_id type")
	}
	addr, ok := vals[1].(common.Address)
	if !ok {
		return TokenRegistration{}, fmt.Errorf("scanner: NewToken address type")
	}
	symbol, err := client.ERC20Symbol(ctx, addr)
	if err != nil {
		return TokenRegistration{}, fmt.Errorf("scanner: resolve symbol for %s: %w", addr, err)
	}
	return TokenRegistration{TokenID: types.TokenId(tokenID), L1Address: addr, Symbol: symbol}, nil
}

// decodeNewPriorityRequest unpacks a
// NewPriorityRequest(address sender, uint64 serial_id, uint8 op_type, bytes
// pub_data, uint256 expiration) log into a Deposit or FullExit priority tx
// (spec §4.1).
func decodeNewPriorityRequest(lg gethtypes.Log) (PriorityRequest, error) {
	vals, err := newPriorityRequestArgs.Unpack(lg.Data)
	if err != nil {
		return PriorityRequest{}, fmt.Errorf("scanner: decode NewPriorityRequest: %w", err)
	}
	serial, ok := vals[1].(uint64)
	if !ok {
		return PriorityRequest{}, fmt.Errorf("scanner: NewPriorityRequest serial_id type")
	}
	opType, ok := vals[2].(uint8)
	if !ok {
		return PriorityRequest{}, fmt.Errorf("scanner: NewPriorityRequest op_type type")
	}
	pubData, ok := vals[3].([]byte)
	if !ok {
		return PriorityRequest{}, fmt.Errorf("scanner: NewPriorityRequest pub_data type")
	}
	kind := PriorityDeposit
	if opType == 1 {
		kind = PriorityFullExit
	}
	return PriorityRequest{SerialID: serial, Kind: kind, OpBytes: pubData}, nil
}

// decodeBlockEvent unpacks a BlockCommit/BlockExecuted log into a
// BlockEvent (spec §3 "BlockEvent").
func decodeBlockEvent(lg gethtypes.Log, kind BlockEventType) BlockEvent {
	var blockNum uint32
	var contractVersion uint32
	if kind == BlockCommitted {
		vals, err := blockCommitArgs.Unpack(lg.Data)
		if err == nil && len(vals) >= 4 {
			if n, ok := vals[0].(uint32); ok {
				blockNum = n
			}
			if v, ok := vals[3].(*big.Int); ok {
				contractVersion = uint32(v.Uint64())
			}
		}
	} else {
		vals, err := blockExecutedArgs.Unpack(lg.Data)
		if err == nil && len(vals) >= 1 {
			if n, ok := vals[0].(uint32); ok {
				blockNum = n
			}
		}
	}
	return BlockEvent{
		StartBlockNum:   types.BlockNumber(blockNum),
		EndBlockNum:     types.BlockNumber(blockNum),
		TransactionHash: lg.TxHash,
		BlockType:       kind,
		ContractVersion: contractVersion,
	}
}

// decodeBlocksRevert unpacks a BlocksRevert(uint32 total_blocks_verified,
// uint32 total_blocks_committed) log: recovery must roll back to
// total_blocks_committed, undoing every block committed above it (spec
// §4.1, §8 invariant 1 "Update reversibility").
func decodeBlocksRevert(lg gethtypes.Log) (RevertEvent, error) {
	vals, err := blocksRevertArgs.Unpack(lg.Data)
	if err != nil {
		return RevertEvent{}, fmt.Errorf("scanner: decode BlocksRevert: %w", err)
	}
	toBlock, ok := vals[1].(uint32)
	if !ok {
		return RevertEvent{}, fmt.Errorf("scanner: BlocksRevert total_blocks_committed type")
	}
	return RevertEvent{ToBlock: types.BlockNumber(toBlock)}, nil
}
