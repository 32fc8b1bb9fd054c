// Package fetcher implements the Block Fetcher (spec §4.2): given a
// BlockCommit BlockEvent, fetch its L1 commit transaction, strip the
// 4-byte function selector, ABI-decode the CommitBlockInfo[] argument, and
// decompose each inner block's pubdata into RollupOps.
package fetcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/ops"
	"github.com/zklinkprotocol/recover-state-server/scanner"
	"github.com/zklinkprotocol/recover-state-server/types"
)

// commitBlockInfoABI describes the single CommitBlockInfo[] parameter every
// commit transaction's calldata carries after its selector. Field order
// matches spec §4.2: "{block_number, fee_account, timestamp,
// previous_block_root_hash, pubdata_chunks}".
const commitBlockInfoABI = `[{"name":"commitBlocks","type":"function","inputs":[{"name":"blocks","type":"tuple[]","components":[
	{"name":"blockNumber","type":"uint32"},
	{"name":"feeAccount","type":"uint32"},
	{"name":"timestamp","type":"uint64"},
	{"name":"previousBlockRootHash","type":"bytes32"},
	{"name":"pubdataChunks","type":"bytes"}
]}]}]`

// FuncSelectorBytes is the width of the calldata prefix stripped before
// ABI decoding (spec §4.2).
const FuncSelectorBytes = 4

// CommitBlockInfo is one decoded inner block from a commit transaction's
// CommitBlockInfo[] argument.
type CommitBlockInfo struct {
	BlockNumber           uint32
	FeeAccount            uint32
	Timestamp             uint64
	PreviousBlockRootHash common.Hash
	PubdataChunks         []byte
}

// RollupOpsBlock is the decoded op list for one committed L2 block (spec
// §3 "RollupOpsBlock").
type RollupOpsBlock struct {
	BlockNum              types.BlockNumber
	Ops                   []ops.RollupOp
	FeeAccount            types.AccountId
	Timestamp             uint64
	PreviousBlockRootHash common.Hash
	ContractVersion       ops.ContractVersion
}

// Fetcher pulls commit-transaction calldata and decomposes it into
// RollupOpsBlocks.
type Fetcher struct {
	Client          l1client.Client
	commitBlocksABI abi.ABI
}

// New builds a Fetcher bound to client.
func New(client l1client.Client) (*Fetcher, error) {
	parsed, err := abi.JSON(strings.NewReader(commitBlockInfoABI))
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse commitBlocks ABI: %w", err)
	}
	return &Fetcher{Client: client, commitBlocksABI: parsed}, nil
}

// FetchAndDecode fetches evt's commit transaction and decodes every inner
// block's pubdata into a RollupOpsBlock, using version to validate each
// block's total chunk count (spec §4.2's "unknown opcode or mismatched
// chunk length is fatal for that block").
func (f *Fetcher) FetchAndDecode(ctx context.Context, evt scanner.BlockEvent, version ops.ContractVersion) ([]RollupOpsBlock, error) {
	tx, err := f.Client.TransactionByHash(ctx, evt.TransactionHash)
	if err != nil {
		return nil, fmt.Errorf("fetcher: fetch commit tx %s: %w", evt.TransactionHash, err)
	}
	data := tx.Data()
	if len(data) < FuncSelectorBytes {
		return nil, fmt.Errorf("fetcher: commit tx %s calldata shorter than selector", evt.TransactionHash)
	}
	args := data[FuncSelectorBytes:]

	infos, err := f.decodeCommitBlockInfos(args)
	if err != nil {
		return nil, fmt.Errorf("fetcher: decode CommitBlockInfo[] for tx %s: %w", evt.TransactionHash, err)
	}

	blocks := make([]RollupOpsBlock, 0, len(infos))
	for _, info := range infos {
		decodedOps, err := decodePubdata(info.PubdataChunks, version)
		if err != nil {
			return nil, fmt.Errorf("fetcher: block %d: %w", info.BlockNumber, err)
		}
		blocks = append(blocks, RollupOpsBlock{
			BlockNum:              types.BlockNumber(info.BlockNumber),
			Ops:                   decodedOps,
			FeeAccount:            types.AccountId(info.FeeAccount),
			Timestamp:             info.Timestamp,
			PreviousBlockRootHash: info.PreviousBlockRootHash,
			ContractVersion:       version,
		})
	}
	return blocks, nil
}

func (f *Fetcher) decodeCommitBlockInfos(args []byte) ([]CommitBlockInfo, error) {
	var result struct {
		Blocks []struct {
			BlockNumber           uint32
			FeeAccount            uint32
			Timestamp             uint64
			PreviousBlockRootHash [32]byte
			PubdataChunks         []byte
		}
	}
	if err := f.commitBlocksABI.UnpackIntoInterface(&result, "commitBlocks", args); err != nil {
		return nil, err
	}

	out := make([]CommitBlockInfo, len(result.Blocks))
	for i, b := range result.Blocks {
		out[i] = CommitBlockInfo{
			BlockNumber:           b.BlockNumber,
			FeeAccount:            b.FeeAccount,
			Timestamp:             b.Timestamp,
			PreviousBlockRootHash: b.PreviousBlockRootHash,
			PubdataChunks:         b.PubdataChunks,
		}
	}
	return out, nil
}

// decodePubdata reads op_code, looks up CHUNKS, slices CHUNKS*CHUNK_BYTES
// bytes, and decodes each op in turn until pubdata is exhausted, validating
// the total chunk count against version (spec §4.2).
func decodePubdata(pubdata []byte, version ops.ContractVersion) ([]ops.RollupOp, error) {
	var decoded []ops.RollupOp
	totalChunks := 0
	for len(pubdata) > 0 {
		op, consumed, err := ops.Decode(pubdata)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, op)
		totalChunks += op.Chunks()
		pubdata = pubdata[consumed:]
	}
	if err := version.ValidateChunkTotal(totalChunks); err != nil {
		return nil, err
	}
	return decoded, nil
}
