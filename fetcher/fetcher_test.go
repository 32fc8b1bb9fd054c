package fetcher

import (
	"context"
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/ops"
	"github.com/zklinkprotocol/recover-state-server/scanner"
)

// fakeClient returns a fixed transaction for any hash, for FetchAndDecode
// tests that never touch the network.
type fakeClient struct {
	tx *gethtypes.Transaction
}

func (f *fakeClient) FilterLogs(ctx context.Context, from, to uint64, addrs []common.Address, topics [][]common.Hash) ([]gethtypes.Log, error) {
	return nil, nil
}
func (f *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, error) {
	return f.tx, nil
}
func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeClient) TotalBlocksExecuted(ctx context.Context, addr common.Address) (uint32, error) {
	return 0, nil
}
func (f *fakeClient) ERC20Symbol(ctx context.Context, addr common.Address) (string, error) {
	return "TEST", nil
}

var _ l1client.Client = (*fakeClient)(nil)

// TestDecodePubdataValidatesChunkTotal exercises spec §4.2's requirement
// that the decoded op list's total chunk count match the contract
// version's supported totals.
func TestDecodePubdataValidatesChunkTotal(t *testing.T) {
	pubdata := ops.Noop{}.Encode() // 1 chunk; not one of V0's valid totals (111/401/511)
	_, err := decodePubdata(pubdata, ops.ContractVersionV0)
	require.Error(t, err)
}

// TestFetchAndDecodeRoundTrip builds a synthetic commitBlocks() calldata
// payload padded out to a valid V0 chunk total (spec §4.2), feeds it
// through a fake transaction, and checks the decoded RollupOpsBlock
// starts with the Deposit that was encoded.
func TestFetchAndDecodeRoundTrip(t *testing.T) {
	f, err := New(&fakeClient{})
	require.NoError(t, err)

	dep := ops.Deposit{
		ChainID: 1, AccountID: 5, SubAccountID: 0,
		L2TargetToken: 2, L1SourceToken: 2,
		SerialID: 0,
	}
	pubdata := dep.Encode() // 3 chunks
	for i := 0; i < 108; i++ {
		pubdata = append(pubdata, ops.Noop{}.Encode()...) // pad to 111 chunks, V0's smallest valid total
	}

	type commitBlockInfo struct {
		BlockNumber           uint32
		FeeAccount            uint32
		Timestamp             uint64
		PreviousBlockRootHash [32]byte
		PubdataChunks         []byte
	}
	args, err := f.commitBlocksABI.Pack("commitBlocks", []commitBlockInfo{
		{BlockNumber: 9, FeeAccount: 3, Timestamp: 1000, PubdataChunks: pubdata},
	})
	require.NoError(t, err)

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{Data: args})
	f.Client = &fakeClient{tx: tx}

	evt := scanner.BlockEvent{TransactionHash: common.HexToHash("0x1")}
	blocks, err := f.FetchAndDecode(context.Background(), evt, ops.ContractVersionV0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, uint32(9), uint32(blocks[0].BlockNum))
	require.Len(t, blocks[0].Ops, 109)
	require.Equal(t, dep, blocks[0].Ops[0])
}
