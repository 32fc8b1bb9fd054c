package scanner

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/types"
)

// fakeClient is a minimal l1client.Client stub driven entirely by fields
// set per-test; it never touches the network.
type fakeClient struct {
	tip  uint64
	logs []gethtypes.Log
}

func (f *fakeClient) FilterLogs(ctx context.Context, from, to uint64, addrs []common.Address, topics [][]common.Hash) ([]gethtypes.Log, error) {
	return f.logs, nil
}
func (f *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, error) {
	return nil, nil
}
func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) { return f.tip, nil }
func (f *fakeClient) TotalBlocksExecuted(ctx context.Context, addr common.Address) (uint32, error) {
	return 0, nil
}
func (f *fakeClient) ERC20Symbol(ctx context.Context, addr common.Address) (string, error) {
	return "TEST", nil
}

var _ l1client.Client = (*fakeClient)(nil)

// fakeStore is an in-memory scanner.Store stub.
type fakeStore struct {
	cursor Cursor
	batch  Batch
}

func (s *fakeStore) LoadCursor(ctx context.Context, chain types.ChainId) (Cursor, error) {
	return s.cursor, nil
}
func (s *fakeStore) Advance(ctx context.Context, chain types.ChainId, cursor Cursor, batch Batch) error {
	s.cursor = cursor
	s.batch = batch
	return nil
}

func blockExecutedLog(t *testing.T, blockNum uint32) gethtypes.Log {
	t.Helper()
	data, err := blockExecutedArgs.Pack(blockNum)
	require.NoError(t, err)
	return gethtypes.Log{
		Topics: []common.Hash{l1client.Topic0BlockExecuted},
		Data:   data,
		TxHash: common.HexToHash("0xabc"),
	}
}

func blockCommitLog(t *testing.T, blockNum uint32, version uint64) gethtypes.Log {
	t.Helper()
	var commitment, syncHash common.Hash
	data, err := blockCommitArgs.Pack(blockNum, commitment, syncHash, big.NewInt(int64(version)))
	require.NoError(t, err)
	return gethtypes.Log{
		Topics: []common.Hash{l1client.Topic0BlockCommit},
		Data:   data,
		TxHash: common.HexToHash("0xdef"),
	}
}

// TestPollOnceAdvancesCursorAndYieldsBatch exercises the "cursor advance is
// atomic with storing derived data" invariant end-to-end: a poll cycle with
// BlockExecuted logs in range produces a Batch and advances LastWatchedBlock
// to the windowed bound.
func TestPollOnceAdvancesCursorAndYieldsBatch(t *testing.T) {
	client := &fakeClient{
		tip:  EndBlockOffset + 100,
		logs: []gethtypes.Log{blockExecutedLog(t, 7)},
	}
	store := &fakeStore{}
	sc := New(1, client, common.HexToAddress("0x1"), store, DefaultWindow)

	batch, advanced, err := sc.PollOnce(context.Background())
	require.NoError(t, err)
	require.True(t, advanced)
	require.Len(t, batch.BlockEvents, 1)
	require.Equal(t, BlockVerified, batch.BlockEvents[0].BlockType)
	require.Equal(t, types.BlockNumber(7), batch.BlockEvents[0].StartBlockNum)
	require.Equal(t, uint64(100), store.cursor.LastWatchedBlock)
}

// TestPollOnceEmptyWindowReportsNotAdvanced exercises the case where the
// cursor has already caught up to tip-EndBlockOffset.
func TestPollOnceEmptyWindowReportsNotAdvanced(t *testing.T) {
	client := &fakeClient{tip: EndBlockOffset + 5}
	store := &fakeStore{cursor: Cursor{LastWatchedBlock: 5}}
	sc := New(1, client, common.HexToAddress("0x1"), store, DefaultWindow)

	batch, advanced, err := sc.PollOnce(context.Background())
	require.NoError(t, err)
	require.False(t, advanced)
	require.Equal(t, Batch{}, batch)
}

// TestPartitionDetectsSerialGap exercises the fatal "gap in priority
// request serial_id sequence" invariant (spec §4.1).
func TestPartitionDetectsSerialGap(t *testing.T) {
	client := &fakeClient{}
	sc := New(1, client, common.HexToAddress("0x1"), &fakeStore{}, DefaultWindow)

	args, err := newPriorityRequestArgs.Pack(common.HexToAddress("0x2"), uint64(5), uint8(0), []byte{0x01}, big.NewInt(0))
	require.NoError(t, err)
	lg := gethtypes.Log{Topics: []common.Hash{l1client.Topic0NewPriorityRequest}, Data: args}

	cursor := Cursor{LastSerialID: 3} // next expected serial is 3, log carries 5: a gap.
	_, _, err = sc.partition(context.Background(), cursor, []gethtypes.Log{lg})
	require.ErrorIs(t, err, ErrSerialGap)
}

func TestDecodeBlockEventCommitted(t *testing.T) {
	evt := decodeBlockEvent(blockCommitLog(t, 42, 0), BlockCommitted)
	require.Equal(t, types.BlockNumber(42), evt.StartBlockNum)
	require.Equal(t, BlockCommitted, evt.BlockType)
}
