package progress

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/types"
)

type fakeClient struct{ executed uint32 }

func (f *fakeClient) FilterLogs(ctx context.Context, from, to uint64, addrs []common.Address, topics [][]common.Hash) ([]gethtypes.Log, error) {
	return nil, nil
}
func (f *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, error) {
	return nil, nil
}
func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeClient) TotalBlocksExecuted(ctx context.Context, addr common.Address) (uint32, error) {
	return f.executed, nil
}
func (f *fakeClient) ERC20Symbol(ctx context.Context, addr common.Address) (string, error) {
	return "TEST", nil
}

var _ l1client.Client = (*fakeClient)(nil)

func TestSetAndReadHeights(t *testing.T) {
	tr := New(nil, types.ChainId(1))
	tr.SetSyncHeight(10)
	tr.SetVerifiedHeight(12)
	require.Equal(t, uint64(10), tr.SyncHeight())
	require.Equal(t, uint64(12), tr.VerifiedHeight())
}

// TestWaitForCatchUpReturnsImmediatelyWhenAlreadyCaughtUp exercises the
// gate spec §4.6 describes: the pool must not block when recovery is
// already at L1's executed tip.
func TestWaitForCatchUpReturnsImmediatelyWhenAlreadyCaughtUp(t *testing.T) {
	tr := New(nil, types.ChainId(1))
	tr.SetSyncHeight(100)
	client := &fakeClient{executed: 100}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := WaitForCatchUp(ctx, client, common.HexToAddress("0x1"), tr)
	require.NoError(t, err)
	require.Equal(t, uint64(100), tr.VerifiedHeight())
}

// TestWaitForCatchUpRespectsContextCancellation exercises the behavior
// when recovery never catches up: the wait must return ctx.Err() rather
// than block forever.
func TestWaitForCatchUpRespectsContextCancellation(t *testing.T) {
	tr := New(nil, types.ChainId(1))
	client := &fakeClient{executed: 1000}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := WaitForCatchUp(ctx, client, common.HexToAddress("0x1"), tr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
