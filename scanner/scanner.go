// Package scanner implements the L1 Event Scanner (spec §4.1): a bounded
// polling loop over one chain's log stream that partitions BlockCommit,
// BlockExecuted, BlocksRevert, NewToken, NewPriorityRequest, and
// UpgradeComplete events, advancing a persisted cursor atomically with the
// data it derives.
package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/types"
)

// DefaultWindow is the default span of L1 blocks scanned per poll cycle.
const DefaultWindow = 1000

// EndBlockOffset keeps the scan window behind L1's tip to avoid picking up
// logs that a shallow reorg could still erase.
const EndBlockOffset = 40

// Cursor is the per-chain resume position persisted in storage (spec §4.1,
// §8 invariant 5 "Monotonic progress").
type Cursor struct {
	LastWatchedBlock uint64
	LastSerialID     uint64
}

// Store is the storage-layer dependency the scanner needs: cursor
// read/advance plus the token registry and priority-request/block-event
// sinks it writes to. Advancing the cursor and persisting derived data MUST
// be atomic (spec §4.1 "Cursor advance is atomic with storing derived
// data."); implementations back this with a single DB transaction.
type Store interface {
	LoadCursor(ctx context.Context, chain types.ChainId) (Cursor, error)
	Advance(ctx context.Context, chain types.ChainId, cursor Cursor, batch Batch) error
}

// Batch is everything one poll cycle derived, to be persisted atomically
// with the advanced cursor.
type Batch struct {
	NewTokens        []TokenRegistration
	PriorityRequests []PriorityRequest
	BlockEvents      []BlockEvent
	Reverts          []RevertEvent
}

// TokenRegistration is one decoded NewToken log (spec §4.1).
type TokenRegistration struct {
	TokenID   types.TokenId
	L1Address common.Address
	Symbol    string
}

// PriorityRequestKind distinguishes the two priority-op shapes a
// NewPriorityRequest log can carry.
type PriorityRequestKind int

const (
	PriorityDeposit PriorityRequestKind = iota
	PriorityFullExit
)

// PriorityRequest is one decoded NewPriorityRequest log, forming a
// strictly increasing serial_id sequence per chain (spec §4.1, §8 invariant
// 5).
type PriorityRequest struct {
	SerialID uint64
	Kind     PriorityRequestKind
	OpBytes  []byte
}

// BlockEvent is a BlockCommit/BlockExecuted milestone, ordered by
// EndBlockNum (spec §3 "BlockEvent").
type BlockEvent struct {
	StartBlockNum   types.BlockNumber
	EndBlockNum     types.BlockNumber
	TransactionHash common.Hash
	BlockType       BlockEventType
	ContractVersion uint32
}

type BlockEventType int

const (
	BlockCommitted BlockEventType = iota
	BlockVerified
)

// RevertEvent is a decoded BlocksRevert log: ToBlock names the height
// recovery must roll back to, undoing every block committed above it
// (spec §4.1, §8 invariant 1 "Update reversibility").
type RevertEvent struct {
	ToBlock types.BlockNumber
}

// ErrSerialGap is fatal: a gap in the NewPriorityRequest serial_id sequence
// means the scanner missed a log (spec §4.1 "a gap is fatal").
var ErrSerialGap = errors.New("scanner: gap in priority-request serial_id sequence")

// Scanner polls one chain's L1 log stream and derives Batches from it.
type Scanner struct {
	Chain        types.ChainId
	Client       l1client.Client
	ContractAddr common.Address
	Store        Store
	Window       uint64
}

// New constructs a Scanner for chain, using window as the per-cycle block
// span (DefaultWindow if zero).
func New(chain types.ChainId, client l1client.Client, contractAddr common.Address, store Store, window uint64) *Scanner {
	if window == 0 {
		window = DefaultWindow
	}
	return &Scanner{Chain: chain, Client: client, ContractAddr: contractAddr, Store: store, Window: window}
}

// PollOnce runs a single bounded-window scan cycle: compute
// [cursor+1, cursor+window] bounded by tip-EndBlockOffset, fetch matching
// logs, partition and decode them, then atomically advance the cursor with
// the derived batch. Returns (batch, advanced, err); advanced is false
// when the window was empty (cursor caught up to the bound), in which case
// batch is zero-valued. The returned batch lets a driver act on freshly
// observed BlockEvents/PriorityRequests without a second storage round
// trip.
func (s *Scanner) PollOnce(ctx context.Context) (Batch, bool, error) {
	cursor, err := s.Store.LoadCursor(ctx, s.Chain)
	if err != nil {
		return Batch{}, false, fmt.Errorf("scanner: load cursor: %w", err)
	}

	tip, err := s.Client.BlockNumber(ctx)
	if err != nil {
		return Batch{}, false, fmt.Errorf("scanner: block number: %w", err)
	}
	if tip < EndBlockOffset {
		return Batch{}, false, nil
	}
	bound := tip - EndBlockOffset

	from := cursor.LastWatchedBlock + 1
	if from > bound {
		return Batch{}, false, nil
	}
	to := from + s.Window - 1
	if to > bound {
		to = bound
	}

	logs, err := s.Client.FilterLogs(ctx, from, to, []common.Address{s.ContractAddr}, nil)
	if err != nil {
		return Batch{}, false, fmt.Errorf("scanner: filter logs: %w", err)
	}

	batch, newCursor, err := s.partition(ctx, cursor, logs)
	if err != nil {
		return Batch{}, false, err
	}
	newCursor.LastWatchedBlock = to

	if err := s.Store.Advance(ctx, s.Chain, newCursor, batch); err != nil {
		return Batch{}, false, fmt.Errorf("scanner: advance cursor: %w", err)
	}
	return batch, true, nil
}

// partition sorts logs by topic0 into a Batch, validating the priority
// request serial_id sequence against cursor.
func (s *Scanner) partition(ctx context.Context, cursor Cursor, logs []gethtypes.Log) (Batch, Cursor, error) {
	var batch Batch
	nextSerial := cursor.LastSerialID

	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case l1client.Topic0NewToken:
			reg, err := decodeNewToken(ctx, s.Client, lg)
			if err != nil {
				return Batch{}, cursor, err
			}
			batch.NewTokens = append(batch.NewTokens, reg)
		case l1client.Topic0NewPriorityRequest:
			req, err := decodeNewPriorityRequest(lg)
			if err != nil {
				return Batch{}, cursor, err
			}
			if nextSerial != 0 && req.SerialID != nextSerial {
				return Batch{}, cursor, fmt.Errorf("%w: got %d, want %d", ErrSerialGap, req.SerialID, nextSerial)
			}
			nextSerial = req.SerialID + 1
			batch.PriorityRequests = append(batch.PriorityRequests, req)
		case l1client.Topic0BlockCommit:
			batch.BlockEvents = append(batch.BlockEvents, decodeBlockEvent(lg, BlockCommitted))
		case l1client.Topic0BlockExecuted:
			batch.BlockEvents = append(batch.BlockEvents, decodeBlockEvent(lg, BlockVerified))
		case l1client.Topic0BlocksRevert:
			rev, err := decodeBlocksRevert(lg)
			if err != nil {
				return Batch{}, cursor, err
			}
			batch.Reverts = append(batch.Reverts, rev)
		case l1client.Topic0UpgradeComplete:
			// Only signals a contract-version bump, already carried on each
			// BlockCommit log's own payload; no separate batch payload needed.
		}
	}

	cursor.LastSerialID = nextSerial
	return batch, cursor, nil
}
