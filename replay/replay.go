// Package replay implements the OpReplayEngine: it consumes decoded
// RollupOpsBlocks strictly in block_num order and applies them to the
// state engine, committing each block's update log to storage in the same
// transaction (spec §4.4, §5 "Rollup blocks are applied strictly in
// block_num order").
package replay

import (
	"context"
	"fmt"

	"github.com/zklinkprotocol/recover-state-server/fetcher"
	"github.com/zklinkprotocol/recover-state-server/state"
	"github.com/zklinkprotocol/recover-state-server/types"
)

// Storage is the persistence dependency the engine commits each block's
// replay log to. CommitBlock MUST be atomic: either the whole block's
// updates are durable, or none are (spec §3 "Lifecycle").
type Storage interface {
	LastAppliedBlock(ctx context.Context) (types.BlockNumber, error)
	CommitBlock(ctx context.Context, block fetcher.RollupOpsBlock, updates []state.AccountUpdate, rootHash [32]byte) error

	// ReplayLogsAbove returns every persisted replay log for blocks strictly
	// above toBlock, ordered from the highest block_num down to the lowest,
	// the order RevertTo needs to unwind them in.
	ReplayLogsAbove(ctx context.Context, toBlock types.BlockNumber) ([]ReplayLogEntry, error)
	// DeleteBlocksAbove prunes every rollup_ops row for blocks strictly
	// above toBlock, so LastAppliedBlock reflects the post-revert height.
	DeleteBlocksAbove(ctx context.Context, toBlock types.BlockNumber) error
}

// ReplayLogEntry pairs one committed block's number with the update log it
// produced, the unit RevertTo replays backwards.
type ReplayLogEntry struct {
	BlockNum types.BlockNumber
	Updates  []state.AccountUpdate
}

// ErrBlockGap is fatal: every RollupOpsBlock's block_num must equal the
// previous successfully-applied block number + 1 (spec §3 invariant).
type ErrBlockGap struct {
	Want, Got types.BlockNumber
}

func (e *ErrBlockGap) Error() string {
	return fmt.Sprintf("replay: expected block_num %d, got %d", e.Want, e.Got)
}

// Engine owns the live State and applies RollupOpsBlocks to it one at a
// time, in order.
type Engine struct {
	State    *state.State
	Handlers state.Handlers
	Storage  Storage
}

// New constructs an Engine over s. Each block's fee-credit target is taken
// from that block's own FeeAccount field (spec §3 "RollupOpsBlock ...
// fee_account"), not fixed at construction time.
func New(s *state.State, storage Storage) *Engine {
	return &Engine{State: s, Storage: storage}
}

// ApplyBlock replays one block's ops against the live state in sequence
// (spec §5 "Within a rollup block, ops are applied in sequence"), enforces
// the block_num contiguity invariant, and commits the resulting update log
// and new root hash to storage.
func (e *Engine) ApplyBlock(ctx context.Context, block fetcher.RollupOpsBlock) error {
	last, err := e.Storage.LastAppliedBlock(ctx)
	if err != nil {
		return fmt.Errorf("replay: load last applied block: %w", err)
	}
	if block.BlockNum != last+1 {
		return &ErrBlockGap{Want: last + 1, Got: block.BlockNum}
	}

	e.Handlers.FeeAccountID = block.FeeAccount

	var updates []state.AccountUpdate
	for i, op := range block.Ops {
		opUpdates, err := e.Handlers.Apply(e.State, op)
		if err != nil {
			return fmt.Errorf("replay: block %d op %d: %w", block.BlockNum, i, err)
		}
		updates = append(updates, opUpdates...)
	}

	root := e.State.RootHash()
	if err := e.Storage.CommitBlock(ctx, block, updates, root); err != nil {
		return fmt.Errorf("replay: commit block %d: %w", block.BlockNum, err)
	}
	return nil
}

// ApplyBlocks replays a run of blocks in the given order, stopping at the
// first error (spec §4.2 "concurrent decoding of future blocks is allowed
// but commit to state MUST be serialised" — callers decode concurrently
// and pass the resulting slice here already sorted by block_num).
func (e *Engine) ApplyBlocks(ctx context.Context, blocks []fetcher.RollupOpsBlock) error {
	for _, b := range blocks {
		if err := e.ApplyBlock(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Revert reverses a previously-applied block's update log against the live
// state, for BlocksRevert handling (spec §8 invariant 1 "Update
// reversibility").
func (e *Engine) Revert(updates []state.AccountUpdate) error {
	return e.State.ApplyAll(state.ReverseAll(updates))
}

// RevertTo undoes every block committed above toBlock: it loads their
// persisted replay logs highest-block-first, reverts each against the live
// state, then prunes the corresponding rollup_ops rows so LastAppliedBlock
// reports toBlock afterward (spec §4.1 "BlocksRevert", §8 invariant 1).
func (e *Engine) RevertTo(ctx context.Context, toBlock types.BlockNumber) error {
	logs, err := e.Storage.ReplayLogsAbove(ctx, toBlock)
	if err != nil {
		return fmt.Errorf("replay: load replay logs above %d: %w", toBlock, err)
	}
	for _, entry := range logs {
		if err := e.Revert(entry.Updates); err != nil {
			return fmt.Errorf("replay: revert block %d: %w", entry.BlockNum, err)
		}
	}
	if err := e.Storage.DeleteBlocksAbove(ctx, toBlock); err != nil {
		return fmt.Errorf("replay: prune blocks above %d: %w", toBlock, err)
	}
	return nil
}
