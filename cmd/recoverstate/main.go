// Command recoverstate is the state recovery driver CLI (spec §6, "CLI
// (state recovery driver)"): it scans configured L1 chains for BlockCommit/
// BlockExecuted events, fetches and decodes each commit transaction's
// pubdata, and replays the resulting RollupOps against a recovered
// AccountTree, persisting every step so the process can resume after a
// restart.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/zklinkprotocol/recover-state-server/config"
	"github.com/zklinkprotocol/recover-state-server/fetcher"
	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/ops"
	"github.com/zklinkprotocol/recover-state-server/progress"
	"github.com/zklinkprotocol/recover-state-server/replay"
	"github.com/zklinkprotocol/recover-state-server/scanner"
	"github.com/zklinkprotocol/recover-state-server/state"
	"github.com/zklinkprotocol/recover-state-server/storage"
	"github.com/zklinkprotocol/recover-state-server/types"
)

func main() {
	app := &cli.App{
		Name:  "recoverstate",
		Usage: "recover zkLink's executed L2 state by replaying L1 commitments",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "genesis", Usage: "start recovery from genesis, discarding any saved snapshot"},
			&cli.BoolFlag{Name: "continue", Usage: "resume recovery from the last saved snapshot"},
			&cli.BoolFlag{Name: "finite", Value: true, Usage: "exit once caught up to L1's tip instead of running forever"},
			&cli.StringFlag{Name: "final_hash", Usage: "expected final state root hash, checked on exit (hex)"},
			&cli.StringFlag{Name: "dsn", Usage: "Postgres connection string", Required: true},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "recoverstate:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("recoverstate: build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("recoverstate: load config: %w", err)
	}

	store, err := storage.Open(c.String("dsn"), cfg.API.WorkersNum+4)
	if err != nil {
		return fmt.Errorf("recoverstate: open storage: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("recoverstate: migrate: %w", err)
	}

	if c.Bool("genesis") && c.Bool("continue") {
		return fmt.Errorf("recoverstate: --genesis and --continue are mutually exclusive")
	}

	st := state.NewState()
	if c.Bool("continue") {
		loaded, err := store.LoadTreeSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("recoverstate: load snapshot: %w", err)
		}
		st = loaded
		log.Info("resumed from saved snapshot", zap.Int("accounts", len(st.Accounts)))
	}
	engine := replay.New(st, store)

	for chainID, chainSet := range cfg.Chains {
		chain := types.ChainId(chainID)
		chainLog := log.Named(fmt.Sprintf("chain-%d", chainID))

		client, err := dialChain(ctx, chainSet, chainLog)
		if err != nil {
			return fmt.Errorf("recoverstate: chain %d: %w", chainID, err)
		}

		contractAddr := common.HexToAddress(chainSet.Contract.ContractAddr)
		sc := scanner.New(chain, client, contractAddr, store, scanner.DefaultWindow)
		f, err := fetcher.New(client)
		if err != nil {
			return fmt.Errorf("recoverstate: chain %d: build fetcher: %w", chainID, err)
		}
		tracker := progress.New(nil, chain)

		if err := runChain(ctx, chainLog, sc, f, engine, tracker, client, contractAddr, c.Bool("finite")); err != nil {
			return fmt.Errorf("recoverstate: chain %d: %w", chainID, err)
		}
	}

	if hash := c.String("final_hash"); hash != "" {
		root := st.RootHash()
		if got := fmt.Sprintf("0x%x", root); got != hash {
			return fmt.Errorf("recoverstate: final root hash mismatch: got %s, want %s", got, hash)
		}
		log.Info("final root hash matched", zap.String("hash", hash))
	}

	lastBlock, err := store.LastAppliedBlock(ctx)
	if err != nil {
		log.Error("failed to load last applied block for snapshot", zap.Error(err))
	}
	if err := store.SaveTreeSnapshot(ctx, lastBlock, accountSlice(st)); err != nil {
		log.Error("failed to persist final snapshot", zap.Error(err))
	}

	return nil
}

// dialChain tries every configured Web3 RPC endpoint for chainSet in
// order, returning the first that dials successfully (spec §6,
// "WEB3_URL (comma-separated list)").
func dialChain(ctx context.Context, chainSet config.ChainSet, log *zap.Logger) (l1client.Client, error) {
	chainType := l1client.ChainTypeEVM
	if chainSet.Chain.ChainType == "STARKNET" {
		chainType = l1client.ChainTypeStarknet
	}

	var lastErr error
	for _, endpoint := range chainSet.Client.Web3URL {
		client, err := l1client.New(ctx, chainType, endpoint, chainSet.Chain.GasToken)
		if err == nil {
			return client, nil
		}
		log.Warn("failed to dial L1 endpoint, trying next", zap.String("endpoint", endpoint), zap.Error(err))
		lastErr = err
	}
	return nil, fmt.Errorf("dial every configured endpoint: %w", lastErr)
}

// pendingCommit is a BlockCommit event awaiting its Verified counterpart
// (spec §5, "BlockEvents are processed only after their Verified
// counterpart is observed").
type pendingCommit struct {
	evt     scanner.BlockEvent
	version ops.ContractVersion
}

// runChain drives one chain's scan -> fetch -> replay loop until the
// scanner catches up to L1's tip, then either returns (finite mode) or
// keeps polling every 5s for newly committed blocks.
func runChain(
	ctx context.Context,
	log *zap.Logger,
	sc *scanner.Scanner,
	f *fetcher.Fetcher,
	engine *replay.Engine,
	tracker *progress.Tracker,
	client l1client.Client,
	contractAddr common.Address,
	finite bool,
) error {
	pending := map[types.BlockNumber]pendingCommit{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, advanced, err := sc.PollOnce(ctx)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		for _, rev := range batch.Reverts {
			log.Warn("L1 reported BlocksRevert, rolling back recovered state",
				zap.Uint64("to_block", uint64(rev.ToBlock)))
			if err := engine.RevertTo(ctx, rev.ToBlock); err != nil {
				return fmt.Errorf("revert to block %d: %w", rev.ToBlock, err)
			}
			tracker.SetSyncHeight(uint64(rev.ToBlock))
			for bn := range pending {
				if bn > rev.ToBlock {
					delete(pending, bn)
				}
			}
		}

		for _, evt := range batch.BlockEvents {
			switch evt.BlockType {
			case scanner.BlockCommitted:
				pending[evt.StartBlockNum] = pendingCommit{evt: evt, version: ops.ContractVersion(evt.ContractVersion)}
			case scanner.BlockVerified:
				pc, ok := pending[evt.StartBlockNum]
				if !ok {
					continue
				}
				blocks, err := f.FetchAndDecode(ctx, pc.evt, pc.version)
				if err != nil {
					return fmt.Errorf("fetch block event %s: %w", pc.evt.TransactionHash, err)
				}
				if err := engine.ApplyBlocks(ctx, blocks); err != nil {
					return fmt.Errorf("replay: %w", err)
				}
				for _, b := range blocks {
					tracker.SetSyncHeight(uint64(b.BlockNum))
				}
				delete(pending, evt.StartBlockNum)
			}
		}

		if !advanced {
			if finite {
				executed, err := client.TotalBlocksExecuted(ctx, contractAddr)
				if err != nil {
					return fmt.Errorf("query totalBlocksExecuted: %w", err)
				}
				if tracker.SyncHeight() >= uint64(executed) {
					log.Info("caught up to L1 tip, exiting (finite mode)", zap.Uint64("height", tracker.SyncHeight()))
					return nil
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func accountSlice(st *state.State) []state.Account {
	out := make([]state.Account, 0, len(st.Accounts))
	for _, acc := range st.Accounts {
		out = append(out, *acc)
	}
	return out
}
