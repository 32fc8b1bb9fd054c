// Command exitprover is the exit-proof CLI (spec §6, "CLI (prover)"): it
// either runs the durable worker pool (`tasks`) that claims and completes
// exit_proofs rows forever, or computes a single proof on demand
// (`single`) and prints it with the stored_block_info to stdout.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/zklinkprotocol/recover-state-server/config"
	"github.com/zklinkprotocol/recover-state-server/l1client"
	"github.com/zklinkprotocol/recover-state-server/progress"
	"github.com/zklinkprotocol/recover-state-server/prover"
	"github.com/zklinkprotocol/recover-state-server/state"
	"github.com/zklinkprotocol/recover-state-server/storage"
	"github.com/zklinkprotocol/recover-state-server/types"
)

// maxChainNum bounds ZkLinkExitCircuit's witness surface (spec §4.6,
// "ZkLinkExitCircuit parameterised by max_chain_num"); zkLink currently
// aggregates a small, fixed set of L1 chains.
const maxChainNum = 16

func main() {
	app := &cli.App{
		Name:  "exitprover",
		Usage: "generate zkLink exit proofs for exodus withdrawals",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Usage: "Postgres connection string", Required: true},
		},
		Commands: []*cli.Command{
			tasksCommand(),
			singleCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "exitprover:", err)
		os.Exit(1)
	}
}

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "start the exit-proof worker pool and serve the durable task queue forever",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers_num", Usage: "worker count (default: cores/16, capped at --workers_num if positive)"},
		},
		Action: runTasks,
	}
}

func runTasks(c *cli.Context) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("exitprover: build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("exitprover: load config: %w", err)
	}

	store, err := storage.Open(c.String("dsn"), cfg.API.WorkersNum+4)
	if err != nil {
		return fmt.Errorf("exitprover: open storage: %w", err)
	}
	defer store.Close()

	cache, err := prover.LoadProvingCache(cfg.Runtime.KeyPath(), maxChainNum)
	if err != nil {
		return fmt.Errorf("exitprover: load proving cache: %w", err)
	}

	if err := waitForAllChains(ctx, cfg, store, log); err != nil {
		return fmt.Errorf("exitprover: wait for recovery to catch up: %w", err)
	}

	stateSnap, err := store.LoadTreeSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("exitprover: load state snapshot: %w", err)
	}

	workers := prover.ResolveWorkerCount(c.Int("workers_num"))
	log.Info("starting exit-proof worker pool", zap.Int("workers", workers))

	pool := prover.NewPool(store, cache, func() *state.State { return stateSnap }, log, workers)
	return pool.Run(ctx)
}

func singleCommand() *cli.Command {
	return &cli.Command{
		Name:  "single",
		Usage: "generate a single exit proof and print it to stdout",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "chain_id", Required: true},
			&cli.Uint64Flag{Name: "account_id", Required: true},
			&cli.Uint64Flag{Name: "sub-account-id", Required: true},
			&cli.Uint64Flag{Name: "l1_target_token", Required: true},
			&cli.Uint64Flag{Name: "l2_source_token", Required: true},
		},
		Action: runSingle,
	}
}

func runSingle(c *cli.Context) error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("exitprover: load config: %w", err)
	}

	store, err := storage.Open(c.String("dsn"), 2)
	if err != nil {
		return fmt.Errorf("exitprover: open storage: %w", err)
	}
	defer store.Close()

	cache, err := prover.LoadProvingCache(cfg.Runtime.KeyPath(), maxChainNum)
	if err != nil {
		return fmt.Errorf("exitprover: load proving cache: %w", err)
	}

	st, err := store.LoadTreeSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("exitprover: load state snapshot: %w", err)
	}

	accountID := types.AccountId(c.Uint64("account_id"))
	addr, err := store.AccountAddress(ctx, accountID)
	if err != nil {
		return fmt.Errorf("exitprover: resolve account address: %w", err)
	}

	req := prover.ExitRequest{
		ChainID:       types.ChainId(c.Uint64("chain_id")),
		AccountID:     accountID,
		SubAccountID:  types.SubAccountId(c.Uint64("sub-account-id")),
		L1TargetToken: types.TokenId(c.Uint64("l1_target_token")),
		L2SourceToken: types.TokenId(c.Uint64("l2_source_token")),
		AccountAddr:   addr,
	}

	proof, amount, err := prover.GenerateProof(cache, st, req)
	if err != nil {
		return fmt.Errorf("exitprover: generate proof: %w", err)
	}

	root := st.RootHash()
	out := struct {
		Proof           string `json:"proof"`
		Amount          string `json:"amount"`
		StoredBlockInfo struct {
			RootHash string `json:"root_hash"`
		} `json:"stored_block_info"`
	}{
		Proof:  hex.EncodeToString(proof),
		Amount: amount.String(),
	}
	out.StoredBlockInfo.RootHash = hex.EncodeToString(root[:])

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// waitForAllChains runs progress.WaitForCatchUp against every configured
// chain before the pool is allowed to accept tasks (spec §4.6, last
// paragraph: "Before the pool accepts tasks, it waits for recovered state
// to catch up"). The recovery driver that advances sync height runs in a
// separate process (spec §6's two-binary layout), so the gate polls the
// driver's persisted height in storage rather than an in-process Tracker.
func waitForAllChains(ctx context.Context, cfg config.Config, store *storage.Store, log *zap.Logger) error {
	source := storageHeightSource{store: store}

	for chainID, chainSet := range cfg.Chains {
		chainType := l1client.ChainTypeEVM
		if chainSet.Chain.ChainType == "STARKNET" {
			chainType = l1client.ChainTypeStarknet
		}

		var client l1client.Client
		var dialErr error
		for _, endpoint := range chainSet.Client.Web3URL {
			client, dialErr = l1client.New(ctx, chainType, endpoint, chainSet.Chain.GasToken)
			if dialErr == nil {
				break
			}
		}
		if dialErr != nil {
			return fmt.Errorf("chain %d: dial every configured endpoint: %w", chainID, dialErr)
		}

		contractAddr := common.HexToAddress(chainSet.Contract.ContractAddr)
		log.Info("waiting for recovered state to catch up", zap.Uint8("chain_id", chainID))
		if err := progress.WaitForCatchUp(ctx, client, contractAddr, source); err != nil {
			return fmt.Errorf("chain %d: %w", chainID, err)
		}
	}
	return nil
}

// storageHeightSource satisfies progress.HeightSource by polling the
// recovery driver's last applied block from storage, the only place a
// height the exitprover process can observe is actually kept up to date.
type storageHeightSource struct {
	store *storage.Store
}

func (s storageHeightSource) Height(ctx context.Context) (uint64, error) {
	h, err := s.store.LastAppliedBlock(ctx)
	if err != nil {
		return 0, err
	}
	return uint64(h), nil
}
