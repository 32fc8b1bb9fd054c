// Package config loads the recovery pipeline's environment-variable
// configuration (spec §6, "Configuration"). Every prefix in the spec's
// table maps to one struct here; per-chain blocks are discovered by
// iterating CHAIN_IDS and re-parsing the three per-chain prefixes with the
// chain's numeric id substituted in.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// APIConfig is API_CONFIG_*: the HTTP listener's process-level knobs. The
// HTTP/JSON API surface itself is out of scope (spec Non-goals), but the
// knobs still need a home so the process can bind its metrics/health port.
type APIConfig struct {
	ServerHTTPPort int  `env:"SERVER_HTTP_PORT,default=8080"`
	WorkersNum     int  `env:"WORKERS_NUM,default=4"`
	EnableHTTPCORS bool `env:"ENABLE_HTTP_CORS,default=false"`
}

// RuntimeConfig is RUNTIME_CONFIG_*: the key-lookup paths the prover joins
// to find its compiled circuit, proving key and KZG SRS on disk.
type RuntimeConfig struct {
	ZkLinkHome string `env:"ZKLINK_HOME,default=."`
	KeyDir     string `env:"KEY_DIR,default=keys"`
}

// KeyPath is the joined directory ProvingCache loads setup artifacts from.
func (r RuntimeConfig) KeyPath() string {
	return filepath.Join(r.ZkLinkHome, r.KeyDir)
}

// ChainConfig is CHAIN_{id}_*: a chain's identity and behavior knobs.
type ChainConfig struct {
	ChainID                  uint8  `env:"CHAIN_ID,required"`
	ChainType                string `env:"CHAIN_TYPE,default=EVM"`
	GasToken                 string `env:"GAS_TOKEN,default=ETH"`
	IsCommitCompressedBlocks bool   `env:"IS_COMMIT_COMPRESSED_BLOCKS,default=false"`
}

// ContractConfig is CHAIN_{id}_CONTRACT_*: where the chain's zkLink
// contract lives and when the scanner should start looking.
type ContractConfig struct {
	DeploymentBlock uint64 `env:"DEPLOYMENT_BLOCK,default=0"`
	ContractAddr    string `env:"CONTRACT_ADDR,required"`
	GenesisTxHash   string `env:"GENESIS_TX_HASH"`
}

// ClientConfig is CHAIN_{id}_CLIENT_*: the L1 RPC endpoints and rate-limit
// behavior for that chain.
type ClientConfig struct {
	ChainID               uint8    `env:"CHAIN_ID,required"`
	Web3URL               []string `env:"WEB3_URL,required,delimiter=,"`
	RequestRateLimitDelay int      `env:"REQUEST_RATE_LIMIT_DELAY,default=0"`
}

// ChainSet bundles one chain's three config blocks.
type ChainSet struct {
	Chain    ChainConfig
	Contract ContractConfig
	Client   ClientConfig
}

// Config is the fully resolved process configuration: the top-level row
// of spec §6's table plus every per-chain block named by CHAIN_IDS.
type Config struct {
	ChainIDs             []uint8       `env:"CHAIN_IDS,required,delimiter=,"`
	UpgradedLayer2Blocks []uint64      `env:"UPGRADED_LAYER2_BLOCKS,delimiter=,"`
	CleanInterval        time.Duration `env:"CLEAN_INTERVAL,default=24h"`
	EnableSyncMode       bool          `env:"ENABLE_SYNC_MODE,default=false"`

	API     APIConfig
	Runtime RuntimeConfig
	Chains  map[uint8]ChainSet
}

// Load bootstraps a .env file if one is present in the working directory
// (local-dev convenience; a missing file is not an error), then parses
// every recognised prefix from spec §6's configuration table.
func Load(ctx context.Context) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: top-level: %w", err)
	}
	if err := processPrefixed(ctx, &cfg.API, "API_CONFIG_"); err != nil {
		return Config{}, fmt.Errorf("config: api: %w", err)
	}
	if err := processPrefixed(ctx, &cfg.Runtime, "RUNTIME_CONFIG_"); err != nil {
		return Config{}, fmt.Errorf("config: runtime: %w", err)
	}

	cfg.Chains = make(map[uint8]ChainSet, len(cfg.ChainIDs))
	for _, id := range cfg.ChainIDs {
		var set ChainSet
		prefix := fmt.Sprintf("CHAIN_%d_", id)
		if err := processPrefixed(ctx, &set.Chain, prefix); err != nil {
			return Config{}, fmt.Errorf("config: chain %d: %w", id, err)
		}
		if err := processPrefixed(ctx, &set.Contract, prefix+"CONTRACT_"); err != nil {
			return Config{}, fmt.Errorf("config: chain %d contract: %w", id, err)
		}
		if err := processPrefixed(ctx, &set.Client, prefix+"CLIENT_"); err != nil {
			return Config{}, fmt.Errorf("config: chain %d client: %w", id, err)
		}
		cfg.Chains[id] = set
	}

	return cfg, nil
}

// processPrefixed runs envconfig against target, resolving every tagged env
// var under the OS environment as if it were named with prefix stripped.
func processPrefixed(ctx context.Context, target interface{}, prefix string) error {
	l := envconfig.PrefixLookuper(prefix, envconfig.OsLookuper())
	return envconfig.ProcessWith(ctx, &envconfig.Config{Target: target, Lookuper: l})
}

