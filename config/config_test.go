package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyPathJoinsHomeAndDir(t *testing.T) {
	r := RuntimeConfig{ZkLinkHome: "/srv/zklink", KeyDir: "keys"}
	require.Equal(t, "/srv/zklink/keys", r.KeyPath())
}

// TestLoadParsesTopLevelAndPerChainBlocks exercises the prefixed-lookup
// wiring end to end: one configured chain id resolves its CHAIN_<id>_*,
// CHAIN_<id>_CONTRACT_* and CHAIN_<id>_CLIENT_* blocks (spec §6's
// configuration table).
func TestLoadParsesTopLevelAndPerChainBlocks(t *testing.T) {
	t.Setenv("CHAIN_IDS", "1")
	t.Setenv("CLEAN_INTERVAL", "1h")

	t.Setenv("CHAIN_1_CHAIN_ID", "1")
	t.Setenv("CHAIN_1_CHAIN_TYPE", "EVM")
	t.Setenv("CHAIN_1_GAS_TOKEN", "ETH")
	t.Setenv("CHAIN_1_CONTRACT_CONTRACT_ADDR", "0x0000000000000000000000000000000000000001")
	t.Setenv("CHAIN_1_CLIENT_CHAIN_ID", "1")
	t.Setenv("CHAIN_1_CLIENT_WEB3_URL", "http://localhost:8545,http://localhost:8546")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, []uint8{1}, cfg.ChainIDs)
	require.Equal(t, time.Hour, cfg.CleanInterval)

	set, ok := cfg.Chains[1]
	require.True(t, ok)
	require.Equal(t, "EVM", set.Chain.ChainType)
	require.Equal(t, "ETH", set.Chain.GasToken)
	require.Equal(t, []string{"http://localhost:8545", "http://localhost:8546"}, set.Client.Web3URL)
}
