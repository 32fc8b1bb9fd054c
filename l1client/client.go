// Package l1client wraps the subset of an L1 chain's JSON-RPC surface the
// recovery pipeline needs: log filtering for the event scanner, transaction
// fetch for the block fetcher, and the two contract calls the exit prover's
// startup gate and the token registry depend on (spec §4.1, §4.6, §6).
package l1client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainType selects how a configured chain's L1 calls are dispatched. STARKNET
// is a documented unsupported variant: the spec never specifies a Starknet
// RPC mapping, so Client construction fails loudly instead of silently
// guessing a protocol (resolved Open Question, see DESIGN.md).
type ChainType int

const (
	ChainTypeEVM ChainType = iota
	ChainTypeStarknet
)

// ErrUnsupportedChainType is returned by New for any ChainType this module
// cannot yet dispatch calls for.
var ErrUnsupportedChainType = errors.New("l1client: unsupported chain type")

// Client is the capability surface the scanner and fetcher need from an L1
// chain. One instance is constructed per configured chain id.
type Client interface {
	// FilterLogs returns every log in [fromBlock, toBlock] matching query,
	// mirroring the scanner's bounded-window poll (spec §4.1).
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	// TransactionByHash fetches a commit transaction's calldata for the
	// block fetcher (spec §4.2).
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error)
	// BlockNumber returns L1's current tip, used to bound the scanner's
	// polling window (tip - END_BLOCK_OFFSET).
	BlockNumber(ctx context.Context) (uint64, error)
	// TotalBlocksExecuted calls the rollup contract's totalBlocksExecuted()
	// view, gating exit-prover startup (spec §4.6).
	TotalBlocksExecuted(ctx context.Context, contractAddr common.Address) (uint32, error)
	// ERC20Symbol calls symbol() on an ERC-20 token contract, resolving the
	// human-readable symbol for NewToken events (spec §4.1).
	ERC20Symbol(ctx context.Context, tokenAddr common.Address) (string, error)
}

// EthAddress is the sentinel address NewToken events use to denote a
// chain's native gas token, which has no ERC-20 contract to query.
var EthAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const totalBlocksExecutedABI = `[{"constant":true,"inputs":[],"name":"totalBlocksExecuted","outputs":[{"name":"","type":"uint32"}],"type":"function"}]`
const erc20SymbolABI = `[{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}]`

// evmClient implements Client over go-ethereum's ethclient.Client.
type evmClient struct {
	rpc         *ethclient.Client
	rollupABI   abi.ABI
	erc20ABI    abi.ABI
	gasTokenSym string
}

// New dials endpoint and returns a Client for chainType. gasTokenSymbol
// names the symbol reported for EthAddress (the chain's configured native
// token, spec §6 "GAS_TOKEN").
func New(ctx context.Context, chainType ChainType, endpoint, gasTokenSymbol string) (Client, error) {
	if chainType != ChainTypeEVM {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChainType, chainType)
	}
	rpc, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("l1client: dial %s: %w", endpoint, err)
	}
	rollupABI, err := abi.JSON(strings.NewReader(totalBlocksExecutedABI))
	if err != nil {
		return nil, err
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20SymbolABI))
	if err != nil {
		return nil, err
	}
	return &evmClient{rpc: rpc, rollupABI: rollupABI, erc20ABI: erc20ABI, gasTokenSym: gasTokenSymbol}, nil
}

func (c *evmClient) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
		Topics:    topics,
	}
	return c.rpc.FilterLogs(ctx, query)
}

func (c *evmClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	tx, _, err := c.rpc.TransactionByHash(ctx, hash)
	return tx, err
}

func (c *evmClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.rpc.BlockNumber(ctx)
}

func (c *evmClient) TotalBlocksExecuted(ctx context.Context, contractAddr common.Address) (uint32, error) {
	data, err := c.rollupABI.Pack("totalBlocksExecuted")
	if err != nil {
		return 0, err
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &contractAddr, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	vals, err := c.rollupABI.Unpack("totalBlocksExecuted", out)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, errors.New("l1client: unexpected totalBlocksExecuted return arity")
	}
	n, ok := vals[0].(uint32)
	if !ok {
		return 0, errors.New("l1client: unexpected totalBlocksExecuted return type")
	}
	return n, nil
}

func (c *evmClient) ERC20Symbol(ctx context.Context, tokenAddr common.Address) (string, error) {
	if tokenAddr == EthAddress {
		return c.gasTokenSym, nil
	}
	data, err := c.erc20ABI.Pack("symbol")
	if err != nil {
		return "", err
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return "", err
	}
	vals, err := c.erc20ABI.Unpack("symbol", out)
	if err != nil {
		return "", err
	}
	if len(vals) != 1 {
		return "", errors.New("l1client: unexpected symbol return arity")
	}
	sym, ok := vals[0].(string)
	if !ok {
		return "", errors.New("l1client: unexpected symbol return type")
	}
	return sym, nil
}
