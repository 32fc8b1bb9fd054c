package prover

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/frontend"

	"github.com/zklinkprotocol/recover-state-server/crypto"
	"github.com/zklinkprotocol/recover-state-server/ops"
	"github.com/zklinkprotocol/recover-state-server/state"
	"github.com/zklinkprotocol/recover-state-server/types"
)

// ErrAccountNotFound is returned when a claimed task names an account the
// recovered tree has no record of.
var ErrAccountNotFound = errors.New("prover: account not found in recovered state")

// ErrInvalidTokenPair mirrors state.ErrInvalidTokenPair for the proof
// request path, kept distinct so callers don't need to import state just
// to compare against it.
var ErrInvalidTokenPair = errors.New("prover: l2_source/l1_target token pair is invalid")

// ExitRequest names one exit-proof task's parameters (spec §4.6's
// 5-tuple key, plus the address enrichment step).
type ExitRequest struct {
	ChainID       types.ChainId
	AccountID     types.AccountId
	SubAccountID  types.SubAccountId
	L1TargetToken types.TokenId
	L2SourceToken types.TokenId
	AccountAddr   types.Address
}

// BuildWitness derives the exit amount (min of the user's and the global
// asset account's balance, mirroring applyForcedExit's rule) and assembles
// the full circuit assignment from the recovered state snapshot st.
func BuildWitness(st *state.State, req ExitRequest) (*ZkLinkExitCircuit, *big.Int, error) {
	valid, realL1 := ops.CheckSourceTargetToken(req.L2SourceToken, req.L1TargetToken)
	if !valid {
		return nil, nil, ErrInvalidTokenPair
	}

	acc := st.Get(req.AccountID)
	if acc == nil || !acc.Address.Equal(req.AccountAddr) {
		return nil, nil, ErrAccountNotFound
	}

	global := st.Get(types.GlobalAssetAccountID)
	chainSub := types.SubAccountId(req.ChainID)

	userBal := acc.Balance(req.SubAccountID, req.L2SourceToken)
	globalBal := global.Balance(chainSub, realL1)
	exitAmount := userBal
	if globalBal.Cmp(userBal) < 0 {
		exitAmount = globalBal
	}
	exitAmount = new(big.Int).Set(exitAmount)

	balancePath := st.BalanceMerklePath(req.AccountID, req.SubAccountID, req.L2SourceToken)
	accountPath := st.AccountMerklePath(req.AccountID)

	balanceKey := types.ComposedTokenKey(req.SubAccountID, req.L2SourceToken)
	balanceDir := pathDirections(balanceKey, len(balancePath))
	accountDir := pathDirections(uint64(req.AccountID), len(accountPath))

	rootHash := st.RootHash()

	var circuit ZkLinkExitCircuit
	circuit.RootHash = bytesToVar(rootHash[:])
	circuit.AccountID = uint64(req.AccountID)
	circuit.SubAccountID = uint64(req.SubAccountID)
	circuit.Nonce = uint64(acc.Nonce)
	circuit.PubKeyHash = bytesToVar(acc.PubKeyHash[:])
	circuit.Address = bytesToVar(acc.Address.Bytes())
	circuit.BalanceRoot = feToVar(st.BalanceRoot(req.AccountID))
	circuit.OrderRoot = feToVar(st.OrderRoot(req.AccountID))
	circuit.TokenID = uint64(req.L2SourceToken)
	circuit.Balance = bigToVar(userBal)
	circuit.ExitAmount = bigToVar(exitAmount)
	circuit.ChainID = uint64(req.ChainID)
	circuit.L1Token = uint64(realL1)

	for i := range circuit.BalancePath {
		circuit.BalancePath[i] = feToVar(balancePath[i])
		circuit.BalanceDir[i] = balanceDir[i]
	}
	for i := range circuit.AccountPath {
		circuit.AccountPath[i] = feToVar(accountPath[i])
		circuit.AccountDir[i] = accountDir[i]
	}

	commitment := crypto.HashElements(
		feFromUint(uint64(req.AccountID)),
		feFromUint(uint64(req.SubAccountID)),
		feFromUint(uint64(req.L2SourceToken)),
		feFromUint(uint64(req.ChainID)),
		feFromUint(uint64(realL1)),
		feFromBig(exitAmount),
	)
	circuit.PubDataCommitment = feToVar(commitment)

	return &circuit, exitAmount, nil
}

// pathDirections returns, for each level from leaf to root, 1 if idx is the
// left child at that level (sibling goes on the right) and 0 otherwise,
// matching merkleWalk's dir convention.
func pathDirections(idx uint64, depth int) []frontend.Variable {
	dirs := make([]frontend.Variable, depth)
	cur := idx
	for i := 0; i < depth; i++ {
		if cur&1 == 0 {
			dirs[i] = 1
		} else {
			dirs[i] = 0
		}
		cur >>= 1
	}
	return dirs
}

func feToVar(e fr.Element) frontend.Variable {
	b := e.Bytes()
	return new(big.Int).SetBytes(b[:])
}

func bytesToVar(b []byte) frontend.Variable {
	return new(big.Int).SetBytes(b)
}

func bigToVar(v *big.Int) frontend.Variable {
	return new(big.Int).Set(v)
}

func feFromUint(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func feFromBig(v *big.Int) fr.Element {
	var e fr.Element
	e.SetBigInt(v)
	return e
}

// GenerateProof runs the PLONK prover for req against st using cache's
// compiled circuit and proving key, returning the serialized proof and the
// computed exit amount.
func GenerateProof(cache *ProvingCache, st *state.State, req ExitRequest) ([]byte, *big.Int, error) {
	assignment, amount, err := BuildWitness(st, req)
	if err != nil {
		return nil, nil, err
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, err
	}

	proof, err := plonk.Prove(cache.ccs, cache.pk, w)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), amount, nil
}
