package prover

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/kzg"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
)

// ProvingCache is the process-wide, immutable-after-construction bundle of
// compiled circuit, proving key and KZG SRS every worker shares read-only
// (spec §4.6: "a single process-wide ProvingCache (transpiled hints +
// setup + monomial-form CRS) shared read-only across workers" and spec §5:
// "ProvingCache is Send + Sync, immutable after construction").
type ProvingCache struct {
	ccs constraint.ConstraintSystem
	pk  plonk.ProvingKey
	vk  plonk.VerifyingKey

	once sync.Once
}

// srsFileName and vkFileName are the artifact names ProvingCache looks for
// under the runtime config's joined key path.
const (
	srsFileName = "zklink_exit.srs"
	vkFileName  = "zklink_exit.vk"
	pkFileName  = "zklink_exit.pk"
)

// LoadProvingCache compiles ZkLinkExitCircuit and either loads a prior
// setup from keyDir or runs a fresh PLONK setup against the KZG SRS found
// there, per spec §4.6 ("the verification key for the circuit is loaded
// from disk").
func LoadProvingCache(keyDir string, maxChainNum int) (*ProvingCache, error) {
	circuit := NewCircuit(maxChainNum)
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("prover: compile circuit: %w", err)
	}

	srsPath := filepath.Join(keyDir, srsFileName)
	srs, srsLagrange, err := loadSRS(srsPath, ccs)
	if err != nil {
		return nil, fmt.Errorf("prover: load srs: %w", err)
	}

	pkPath := filepath.Join(keyDir, pkFileName)
	vkPath := filepath.Join(keyDir, vkFileName)
	if pk, vk, err := loadKeys(pkPath, vkPath); err == nil {
		return &ProvingCache{ccs: ccs, pk: pk, vk: vk}, nil
	}

	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return nil, fmt.Errorf("prover: plonk setup: %w", err)
	}
	if err := saveKeys(pkPath, vkPath, pk, vk); err != nil {
		return nil, fmt.Errorf("prover: persist setup: %w", err)
	}

	return &ProvingCache{ccs: ccs, pk: pk, vk: vk}, nil
}

func loadSRS(path string, ccs constraint.ConstraintSystem) (kzg.SRS, kzg.SRS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	srs := kzg.NewSRS(ecc.BN254)
	if _, err := srs.ReadFrom(f); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return srs, srs, nil
}

func loadKeys(pkPath, vkPath string) (plonk.ProvingKey, plonk.VerifyingKey, error) {
	pkFile, err := os.Open(pkPath)
	if err != nil {
		return nil, nil, err
	}
	defer pkFile.Close()
	vkFile, err := os.Open(vkPath)
	if err != nil {
		return nil, nil, err
	}
	defer vkFile.Close()

	pk := plonk.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(pkFile); err != nil {
		return nil, nil, err
	}
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(vkFile); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

func saveKeys(pkPath, vkPath string, pk plonk.ProvingKey, vk plonk.VerifyingKey) error {
	pkFile, err := os.Create(pkPath)
	if err != nil {
		return err
	}
	defer pkFile.Close()
	if _, err := pk.WriteTo(pkFile); err != nil {
		return err
	}

	vkFile, err := os.Create(vkPath)
	if err != nil {
		return err
	}
	defer vkFile.Close()
	_, err = vk.WriteTo(vkFile)
	return err
}
