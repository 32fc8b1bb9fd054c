package ops

import "fmt"

// ContractVersion identifies the on-chain commit-block ABI and op-chunk
// table a RollupOpsBlock was encoded under. An unrecognized version is
// fatal for the block fetcher — there is deliberately no default case
// (spec REDESIGN FLAGS: "Contract version enum").
type ContractVersion uint32

const ContractVersionV0 ContractVersion = 0

// SupportedChunkSizes enumerates the valid sums of per-op CHUNKS for a
// whole block's pubdata under a given contract version. A block whose
// total chunk count isn't one of these is fatal, independent of whether
// each individual op decoded cleanly.
func (v ContractVersion) SupportedChunkSizes() ([]int, error) {
	switch v {
	case ContractVersionV0:
		return []int{111, 401, 511}, nil
	default:
		return nil, fmt.Errorf("ops: unsupported contract version %d", v)
	}
}

// Upgrade bumps v by n, mirroring the L1 contract's upgrade(n) call.
func (v ContractVersion) Upgrade(n uint32) ContractVersion { return v + ContractVersion(n) }

// ValidateChunkTotal reports whether total (the sum of every decoded op's
// Chunks() in a block) is one of v's SupportedChunkSizes.
func (v ContractVersion) ValidateChunkTotal(total int) error {
	sizes, err := v.SupportedChunkSizes()
	if err != nil {
		return err
	}
	for _, s := range sizes {
		if s == total {
			return nil
		}
	}
	return fmt.Errorf("ops: chunk total %d not supported by contract version %d", total, v)
}
