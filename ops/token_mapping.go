package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// USD_TOKEN_ID is the sentinel l2 token id that triggers the USDX
// aggregation mapping instead of a direct l2==l1 token match.
//
// USDX_TOKEN_ID_RANGE offsets the real L1 token out of the reserved USDX
// band; USDX_TOKEN_ID_LOWER_BOUND/UPPER_BOUND fence the band itself
// (spec §4.3, "check_source_token_and_target_token").
const (
	USDTokenID            = types.TokenId(1)
	USDXTokenIDRange      = types.TokenId(16)
	USDXTokenIDLowerBound = types.TokenId(17)
	USDXTokenIDUpperBound = types.TokenId(31)
)

// CheckSourceTargetToken implements the consensus-critical token mapping
// rule shared by op decoding and global-asset-account accounting. It
// reports whether (l2Source, l1Target) is a valid pair and, if so, the
// real L1 token id to credit/debit on the global asset account.
func CheckSourceTargetToken(l2Source, l1Target types.TokenId) (valid bool, realL1Token types.TokenId) {
	if l2Source == USDTokenID {
		real := l1Target - USDXTokenIDRange
		return real >= USDXTokenIDLowerBound && real <= USDXTokenIDUpperBound, real
	}
	if l2Source >= USDXTokenIDLowerBound && l2Source <= USDXTokenIDUpperBound {
		return false, l1Target
	}
	return l2Source == l1Target, l1Target
}
