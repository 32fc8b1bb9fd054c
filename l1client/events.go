package l1client

import "github.com/ethereum/go-ethereum/crypto"

// Event signatures the scanner partitions logs by by their topic0 (spec §6
// "L1 event topics"). Exact argument types are immaterial here — only the
// Keccak-256 of the signature string is needed to recognize a log's kind;
// argument decoding happens against the full event ABI in the scanner.
const (
	SigBlockCommit       = "BlockCommit(uint32,bytes32,bytes32,uint256)"
	SigBlockExecuted     = "BlockExecuted(uint32)"
	SigBlocksRevert      = "BlocksRevert(uint32,uint32)"
	SigNewToken          = "NewToken(uint16,address)"
	SigNewPriorityRequest = "NewPriorityRequest(address,uint64,uint8,bytes,uint256)"
	SigUpgradeComplete   = "UpgradeComplete(uint256)"
)

// Topic0BlockCommit etc. are the precomputed topic0 hashes the scanner
// matches incoming logs against.
var (
	Topic0BlockCommit        = crypto.Keccak256Hash([]byte(SigBlockCommit))
	Topic0BlockExecuted      = crypto.Keccak256Hash([]byte(SigBlockExecuted))
	Topic0BlocksRevert       = crypto.Keccak256Hash([]byte(SigBlocksRevert))
	Topic0NewToken           = crypto.Keccak256Hash([]byte(SigNewToken))
	Topic0NewPriorityRequest = crypto.Keccak256Hash([]byte(SigNewPriorityRequest))
	Topic0UpgradeComplete    = crypto.Keccak256Hash([]byte(SigUpgradeComplete))
)
