package chain

import (
	"math/big"
	"time"
)

// Block is an immutable snapshot fetched on demand and discarded after use.
// Number is the scan cursor: strictly monotonic, 0 at genesis.
type Block struct {
	Number        uint64
	Hash          string
	ParentHash    string
	Timestamp     time.Time
	AuthorAddress string
	Extrinsics    []Extrinsic
}

func (b *Block) ExtrinsicCount() int {
	return len(b.Extrinsics)
}

type Extrinsic struct {
	Hash        string
	BlockNumber uint64
	BlockHash   string
	Section     string
	Method      string
	Signer      string
	IsSigned    bool
	Tip         *big.Int
	Nonce       uint64

	// Dest/Amount are populated only for transfer-family calls.
	Dest   string
	Amount *big.Int
}

type BalanceEntry struct {
	Address string
	Free    *big.Int
	Nonce   uint64
}

// ValidatorStat is computed per active era; the era index is fetched, never
// inferred. AuthoredKnown is false when the node does not expose the
// authored-blocks source (optional pallet), in which case AuthoredBlocks is 0.
type ValidatorStat struct {
	Address           string
	TotalStake        *big.Int
	OwnStake          *big.Int
	NominatorCount    int
	CommissionPerbill uint32
	AuthoredBlocks    uint32
	AuthoredKnown     bool
}

// Exposure is one validator's stake breakdown for an era.
type Exposure struct {
	Total          *big.Int
	Own            *big.Int
	NominatorCount int
}

type FeeInfo struct {
	PartialFee *big.Int
	Weight     uint64
}

// Call is a runtime call to be submitted. Transfer calls are built through
// NewTransferCall so callers never spell the section/method pair by hand.
type Call struct {
	Section string
	Method  string
	Dest    string
	Amount  *big.Int
}

func NewTransferCall(dest string, amount *big.Int) Call {
	return Call{Section: "balances", Method: "transfer_keep_alive", Dest: dest, Amount: amount}
}

// SubmissionPhase mirrors the node's extrinsic status stream.
type SubmissionPhase int

const (
	PhaseBroadcast SubmissionPhase = iota
	PhaseInBlock
	PhaseRetracted
	PhaseFinalized
	PhaseDropped
	PhaseInvalid
	PhaseUsurped
)

func (p SubmissionPhase) String() string {
	switch p {
	case PhaseBroadcast:
		return "broadcast"
	case PhaseInBlock:
		return "inBlock"
	case PhaseRetracted:
		return "retracted"
	case PhaseFinalized:
		return "finalized"
	case PhaseDropped:
		return "dropped"
	case PhaseInvalid:
		return "invalid"
	case PhaseUsurped:
		return "usurped"
	}
	return "unknown"
}

// SubmissionStatus is one event from the inclusion stream. ModuleErr carries
// the raw (module, error) pair when the dispatched call failed; decoding to a
// readable error goes through Client.DecodeModuleError.
type SubmissionStatus struct {
	Phase     SubmissionPhase
	BlockHash string
	ModuleErr *RawModuleError
}

type RawModuleError struct {
	Module uint8
	Error  uint8
}
