// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"substratescope/internal/chain"
)

// FakeClient serves canned chain state and counts the calls that matter for
// scan-bound assertions.
type FakeClient struct {
	mu sync.Mutex

	Head       uint64
	Blocks     map[uint64]*chain.Block
	Balances   []chain.BalanceEntry
	Validators []string
	Era        uint32

	Exposures   map[string]*chain.Exposure
	Commissions map[string]uint32
	Authored    map[string]uint32
	// AuthoredAbsent simulates a runtime without the authored-blocks pallet.
	AuthoredAbsent bool

	Fee      chain.FeeInfo
	Statuses []chain.SubmissionStatus
	Errors   map[chain.RawModuleError]*chain.DispatchError

	PingErr error
	// Connectivity is drained by WatchConnectivity when set.
	Connectivity chan bool

	BlockFetches  int
	HeaderFetches int
	PingCalls     int

	closed bool
}

func New() *FakeClient {
	return &FakeClient{
		Blocks:      make(map[uint64]*chain.Block),
		Exposures:   make(map[string]*chain.Exposure),
		Commissions: make(map[string]uint32),
		Authored:    make(map[string]uint32),
		Errors:      make(map[chain.RawModuleError]*chain.DispatchError),
	}
}

// AddBlock creates a block numbered n with the given extrinsics and advances
// the head if needed.
func (f *FakeClient) AddBlock(n uint64, extrinsics ...chain.Extrinsic) *chain.Block {
	blk := &chain.Block{
		Number:     n,
		Hash:       fmt.Sprintf("0xb%08d", n),
		ParentHash: fmt.Sprintf("0xb%08d", n-1),
	}
	for i := range extrinsics {
		extrinsics[i].BlockNumber = n
		extrinsics[i].BlockHash = blk.Hash
		if extrinsics[i].Tip == nil {
			extrinsics[i].Tip = new(big.Int)
		}
		blk.Extrinsics = append(blk.Extrinsics, extrinsics[i])
	}
	f.Blocks[n] = blk
	if n > f.Head {
		f.Head = n
	}
	return blk
}

func Transfer(hash, signer, dest string, amount int64) chain.Extrinsic {
	return chain.Extrinsic{
		Hash:     hash,
		Section:  "balances",
		Method:   "transfer_keep_alive",
		Signer:   signer,
		IsSigned: true,
		Dest:     dest,
		Amount:   big.NewInt(amount),
	}
}

func Remark(hash string) chain.Extrinsic {
	return chain.Extrinsic{Hash: hash, Section: "system", Method: "remark"}
}

func (f *FakeClient) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PingCalls++
	return f.PingErr
}

func (f *FakeClient) WatchConnectivity(ctx context.Context) (<-chan bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Connectivity == nil {
		f.Connectivity = make(chan bool)
	}
	return f.Connectivity, nil
}

func (f *FakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.Connectivity != nil {
		close(f.Connectivity)
		f.Connectivity = nil
	}
}

func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeClient) LatestNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HeaderFetches++
	return f.Head, nil
}

func (f *FakeClient) BlockByNumber(ctx context.Context, number uint64) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BlockFetches++
	return f.Blocks[number], nil
}

func (f *FakeClient) BlockByHash(ctx context.Context, hash string) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BlockFetches++
	for _, blk := range f.Blocks {
		if blk.Hash == hash {
			return blk, nil
		}
	}
	return nil, nil
}

func (f *FakeClient) AccountInfo(ctx context.Context, address string) (*chain.BalanceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Balances {
		if f.Balances[i].Address == address {
			entry := f.Balances[i]
			return &entry, nil
		}
	}
	return nil, nil
}

func (f *FakeClient) AccountBalances(ctx context.Context) ([]chain.BalanceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chain.BalanceEntry, len(f.Balances))
	copy(out, f.Balances)
	return out, nil
}

func (f *FakeClient) SessionValidators(ctx context.Context) ([]string, error) {
	return f.Validators, nil
}

func (f *FakeClient) ActiveEra(ctx context.Context) (uint32, error) {
	return f.Era, nil
}

func (f *FakeClient) ValidatorExposure(ctx context.Context, era uint32, address string) (*chain.Exposure, error) {
	if exp, ok := f.Exposures[address]; ok {
		return exp, nil
	}
	return &chain.Exposure{Total: new(big.Int), Own: new(big.Int)}, nil
}

func (f *FakeClient) ValidatorPrefs(ctx context.Context, address string) (uint32, error) {
	return f.Commissions[address], nil
}

func (f *FakeClient) AuthoredBlocks(ctx context.Context, era uint32, address string) (uint32, bool, error) {
	if f.AuthoredAbsent {
		return 0, false, nil
	}
	return f.Authored[address], true, nil
}

func (f *FakeClient) EstimateFee(ctx context.Context, call chain.Call, sender string) (chain.FeeInfo, error) {
	if f.Fee.PartialFee == nil {
		return chain.FeeInfo{}, errors.New("no fee configured")
	}
	return f.Fee, nil
}

func (f *FakeClient) SubmitAndWatch(ctx context.Context, call chain.Call, signer chain.Signer) (<-chan chain.SubmissionStatus, error) {
	if _, err := signer.SecretURI(); err != nil {
		return nil, err
	}
	out := make(chan chain.SubmissionStatus, len(f.Statuses))
	go func() {
		defer close(out)
		for _, st := range f.Statuses {
			select {
			case <-ctx.Done():
				return
			case out <- st:
			}
		}
	}()
	return out, nil
}

func (f *FakeClient) DecodeModuleError(raw chain.RawModuleError) (*chain.DispatchError, error) {
	if decoded, ok := f.Errors[raw]; ok {
		return decoded, nil
	}
	return nil, fmt.Errorf("module error %d/%d not found", raw.Module, raw.Error)
}
