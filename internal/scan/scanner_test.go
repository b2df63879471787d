package scan

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"substratescope/internal/chain/chaintest"
)

func TestRecentBlocksNewestFirst(t *testing.T) {
	fake := chaintest.New()
	for n := uint64(0); n <= 20; n++ {
		fake.AddBlock(n)
	}
	s := New(fake, zap.NewNop())

	blocks, err := s.RecentBlocks(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent blocks: %v", err)
	}
	if len(blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(blocks))
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Number >= blocks[i-1].Number {
			t.Fatalf("numbers not strictly decreasing: %d then %d",
				blocks[i-1].Number, blocks[i].Number)
		}
	}
	if blocks[0].Number != 20 {
		t.Fatalf("expected head block 20 first, got %d", blocks[0].Number)
	}
}

func TestRecentBlocksShortChain(t *testing.T) {
	fake := chaintest.New()
	for n := uint64(0); n <= 3; n++ {
		fake.AddBlock(n)
	}
	s := New(fake, zap.NewNop())

	blocks, err := s.RecentBlocks(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent blocks: %v", err)
	}
	// Chain height 3 means blocks 0..3: min(n, height+1) results.
	if len(blocks) != 4 {
		t.Fatalf("expected 4 blocks on a short chain, got %d", len(blocks))
	}
}

func TestRecentTransfersRespectsBoundExactly(t *testing.T) {
	fake := chaintest.New()
	for n := uint64(0); n <= 50; n++ {
		fake.AddBlock(n, chaintest.Remark("0xr"+string(rune('a'+n%26))))
	}
	s := New(fake, zap.NewNop())

	result, err := s.RecentTransfers(context.Background(), 5, 10)
	if err != nil {
		t.Fatalf("recent transfers: %v", err)
	}
	if len(result.Transfers) != 0 {
		t.Fatalf("expected no transfers, got %d", len(result.Transfers))
	}
	if !result.Exhausted {
		t.Fatal("expected the bound-exhausted flag on a partial result")
	}
	if fake.BlockFetches != 10 {
		t.Fatalf("expected exactly 10 block fetches, got %d", fake.BlockFetches)
	}
}

func TestRecentTransfersStopsAtLimit(t *testing.T) {
	fake := chaintest.New()
	fake.AddBlock(1, chaintest.Transfer("0xt1", "alice", "bob", 10))
	fake.AddBlock(2, chaintest.Transfer("0xt2", "bob", "carol", 20))
	fake.AddBlock(3,
		chaintest.Remark("0xr1"),
		chaintest.Transfer("0xt3", "carol", "dave", 30))
	s := New(fake, zap.NewNop())

	result, err := s.RecentTransfers(context.Background(), 2, 100)
	if err != nil {
		t.Fatalf("recent transfers: %v", err)
	}
	if len(result.Transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(result.Transfers))
	}
	if result.Transfers[0].Hash != "0xt3" || result.Transfers[1].Hash != "0xt2" {
		t.Fatalf("expected newest-first [0xt3 0xt2], got [%s %s]",
			result.Transfers[0].Hash, result.Transfers[1].Hash)
	}
	if result.Exhausted {
		t.Fatal("limit satisfied, bound not exhausted")
	}
}

func TestRecentTransfersIgnoresNonTransferMethods(t *testing.T) {
	fake := chaintest.New()
	blk := fake.AddBlock(1)
	// A method that merely contains the substring must not match.
	blk.Extrinsics = append(blk.Extrinsics, chaintest.Remark("0xfake"))
	blk.Extrinsics[len(blk.Extrinsics)-1].Section = "balances"
	blk.Extrinsics[len(blk.Extrinsics)-1].Method = "force_transfer"
	s := New(fake, zap.NewNop())

	result, err := s.RecentTransfers(context.Background(), 5, 10)
	if err != nil {
		t.Fatalf("recent transfers: %v", err)
	}
	if len(result.Transfers) != 0 {
		t.Fatalf("force_transfer must not be tagged as a transfer: %v", result.Transfers)
	}
}

func TestFindTransactionShortCircuits(t *testing.T) {
	fake := chaintest.New()
	fake.AddBlock(1, chaintest.Transfer("0xdeep", "alice", "bob", 1))
	fake.AddBlock(2)
	fake.AddBlock(3, chaintest.Transfer("0xwanted", "bob", "carol", 2))
	fake.AddBlock(4)
	fake.AddBlock(5)
	s := New(fake, zap.NewNop())

	ext, err := s.FindTransaction(context.Background(), "0xwanted", 100)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if ext == nil || ext.Hash != "0xwanted" {
		t.Fatalf("expected 0xwanted, got %+v", ext)
	}
	// Head is 5; the match sits in block 3, so 5, 4, 3 are fetched.
	if fake.BlockFetches != 3 {
		t.Fatalf("expected 3 fetches before short-circuit, got %d", fake.BlockFetches)
	}
}

func TestFindTransactionMissIsNilNotError(t *testing.T) {
	fake := chaintest.New()
	fake.AddBlock(1)
	fake.AddBlock(2)
	s := New(fake, zap.NewNop())

	ext, err := s.FindTransaction(context.Background(), "0xmissing", 10)
	if err != nil {
		t.Fatalf("a miss is not an error: %v", err)
	}
	if ext != nil {
		t.Fatalf("expected nil for a miss, got %+v", ext)
	}
}

func TestBlockByNumberAndHash(t *testing.T) {
	fake := chaintest.New()
	blk := fake.AddBlock(7)
	s := New(fake, zap.NewNop())

	byNumber, err := s.Block(context.Background(), "7")
	if err != nil || byNumber == nil || byNumber.Number != 7 {
		t.Fatalf("lookup by number failed: %v %+v", err, byNumber)
	}
	byHash, err := s.Block(context.Background(), blk.Hash)
	if err != nil || byHash == nil || byHash.Hash != blk.Hash {
		t.Fatalf("lookup by hash failed: %v %+v", err, byHash)
	}
	missing, err := s.Block(context.Background(), "999")
	if err != nil || missing != nil {
		t.Fatalf("absent block must be nil, got %v %+v", err, missing)
	}
}

func TestScanReportsProgress(t *testing.T) {
	fake := chaintest.New()
	for n := uint64(0); n <= 9; n++ {
		fake.AddBlock(n)
	}
	var calls int
	s := New(fake, zap.NewNop(), WithProgress(func(scanned, bound int) {
		calls++
		if scanned > bound {
			t.Fatalf("progress overran bound: %d > %d", scanned, bound)
		}
	}))

	if _, err := s.RecentTransfers(context.Background(), 1, 5); err != nil {
		t.Fatalf("recent transfers: %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 progress reports, got %d", calls)
	}
}
