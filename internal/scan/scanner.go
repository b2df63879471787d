// Package scan answers explorer queries by bounded backward scans over
// recent blocks. There is no index: every scan starts at the head and walks
// block numbers down, and every scan carries an explicit bound.
package scan

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"substratescope/internal/chain"
)

// Progress is invoked after each examined block during long scans.
type Progress func(scanned, bound int)

type Scanner struct {
	client   chain.Client
	limiter  *rate.Limiter
	progress Progress
	log      *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithRateLimit paces block fetches to at most rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(s *Scanner) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithProgress(p Progress) Option {
	return func(s *Scanner) { s.progress = p }
}

func New(client chain.Client, log *zap.Logger, opts ...Option) *Scanner {
	s := &Scanner{client: client, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanResult is a possibly partial scan outcome. Exhausted means the block
// bound was reached before the requested number of results was found; that
// is not an error.
type ScanResult struct {
	Transfers     []chain.Extrinsic
	BlocksScanned int
	Exhausted     bool
}

// RecentBlocks returns up to n blocks, newest first. A chain shorter than n
// yields fewer.
func (s *Scanner) RecentBlocks(ctx context.Context, n int) ([]chain.Block, error) {
	if n <= 0 {
		return nil, nil
	}
	head, err := s.client.LatestNumber(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]chain.Block, 0, n)
	number := head
	for len(out) < n {
		if err := s.pace(ctx); err != nil {
			return nil, err
		}
		blk, err := s.client.BlockByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		if blk != nil {
			out = append(out, *blk)
		}
		if number == 0 {
			break
		}
		number--
	}
	return out, nil
}

// Block fetches one block by number or hash. Absent blocks are a nil result,
// not an error.
func (s *Scanner) Block(ctx context.Context, ref string) (*chain.Block, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "0x") {
		return s.client.BlockByHash(ctx, ref)
	}
	number, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return nil, nil
	}
	return s.client.BlockByNumber(ctx, number)
}

// RecentTransfers walks backward from the head collecting transfer-family
// extrinsics, newest block first. It stops at the first of: limit results,
// maxBlocks examined, or genesis. The bound keeps a transfer-less stretch of
// a long-lived chain from turning into an unbounded walk.
func (s *Scanner) RecentTransfers(ctx context.Context, limit, maxBlocks int) (ScanResult, error) {
	var result ScanResult
	if limit <= 0 || maxBlocks <= 0 {
		return result, nil
	}
	head, err := s.client.LatestNumber(ctx)
	if err != nil {
		return result, err
	}

	number := head
	for result.BlocksScanned < maxBlocks {
		if err := s.pace(ctx); err != nil {
			return result, err
		}
		blk, err := s.client.BlockByNumber(ctx, number)
		if err != nil {
			return result, err
		}
		result.BlocksScanned++
		s.report(result.BlocksScanned, maxBlocks)

		if blk != nil {
			for _, ext := range blk.Extrinsics {
				if !ext.IsTransfer() {
					continue
				}
				result.Transfers = append(result.Transfers, ext)
				if len(result.Transfers) == limit {
					return result, nil
				}
			}
		}
		if number == 0 {
			return result, nil
		}
		number--
	}

	result.Exhausted = true
	s.log.Debug("transfer scan exhausted its bound",
		zap.Int("found", len(result.Transfers)),
		zap.Int("blocks", result.BlocksScanned))
	return result, nil
}

// FindTransaction looks for an extrinsic hash within the last maxBlocks
// blocks, short-circuiting on the first match. A miss is a nil result.
func (s *Scanner) FindTransaction(ctx context.Context, hash string, maxBlocks int) (*chain.Extrinsic, error) {
	if maxBlocks <= 0 {
		return nil, nil
	}
	head, err := s.client.LatestNumber(ctx)
	if err != nil {
		return nil, err
	}

	number := head
	for scanned := 0; scanned < maxBlocks; scanned++ {
		if err := s.pace(ctx); err != nil {
			return nil, err
		}
		blk, err := s.client.BlockByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		s.report(scanned+1, maxBlocks)
		if blk != nil {
			for i := range blk.Extrinsics {
				if blk.Extrinsics[i].Hash == hash {
					ext := blk.Extrinsics[i]
					return &ext, nil
				}
			}
		}
		if number == 0 {
			break
		}
		number--
	}
	return nil, nil
}

// pace applies the optional rate limit and honors cancellation between block
// fetches; an RPC call already issued is never aborted mid-flight.
func (s *Scanner) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.limiter != nil {
		return s.limiter.Wait(ctx)
	}
	return nil
}

func (s *Scanner) report(scanned, bound int) {
	if s.progress != nil {
		s.progress(scanned, bound)
	}
}
