// Package aggregate computes ranked views over live chain state: top
// accounts by free balance and active-validator statistics.
package aggregate

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"substratescope/internal/chain"
)

type Aggregator struct {
	client chain.Client
	log    *zap.Logger
}

func New(client chain.Client, log *zap.Logger) *Aggregator {
	return &Aggregator{client: client, log: log}
}

// TopAccountsByBalance enumerates the full account-balance table and returns
// the n richest accounts. The enumeration cost grows with chain size; this
// is only acceptable on small and test networks, which is the deployment
// target here. Comparison uses big.Int: balances routinely exceed native
// integer precision, and a numeric comparator would misorder them.
func (a *Aggregator) TopAccountsByBalance(ctx context.Context, n int) ([]chain.BalanceEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := a.client.AccountBalances(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Free.Cmp(entries[j].Free) > 0
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// ActiveValidators reads the current validator set and active era, then
// fetches stake exposure, commission and authored-block count for each
// validator in parallel, capped at n. A node without the authored-blocks
// pallet degrades that single field to zero with AuthoredKnown=false instead
// of failing the entry.
func (a *Aggregator) ActiveValidators(ctx context.Context, n int) ([]chain.ValidatorStat, error) {
	if n <= 0 {
		return nil, nil
	}
	validators, err := a.client.SessionValidators(ctx)
	if err != nil {
		return nil, err
	}
	if len(validators) == 0 {
		return nil, nil
	}
	if len(validators) > n {
		validators = validators[:n]
	}

	era, err := a.client.ActiveEra(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]chain.ValidatorStat, len(validators))
	g, gctx := errgroup.WithContext(ctx)
	for i, address := range validators {
		g.Go(func() error {
			stat := chain.ValidatorStat{Address: address}

			exp, err := a.client.ValidatorExposure(gctx, era, address)
			if err != nil {
				return err
			}
			stat.TotalStake = exp.Total
			stat.OwnStake = exp.Own
			stat.NominatorCount = exp.NominatorCount

			commission, err := a.client.ValidatorPrefs(gctx, address)
			if err != nil {
				return err
			}
			stat.CommissionPerbill = commission

			authored, known, err := a.client.AuthoredBlocks(gctx, era, address)
			if err != nil {
				return err
			}
			stat.AuthoredBlocks = authored
			stat.AuthoredKnown = known

			stats[i] = stat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// CommissionPercent converts an on-chain per-billion commission to a
// percentage. 50_000_000 parts per billion is 5%, so the divisor is 10^7.
func CommissionPercent(perbill uint32) decimal.Decimal {
	return decimal.New(int64(perbill), -7)
}

// FormatCommission renders the percentage with two decimals, e.g. "5.00".
func FormatCommission(perbill uint32) string {
	return CommissionPercent(perbill).StringFixed(2)
}
