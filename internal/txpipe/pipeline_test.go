package txpipe

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"go.uber.org/zap"

	"substratescope/internal/chain"
	"substratescope/internal/chain/chaintest"
)

type stubSigner struct {
	address string
	uriErr  error
}

func (s stubSigner) Address() string { return s.address }

func (s stubSigner) SecretURI() (string, error) {
	if s.uriErr != nil {
		return "", s.uriErr
	}
	return "//stub", nil
}

func transferCall() chain.Call {
	return chain.NewTransferCall("dest", big.NewInt(100))
}

func TestSubmitResolvesOnFinalized(t *testing.T) {
	fake := chaintest.New()
	fake.Statuses = []chain.SubmissionStatus{
		{Phase: chain.PhaseInBlock, BlockHash: "0xaaa"},
		{Phase: chain.PhaseFinalized, BlockHash: "0xaaa"},
	}
	p := New(fake, zap.NewNop())

	var stages []Stage
	p.SubscribeStatus(func(u Update) { stages = append(stages, u.Stage) })

	receipt, err := p.Submit(context.Background(), transferCall(), stubSigner{address: "alice"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.BlockHash != "0xaaa" {
		t.Fatalf("expected finalized block hash, got %q", receipt.BlockHash)
	}

	sawInBlock := false
	for i, stage := range stages {
		if stage == StageInBlock {
			sawInBlock = true
		}
		if stage == StageFinalized && !sawInBlock {
			t.Fatalf("finalized before inBlock at %d: %v", i, stages)
		}
	}
	if stages[len(stages)-1] != StageFinalized {
		t.Fatalf("last stage must be finalized, got %v", stages)
	}
}

func TestSubmitDoesNotResolveOnInBlock(t *testing.T) {
	fake := chaintest.New()
	// The first inclusion is retracted; only the second finalization counts.
	fake.Statuses = []chain.SubmissionStatus{
		{Phase: chain.PhaseInBlock, BlockHash: "0xstale"},
		{Phase: chain.PhaseRetracted, BlockHash: "0xstale"},
		{Phase: chain.PhaseInBlock, BlockHash: "0xfresh"},
		{Phase: chain.PhaseFinalized, BlockHash: "0xfresh"},
	}
	p := New(fake, zap.NewNop())

	receipt, err := p.Submit(context.Background(), transferCall(), stubSigner{address: "alice"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.BlockHash != "0xfresh" {
		t.Fatalf("resolved with the retracted block %q", receipt.BlockHash)
	}
}

func TestSubmitDecodesModuleError(t *testing.T) {
	fake := chaintest.New()
	raw := chain.RawModuleError{Module: 5, Error: 2}
	fake.Errors[raw] = &chain.DispatchError{
		Section: "Balances",
		Name:    "InsufficientBalance",
		Docs:    "Balance too low to send value.",
	}
	fake.Statuses = []chain.SubmissionStatus{
		{Phase: chain.PhaseInBlock, BlockHash: "0xaaa"},
		{Phase: chain.PhaseFinalized, BlockHash: "0xaaa", ModuleErr: &raw},
	}
	p := New(fake, zap.NewNop())

	_, err := p.Submit(context.Background(), transferCall(), stubSigner{address: "alice"})
	var dispatch *chain.DispatchError
	if !errors.As(err, &dispatch) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if dispatch.Section == "" || dispatch.Name == "" {
		t.Fatalf("decoded error must carry section and name: %+v", dispatch)
	}
	if dispatch.Section != "Balances" || dispatch.Name != "InsufficientBalance" {
		t.Fatalf("unexpected decode: %+v", dispatch)
	}
}

func TestSubmitTerminalFailures(t *testing.T) {
	cases := []struct {
		phase chain.SubmissionPhase
		want  error
	}{
		{chain.PhaseDropped, ErrDropped},
		{chain.PhaseInvalid, ErrInvalid},
		{chain.PhaseUsurped, ErrUsurped},
	}
	for _, tc := range cases {
		fake := chaintest.New()
		fake.Statuses = []chain.SubmissionStatus{
			{Phase: chain.PhaseBroadcast},
			{Phase: tc.phase},
		}
		p := New(fake, zap.NewNop())
		_, err := p.Submit(context.Background(), transferCall(), stubSigner{address: "alice"})
		if !errors.Is(err, tc.want) {
			t.Fatalf("phase %v: expected %v, got %v", tc.phase, tc.want, err)
		}
	}
}

func TestSubmitStreamClosedWithoutTerminal(t *testing.T) {
	fake := chaintest.New()
	fake.Statuses = []chain.SubmissionStatus{
		{Phase: chain.PhaseInBlock, BlockHash: "0xaaa"},
	}
	p := New(fake, zap.NewNop())

	_, err := p.Submit(context.Background(), transferCall(), stubSigner{address: "alice"})
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("a bare inBlock must not resolve as success, got %v", err)
	}
}

func TestSubmitRejectsUnsignableAccount(t *testing.T) {
	fake := chaintest.New()
	p := New(fake, zap.NewNop())

	signerErr := errors.New("external wallet accounts cannot sign locally")
	_, err := p.Submit(context.Background(), transferCall(),
		stubSigner{address: "ext", uriErr: signerErr})
	if !errors.Is(err, signerErr) {
		t.Fatalf("expected signer error before any submission, got %v", err)
	}
}

func TestEstimateFee(t *testing.T) {
	fake := chaintest.New()
	fake.Fee = chain.FeeInfo{PartialFee: big.NewInt(125_000_000), Weight: 195_000_000}
	p := New(fake, zap.NewNop())

	fee, err := p.EstimateFee(context.Background(), transferCall(), "alice")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if fee.PartialFee.Int64() != 125_000_000 || fee.Weight != 195_000_000 {
		t.Fatalf("unexpected estimate: %+v", fee)
	}
}
