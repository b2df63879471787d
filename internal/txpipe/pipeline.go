// Package txpipe drives a call from construction to a terminal inclusion
// status: build, estimate, sign, submit, wait.
package txpipe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"substratescope/internal/chain"
)

// Stage is the pipeline's visible progress.
type Stage int

const (
	StageBuilding Stage = iota
	StageSigned
	StageBroadcast
	StageInBlock
	StageFinalized
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageBuilding:
		return "building"
	case StageSigned:
		return "signed"
	case StageBroadcast:
		return "broadcast"
	case StageInBlock:
		return "inBlock"
	case StageFinalized:
		return "finalized"
	}
	return "failed"
}

var (
	ErrDropped      = errors.New("transaction dropped")
	ErrInvalid      = errors.New("transaction invalid")
	ErrUsurped      = errors.New("transaction usurped")
	ErrStreamClosed = errors.New("status stream closed before a terminal state")
)

// Update is delivered to status subscribers on every stage change.
type Update struct {
	Stage     Stage
	BlockHash string
	Err       error
}

// Receipt is the terminal outcome of a successful submission.
type Receipt struct {
	BlockHash string
}

type Pipeline struct {
	client chain.Client
	log    *zap.Logger

	mu        sync.Mutex
	observers []func(Update)
}

func New(client chain.Client, log *zap.Logger) *Pipeline {
	return &Pipeline{client: client, log: log}
}

// SubscribeStatus registers an observer for stage changes of subsequent
// submissions.
func (p *Pipeline) SubscribeStatus(fn func(Update)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Pipeline) emit(u Update) {
	p.mu.Lock()
	observers := make([]func(Update), len(p.observers))
	copy(observers, p.observers)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(u)
	}
}

// EstimateFee returns the fee and weight the node predicts for the call.
func (p *Pipeline) EstimateFee(ctx context.Context, call chain.Call, sender string) (chain.FeeInfo, error) {
	return p.client.EstimateFee(ctx, call, sender)
}

// Submit signs the call, submits it and blocks until a terminal status.
// An InBlock report is progress, not a result: a block can be retracted and
// the extrinsic re-included elsewhere, so resolving on it would hand the
// caller a success that the chain may still revoke. Only Finalized and the
// failure statuses resolve.
func (p *Pipeline) Submit(ctx context.Context, call chain.Call, signer chain.Signer) (Receipt, error) {
	p.emit(Update{Stage: StageBuilding})

	statuses, err := p.client.SubmitAndWatch(ctx, call, signer)
	if err != nil {
		p.emit(Update{Stage: StageFailed, Err: err})
		return Receipt{}, err
	}
	p.emit(Update{Stage: StageSigned})
	p.emit(Update{Stage: StageBroadcast})

	for {
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case status, ok := <-statuses:
			if !ok {
				p.emit(Update{Stage: StageFailed, Err: ErrStreamClosed})
				return Receipt{}, ErrStreamClosed
			}
			receipt, terminal, err := p.advance(status)
			if !terminal {
				continue
			}
			return receipt, err
		}
	}
}

func (p *Pipeline) advance(status chain.SubmissionStatus) (Receipt, bool, error) {
	switch status.Phase {
	case chain.PhaseInBlock:
		p.log.Debug("in block", zap.String("block", status.BlockHash))
		p.emit(Update{Stage: StageInBlock, BlockHash: status.BlockHash})
		return Receipt{}, false, nil

	case chain.PhaseRetracted:
		// The including block fell off the canonical chain; keep waiting.
		p.log.Debug("block retracted", zap.String("block", status.BlockHash))
		p.emit(Update{Stage: StageBroadcast, BlockHash: status.BlockHash})
		return Receipt{}, false, nil

	case chain.PhaseFinalized:
		if status.ModuleErr != nil {
			err := p.decodeFailure(*status.ModuleErr)
			p.emit(Update{Stage: StageFailed, BlockHash: status.BlockHash, Err: err})
			return Receipt{}, true, err
		}
		p.emit(Update{Stage: StageFinalized, BlockHash: status.BlockHash})
		return Receipt{BlockHash: status.BlockHash}, true, nil

	case chain.PhaseDropped:
		p.emit(Update{Stage: StageFailed, Err: ErrDropped})
		return Receipt{}, true, ErrDropped

	case chain.PhaseInvalid:
		p.emit(Update{Stage: StageFailed, Err: ErrInvalid})
		return Receipt{}, true, ErrInvalid

	case chain.PhaseUsurped:
		p.emit(Update{Stage: StageFailed, Err: ErrUsurped})
		return Receipt{}, true, ErrUsurped

	default:
		return Receipt{}, false, nil
	}
}

// decodeFailure turns the raw (module, error) pair into a readable dispatch
// error via the chain's metadata; an opaque code never reaches the caller.
func (p *Pipeline) decodeFailure(raw chain.RawModuleError) error {
	decoded, err := p.client.DecodeModuleError(raw)
	if err != nil {
		return fmt.Errorf("dispatch failed with undecodable module error %d/%d: %w",
			raw.Module, raw.Error, err)
	}
	return decoded
}
