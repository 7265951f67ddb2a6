// Package light implements the verification engine (component C3): given a
// trusted light block and a target height, it fetches and verifies the
// minimal chain of intermediate light blocks needed to extend trust to the
// target, using bisection (verifySkipping) so most of the chain never has
// to be downloaded. Grounded on light/client.go's verifySkipping /
// verifySequential and light/verifier.go's Verify family, collapsed into a
// pure function of (root, target): persistence of the result is the Trusted
// State Store's job, not the engine's.
package light

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightanchor/anchord/internal/logging"
	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/model"
)

// Params bundles the trust configuration VerifyToHeight checks against.
type Params struct {
	ChainID        string
	TrustingPeriod time.Duration
	MaxClockDrift  time.Duration
	TrustLevel     model.Fraction

	// Sequential, if set, disables bisection: VerifyToHeight only ever
	// steps one height at a time, grounded on the teacher's --sequential
	// flag (cmd/tendermint/commands/light.go) which selects
	// light.SequentialVerification over the default light.SkippingVerification.
	Sequential bool
}

// Engine fetches and verifies light blocks from a single provider,
// extending trust from a known-good root to a requested target height.
type Engine struct {
	params Params
	logger logging.Logger
}

// NewEngine constructs an Engine. params.TrustLevel defaults to
// model.DefaultTrustLevel (1/3) if left zero.
func NewEngine(params Params, logger logging.Logger) *Engine {
	if params.TrustLevel == (model.Fraction{}) {
		params.TrustLevel = model.DefaultTrustLevel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{params: params, logger: logger}
}

// VerifyToHeight fetches and verifies light blocks from src starting at
// root, until either target is reached and verified (in which case the
// full bisection trace, root first, is returned) or verification fails.
//
// target == 0 means "whatever src currently considers its latest height".
func (e *Engine) VerifyToHeight(
	ctx context.Context,
	src provider.Provider,
	root *model.LightBlock,
	target int64,
	now time.Time,
) ([]*model.LightBlock, error) {
	if root == nil {
		return nil, errors.New("nil root light block")
	}
	if HeaderExpired(root.SignedHeader, e.params.TrustingPeriod, now) {
		return nil, ErrOldHeaderExpired{root.Time.Add(e.params.TrustingPeriod), now}
	}

	var targetBlock *model.LightBlock
	if target == 0 {
		lb, err := src.LightBlock(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("fetch latest from %s: %w", src, err)
		}
		targetBlock = lb
		target = lb.Height
	}

	if target == root.Height {
		return []*model.LightBlock{root}, nil
	}
	if target < root.Height {
		return nil, fmt.Errorf("target height %d is behind root height %d", target, root.Height)
	}

	if targetBlock == nil {
		lb, err := e.fetch(ctx, src, target)
		if err != nil {
			return nil, err
		}
		targetBlock = lb
	}
	if err := e.checkChainID(targetBlock.ChainID); err != nil {
		return nil, err
	}

	if e.params.Sequential {
		return e.verifySequential(ctx, src, root, targetBlock, now)
	}
	return e.verifySkipping(ctx, src, root, targetBlock, now)
}

func (e *Engine) checkChainID(got string) error {
	if got != e.params.ChainID {
		return ErrChainIDMismatch{Expected: e.params.ChainID, Got: got}
	}
	return nil
}

func (e *Engine) fetch(ctx context.Context, src provider.Provider, height int64) (*model.LightBlock, error) {
	lb, err := src.LightBlock(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("fetch height %d from %s: %w", height, src, err)
	}
	return lb, nil
}

// VerifyFrom bisects forward from verifiedBlock to targetBlock against src,
// exactly as VerifyToHeight does internally. The detector uses it to check
// whether a witness's version of history agrees with a trace produced
// against the primary.
func (e *Engine) VerifyFrom(
	ctx context.Context,
	src provider.Provider,
	verifiedBlock, targetBlock *model.LightBlock,
	now time.Time,
) ([]*model.LightBlock, error) {
	if e.params.Sequential {
		return e.verifySequential(ctx, src, verifiedBlock, targetBlock, now)
	}
	return e.verifySkipping(ctx, src, verifiedBlock, targetBlock, now)
}

// verifySequential fetches and verifies every intermediate height one at a
// time (VerifyAdjacent only, never bisecting), grounded on
// light/client.go's verifySequential: strictly more RPC calls than skipping
// verification, but a simpler trust argument, selected by the --sequential
// CLI flag.
func (e *Engine) verifySequential(
	ctx context.Context,
	src provider.Provider,
	verifiedBlock *model.LightBlock,
	targetBlock *model.LightBlock,
	now time.Time,
) ([]*model.LightBlock, error) {
	trace := []*model.LightBlock{verifiedBlock}

	for verifiedBlock.Height < targetBlock.Height {
		next := targetBlock
		if verifiedBlock.Height+1 != targetBlock.Height {
			lb, err := e.fetch(ctx, src, verifiedBlock.Height+1)
			if err != nil {
				return nil, err
			}
			next = lb
		}

		if err := VerifyAdjacent(
			verifiedBlock.SignedHeader, next.SignedHeader, next.ValidatorSet,
			e.params.TrustingPeriod, now, e.params.MaxClockDrift,
		); err != nil {
			return nil, ErrVerificationFailed{From: verifiedBlock.Height, To: next.Height, Reason: err}
		}

		trace = append(trace, next)
		verifiedBlock = next
	}
	return trace, nil
}

// verifySkipping repeatedly bisects the (verifiedBlock, target] range,
// fetching the midpoint light block only when the direct trust-level check
// against verifiedBlock's next validator set fails. Grounded on
// light/client.go's verifySkipping, with the cache-reuse 9/16 pivot
// heuristic replaced by the spec's plain floor((a+b)/2) midpoint.
func (e *Engine) verifySkipping(
	ctx context.Context,
	src provider.Provider,
	verifiedBlock *model.LightBlock,
	targetBlock *model.LightBlock,
	now time.Time,
) ([]*model.LightBlock, error) {
	trace := []*model.LightBlock{verifiedBlock}
	pending := targetBlock

	for {
		e.logger.Debug("verify step",
			"verifiedHeight", verifiedBlock.Height, "candidateHeight", pending.Height)

		err := Verify(
			verifiedBlock.SignedHeader, verifiedBlock.NextValidatorSet,
			pending.SignedHeader, pending.ValidatorSet,
			e.params.TrustingPeriod, now, e.params.MaxClockDrift, e.params.TrustLevel,
		)

		switch {
		case err == nil:
			trace = append(trace, pending)
			if pending.Height == targetBlock.Height {
				return trace, nil
			}
			verifiedBlock = pending
			pending = targetBlock

		case isNewValSetCantBeTrusted(err):
			mid := verifiedBlock.Height + (pending.Height-verifiedBlock.Height)/2
			if mid == verifiedBlock.Height {
				return nil, ErrVerificationFailed{From: verifiedBlock.Height, To: pending.Height, Reason: err}
			}
			midBlock, fetchErr := e.fetch(ctx, src, mid)
			if fetchErr != nil {
				return nil, fetchErr
			}
			pending = midBlock

		default:
			return nil, ErrVerificationFailed{From: verifiedBlock.Height, To: pending.Height, Reason: err}
		}
	}
}

func isNewValSetCantBeTrusted(err error) bool {
	var e ErrNewValSetCantBeTrusted
	return errors.As(err, &e)
}
