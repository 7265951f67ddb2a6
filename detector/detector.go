// Package detector implements the cross-witness fork detector (component
// C4): after the engine verifies a header against the primary, the
// detector cross-checks it against every witness and, on a conflict,
// reconstructs enough of each side's history to produce
// LightClientAttackEvidence for both providers. Grounded on
// light/detector.go's detectDivergence / examineConflictingHeaderAgainstTrace
// / newLightClientAttackEvidence, generalized to take the witness list and
// verification engine as parameters instead of holding onto a Client's own
// fields.
package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightanchor/anchord/internal/logging"
	"github.com/lightanchor/anchord/light"
	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/model"
)

// ErrFailedHeaderCrossReferencing means every witness failed to respond,
// didn't have the block, or sent an invalid one, so the header could not
// be corroborated by anyone.
var ErrFailedHeaderCrossReferencing = errors.New("all witnesses failed to cross-reference the trusted header")

// ErrNoWitnesses means there are no witnesses to compare against.
var ErrNoWitnesses = errors.New("no witnesses configured")

type conflictingHeadersError struct {
	Block        *model.LightBlock
	WitnessIndex int
}

func (e conflictingHeadersError) Error() string {
	return fmt.Sprintf("witness #%d reported a conflicting header at height %d", e.WitnessIndex, e.Block.Height)
}

type badWitnessError struct {
	Reason       error
	WitnessIndex int
}

func (e badWitnessError) Error() string {
	return fmt.Sprintf("witness #%d misbehaved: %v", e.WitnessIndex, e.Reason)
}

// Params bounds how far a witness is allowed to lag or drift before
// Detect reports it as unreliable (spec §4.3) rather than comparing its
// header at all.
type Params struct {
	MaxBlockLag   time.Duration
	MaxClockDrift time.Duration
}

// Detector cross-checks a verified trace against a set of witnesses.
type Detector struct {
	engine *light.Engine
	params Params
	logger logging.Logger
}

// New constructs a Detector that uses engine to re-verify against
// witnesses when a conflict is found.
func New(engine *light.Engine, params Params, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{engine: engine, params: params, logger: logger}
}

// Detect compares the last block of primaryTrace against every witness. If
// a witness disagrees, Detect attempts to build evidence against whichever
// side is lying (or both), submits it to the opposite provider, and returns
// it, even when other witnesses agreed; the caller is expected to halt. If
// no evidence comes out and at least one witness agrees, the header is
// corroborated and Detect returns nil.
//
// It returns ErrFailedHeaderCrossReferencing if no witness could confirm
// or deny the header, and ErrNoWitnesses if witnesses is empty.
func (d *Detector) Detect(
	ctx context.Context,
	primaryTrace []*model.LightBlock,
	primary provider.Provider,
	witnesses []provider.Provider,
	now time.Time,
) ([]*model.LightClientAttackEvidence, error) {
	if len(primaryTrace) < 2 {
		return nil, errors.New("primary trace must contain at least root and target")
	}
	if len(witnesses) == 0 {
		return nil, ErrNoWitnesses
	}

	lastVerified := primaryTrace[len(primaryTrace)-1]
	d.logger.Debug("running fork detection", "height", lastVerified.Height, "witnesses", len(witnesses))

	type result struct {
		idx int
		err error
	}
	resultsC := make(chan result, len(witnesses))
	for i, w := range witnesses {
		go func(idx int, w provider.Provider) {
			resultsC <- result{idx, d.compareWithWitness(ctx, lastVerified, w, idx, now)}
		}(i, w)
	}

	var (
		headerMatched bool
		evidence      []*model.LightClientAttackEvidence
	)
	for i := 0; i < cap(resultsC); i++ {
		r := <-resultsC
		switch {
		case r.err == nil:
			headerMatched = true

		default:
			var conflict conflictingHeadersError
			if errors.As(r.err, &conflict) {
				ev, detectErr := d.handleConflict(ctx, primaryTrace, conflict, primary, witnesses[conflict.WitnessIndex], now)
				if detectErr != nil {
					d.logger.Info("could not validate divergent header", "witness", witnesses[conflict.WitnessIndex], "err", detectErr)
					continue
				}
				evidence = append(evidence, ev...)
				continue
			}
			d.logger.Info("witness error during header comparison", "witnessIndex", r.idx, "err", r.err)
		}
	}

	if len(evidence) > 0 {
		return evidence, nil
	}
	if headerMatched {
		return nil, nil
	}
	return nil, ErrFailedHeaderCrossReferencing
}

// compareWithWitness fetches witness's light block at primaryHead's height
// and checks it against the §4.3 reliability bounds before comparing
// hashes: a witness that lags the primary's head by more than
// max_block_lag, or whose block time is more than max_clock_drift ahead of
// now, is reported as unreliable rather than treated as a
// source of conflict evidence.
func (d *Detector) compareWithWitness(ctx context.Context, primaryHead *model.LightBlock, witness provider.Provider, idx int, now time.Time) error {
	h := primaryHead.SignedHeader
	lb, err := witness.LightBlock(ctx, h.Height)
	if err != nil {
		return badWitnessError{Reason: err, WitnessIndex: idx}
	}

	if d.params.MaxClockDrift > 0 && lb.Time.After(now.Add(d.params.MaxClockDrift)) {
		return badWitnessError{Reason: fmt.Errorf("block time %s is more than %s ahead of now", lb.Time, d.params.MaxClockDrift), WitnessIndex: idx}
	}

	if d.params.MaxBlockLag > 0 {
		if latestHeight, err := witness.LatestHeight(ctx); err == nil {
			if latest, err := witness.LightBlock(ctx, latestHeight); err == nil {
				if lag := primaryHead.Time.Sub(latest.Time); lag > d.params.MaxBlockLag {
					return badWitnessError{Reason: fmt.Errorf("witness lags primary's head by %s", lag), WitnessIndex: idx}
				}
			}
		}
	}

	if !bytes.Equal(h.Hash(), lb.Hash()) {
		return conflictingHeadersError{Block: lb, WitnessIndex: idx}
	}
	return nil
}

// handleConflict builds evidence in both directions: evidence against the
// primary (trusting the witness) and, if that also succeeds, evidence
// against the witness (trusting the primary back). Either, both, or
// neither may come out depending on which side's trace the other source
// agrees to reproduce.
func (d *Detector) handleConflict(
	ctx context.Context,
	primaryTrace []*model.LightBlock,
	conflict conflictingHeadersError,
	primary provider.Provider,
	witness provider.Provider,
	now time.Time,
) ([]*model.LightClientAttackEvidence, error) {
	witnessTrace, primaryBlock, err := d.examineAgainstTrace(ctx, primaryTrace, witness, now)
	if err != nil {
		return nil, fmt.Errorf("examining primary's header against witness: %w", err)
	}

	var evidence []*model.LightClientAttackEvidence

	primaryEv := buildEvidence(primaryBlock, witnessTrace[len(witnessTrace)-1], witnessTrace[0])
	d.logger.Error("attempted attack detected, sending evidence against primary", "ev", primaryEv, "primary", primary, "witness", witness)
	d.sendEvidence(ctx, primaryEv, witness)
	evidence = append(evidence, primaryEv)

	reverseTrace, witnessBlock, err := d.examineAgainstTrace(ctx, witnessTrace, primary, now)
	if err != nil {
		d.logger.Info("could not validate witness's divergent header against primary", "err", err)
		return evidence, nil
	}

	witnessEv := buildEvidence(witnessBlock, reverseTrace[len(reverseTrace)-1], reverseTrace[0])
	d.logger.Error("sending evidence against witness by primary", "ev", witnessEv, "primary", primary, "witness", witness)
	d.sendEvidence(ctx, witnessEv, primary)
	evidence = append(evidence, witnessEv)

	return evidence, nil
}

func (d *Detector) sendEvidence(ctx context.Context, ev *model.LightClientAttackEvidence, receiver provider.Provider) {
	if err := receiver.ReportEvidence(ctx, ev); err != nil {
		d.logger.Error("failed to report evidence to provider", "ev", ev, "provider", receiver)
	}
}

// examineAgainstTrace re-verifies trace's heights against source and
// returns the point, if any, at which source's view diverges from trace,
// along with source's own trace up to (and including) that point.
func (d *Detector) examineAgainstTrace(
	ctx context.Context,
	trace []*model.LightBlock,
	source provider.Provider,
	now time.Time,
) ([]*model.LightBlock, *model.LightBlock, error) {
	var previouslyVerified *model.LightBlock

	for idx, traceBlock := range trace {
		sourceBlock, err := source.LightBlock(ctx, traceBlock.Height)
		if err != nil {
			return nil, nil, err
		}

		if idx == 0 {
			if !bytes.Equal(sourceBlock.Hash(), traceBlock.Hash()) {
				return nil, nil, fmt.Errorf("trusted block differs from source's first block (%X != %X)",
					traceBlock.Hash(), sourceBlock.Hash())
			}
			previouslyVerified = sourceBlock
			continue
		}

		sourceTrace, err := d.engine.VerifyFrom(ctx, source, previouslyVerified, sourceBlock, now)
		if err != nil {
			return nil, nil, fmt.Errorf("source failed to verify its own header: %w", err)
		}

		if !bytes.Equal(sourceBlock.Hash(), traceBlock.Hash()) {
			return sourceTrace, traceBlock, nil
		}

		previouslyVerified = sourceBlock
	}

	return nil, nil, errors.New("source never diverged from the trace it was compared against")
}

// buildEvidence fills out LightClientAttackEvidence for conflicted,
// choosing commonHeight depending on whether conflicted and trusted share
// the same validator set (equivocation) or not (lunatic attack, in which
// case the point of divergence is the common block instead).
func buildEvidence(conflicted, trusted, common *model.LightBlock) *model.LightClientAttackEvidence {
	ev := &model.LightClientAttackEvidence{ConflictingBlock: conflicted, TrustedBlock: trusted}
	if bytes.Equal(conflicted.ValidatorsHash, trusted.ValidatorsHash) {
		ev.CommonHeight = common.Height
		ev.Timestamp = common.Time
		ev.TotalVotingPower = common.ValidatorSet.TotalVotingPower()
	} else {
		ev.CommonHeight = trusted.Height
		ev.Timestamp = trusted.Time
		ev.TotalVotingPower = trusted.ValidatorSet.TotalVotingPower()
	}
	return ev
}
