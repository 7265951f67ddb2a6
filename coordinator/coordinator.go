// Package coordinator implements the Sync Coordinator (component C6), the
// heart of the daemon: it owns SyncStatus, is the sole writer to the
// Trusted State Store, and multiplexes periodic, on-demand, and bootstrap
// triggers under an at-most-one-in-flight guarantee. Embeds
// libs/service.BaseService for its Start/Stop lifecycle, grounded on that
// convention; the periodic ticker loop is grounded on lite2/auto_client.go's
// autoUpdate, generalized to also coalesce on-demand waiters the way
// light/client.go's findNewPrimary fans responses back in over a channel.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightanchor/anchord/clock"
	"github.com/lightanchor/anchord/detector"
	"github.com/lightanchor/anchord/internal/config"
	"github.com/lightanchor/anchord/internal/logging"
	"github.com/lightanchor/anchord/light"
	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/libs/service"
	"github.com/lightanchor/anchord/model"
	"github.com/lightanchor/anchord/trust"
)

// Phase is one of the three SyncStatus variants from spec §4.5.
type Phase int

const (
	Idle Phase = iota
	InFlight
	Halted
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// Outcome describes how a completed run ended, used for both metrics
// labeling and logging.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeFork    Outcome = "fork"
)

// ErrNotBootstrapped is the error a sync run fails with (and logs) if it is
// triggered before Bootstrap has ever succeeded.
var ErrNotBootstrapped = errors.New("coordinator: not bootstrapped")

// Coordinator is C6.
type Coordinator struct {
	*service.BaseService

	engine    *light.Engine
	detector  *detector.Detector
	primary   provider.Provider
	witnesses []provider.Provider
	store     *trust.Store
	clk       clock.Source
	params    config.Parameters
	logger    logging.Logger
	metrics   *Metrics

	mu         sync.Mutex
	phase      Phase
	haltUntil  time.Time
	haltReason string
	waiters    []chan struct{}

	onDemandC chan struct{}
}

// New constructs a Coordinator. Call Bootstrap before Start.
func New(
	engine *light.Engine,
	det *detector.Detector,
	primary provider.Provider,
	witnesses []provider.Provider,
	store *trust.Store,
	clk clock.Source,
	params config.Parameters,
	logger logging.Logger,
	m *Metrics,
) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = NopMetrics()
	}
	c := &Coordinator{
		engine:    engine,
		detector:  det,
		primary:   primary,
		witnesses: witnesses,
		store:     store,
		clk:       clk,
		params:    params,
		logger:    logger,
		metrics:   m,
		phase:     Idle,
		onDemandC: make(chan struct{}, 1),
	}
	c.BaseService = service.NewBaseService(logger, "SyncCoordinator", c)
	return c
}

// Bootstrap performs the specially-marked bootstrap run: it fetches the
// light block at the checkpoint height from the primary, checks it against
// the checkpoint's hash and chain ID, verifies its commit carries ≥2/3
// voting power, and commits it as the initial trust root. Failure here is
// fatal to the process (spec §4.5 "bootstrap itself ... whose failure is
// fatal").
func (c *Coordinator) Bootstrap(ctx context.Context, checkpoint config.Checkpoint) error {
	lb, err := c.primary.LightBlock(ctx, checkpoint.TrustedHeight)
	if err != nil {
		return fmt.Errorf("bootstrap: fetch checkpoint height %d from primary: %w", checkpoint.TrustedHeight, err)
	}
	if lb.ChainID != checkpoint.ChainID {
		return light.ErrChainIDMismatch{Expected: checkpoint.ChainID, Got: lb.ChainID}
	}
	hash := lb.Hash()
	if string(hash) != string(checkpoint.TrustedHash) {
		return light.ErrHeaderHashMismatch{Expected: checkpoint.TrustedHash, Got: hash}
	}
	if err := verifyCheckpointCommit(lb); err != nil {
		return fmt.Errorf("bootstrap: checkpoint commit invalid: %w", err)
	}

	now := c.clk.Now()
	c.store.Commit(lb, now)
	c.metrics.TrustedHeight.Set(float64(lb.Height))
	c.logger.Info("bootstrap succeeded", "height", lb.Height, "hash", fmt.Sprintf("%X", hash))
	return nil
}

// OnStart launches the periodic ticker loop. Required by
// libs/service.Implementation.
func (c *Coordinator) OnStart(ctx context.Context) error {
	go c.loop(ctx)
	return nil
}

// OnStop is a no-op: the loop goroutine exits on its own once ctx (passed
// to OnStart) is canceled. Required by libs/service.Implementation.
func (c *Coordinator) OnStop() {}

func (c *Coordinator) loop(ctx context.Context) {
	ticker := c.clk.Ticker(c.params.KeepWarmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.trigger(ctx, nil)
		case <-c.onDemandC:
			c.trigger(ctx, nil)
		}
	}
}

// RequestSync attaches the caller as a waiter on the current or next run
// and blocks until it completes or ctx is done, whichever comes first.
// Per spec §4.6, staleness is best-effort: RequestSync never returns an
// error the caller needs to act on; it exists purely to encourage a sync
// to happen before the caller re-reads the Trusted State Store.
func (c *Coordinator) RequestSync(ctx context.Context) {
	waiter := make(chan struct{})
	if !c.trigger(ctx, waiter) {
		return
	}
	select {
	case <-waiter:
	case <-ctx.Done():
	}
}

// trigger advances the phase machine for an arriving trigger. If a waiter
// channel is supplied it is registered to be closed when the resulting (or
// already in-flight) run completes; trigger reports whether the waiter was
// actually registered (false if the trigger was rejected outright, e.g.
// while halted).
func (c *Coordinator) trigger(ctx context.Context, waiter chan struct{}) bool {
	c.mu.Lock()

	if c.phase == Halted {
		if c.clk.Now().Before(c.haltUntil) {
			c.mu.Unlock()
			return false
		}
		c.phase = Idle
		c.haltReason = ""
	}

	if waiter != nil {
		c.waiters = append(c.waiters, waiter)
	}

	if c.phase == InFlight {
		c.mu.Unlock()
		return true
	}

	c.phase = InFlight
	c.mu.Unlock()

	go c.runAndFinish(ctx)
	return true
}

func (c *Coordinator) runAndFinish(ctx context.Context) {
	runID := uuid.New().String()
	outcome, err := c.runOnce(ctx, runID)
	if err != nil {
		c.logger.Error("sync run failed", "run_id", runID, "outcome", outcome, "err", err)
	} else {
		c.logger.Info("sync run completed", "run_id", runID, "outcome", outcome)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	switch outcome {
	case OutcomeFork:
		c.phase = Halted
		c.haltUntil = c.clk.Now().Add(c.params.HaltDurationOnFork)
		c.haltReason = "fork_detected"
		c.metrics.Halted.Set(1)
	default:
		c.phase = Idle
		c.metrics.Halted.Set(0)
	}
	c.mu.Unlock()

	c.metrics.SyncRunsTotal.With("outcome", string(outcome)).Add(1)
	for _, w := range waiters {
		close(w)
	}
}

// runOnce is the run procedure from spec §4.5, steps 1-5 (step 6, waking
// waiters, is handled by the caller once phase has been updated).
func (c *Coordinator) runOnce(ctx context.Context, runID string) (Outcome, error) {
	root := c.store.Read().Block
	if root == nil {
		return OutcomeFailure, ErrNotBootstrapped
	}

	target, err := c.primary.LatestHeight(ctx)
	if err != nil {
		return OutcomeFailure, fmt.Errorf("query primary latest height: %w", err)
	}
	if target < root.Height {
		target = root.Height
	}

	now := c.clk.Now()
	trace, err := c.engine.VerifyToHeight(ctx, c.primary, root, target, now)
	if err != nil {
		return OutcomeFailure, fmt.Errorf("verify to height %d: %w", target, err)
	}

	if len(c.witnesses) > 0 {
		evidence, detectErr := c.detector.Detect(ctx, trace, c.primary, c.witnesses, now)
		switch {
		case errors.Is(detectErr, detector.ErrFailedHeaderCrossReferencing):
			c.logger.Info("detection skipped: no witness could confirm or deny the header", "run_id", runID)
		case detectErr != nil:
			c.logger.Error("detection error, proceeding without cross-check", "run_id", runID, "err", detectErr)
		case len(evidence) > 0:
			c.logger.Error("fork detected, halting", "run_id", runID, "evidence_count", len(evidence))
			return OutcomeFork, nil
		}
	}

	last := trace[len(trace)-1]
	c.store.Commit(last, now)
	c.metrics.TrustedHeight.Set(float64(last.Height))
	return OutcomeSuccess, nil
}

// verifyCheckpointCommit checks the checkpoint light block's own commit
// carries at least 2/3 of its validator set's voting power, the same bar
// any other verified block must clear.
func verifyCheckpointCommit(lb *model.LightBlock) error {
	return model.VerifyCommitFraction(lb.ValidatorSet, lb.Commit, lb.Hash(), model.TwoThirds)
}

// Phase returns the coordinator's current phase, for status reporting and
// tests.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// HaltInfo returns the halt deadline and reason, valid only while Phase()
// reports Halted.
func (c *Coordinator) HaltInfo() (until time.Time, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haltUntil, c.haltReason
}
