package coordinator_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/lightanchor/anchord/clock"
	"github.com/lightanchor/anchord/coordinator"
	"github.com/lightanchor/anchord/detector"
	"github.com/lightanchor/anchord/internal/config"
	"github.com/lightanchor/anchord/internal/logging"
	"github.com/lightanchor/anchord/internal/testutil"
	"github.com/lightanchor/anchord/light"
	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/model"
	"github.com/lightanchor/anchord/trust"
)

const chainID = "test-chain"

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newEngine() *light.Engine {
	return light.NewEngine(light.Params{
		ChainID: chainID, TrustingPeriod: 24 * time.Hour, MaxClockDrift: time.Hour,
		TrustLevel: model.DefaultTrustLevel,
	}, logging.NewNop())
}

func newDetector(e *light.Engine) *detector.Detector {
	return detector.New(e, detector.Params{MaxBlockLag: time.Hour, MaxClockDrift: time.Hour}, logging.NewNop())
}

func newParams() config.Parameters {
	p := config.DefaultParameters()
	p.TrustingPeriod = 24 * time.Hour
	p.MaxClockDrift = time.Hour
	p.MaxBlockLag = time.Hour
	p.KeepWarmInterval = time.Hour
	p.HaltDurationOnFork = 10 * time.Minute
	p.TrustThreshold = model.DefaultTrustLevel
	return p
}

// variableProvider is a mutable provider.Provider: unlike
// light/provider/mock.Mock's fixed block set, coordinator runs span
// multiple calls over time, so tests need to append or overwrite blocks
// between RequestSync calls.
type variableProvider struct {
	mu       sync.Mutex
	name     string
	blocks   map[int64]*model.LightBlock
	reported []*model.LightClientAttackEvidence
}

var _ provider.Provider = (*variableProvider)(nil)

func newVariableProvider(name string) *variableProvider {
	return &variableProvider{name: name, blocks: map[int64]*model.LightBlock{}}
}

func (p *variableProvider) Set(lb *model.LightBlock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks[lb.Height] = lb
}

func (p *variableProvider) LightBlock(_ context.Context, height int64) (*model.LightBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if height == 0 {
		height = p.latestLocked()
	}
	lb, ok := p.blocks[height]
	if !ok {
		return nil, provider.ErrLightBlockNotFound
	}
	return lb, nil
}

func (p *variableProvider) LatestHeight(_ context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latestLocked(), nil
}

func (p *variableProvider) latestLocked() int64 {
	var max int64
	for h := range p.blocks {
		if h > max {
			max = h
		}
	}
	return max
}

func (p *variableProvider) ReportEvidence(_ context.Context, ev *model.LightClientAttackEvidence) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reported = append(p.reported, ev)
	return nil
}

func (p *variableProvider) String() string { return p.name }

// gatedPrimary delays LatestHeight until proceed is closed, letting tests
// hold a run in flight long enough to prove concurrent RequestSync callers
// coalesce onto it instead of starting their own.
type gatedPrimary struct {
	*variableProvider
	calls   int32
	proceed chan struct{}
}

func (g *gatedPrimary) LatestHeight(ctx context.Context) (int64, error) {
	atomic.AddInt32(&g.calls, 1)
	<-g.proceed
	return g.variableProvider.LatestHeight(ctx)
}

func bootstrapped(t *testing.T, primary provider.Provider, store *trust.Store, root *model.LightBlock, clk clock.Source, det *detector.Detector, witnesses []provider.Provider, params config.Parameters) *coordinator.Coordinator {
	t.Helper()
	coord := coordinator.New(newEngine(), det, primary, witnesses, store, clk, params, logging.NewNop(), nil)
	checkpoint := config.Checkpoint{ChainID: chainID, TrustedHeight: root.Height, TrustedHash: root.Hash()}
	require.NoError(t, coord.Bootstrap(context.Background(), checkpoint))
	return coord
}

func TestBootstrapSucceedsAndCommitsCheckpoint(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	root := testutil.LightBlock(chainID, 1, baseTime, keys, testutil.AllSigners(4))
	primary := newVariableProvider("primary")
	primary.Set(root)

	store := trust.NewStore()
	clk := clock.NewMock()
	clk.Set(baseTime)

	coord := bootstrapped(t, primary, store, root, clk, newDetector(newEngine()), nil, newParams())
	require.Equal(t, coordinator.Idle, coord.Phase())

	state := store.Read()
	require.NotNil(t, state.Block)
	require.Equal(t, int64(1), state.Block.Height)
}

func TestBootstrapRejectsChainIDMismatch(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	root := testutil.LightBlock(chainID, 1, baseTime, keys, testutil.AllSigners(4))
	primary := newVariableProvider("primary")
	primary.Set(root)

	store := trust.NewStore()
	clk := clock.NewMock()
	coord := coordinator.New(newEngine(), newDetector(newEngine()), primary, nil, store, clk, newParams(), logging.NewNop(), nil)

	checkpoint := config.Checkpoint{ChainID: "wrong-chain", TrustedHeight: 1, TrustedHash: root.Hash()}
	err := coord.Bootstrap(context.Background(), checkpoint)
	require.Error(t, err)
	require.IsType(t, light.ErrChainIDMismatch{}, err)
	require.False(t, store.Bootstrapped())
}

func TestBootstrapRejectsHashMismatch(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	root := testutil.LightBlock(chainID, 1, baseTime, keys, testutil.AllSigners(4))
	primary := newVariableProvider("primary")
	primary.Set(root)

	store := trust.NewStore()
	clk := clock.NewMock()
	coord := coordinator.New(newEngine(), newDetector(newEngine()), primary, nil, store, clk, newParams(), logging.NewNop(), nil)

	checkpoint := config.Checkpoint{ChainID: chainID, TrustedHeight: 1, TrustedHash: []byte("not-the-real-hash")}
	err := coord.Bootstrap(context.Background(), checkpoint)
	require.Error(t, err)
	require.IsType(t, light.ErrHeaderHashMismatch{}, err)
}

func TestBootstrapRejectsInsufficientCheckpointCommit(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	// Only validator 0 signs: 1/4 voting power, short of the fixed 2/3 bar
	// a checkpoint's own commit must clear.
	root := testutil.LightBlock(chainID, 1, baseTime, keys, []int{0})
	primary := newVariableProvider("primary")
	primary.Set(root)

	store := trust.NewStore()
	clk := clock.NewMock()
	coord := coordinator.New(newEngine(), newDetector(newEngine()), primary, nil, store, clk, newParams(), logging.NewNop(), nil)

	checkpoint := config.Checkpoint{ChainID: chainID, TrustedHeight: 1, TrustedHash: root.Hash()}
	err := coord.Bootstrap(context.Background(), checkpoint)
	require.Error(t, err)
	require.False(t, store.Bootstrapped())
}

func TestRequestSyncAdvancesTrustedHeight(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	root := testutil.LightBlock(chainID, 1, baseTime, keys, testutil.AllSigners(4))
	primary := newVariableProvider("primary")
	primary.Set(root)

	store := trust.NewStore()
	clk := clock.NewMock()
	clk.Set(baseTime)
	coord := bootstrapped(t, primary, store, root, clk, newDetector(newEngine()), nil, newParams())

	head := testutil.LightBlock(chainID, 5, baseTime.Add(time.Minute), keys, testutil.AllSigners(4))
	primary.Set(head)
	clk.Set(baseTime.Add(2 * time.Minute))

	coord.RequestSync(context.Background())

	require.Equal(t, coordinator.Idle, coord.Phase())
	require.Equal(t, int64(5), store.Read().Block.Height)
}

func TestRequestSyncCoalescesConcurrentCallers(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	root := testutil.LightBlock(chainID, 1, baseTime, keys, testutil.AllSigners(4))
	vp := newVariableProvider("primary")
	vp.Set(root)
	primary := &gatedPrimary{variableProvider: vp, proceed: make(chan struct{})}

	store := trust.NewStore()
	clk := clock.NewMock()
	clk.Set(baseTime)
	coord := bootstrapped(t, primary, store, root, clk, newDetector(newEngine()), nil, newParams())

	head := testutil.LightBlock(chainID, 5, baseTime.Add(time.Minute), keys, testutil.AllSigners(4))
	vp.Set(head)
	clk.Set(baseTime.Add(2 * time.Minute))

	const callers = 5
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coord.RequestSync(context.Background())
		}()
	}

	// Give every caller a chance to register as a waiter on the single
	// in-flight run before it's allowed to proceed past the gate.
	time.Sleep(50 * time.Millisecond)
	close(primary.proceed)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&primary.calls))
	require.Equal(t, coordinator.Idle, coord.Phase())
	require.Equal(t, int64(5), store.Read().Block.Height)
}

func TestForkHaltLifecycle(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	root := testutil.LightBlock(chainID, 1, baseTime, keys, testutil.AllSigners(4))

	primary := newVariableProvider("primary")
	primary.Set(root)
	witness := newVariableProvider("witness")
	witness.Set(root)

	store := trust.NewStore()
	clk := clock.NewMock()
	clk.Set(baseTime)
	params := newParams()
	coord := bootstrapped(t, primary, store, root, clk, newDetector(newEngine()), []provider.Provider{witness}, params)

	head := testutil.LightBlock(chainID, 5, baseTime.Add(time.Minute), keys, testutil.AllSigners(4))
	conflictHead := testutil.LightBlock(chainID, 5, baseTime.Add(2*time.Minute), keys, testutil.AllSigners(4))
	primary.Set(head)
	witness.Set(conflictHead)
	clk.Set(baseTime.Add(3 * time.Minute))

	coord.RequestSync(context.Background())

	require.Equal(t, coordinator.Halted, coord.Phase())
	haltUntil, reason := coord.HaltInfo()
	require.Equal(t, "fork_detected", reason)
	require.True(t, haltUntil.After(clk.Now()))
	require.Equal(t, int64(1), store.Read().Block.Height, "trusted height must not advance on a forked run")

	// While halted, further requests are rejected outright: C5 (the store)
	// is never touched, and the phase stays Halted.
	coord.RequestSync(context.Background())
	require.Equal(t, coordinator.Halted, coord.Phase())
	require.Equal(t, int64(1), store.Read().Block.Height)

	// Once the halt window elapses and the witness no longer conflicts,
	// syncing resumes normally.
	clk.Add(params.HaltDurationOnFork + time.Second)
	witness.Set(head)

	coord.RequestSync(context.Background())
	require.Equal(t, coordinator.Idle, coord.Phase())
	require.Equal(t, int64(5), store.Read().Block.Height)
}

func TestRequestSyncBeforeBootstrapIsANoOp(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	primary := newVariableProvider("primary")
	store := trust.NewStore()
	clk := clock.NewMock()
	coord := coordinator.New(newEngine(), newDetector(newEngine()), primary, nil, store, clk, newParams(), logging.NewNop(), nil)

	coord.RequestSync(context.Background())

	require.Equal(t, coordinator.Idle, coord.Phase())
	require.False(t, store.Bootstrapped())
}

func TestRequestSyncIsNonFatalWhenWitnessesAreUnreachable(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	keys := testutil.GenKeys(4)
	root := testutil.LightBlock(chainID, 1, baseTime, keys, testutil.AllSigners(4))
	primary := newVariableProvider("primary")
	primary.Set(root)
	witness := newVariableProvider("witness") // never has any block

	store := trust.NewStore()
	clk := clock.NewMock()
	clk.Set(baseTime)
	coord := bootstrapped(t, primary, store, root, clk, newDetector(newEngine()), []provider.Provider{witness}, newParams())

	head := testutil.LightBlock(chainID, 5, baseTime.Add(time.Minute), keys, testutil.AllSigners(4))
	primary.Set(head)
	clk.Set(baseTime.Add(2 * time.Minute))

	coord.RequestSync(context.Background())

	require.Equal(t, coordinator.Idle, coord.Phase())
	require.Equal(t, int64(5), store.Read().Block.Height)
}
