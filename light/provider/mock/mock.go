// Package mock provides an in-memory provider.Provider used by engine and
// detector tests in place of a real upstream RPC endpoint.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/model"
)

// Mock is an in-memory provider.Provider backed by a fixed map of light
// blocks, grounded on light/provider/mock.Mock.
type Mock struct {
	mtx              sync.Mutex
	name             string
	blocks           map[int64]*model.LightBlock
	evidenceReported []*model.LightClientAttackEvidence
}

var _ provider.Provider = (*Mock)(nil)

// New creates a mock provider serving the given light blocks, keyed by height.
func New(name string, blocks map[int64]*model.LightBlock) *Mock {
	return &Mock{name: name, blocks: blocks}
}

func (p *Mock) String() string {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	var heights []int64
	for h := range p.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	var sb strings.Builder
	for _, h := range heights {
		fmt.Fprintf(&sb, " %d", h)
	}
	return fmt.Sprintf("mock{%s, heights:%s}", p.name, sb.String())
}

func (p *Mock) LightBlock(_ context.Context, height int64) (*model.LightBlock, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if height == 0 {
		height = p.latestHeightLocked()
	}
	lb, ok := p.blocks[height]
	if !ok {
		return nil, provider.ErrLightBlockNotFound
	}
	return lb, nil
}

func (p *Mock) LatestHeight(_ context.Context) (int64, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.latestHeightLocked(), nil
}

func (p *Mock) latestHeightLocked() int64 {
	var max int64
	for h := range p.blocks {
		if h > max {
			max = h
		}
	}
	return max
}

func (p *Mock) ReportEvidence(_ context.Context, ev *model.LightClientAttackEvidence) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.evidenceReported = append(p.evidenceReported, ev)
	return nil
}

// HasReportedEvidence reports whether ev (by conflicting block hash) was
// submitted to this provider, used by detector tests.
func (p *Mock) HasReportedEvidence(ev *model.LightClientAttackEvidence) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, e := range p.evidenceReported {
		if string(e.ConflictingBlock.Hash()) == string(ev.ConflictingBlock.Hash()) {
			return true
		}
	}
	return false
}
