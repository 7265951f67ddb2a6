// Package trust implements the Trusted State Store (component C5): a
// single-writer, many-reader in-memory cell holding the latest verified
// light block and the wall time of the most recent successful sync.
// Grounded on the single-writer cell implicit in light/client.go's
// latestTrustedBlock field, extracted into its own type and backed by
// atomic.Value so reads never block a concurrent commit.
package trust

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lightanchor/anchord/model"
)

// State is an immutable snapshot of the trusted root and the time it was
// last refreshed.
type State struct {
	Block      *model.LightBlock
	LastSyncAt time.Time
}

// Store is C5: the only way to mutate it is Commit, which only the Sync
// Coordinator should ever call.
type Store struct {
	v atomic.Value // holds State
}

// NewStore creates an empty Store. Read returns the zero State
// (Block == nil) until the first Commit, which the API layer treats as
// "not yet bootstrapped".
func NewStore() *Store {
	s := &Store{}
	s.v.Store(State{})
	return s
}

// Read returns a consistent snapshot of the current trusted state. Safe
// for concurrent use by any number of readers.
func (s *Store) Read() State {
	return s.v.Load().(State)
}

// Commit atomically replaces the trusted state with block/t. It panics if
// block's height or time would move the trust root backwards — per spec
// this is a programming error in the Sync Coordinator, not a condition
// callers should try to recover from.
func (s *Store) Commit(block *model.LightBlock, t time.Time) {
	if block == nil {
		panic("trust: commit of nil light block")
	}

	current := s.Read()
	if current.Block != nil {
		if block.Height < current.Block.Height {
			panic(fmt.Sprintf("trust: monotonicity violation: committed height %d < current height %d",
				block.Height, current.Block.Height))
		}
		if block.Time.Before(current.Block.Time) {
			panic(fmt.Sprintf("trust: monotonicity violation: committed block_time %s before current %s",
				block.Time, current.Block.Time))
		}
	}

	s.v.Store(State{Block: block, LastSyncAt: t})
}

// Bootstrapped reports whether Commit has ever succeeded.
func (s *Store) Bootstrapped() bool {
	return s.Read().Block != nil
}
