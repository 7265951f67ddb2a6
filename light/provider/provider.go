// Package provider defines the capability set the engine and detector need
// from an upstream node (component C2): fetching light blocks and
// submitting evidence of misbehavior.
package provider

import (
	"context"

	"github.com/lightanchor/anchord/model"
)

// Provider is a single upstream node the daemon talks to, either the
// primary or one of its witnesses.
type Provider interface {
	// LightBlock returns the light block at height, or the latest one if
	// height is 0. Returns ErrLightBlockNotFound if the provider has
	// pruned it, ErrHeightTooHigh if it doesn't exist yet.
	LightBlock(ctx context.Context, height int64) (*model.LightBlock, error)

	// LatestHeight returns the highest height the provider currently has.
	LatestHeight(ctx context.Context) (int64, error)

	// ReportEvidence submits evidence of a light client attack discovered
	// against this provider.
	ReportEvidence(ctx context.Context, ev *model.LightClientAttackEvidence) error

	// String identifies the provider (its RPC endpoint) for logging.
	String() string
}
