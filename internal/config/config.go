// Package config holds the daemon's immutable configuration: the trust
// parameters set once at startup and read without synchronization
// thereafter (component C1), plus the bootstrap Checkpoint. Validation
// style grounded on config/config.go's ValidateBasic convention.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightanchor/anchord/model"
)

// Parameters is the immutable TrustParameters snapshot from spec §3.
type Parameters struct {
	TrustThreshold     model.Fraction
	TrustingPeriod     time.Duration
	MaxClockDrift      time.Duration
	MaxBlockLag        time.Duration
	FreshnessThreshold time.Duration
	KeepWarmInterval   time.Duration
	HaltDurationOnFork time.Duration
	APITimeout         time.Duration
}

// DefaultParameters mirrors the CLI flag defaults from spec §6.
func DefaultParameters() Parameters {
	return Parameters{
		TrustThreshold:     model.TwoThirds,
		TrustingPeriod:     1209600 * time.Second,
		MaxClockDrift:      5 * time.Second,
		MaxBlockLag:        5 * time.Second,
		FreshnessThreshold: 10 * time.Second,
		KeepWarmInterval:   300 * time.Second,
		HaltDurationOnFork: 3600 * time.Second,
		APITimeout:         5 * time.Second,
	}
}

// ValidateBasic checks param bounds, returning an error describing the
// first violation found.
func (p Parameters) ValidateBasic() error {
	if err := p.TrustThreshold.Validate(); err != nil {
		return fmt.Errorf("trust_threshold: %w", err)
	}
	if p.TrustingPeriod < 0 {
		return errors.New("trusting_period can't be negative")
	}
	if p.MaxClockDrift < 0 {
		return errors.New("max_clock_drift can't be negative")
	}
	if p.MaxBlockLag < 0 {
		return errors.New("max_block_lag can't be negative")
	}
	if p.FreshnessThreshold < 0 {
		return errors.New("freshness_threshold can't be negative")
	}
	if p.KeepWarmInterval <= 0 {
		return errors.New("keep_warm_interval must be positive")
	}
	if p.HaltDurationOnFork < 0 {
		return errors.New("halt_duration_on_fork can't be negative")
	}
	if p.APITimeout <= 0 {
		return errors.New("api_timeout must be positive")
	}
	return nil
}

// Checkpoint is the externally-supplied bootstrap trust anchor (spec §3).
type Checkpoint struct {
	ChainID       string
	TrustedHeight int64
	TrustedHash   []byte
}

// ValidateBasic checks the checkpoint is structurally well-formed.
func (c Checkpoint) ValidateBasic() error {
	if c.ChainID == "" {
		return errors.New("chain_id is required")
	}
	if c.TrustedHeight <= 0 {
		return errors.New("trusted_height must be positive")
	}
	if len(c.TrustedHash) == 0 {
		return errors.New("trusted_hash is required")
	}
	return nil
}
