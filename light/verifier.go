package light

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/lightanchor/anchord/model"
)

// VerifyNonAdjacent verifies a non-adjacent untrustedHeader against
// trustedHeader. It ensures that:
//
//	a) trustedHeader can still be trusted (if not, ErrOldHeaderExpired is returned)
//	b) untrustedHeader is well-formed and not too far in the future
//	c) trustLevel ([1/3, 1]) of trustedVals (the trusted header's next
//	   validator set) signed untrustedHeader correctly (if not,
//	   ErrNewValSetCantBeTrusted is returned)
//	d) at least 2/3 of untrustedVals have signed untrustedHeader
//	e) the headers are non-adjacent in height.
func VerifyNonAdjacent(
	trustedHeader *model.SignedHeader, // height=X
	trustedVals *model.ValidatorSet, // height=X+1 (next validator set of X)
	untrustedHeader *model.SignedHeader, // height=Y
	untrustedVals *model.ValidatorSet, // height=Y
	trustingPeriod time.Duration,
	now time.Time,
	maxClockDrift time.Duration,
	trustLevel model.Fraction,
) error {
	if untrustedHeader.Height == trustedHeader.Height+1 {
		return errors.New("headers must be non-adjacent in height")
	}

	if HeaderExpired(trustedHeader, trustingPeriod, now) {
		return ErrOldHeaderExpired{trustedHeader.Time.Add(trustingPeriod), now}
	}

	if err := verifyNewHeaderAndVals(untrustedHeader, untrustedVals, trustedHeader, now, maxClockDrift); err != nil {
		return ErrInvalidHeader{err}
	}

	// trustLevel (default 1/3) or more of the last trusted validators must
	// have signed, otherwise a forged validator set could be slipped in.
	if err := model.VerifyCommitFraction(trustedVals, untrustedHeader.Commit, untrustedHeader.Hash(), trustLevel); err != nil {
		var insufficient model.ErrNotEnoughVotingPowerSigned
		if errors.As(err, &insufficient) {
			return ErrNewValSetCantBeTrusted{insufficient}
		}
		return err
	}

	// At least 2/3 of the new validator set must have signed. This check
	// must come last: untrustedVals can be made arbitrarily large to try to
	// burn CPU, which matters less once the cheaper checks above passed.
	if err := model.VerifyCommitFraction(untrustedVals, untrustedHeader.Commit, untrustedHeader.Hash(), model.TwoThirds); err != nil {
		return ErrInvalidHeader{err}
	}

	return nil
}

// VerifyAdjacent verifies directly adjacent untrustedHeader against
// trustedHeader. It ensures that:
//
//	a) trustedHeader can still be trusted
//	b) untrustedHeader is well-formed and not too far in the future
//	c) untrustedHeader.ValidatorsHash equals trustedHeader.NextValidatorsHash
//	d) at least 2/3 of untrustedVals have signed untrustedHeader
//	e) the headers are adjacent in height.
func VerifyAdjacent(
	trustedHeader *model.SignedHeader, // height=X
	untrustedHeader *model.SignedHeader, // height=X+1
	untrustedVals *model.ValidatorSet, // height=X+1
	trustingPeriod time.Duration,
	now time.Time,
	maxClockDrift time.Duration,
) error {
	if untrustedHeader.Height != trustedHeader.Height+1 {
		return errors.New("headers must be adjacent in height")
	}

	if HeaderExpired(trustedHeader, trustingPeriod, now) {
		return ErrOldHeaderExpired{trustedHeader.Time.Add(trustingPeriod), now}
	}

	if err := verifyNewHeaderAndVals(untrustedHeader, untrustedVals, trustedHeader, now, maxClockDrift); err != nil {
		return ErrInvalidHeader{err}
	}

	if !bytes.Equal(untrustedHeader.ValidatorsHash, trustedHeader.NextValidatorsHash) {
		return ErrInvalidHeader{fmt.Errorf(
			"expected old header next validators (%X) to match those from new header (%X)",
			trustedHeader.NextValidatorsHash, untrustedHeader.ValidatorsHash,
		)}
	}

	if err := model.VerifyCommitFraction(untrustedVals, untrustedHeader.Commit, untrustedHeader.Hash(), model.TwoThirds); err != nil {
		return ErrInvalidHeader{err}
	}

	return nil
}

// Verify dispatches to VerifyAdjacent or VerifyNonAdjacent depending on
// whether untrustedHeader is one height above trustedHeader.
func Verify(
	trustedHeader *model.SignedHeader,
	trustedVals *model.ValidatorSet,
	untrustedHeader *model.SignedHeader,
	untrustedVals *model.ValidatorSet,
	trustingPeriod time.Duration,
	now time.Time,
	maxClockDrift time.Duration,
	trustLevel model.Fraction,
) error {
	if untrustedHeader.Height != trustedHeader.Height+1 {
		return VerifyNonAdjacent(trustedHeader, trustedVals, untrustedHeader, untrustedVals,
			trustingPeriod, now, maxClockDrift, trustLevel)
	}
	return VerifyAdjacent(trustedHeader, untrustedHeader, untrustedVals, trustingPeriod, now, maxClockDrift)
}

func verifyNewHeaderAndVals(
	untrustedHeader *model.SignedHeader,
	untrustedVals *model.ValidatorSet,
	trustedHeader *model.SignedHeader,
	now time.Time,
	maxClockDrift time.Duration,
) error {
	if err := untrustedHeader.ValidateBasic(trustedHeader.ChainID); err != nil {
		return fmt.Errorf("untrustedHeader.ValidateBasic failed: %w", err)
	}

	if untrustedHeader.Height <= trustedHeader.Height {
		return fmt.Errorf("expected new header height %d to be greater than old header height %d",
			untrustedHeader.Height, trustedHeader.Height)
	}

	if !untrustedHeader.Time.After(trustedHeader.Time) {
		return fmt.Errorf("expected new header time %v to be after old header time %v",
			untrustedHeader.Time, trustedHeader.Time)
	}

	if !untrustedHeader.Time.Before(now.Add(maxClockDrift)) {
		return ErrNewHeaderTooFarIntoFuture{Header: untrustedHeader.Time, Now: now}
	}

	if !bytes.Equal(untrustedHeader.ValidatorsHash, untrustedVals.Hash()) {
		return fmt.Errorf("expected new header validators (%X) to match those supplied (%X) at height %d",
			untrustedHeader.ValidatorsHash, untrustedVals.Hash(), untrustedHeader.Height)
	}

	return nil
}

// ValidateTrustLevel checks that lvl is within the allowed range [1/3, 1].
func ValidateTrustLevel(lvl model.Fraction) error {
	return lvl.Validate()
}

// HeaderExpired reports whether h is older than trustingPeriod relative to now.
func HeaderExpired(h *model.SignedHeader, trustingPeriod time.Duration, now time.Time) bool {
	expirationTime := h.Time.Add(trustingPeriod)
	return !expirationTime.After(now)
}
