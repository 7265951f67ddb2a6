package model

import (
	"crypto/ed25519"
	"fmt"
	"time"
)

// ErrNotEnoughVotingPowerSigned is returned when a commit's signing power
// fails to reach the voting-power threshold required of it, grounded on
// types.ErrNotEnoughVotingPowerSigned.
type ErrNotEnoughVotingPowerSigned struct {
	Got, Needed int64
}

func (e ErrNotEnoughVotingPowerSigned) Error() string {
	return fmt.Sprintf("invalid commit -- insufficient voting power: got %d, needed at least %d", e.Got, e.Needed)
}

// tallySignedPower sums the voting power of valid signatures in commit over
// sigDigest, attributing each signature to a validator in vs by address.
// It always tallies the whole commit and returns the total.
func tallySignedPower(vs *ValidatorSet, commit *Commit, sigDigest []byte) int64 {
	addrs := vs.ByAddress()
	var tallied int64
	seen := make(map[string]bool, len(commit.Signatures))
	for _, sig := range commit.Signatures {
		if !sig.ForBlock() {
			continue
		}
		if seen[sig.ValidatorAddress] {
			continue // double-signature, ignore the duplicate
		}
		val, ok := addrs[sig.ValidatorAddress]
		if !ok {
			continue // signature from a validator not in this set
		}
		if !ed25519.Verify(val.PubKey, sigDigest, sig.Signature) {
			continue
		}
		seen[sig.ValidatorAddress] = true
		tallied += val.VotingPower
	}
	return tallied
}

// VerifyCommitFraction checks that signatures in commit, verified against
// vs and sigDigest, carry at least frac of vs's total voting power (spec §3:
// "signatures_voting_power / total_voting_power ≥ 2/3" for any verified
// block, and §4.2's adjacent/skip rules are phrased the same "≥"/"at least"
// way). The comparison is done by cross-multiplication rather than
// pre-dividing total*frac.Numerator/frac.Denominator, so a tally that lands
// exactly on the threshold (spec §8: "exactly 2/3 signing power succeeds")
// is never lost to floor-division rounding.
func VerifyCommitFraction(vs *ValidatorSet, commit *Commit, sigDigest []byte, frac Fraction) error {
	if err := frac.Validate(); err != nil {
		return err
	}
	total := vs.TotalVotingPower()
	tallied := tallySignedPower(vs, commit, sigDigest)
	if tallied*frac.Denominator < total*frac.Numerator {
		needed := (total*frac.Numerator + frac.Denominator - 1) / frac.Denominator
		return ErrNotEnoughVotingPowerSigned{Got: tallied, Needed: needed}
	}
	return nil
}

// LightClientAttackEvidence pairs the conflicting header the detector
// observed with the trusted trace that proves it diverges, suitable for
// submission to a peer's evidence endpoint (spec §3 Evidence), grounded on
// types.LightClientAttackEvidence.
type LightClientAttackEvidence struct {
	ConflictingBlock *LightBlock
	TrustedBlock     *LightBlock
	CommonHeight     int64
	Timestamp        time.Time
	TotalVotingPower int64
}

func (e *LightClientAttackEvidence) String() string {
	return fmt.Sprintf("LightClientAttackEvidence{conflicting=%s trusted=%s commonHeight=%d}",
		e.ConflictingBlock, e.TrustedBlock, e.CommonHeight)
}
