// Package model holds the wire-level data model of the chain the daemon
// tracks (spec §3): headers, validator sets, commits and the light blocks
// built from them. It is a deliberately small, self-contained re-reading
// of the teacher's types/validator_set.go and types/light.go — single
// ed25519 signatures per validator rather than the teacher's threshold-BLS
// commit scheme (see DESIGN.md, Open Question O1).
package model

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Fraction is a numerator/denominator pair used for the trust threshold,
// grounded on libs/math.Fraction as used by light/verifier.go.
type Fraction struct {
	Numerator   int64
	Denominator int64
}

// TwoThirds is the fixed supermajority every commit must reach regardless
// of trust threshold (spec §3 invariant).
var TwoThirds = Fraction{Numerator: 2, Denominator: 3}

// DefaultTrustLevel is the minimum trust threshold permitted by spec §3
// (1/3), grounded on light.DefaultTrustLevel.
var DefaultTrustLevel = Fraction{Numerator: 1, Denominator: 3}

// Validate checks 1/3 <= trust_threshold <= 1, per spec §3.
func (f Fraction) Validate() error {
	if f.Denominator == 0 {
		return errors.New("fraction has zero denominator")
	}
	if f.Numerator*3 < f.Denominator || f.Numerator > f.Denominator {
		return fmt.Errorf("trust threshold %d/%d must be within [1/3, 1]", f.Numerator, f.Denominator)
	}
	return nil
}

func (f Fraction) String() string { return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator) }

// Validator is a single member of a ValidatorSet: a public key plus its
// voting power.
type Validator struct {
	PubKey      ed25519.PublicKey
	VotingPower int64
}

// Address is a short, comparable identifier for a validator, used as a
// map key when tallying signatures.
func (v *Validator) Address() string {
	sum := sha256.Sum256(v.PubKey)
	return fmt.Sprintf("%X", sum)
}

// ValidatorSet is an ordered list of validators, along with its cached
// total voting power (spec §3 "ordered list of (public key, voting power)").
type ValidatorSet struct {
	Validators []*Validator

	totalVotingPower int64
}

// NewValidatorSet builds a ValidatorSet and pre-computes total voting power.
func NewValidatorSet(vals []*Validator) *ValidatorSet {
	vs := &ValidatorSet{Validators: vals}
	var total int64
	for _, v := range vals {
		total += v.VotingPower
	}
	vs.totalVotingPower = total
	return vs
}

// TotalVotingPower returns the sum of voting power of all validators.
func (vs *ValidatorSet) TotalVotingPower() int64 { return vs.totalVotingPower }

// Size returns the number of validators.
func (vs *ValidatorSet) Size() int { return len(vs.Validators) }

// Hash returns a deterministic digest identifying the validator set's
// membership, used as validators_hash / next_validators_hash.
func (vs *ValidatorSet) Hash() []byte {
	h := sha256.New()
	for _, v := range vs.Validators {
		h.Write(v.PubKey)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.VotingPower))
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

// ByAddress indexes the set by validator address for quick signature
// attribution during skip verification.
func (vs *ValidatorSet) ByAddress() map[string]*Validator {
	m := make(map[string]*Validator, len(vs.Validators))
	for _, v := range vs.Validators {
		m[v.Address()] = v
	}
	return m
}

// Header is a block header as described by spec §3.
type Header struct {
	ChainID            string
	Height             int64
	Time               time.Time
	ValidatorsHash     []byte // hash of the validator set that signed this header's commit
	NextValidatorsHash []byte // hash of the validator set expected to sign Height+1
}

// Hash returns the opaque 32-byte header_hash.
func (h *Header) Hash() []byte {
	hh := sha256.New()
	fmt.Fprintf(hh, "%s|%d|%d", h.ChainID, h.Height, h.Time.UnixNano())
	hh.Write(h.ValidatorsHash)
	hh.Write(h.NextValidatorsHash)
	return hh.Sum(nil)
}

// CommitSig is a single validator's signature over a header hash, or an
// absent vote.
type CommitSig struct {
	ValidatorAddress string
	Signature        []byte // nil/empty means the validator did not sign
}

// ForBlock reports whether this signature actually signed the block.
func (c CommitSig) ForBlock() bool { return len(c.Signature) > 0 }

// Commit is the set of signatures covering a header hash (spec §3).
type Commit struct {
	Height     int64
	HeaderHash []byte
	Signatures []CommitSig
}

// SignedHeader pairs a Header with the Commit that finalizes it.
type SignedHeader struct {
	*Header
	Commit *Commit
}

// ValidateBasic performs cheap structural checks independent of any trust
// relationship: chain ID match, non-nil fields, commit/header height and
// hash agreement.
func (sh *SignedHeader) ValidateBasic(chainID string) error {
	if sh.Header == nil {
		return errors.New("nil header")
	}
	if sh.Commit == nil {
		return errors.New("nil commit")
	}
	if sh.ChainID != chainID {
		return fmt.Errorf("header belongs to chain %q, not %q", sh.ChainID, chainID)
	}
	if sh.Commit.Height != sh.Height {
		return fmt.Errorf("commit height %d does not match header height %d", sh.Commit.Height, sh.Height)
	}
	if !bytes.Equal(sh.Commit.HeaderHash, sh.Hash()) {
		return errors.New("commit does not match header hash")
	}
	return nil
}

// LightBlock is a SignedHeader plus the validator set that produced it,
// per spec §3.
type LightBlock struct {
	*SignedHeader
	ValidatorSet     *ValidatorSet
	NextValidatorSet *ValidatorSet
}

func (lb *LightBlock) String() string {
	if lb == nil {
		return "<nil>"
	}
	return fmt.Sprintf("LightBlock{height=%d hash=%X}", lb.Height, lb.Hash())
}
