// Package testutil builds signed model.LightBlock fixtures for tests
// across light, detector, and coordinator, grounded on light/helpers_test.go's
// privKeys/genHeader/signHeader trio, simplified for this module's
// single-signature ed25519 commit scheme (see DESIGN.md, Open Question O1).
package testutil

import (
	"crypto/ed25519"
	"time"

	"github.com/lightanchor/anchord/model"
)

// Keys is a convenience wrapper over a fixed set of validator keypairs.
type Keys struct {
	Priv []ed25519.PrivateKey
	Pub  []ed25519.PublicKey
}

// GenKeys generates n ed25519 keypairs deterministically from a seed, so
// test fixtures are reproducible.
func GenKeys(n int) Keys {
	k := Keys{Priv: make([]ed25519.PrivateKey, n), Pub: make([]ed25519.PublicKey, n)}
	for i := 0; i < n; i++ {
		var seed [ed25519.SeedSize]byte
		seed[0] = byte(i + 1)
		seed[1] = byte((i + 1) >> 8)
		priv := ed25519.NewKeyFromSeed(seed[:])
		k.Priv[i] = priv
		k.Pub[i] = priv.Public().(ed25519.PublicKey)
	}
	return k
}

// ValidatorSet builds a model.ValidatorSet from k, giving every validator
// equal votingPower.
func (k Keys) ValidatorSet(votingPower int64) *model.ValidatorSet {
	vals := make([]*model.Validator, len(k.Pub))
	for i, pub := range k.Pub {
		vals[i] = &model.Validator{PubKey: pub, VotingPower: votingPower}
	}
	return model.NewValidatorSet(vals)
}

// Header builds a Header at height, with the given validator set hashes.
func Header(chainID string, height int64, t time.Time, vals, nextVals *model.ValidatorSet) *model.Header {
	return &model.Header{
		ChainID:            chainID,
		Height:             height,
		Time:               t,
		ValidatorsHash:     vals.Hash(),
		NextValidatorsHash: nextVals.Hash(),
	}
}

// Sign produces a Commit over header, signed by keys[signers[i]] for each
// i in signers (indices into k).
func (k Keys) Sign(header *model.Header, signers []int) *model.Commit {
	hash := header.Hash()
	sigs := make([]model.CommitSig, 0, len(signers))
	for _, idx := range signers {
		sig := ed25519.Sign(k.Priv[idx], hash)
		sigs = append(sigs, model.CommitSig{ValidatorAddress: addr(k.Pub[idx]), Signature: sig})
	}
	return &model.Commit{Height: header.Height, HeaderHash: hash, Signatures: sigs}
}

func addr(pub ed25519.PublicKey) string {
	v := model.Validator{PubKey: pub}
	return v.Address()
}

// LightBlock builds a fully signed LightBlock at height, signed by
// signers (indices into k, all voting with vals/nextVals of k).
func LightBlock(chainID string, height int64, t time.Time, k Keys, signers []int) *model.LightBlock {
	vals := k.ValidatorSet(10)
	header := Header(chainID, height, t, vals, vals)
	commit := k.Sign(header, signers)
	return &model.LightBlock{
		SignedHeader:     &model.SignedHeader{Header: header, Commit: commit},
		ValidatorSet:     vals,
		NextValidatorSet: vals,
	}
}

// AllSigners returns [0, n).
func AllSigners(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// MajoritySigners returns enough signer indices out of n to clear >2/3 of
// equal voting power.
func MajoritySigners(n int) []int {
	need := (n * 2) / 3
	if need*3 < n*2 {
		need++
	}
	need++ // strictly more than 2/3
	if need > n {
		need = n
	}
	return AllSigners(need)
}

// DifferentKeys returns len(k) keys disjoint from every key GenKeys
// produces (and so from k whenever k came from GenKeys or Subset), useful
// for constructing a conflicting header signed by an entirely different
// validator set (lunatic attack fixtures).
func (k Keys) DifferentKeys() Keys {
	d := Keys{Priv: make([]ed25519.PrivateKey, len(k.Priv)), Pub: make([]ed25519.PublicKey, len(k.Priv))}
	for i := range d.Priv {
		var seed [ed25519.SeedSize]byte
		seed[0] = byte(i + 1)
		seed[1] = byte((i + 1) >> 8)
		seed[2] = 0xff // GenKeys never sets this byte
		priv := ed25519.NewKeyFromSeed(seed[:])
		d.Priv[i] = priv
		d.Pub[i] = priv.Public().(ed25519.PublicKey)
	}
	return d
}

// Subset returns a new Keys containing only the keypairs at indices,
// preserving their original private material (so Address() values carry
// over), used to build validator sets that partially overlap.
func (k Keys) Subset(indices []int) Keys {
	sub := Keys{Priv: make([]ed25519.PrivateKey, len(indices)), Pub: make([]ed25519.PublicKey, len(indices))}
	for i, idx := range indices {
		sub.Priv[i] = k.Priv[idx]
		sub.Pub[i] = k.Pub[idx]
	}
	return sub
}
