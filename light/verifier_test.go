package light_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightanchor/anchord/internal/testutil"
	"github.com/lightanchor/anchord/light"
	"github.com/lightanchor/anchord/model"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVerifyAdjacentSuccess(t *testing.T) {
	keys := testutil.GenKeys(4)
	vals := keys.ValidatorSet(10)

	trusted := testutil.Header("test-chain", 10, baseTime, vals, vals)
	trustedCommit := keys.Sign(trusted, testutil.AllSigners(4))
	trustedSH := &model.SignedHeader{Header: trusted, Commit: trustedCommit}

	untrusted := testutil.Header("test-chain", 11, baseTime.Add(time.Minute), vals, vals)
	untrustedCommit := keys.Sign(untrusted, testutil.AllSigners(4))
	untrustedSH := &model.SignedHeader{Header: untrusted, Commit: untrustedCommit}

	err := light.VerifyAdjacent(trustedSH, untrustedSH, vals, 24*time.Hour, baseTime.Add(time.Minute), 10*time.Second)
	require.NoError(t, err)
}

func TestVerifyAdjacentValidatorsHashMismatch(t *testing.T) {
	keys := testutil.GenKeys(4)
	vals := keys.ValidatorSet(10)
	otherKeys := keys.DifferentKeys()
	otherVals := otherKeys.ValidatorSet(10)

	trusted := testutil.Header("test-chain", 10, baseTime, vals, vals)
	trustedSH := &model.SignedHeader{Header: trusted, Commit: keys.Sign(trusted, testutil.AllSigners(4))}

	// untrusted header claims a validators hash that doesn't match trusted's
	// next_validator_set, simulating a validator-set swap attack.
	untrusted := testutil.Header("test-chain", 11, baseTime.Add(time.Minute), otherVals, otherVals)
	untrustedSH := &model.SignedHeader{Header: untrusted, Commit: otherKeys.Sign(untrusted, testutil.AllSigners(4))}

	err := light.VerifyAdjacent(trustedSH, untrustedSH, otherVals, 24*time.Hour, baseTime.Add(time.Minute), 10*time.Second)
	require.Error(t, err)
}

func TestVerifyNonAdjacentSuccess(t *testing.T) {
	keys := testutil.GenKeys(4)
	vals := keys.ValidatorSet(10)

	trusted := testutil.Header("test-chain", 10, baseTime, vals, vals)
	trustedSH := &model.SignedHeader{Header: trusted, Commit: keys.Sign(trusted, testutil.AllSigners(4))}

	untrusted := testutil.Header("test-chain", 50, baseTime.Add(time.Hour), vals, vals)
	untrustedSH := &model.SignedHeader{Header: untrusted, Commit: keys.Sign(untrusted, testutil.AllSigners(4))}

	err := light.VerifyNonAdjacent(trustedSH, vals, untrustedSH, vals,
		24*time.Hour, baseTime.Add(time.Hour), 10*time.Second, model.DefaultTrustLevel)
	require.NoError(t, err)
}

func TestVerifyNonAdjacentInsufficientTrustLevel(t *testing.T) {
	keys := testutil.GenKeys(6)
	vals := keys.ValidatorSet(10)

	trusted := testutil.Header("test-chain", 10, baseTime, vals, vals)
	trustedSH := &model.SignedHeader{Header: trusted, Commit: keys.Sign(trusted, testutil.AllSigners(6))}

	untrusted := testutil.Header("test-chain", 50, baseTime.Add(time.Hour), vals, vals)
	// Only one of six trusted validators (1/6 power) signs the untrusted
	// header -- below the default 1/3 trust level.
	untrustedSH := &model.SignedHeader{Header: untrusted, Commit: keys.Sign(untrusted, []int{0})}

	err := light.VerifyNonAdjacent(trustedSH, vals, untrustedSH, vals,
		24*time.Hour, baseTime.Add(time.Hour), 10*time.Second, model.DefaultTrustLevel)
	require.Error(t, err)
	require.IsType(t, light.ErrNewValSetCantBeTrusted{}, err)
}

func TestHeaderExpired(t *testing.T) {
	keys := testutil.GenKeys(1)
	vals := keys.ValidatorSet(10)
	header := testutil.Header("test-chain", 1, baseTime, vals, vals)
	sh := &model.SignedHeader{Header: header, Commit: keys.Sign(header, []int{0})}

	require.False(t, light.HeaderExpired(sh, 24*time.Hour, baseTime.Add(time.Hour)))
	require.True(t, light.HeaderExpired(sh, 24*time.Hour, baseTime.Add(25*time.Hour)))
}

func TestVerifyRejectsClockDrift(t *testing.T) {
	keys := testutil.GenKeys(4)
	vals := keys.ValidatorSet(10)

	trusted := testutil.Header("test-chain", 10, baseTime, vals, vals)
	trustedSH := &model.SignedHeader{Header: trusted, Commit: keys.Sign(trusted, testutil.AllSigners(4))}

	// untrusted header's time is far in the future relative to now.
	untrusted := testutil.Header("test-chain", 11, baseTime.Add(time.Hour), vals, vals)
	untrustedSH := &model.SignedHeader{Header: untrusted, Commit: keys.Sign(untrusted, testutil.AllSigners(4))}

	err := light.VerifyAdjacent(trustedSH, untrustedSH, vals, 24*time.Hour, baseTime, 5*time.Second)
	require.Error(t, err)
}
