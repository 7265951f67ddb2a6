package light

import (
	"fmt"
	"time"
)

// ErrOldHeaderExpired means the trusted header has expired according to the
// configured trusting period and the current time. The engine cannot verify
// forward from it; the daemon must be reset from a fresh checkpoint.
type ErrOldHeaderExpired struct {
	At  time.Time
	Now time.Time
}

func (e ErrOldHeaderExpired) Error() string {
	return fmt.Sprintf("old header has expired at %v (now: %v)", e.At, e.Now)
}

// ErrNewHeaderTooFarIntoFuture means a candidate header's time is beyond
// now+max_clock_drift.
type ErrNewHeaderTooFarIntoFuture struct {
	Header time.Time
	Now    time.Time
}

func (e ErrNewHeaderTooFarIntoFuture) Error() string {
	return fmt.Sprintf("new header has a time from the future %v (now: %v)", e.Header, e.Now)
}

// ErrNewValSetCantBeTrusted means the skip rule's trust-level fraction of
// the old next-validator-set did not sign the candidate header.
type ErrNewValSetCantBeTrusted struct {
	Reason error
}

func (e ErrNewValSetCantBeTrusted) Error() string {
	return fmt.Sprintf("cant trust new val set: %v", e.Reason)
}

func (e ErrNewValSetCantBeTrusted) Unwrap() error { return e.Reason }

// ErrInvalidHeader means the header either failed basic structural
// validation or its commit is not signed by at least 2/3 voting power.
type ErrInvalidHeader struct {
	Reason error
}

func (e ErrInvalidHeader) Error() string {
	return fmt.Sprintf("invalid header: %v", e.Reason)
}

func (e ErrInvalidHeader) Unwrap() error { return e.Reason }

// ErrVerificationFailed means either the sequential or skipping step of
// VerifyToHeight failed to verify from header #1 to header #2.
type ErrVerificationFailed struct {
	From   int64
	To     int64
	Reason error
}

func (e ErrVerificationFailed) Unwrap() error { return e.Reason }

func (e ErrVerificationFailed) Error() string {
	return fmt.Sprintf("verify from #%d to #%d failed: %v", e.From, e.To, e.Reason)
}

// ErrChainIDMismatch means a fetched header's chain ID does not match the
// engine's configured chain ID.
type ErrChainIDMismatch struct {
	Expected, Got string
}

func (e ErrChainIDMismatch) Error() string {
	return fmt.Sprintf("expected chain ID %q, got %q", e.Expected, e.Got)
}

// ErrHeaderHashMismatch is returned only during bootstrap, when the header
// fetched at the checkpoint height does not hash to the supplied trusted
// hash.
type ErrHeaderHashMismatch struct {
	Expected, Got []byte
}

func (e ErrHeaderHashMismatch) Error() string {
	return fmt.Sprintf("expected header hash %X, got %X", e.Expected, e.Got)
}
