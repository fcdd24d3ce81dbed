package model

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates that a constructor or component was
// initialized with invalid or inconsistent parameters.
type ConfigurationError struct {
	err error
}

func NewConfigurationErrorf(msg string, args ...interface{}) error {
	return ConfigurationError{fmt.Errorf(msg, args...)}
}

func (e ConfigurationError) Error() string { return e.err.Error() }
func (e ConfigurationError) Unwrap() error { return e.err }

// IsConfigurationError returns whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var e ConfigurationError
	return errors.As(err, &e)
}

// InvalidVoteError indicates that a vote is structurally malformed or carries
// an invalid signature. Such votes are rejected locally and logged; they are
// never fatal.
type InvalidVoteError struct {
	VoteID Identifier
	Slot   uint64
	View   uint64
	Err    error
}

func NewInvalidVoteErrorf(vote *Vote, msg string, args ...interface{}) error {
	return InvalidVoteError{
		VoteID: vote.ID(),
		Slot:   vote.Slot,
		View:   vote.View,
		Err:    fmt.Errorf(msg, args...),
	}
}

func (e InvalidVoteError) Error() string {
	return fmt.Sprintf("invalid vote %x for slot %d view %d: %s", e.VoteID, e.Slot, e.View, e.Err.Error())
}

func (e InvalidVoteError) Unwrap() error { return e.Err }

// IsInvalidVoteError returns whether err is an InvalidVoteError.
func IsInvalidVoteError(err error) bool {
	var e InvalidVoteError
	return errors.As(err, &e)
}

// InvalidSignerError indicates that a vote's signer is not a member of the
// committee snapshot active for its slot.
type InvalidSignerError struct {
	err error
}

func NewInvalidSignerErrorf(msg string, args ...interface{}) error {
	return InvalidSignerError{fmt.Errorf(msg, args...)}
}

func (e InvalidSignerError) Error() string { return e.err.Error() }
func (e InvalidSignerError) Unwrap() error { return e.err }

// IsInvalidSignerError returns whether err is an InvalidSignerError.
func IsInvalidSignerError(err error) bool {
	var e InvalidSignerError
	return errors.As(err, &e)
}

// DuplicatedVoteError indicates that an identical vote from the same signer
// was already recorded. Duplicates are idempotent no-ops.
type DuplicatedVoteError struct {
	err error
}

func NewDuplicatedVoteErrorf(msg string, args ...interface{}) error {
	return DuplicatedVoteError{fmt.Errorf(msg, args...)}
}

func (e DuplicatedVoteError) Error() string { return e.err.Error() }
func (e DuplicatedVoteError) Unwrap() error { return e.err }

// IsDuplicatedVoteError returns whether err is a DuplicatedVoteError.
func IsDuplicatedVoteError(err error) bool {
	var e DuplicatedVoteError
	return errors.As(err, &e)
}

// DoubleVoteError is equivocation evidence: the same signer cast two
// different votes for the same (slot, view). The offending validator is
// excluded from all future quorum computations; past certificates that
// already include its stake remain valid.
type DoubleVoteError struct {
	FirstVote       *Vote
	ConflictingVote *Vote
	err             error
}

func NewDoubleVoteErrorf(firstVote, conflictingVote *Vote, msg string, args ...interface{}) error {
	return DoubleVoteError{
		FirstVote:       firstVote,
		ConflictingVote: conflictingVote,
		err:             fmt.Errorf(msg, args...),
	}
}

func (e DoubleVoteError) Error() string { return e.err.Error() }
func (e DoubleVoteError) Unwrap() error { return e.err }

// IsDoubleVoteError returns whether err is a DoubleVoteError.
func IsDoubleVoteError(err error) bool {
	var e DoubleVoteError
	return errors.As(err, &e)
}

// AsDoubleVoteError determines whether the given error is a DoubleVoteError
// (potentially wrapped). It follows the semantics of a checked type cast.
func AsDoubleVoteError(err error) (*DoubleVoteError, bool) {
	var e DoubleVoteError
	if errors.As(err, &e) {
		return &e, true
	}
	return nil, false
}

// SafetyViolationError is the hard alarm: two certificates for the same slot
// would finalize conflicting blocks. Under the configured fault bounds this
// state is unreachable; observing it means either the safety proof's
// assumptions were violated or the implementation is corrupted. It must never
// be silently reconciled.
type SafetyViolationError struct {
	Slot        uint64
	Existing    *Certificate
	Conflicting *Certificate
}

func (e SafetyViolationError) Error() string {
	return fmt.Sprintf(
		"safety violation in slot %d: certificate for block %x conflicts with finalized certificate for block %x",
		e.Slot, e.Conflicting.BlockID, e.Existing.BlockID,
	)
}

// IsSafetyViolationError returns whether err is a SafetyViolationError.
func IsSafetyViolationError(err error) bool {
	var e SafetyViolationError
	return errors.As(err, &e)
}

// InsufficientShredsError indicates that fewer than K distinct shred indices
// are available for reconstruction. It triggers repair, not failure, until
// the slot deadline passes.
type InsufficientShredsError struct {
	BlockID Identifier
	Have    int
	Need    int
}

func (e InsufficientShredsError) Error() string {
	return fmt.Sprintf("insufficient shreds for block %x: have %d distinct indices, need %d", e.BlockID, e.Have, e.Need)
}

// IsInsufficientShredsError returns whether err is an InsufficientShredsError.
func IsInsufficientShredsError(err error) bool {
	var e InsufficientShredsError
	return errors.As(err, &e)
}

// InconsistentShredsError indicates that the shreds presented for decoding
// disagree on coding parameters or block ID and cannot belong to one shred
// set.
type InconsistentShredsError struct {
	err error
}

func NewInconsistentShredsErrorf(msg string, args ...interface{}) error {
	return InconsistentShredsError{fmt.Errorf(msg, args...)}
}

func (e InconsistentShredsError) Error() string { return e.err.Error() }
func (e InconsistentShredsError) Unwrap() error { return e.err }

// IsInconsistentShredsError returns whether err is an InconsistentShredsError.
func IsInconsistentShredsError(err error) bool {
	var e InconsistentShredsError
	return errors.As(err, &e)
}

// InvalidShredError indicates a single shred failed its integrity check or is
// structurally malformed. Invalid shreds are dropped; the remaining set may
// still reconstruct.
type InvalidShredError struct {
	BlockID Identifier
	Index   uint16
	Err     error
}

func NewInvalidShredErrorf(blockID Identifier, index uint16, msg string, args ...interface{}) error {
	return InvalidShredError{BlockID: blockID, Index: index, Err: fmt.Errorf(msg, args...)}
}

func (e InvalidShredError) Error() string {
	return fmt.Sprintf("invalid shred %d of block %x: %s", e.Index, e.BlockID, e.Err.Error())
}

func (e InvalidShredError) Unwrap() error { return e.Err }

// IsInvalidShredError returns whether err is an InvalidShredError.
func IsInvalidShredError(err error) bool {
	var e InvalidShredError
	return errors.As(err, &e)
}

// AsInvalidShredError determines whether the given error is an
// InvalidShredError (potentially wrapped). It follows the semantics of a
// checked type cast.
func AsInvalidShredError(err error) (*InvalidShredError, bool) {
	var e InvalidShredError
	if errors.As(err, &e) {
		return &e, true
	}
	return nil, false
}
