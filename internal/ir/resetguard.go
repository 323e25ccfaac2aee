package ir

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ResetGuardBlockSize is the persisted size of ResetGuardState in bytes.
const ResetGuardBlockSize = 8

var (
	// ErrComplementMismatch indicates a value and its stored complement disagree.
	ErrComplementMismatch = errors.New("complement mismatch")

	// ErrShortBlock indicates a persisted block shorter than ResetGuardBlockSize.
	ErrShortBlock = errors.New("short reset guard block")
)

// ResetGuardState is the persisted Reset Guard block.
//
// Layout (big-endian, 2 bytes each, in order):
// resets_performed, ~resets_performed, max_resets, ~max_resets.
type ResetGuardState struct {
	ResetsPerformed    uint16 `json:"resets_performed"`
	ResetsPerformedNot uint16 `json:"resets_performed_not"`
	MaxResets          uint16 `json:"max_resets"`
	MaxResetsNot       uint16 `json:"max_resets_not"`
}

// NewResetGuardState returns a block with both complements in sync.
func NewResetGuardState(performed, max uint16) ResetGuardState {
	s := ResetGuardState{ResetsPerformed: performed, MaxResets: max}
	s.Resync()
	return s
}

// Resync recomputes both complements from the values.
func (s *ResetGuardState) Resync() {
	s.ResetsPerformedNot = ^s.ResetsPerformed
	s.MaxResetsNot = ^s.MaxResets
}

// Validate checks both complement invariants.
func (s ResetGuardState) Validate() error {
	var err error
	if !s.PerformedValid() {
		err = errors.Join(err, fmt.Errorf("resets_performed: %w", ErrComplementMismatch))
	}
	if !s.MaxValid() {
		err = errors.Join(err, fmt.Errorf("max_resets: %w", ErrComplementMismatch))
	}
	return err
}

// PerformedValid reports whether resets_performed matches its complement.
func (s ResetGuardState) PerformedValid() bool {
	return s.ResetsPerformedNot == ^s.ResetsPerformed
}

// MaxValid reports whether max_resets matches its complement.
func (s ResetGuardState) MaxValid() bool {
	return s.MaxResetsNot == ^s.MaxResets
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s ResetGuardState) MarshalBinary() ([]byte, error) {
	b := make([]byte, ResetGuardBlockSize)
	binary.BigEndian.PutUint16(b[0:], s.ResetsPerformed)
	binary.BigEndian.PutUint16(b[2:], s.ResetsPerformedNot)
	binary.BigEndian.PutUint16(b[4:], s.MaxResets)
	binary.BigEndian.PutUint16(b[6:], s.MaxResetsNot)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// It does not validate; call Validate on the result.
func (s *ResetGuardState) UnmarshalBinary(b []byte) error {
	if len(b) < ResetGuardBlockSize {
		return fmt.Errorf("%w: %d bytes", ErrShortBlock, len(b))
	}
	s.ResetsPerformed = binary.BigEndian.Uint16(b[0:])
	s.ResetsPerformedNot = binary.BigEndian.Uint16(b[2:])
	s.MaxResets = binary.BigEndian.Uint16(b[4:])
	s.MaxResetsNot = binary.BigEndian.Uint16(b[6:])
	return nil
}
