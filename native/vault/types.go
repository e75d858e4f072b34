package vault

import (
	"fmt"

	"escrowd/native/deriver"
)

// Seed tags for the owner-keyed state record and its paired holding account.
// The holding is derived from the state address rather than the owner, so
// its authority chain always passes through the stored record.
var (
	seedState   = []byte("vault_state")
	seedHolding = []byte("vault")
)

// State is the owner-keyed record behind a personal vault. It stores the two
// derivation proofs and nothing else mutable; the paired holding account's
// balance is the only quantity deposits and withdrawals touch.
type State struct {
	Owner          [20]byte
	StateAddress   [20]byte
	HoldingAddress [20]byte
	StateBump      uint8
	HoldingBump    uint8
	CreatedAt      uint64
}

// Clone returns a copy of the record.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// SanitizeState validates a stored vault record.
func SanitizeState(s *State) (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("vault: nil state")
	}
	if s.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("vault: owner must be set")
	}
	return s.Clone(), nil
}

// StateAddress derives the record address for an owner.
func StateAddress(owner [20]byte) (deriver.Derived, error) {
	return deriver.Derive(seedState, owner[:])
}

// HoldingAddress derives the holding account address for a state record.
func HoldingAddress(stateAddr [20]byte) (deriver.Derived, error) {
	return deriver.Derive(seedHolding, stateAddr[:])
}

// StateAddressWithBump recomputes the record address from the stored proof.
func StateAddressWithBump(owner [20]byte, bump uint8) (deriver.Derived, error) {
	return deriver.DeriveWithBump(bump, seedState, owner[:])
}
