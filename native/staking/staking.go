// Package staking implements a small point-accrual module: owners freeze
// native funds in a derived holding for a configured period and earn points
// redeemable for reward credit. It reuses the derived-authority mechanism of
// the escrow and vault modules applied to a per-owner record.
package staking

import (
	"fmt"

	"escrowd/native/deriver"
)

var (
	seedUser    = []byte("stake_user")
	seedHolding = []byte("stake_vault")
)

// Config carries the accrual parameters, fixed at genesis.
type Config struct {
	PointsPerStake uint8
	MaxStake       uint8
	FreezePeriod   uint32 // seconds funds stay frozen after the last stake
}

// UserRecord tracks one owner's frozen stakes and accrued points.
type UserRecord struct {
	Owner          [20]byte
	Address        [20]byte
	HoldingAddress [20]byte
	Bump           uint8
	HoldingBump    uint8
	Points         uint64
	ActiveStakes   uint8
	LastStakeAt    uint64
}

// Clone returns a copy of the record.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

// SanitizeUserRecord validates a stored record.
func SanitizeUserRecord(u *UserRecord) (*UserRecord, error) {
	if u == nil {
		return nil, fmt.Errorf("staking: nil user record")
	}
	if u.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("staking: owner must be set")
	}
	return u.Clone(), nil
}

// UserAddress derives the record address for an owner.
func UserAddress(owner [20]byte) (deriver.Derived, error) {
	return deriver.Derive(seedUser, owner[:])
}

// HoldingAddress derives the frozen-funds holding for a user record.
func HoldingAddress(userAddr [20]byte) (deriver.Derived, error) {
	return deriver.Derive(seedHolding, userAddr[:])
}

// UserAddressWithBump recomputes the record address from the stored proof.
func UserAddressWithBump(owner [20]byte, bump uint8) (deriver.Derived, error) {
	return deriver.DeriveWithBump(bump, seedUser, owner[:])
}
