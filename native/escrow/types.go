package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"escrowd/native/deriver"
)

// Seed tags for the two derived accounts an offer owns. The record address is
// derived from the maker identity and the offer id, so any party holding
// those two values can reconstruct it; the vault hangs off the record.
var (
	seedRecord = []byte("escrow")
	seedVault  = []byte("escrow_vault")
)

// Offer is the durable record describing one pending swap. It exists exactly
// while the offered deposit sits in the holding vault: creation and funding
// commit together, and settlement (take or refund) deletes it again. The
// requested amount is fixed at creation and never mutated.
type Offer struct {
	Address         [20]byte
	OfferID         uint64
	Maker           [20]byte
	OfferedToken    string
	RequestedToken  string
	RequestedAmount *big.Int
	Bump            uint8
	CreatedAt       uint64
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.RequestedAmount != nil {
		clone.RequestedAmount = new(big.Int).Set(o.RequestedAmount)
	} else {
		clone.RequestedAmount = big.NewInt(0)
	}
	return &clone
}

// SanitizeOffer validates and normalises an offer record, returning a cloned
// instance with canonical token casing and a non-nil amount. The original
// value is not mutated.
func SanitizeOffer(o *Offer) (*Offer, error) {
	if o == nil {
		return nil, fmt.Errorf("escrow: nil offer")
	}
	clone := o.Clone()
	clone.OfferedToken = strings.ToUpper(strings.TrimSpace(clone.OfferedToken))
	clone.RequestedToken = strings.ToUpper(strings.TrimSpace(clone.RequestedToken))
	if clone.OfferedToken == "" || clone.RequestedToken == "" {
		return nil, fmt.Errorf("escrow: offer tokens must not be empty")
	}
	if clone.RequestedAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: requested amount must be non-negative")
	}
	return clone, nil
}

func offerIDSeed(offerID uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], offerID)
	return buf[:]
}

// RecordAddress derives the offer record address for a maker and offer id.
// Re-deriving after the fact yields the address stored at creation, which is
// how take and refund locate the record and vault independently.
func RecordAddress(maker [20]byte, offerID uint64) (deriver.Derived, error) {
	return deriver.Derive(seedRecord, maker[:], offerIDSeed(offerID))
}

// RecordAddressWithBump recomputes the record address from the stored bump,
// proving the derived authority without a private key.
func RecordAddressWithBump(maker [20]byte, offerID uint64, bump uint8) (deriver.Derived, error) {
	return deriver.DeriveWithBump(bump, seedRecord, maker[:], offerIDSeed(offerID))
}

// VaultAddress derives the holding vault address for an offer record. The
// vault's recorded authority is the record address itself, never the maker or
// taker, so only code that can re-derive the record controls the deposit.
func VaultAddress(record [20]byte, offeredToken string) (deriver.Derived, error) {
	return deriver.Derive(seedVault, record[:], []byte(offeredToken))
}
