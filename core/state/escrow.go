package state

import (
	"fmt"

	"escrowd/core/types"
	"escrowd/native/escrow"
)

func offerKey(addr [20]byte) []byte {
	return prefixedKey(offerPrefix, addr[:])
}

// OfferGet loads the escrow offer stored at a derived record address.
func (m *Manager) OfferGet(addr [20]byte) (*escrow.Offer, bool) {
	offer := new(escrow.Offer)
	ok, err := m.recordGet(offerKey(addr), offer)
	if err != nil || !ok {
		return nil, false
	}
	sanitized, err := escrow.SanitizeOffer(offer)
	if err != nil {
		return nil, false
	}
	return sanitized, true
}

// OfferCreate persists a new offer record, debiting the record reserve from
// the payer. Fails if a record already occupies the address.
func (m *Manager) OfferCreate(offer *escrow.Offer, reservePayer [20]byte) error {
	sanitized, err := escrow.SanitizeOffer(offer)
	if err != nil {
		return err
	}
	if sanitized.Address == ([20]byte{}) {
		return fmt.Errorf("state: offer address must be set")
	}
	if _, exists := m.OfferGet(sanitized.Address); exists {
		return fmt.Errorf("state: offer %x: %w", sanitized.Address, types.ErrAlreadyExists)
	}
	return m.recordCreate(offerKey(sanitized.Address), sanitized, reservePayer)
}

// OfferDelete removes an offer record and returns its reserve.
func (m *Manager) OfferDelete(addr [20]byte, reserveTo [20]byte) error {
	if _, exists := m.OfferGet(addr); !exists {
		return fmt.Errorf("state: offer %x: %w", addr, types.ErrNotFound)
	}
	return m.recordDelete(offerKey(addr), reserveTo)
}
