package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeOfferCreated  = "escrow.created"
	EventTypeOfferSettled  = "escrow.settled"
	EventTypeOfferRefunded = "escrow.refunded"
)

// NewCreatedEvent returns the canonical payload for a newly created offer.
func NewCreatedEvent(o *Offer, deposit *big.Int) *types.Event {
	evt := newOfferEvent(EventTypeOfferCreated, o)
	if deposit != nil {
		evt.Attributes["deposit"] = deposit.String()
	}
	return evt
}

// NewSettledEvent returns the payload emitted when a taker settles the swap.
func NewSettledEvent(o *Offer, taker [20]byte, released *big.Int) *types.Event {
	evt := newOfferEvent(EventTypeOfferSettled, o)
	evt.Attributes["taker"] = hex.EncodeToString(taker[:])
	if released != nil {
		evt.Attributes["released"] = released.String()
	}
	return evt
}

// NewRefundedEvent returns the payload emitted when the maker reclaims the
// deposit.
func NewRefundedEvent(o *Offer, returned *big.Int) *types.Event {
	evt := newOfferEvent(EventTypeOfferRefunded, o)
	if returned != nil {
		evt.Attributes["returned"] = returned.String()
	}
	return evt
}

func newOfferEvent(eventType string, o *Offer) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["record"] = hex.EncodeToString(o.Address[:])
	attrs["maker"] = hex.EncodeToString(o.Maker[:])
	attrs["offerId"] = strconv.FormatUint(o.OfferID, 10)
	attrs["offeredToken"] = o.OfferedToken
	attrs["requestedToken"] = o.RequestedToken
	if o.RequestedAmount != nil {
		attrs["requestedAmount"] = o.RequestedAmount.String()
	}
	attrs["createdAt"] = strconv.FormatUint(o.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
