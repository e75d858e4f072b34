package vault

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeInitialized = "vault.initialized"
	EventTypeDeposited   = "vault.deposited"
	EventTypeWithdrawn   = "vault.withdrawn"
	EventTypeClosed      = "vault.closed"
)

// NewInitializedEvent returns the payload for a freshly initialised vault.
func NewInitializedEvent(s *State) *types.Event {
	return newVaultEvent(EventTypeInitialized, s, nil)
}

// NewDepositedEvent returns the payload for a deposit into the holding.
func NewDepositedEvent(s *State, amount *big.Int) *types.Event {
	return newVaultEvent(EventTypeDeposited, s, amount)
}

// NewWithdrawnEvent returns the payload for a withdrawal from the holding.
func NewWithdrawnEvent(s *State, amount *big.Int) *types.Event {
	return newVaultEvent(EventTypeWithdrawn, s, amount)
}

// NewClosedEvent returns the payload emitted when the vault is torn down.
func NewClosedEvent(s *State, drained *big.Int) *types.Event {
	return newVaultEvent(EventTypeClosed, s, drained)
}

func newVaultEvent(eventType string, s *State, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["owner"] = hex.EncodeToString(s.Owner[:])
		attrs["state"] = hex.EncodeToString(s.StateAddress[:])
		attrs["holding"] = hex.EncodeToString(s.HoldingAddress[:])
		attrs["createdAt"] = strconv.FormatUint(s.CreatedAt, 10)
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
