package types

import "errors"

// Ledger error taxonomy. Every operation checks its preconditions before any
// state mutation, so observing one of these means nothing was changed. The
// RPC layer maps each kind to a distinct error code so callers can tell
// "fund your account" apart from "try a different offer id".
var (
	// ErrNotFound covers missing records and holdings, including the
	// already-settled case: record destruction is the settlement signal.
	ErrNotFound = errors.New("ledger: not found")

	// ErrAlreadyExists is returned when creating a record or holding whose
	// address is already occupied.
	ErrAlreadyExists = errors.New("ledger: already exists")

	// ErrUnauthorized is returned when the authorising address does not match
	// the recorded authority of the debited account.
	ErrUnauthorized = errors.New("ledger: unauthorized")

	// ErrInsufficientFunds is returned when the source balance is below the
	// requested amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrAssetMismatch is returned when a holding account is addressed with
	// an asset other than the one recorded at its creation.
	ErrAssetMismatch = errors.New("ledger: asset mismatch")

	// ErrUnknownAsset is returned for asset symbols absent from the registry.
	ErrUnknownAsset = errors.New("ledger: unknown asset")
)
