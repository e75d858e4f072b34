package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var (
	errNilState = errors.New("escrow engine: state not configured")

	// ErrSelfSwap and ErrZeroAmount are policy rejections; the reference
	// behaviour permits both, so they only fire when the policy opts in.
	ErrSelfSwap   = errors.New("escrow engine: offered and requested assets are identical")
	ErrZeroAmount = errors.New("escrow engine: requested amount must be positive")
)

// Policy controls validation that the reference behaviour leaves open. Both
// switches default to off so a zero-amount or self-swap offer remains
// creatable unless the operator opts out.
type Policy struct {
	RejectZeroAmount bool
	RejectSelfSwap   bool
}

type engineState interface {
	TokenRegistered(symbol string) bool
	OfferGet(addr [20]byte) (*Offer, bool)
	OfferCreate(offer *Offer, reservePayer [20]byte) error
	OfferDelete(addr [20]byte, reserveTo [20]byte) error
	HoldingCreate(addr [20]byte, token string, authority, reservePayer [20]byte) error
	HoldingClose(addr [20]byte, reserveTo [20]byte) error
	Transfer(from, to [20]byte, token string, amount *big.Int, authorizer [20]byte) error
	Balance(addr [20]byte, token string) (*big.Int, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the swap protocol to the ledger state and an event emitter.
// Every operation validates its preconditions before the first mutation; the
// surrounding transaction boundary discards partial writes on error, so each
// call either settles fully or leaves the ledger untouched.
type Engine struct {
	state   engineState
	emitter events.Emitter
	policy  Policy
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the permissive
// default policy.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPolicy configures the optional offer validation switches.
func (e *Engine) SetPolicy(policy Policy) { e.policy = policy }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Make creates the offer record and its holding vault and locks the maker's
// deposit, all inside one transaction. The record address is derived from
// (maker, offerID), so re-submitting after a failed attempt is safe: no
// record was created, and a duplicate offer id fails before any transfer.
func (e *Engine) Make(maker [20]byte, offerID uint64, offeredToken, requestedToken string, requestedAmount, depositAmount *big.Int) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer := &Offer{
		OfferID:         offerID,
		Maker:           maker,
		OfferedToken:    offeredToken,
		RequestedToken:  requestedToken,
		RequestedAmount: cloneBigInt(requestedAmount),
		CreatedAt:       uint64(e.now()),
	}
	sanitized, err := SanitizeOffer(offer)
	if err != nil {
		return nil, err
	}
	if e.policy.RejectZeroAmount && sanitized.RequestedAmount.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if e.policy.RejectSelfSwap && sanitized.OfferedToken == sanitized.RequestedToken {
		return nil, ErrSelfSwap
	}
	if !e.state.TokenRegistered(sanitized.OfferedToken) || !e.state.TokenRegistered(sanitized.RequestedToken) {
		return nil, types.ErrUnknownAsset
	}
	if depositAmount == nil || depositAmount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow engine: deposit amount must be positive")
	}

	record, err := RecordAddress(maker, offerID)
	if err != nil {
		return nil, err
	}
	if _, exists := e.state.OfferGet(record.Address); exists {
		return nil, fmt.Errorf("escrow engine: offer %d for maker: %w", offerID, types.ErrAlreadyExists)
	}
	sanitized.Address = record.Address
	sanitized.Bump = record.Bump

	makerBalance, err := e.state.Balance(maker, sanitized.OfferedToken)
	if err != nil {
		return nil, err
	}
	if makerBalance.Cmp(depositAmount) < 0 {
		return nil, fmt.Errorf("escrow engine: deposit: %w", types.ErrInsufficientFunds)
	}

	vault, err := VaultAddress(record.Address, sanitized.OfferedToken)
	if err != nil {
		return nil, err
	}
	if err := e.state.OfferCreate(sanitized, maker); err != nil {
		return nil, err
	}
	if err := e.state.HoldingCreate(vault.Address, sanitized.OfferedToken, record.Address, maker); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(maker, vault.Address, sanitized.OfferedToken, depositAmount, maker); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(sanitized, depositAmount))
	return sanitized.Clone(), nil
}

// Take settles the swap: the taker pays the requested amount straight to the
// maker, receives the vault's full balance, and collects both reserves as the
// record and vault are destroyed. A second take (or a refund) against the
// same record fails with not-found because the record no longer exists.
func (e *Engine) Take(taker [20]byte, recordAddr [20]byte) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer, ok := e.state.OfferGet(recordAddr)
	if !ok {
		return nil, fmt.Errorf("escrow engine: offer: %w", types.ErrNotFound)
	}
	authority, err := e.recordAuthority(offer)
	if err != nil {
		return nil, err
	}
	vault, err := VaultAddress(offer.Address, offer.OfferedToken)
	if err != nil {
		return nil, err
	}
	takerBalance, err := e.state.Balance(taker, offer.RequestedToken)
	if err != nil {
		return nil, err
	}
	if takerBalance.Cmp(offer.RequestedAmount) < 0 {
		return nil, fmt.Errorf("escrow engine: take payment: %w", types.ErrInsufficientFunds)
	}
	held, err := e.state.Balance(vault.Address, offer.OfferedToken)
	if err != nil {
		return nil, err
	}

	// Payment leg first, release leg second. The ordering is not a trust
	// gap: both run inside one transaction and abort together.
	if err := e.state.Transfer(taker, offer.Maker, offer.RequestedToken, offer.RequestedAmount, taker); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(vault.Address, taker, offer.OfferedToken, held, authority); err != nil {
		return nil, err
	}
	if err := e.state.HoldingClose(vault.Address, taker); err != nil {
		return nil, err
	}
	if err := e.state.OfferDelete(offer.Address, taker); err != nil {
		return nil, err
	}
	e.emit(NewSettledEvent(offer, taker, held))
	return offer.Clone(), nil
}

// Refund returns the full deposit to the maker and tears the offer down.
// Only the recorded maker may refund; anyone else fails the ownership check
// with no balance changes.
func (e *Engine) Refund(caller [20]byte, recordAddr [20]byte) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer, ok := e.state.OfferGet(recordAddr)
	if !ok {
		return nil, fmt.Errorf("escrow engine: offer: %w", types.ErrNotFound)
	}
	if caller != offer.Maker {
		return nil, fmt.Errorf("escrow engine: refund caller: %w", types.ErrUnauthorized)
	}
	authority, err := e.recordAuthority(offer)
	if err != nil {
		return nil, err
	}
	vault, err := VaultAddress(offer.Address, offer.OfferedToken)
	if err != nil {
		return nil, err
	}
	held, err := e.state.Balance(vault.Address, offer.OfferedToken)
	if err != nil {
		return nil, err
	}
	if err := e.state.Transfer(vault.Address, offer.Maker, offer.OfferedToken, held, authority); err != nil {
		return nil, err
	}
	if err := e.state.HoldingClose(vault.Address, offer.Maker); err != nil {
		return nil, err
	}
	if err := e.state.OfferDelete(offer.Address, offer.Maker); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(offer, held))
	return offer.Clone(), nil
}

// Get returns the pending offer stored at the record address.
func (e *Engine) Get(recordAddr [20]byte) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer, ok := e.state.OfferGet(recordAddr)
	if !ok {
		return nil, fmt.Errorf("escrow engine: offer: %w", types.ErrNotFound)
	}
	return offer.Clone(), nil
}

// recordAuthority re-derives the record address from the stored bump. The
// resulting address is the vault's authority; presenting it is the proof of
// control the ledger checks on vault transfers.
func (e *Engine) recordAuthority(offer *Offer) ([20]byte, error) {
	derived, err := RecordAddressWithBump(offer.Maker, offer.OfferID, offer.Bump)
	if err != nil {
		return [20]byte{}, fmt.Errorf("escrow engine: stored bump invalid: %w", err)
	}
	if derived.Address != offer.Address {
		return [20]byte{}, fmt.Errorf("escrow engine: derivation does not match stored record address")
	}
	return derived.Address, nil
}
