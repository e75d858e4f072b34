package vault

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var errNilState = errors.New("vault engine: state not configured")

type engineState interface {
	NativeToken() string
	VaultStateGet(owner [20]byte) (*State, bool)
	VaultStateCreate(state *State, reservePayer [20]byte) error
	VaultStateDelete(owner [20]byte, reserveTo [20]byte) error
	HoldingCreate(addr [20]byte, token string, authority, reservePayer [20]byte) error
	HoldingClose(addr [20]byte, reserveTo [20]byte) error
	Transfer(from, to [20]byte, token string, amount *big.Int, authorizer [20]byte) error
	Balance(addr [20]byte, token string) (*big.Int, error)
}

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vaultEvent) Event() *types.Event { return e.evt }

// Engine implements the single-owner vault lifecycle: initialize, deposit,
// withdraw, close. Withdrawals are authorised by re-deriving the state
// address from the stored proof, the same mechanism the escrow vault uses
// applied single-sided.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a vault engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

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
	e.emitter.Emit(vaultEvent{evt: event})
}

// Initialize creates the owner-keyed state record and the derived holding
// account. The holding starts unfunded; both derivation proofs are stored on
// the record so later operations never repeat the bump search.
func (e *Engine) Initialize(owner [20]byte) (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, exists := e.state.VaultStateGet(owner); exists {
		return nil, fmt.Errorf("vault engine: state for owner: %w", types.ErrAlreadyExists)
	}
	stateAddr, err := StateAddress(owner)
	if err != nil {
		return nil, err
	}
	holdingAddr, err := HoldingAddress(stateAddr.Address)
	if err != nil {
		return nil, err
	}
	record := &State{
		Owner:          owner,
		StateAddress:   stateAddr.Address,
		HoldingAddress: holdingAddr.Address,
		StateBump:      stateAddr.Bump,
		HoldingBump:    holdingAddr.Bump,
		CreatedAt:      uint64(e.nowFn()),
	}
	if err := e.state.VaultStateCreate(record, owner); err != nil {
		return nil, err
	}
	if err := e.state.HoldingCreate(holdingAddr.Address, e.state.NativeToken(), stateAddr.Address, owner); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(record))
	return record.Clone(), nil
}

// Deposit moves amount from the owner into the holding account.
func (e *Engine) Deposit(owner [20]byte, amount *big.Int) (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.VaultStateGet(owner)
	if !ok {
		return nil, fmt.Errorf("vault engine: state: %w", types.ErrNotFound)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("vault engine: deposit amount must be positive")
	}
	if err := e.state.Transfer(owner, record.HoldingAddress, e.state.NativeToken(), amount, owner); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(record, amount))
	return record.Clone(), nil
}

// Withdraw moves amount from the holding account back to the owner,
// authorised via the stored proof.
func (e *Engine) Withdraw(owner [20]byte, amount *big.Int) (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.VaultStateGet(owner)
	if !ok {
		return nil, fmt.Errorf("vault engine: state: %w", types.ErrNotFound)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("vault engine: withdraw amount must be positive")
	}
	authority, err := e.stateAuthority(record)
	if err != nil {
		return nil, err
	}
	balance, err := e.state.Balance(record.HoldingAddress, e.state.NativeToken())
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("vault engine: withdraw: %w", types.ErrInsufficientFunds)
	}
	if err := e.state.Transfer(record.HoldingAddress, owner, e.state.NativeToken(), amount, authority); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(record, amount))
	return record.Clone(), nil
}

// Close drains the holding account to the owner and destroys the state
// record in one transaction, terminating the lifecycle. Both reserves return
// to the owner.
func (e *Engine) Close(owner [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	record, ok := e.state.VaultStateGet(owner)
	if !ok {
		return fmt.Errorf("vault engine: state: %w", types.ErrNotFound)
	}
	authority, err := e.stateAuthority(record)
	if err != nil {
		return err
	}
	balance, err := e.state.Balance(record.HoldingAddress, e.state.NativeToken())
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		if err := e.state.Transfer(record.HoldingAddress, owner, e.state.NativeToken(), balance, authority); err != nil {
			return err
		}
	}
	if err := e.state.HoldingClose(record.HoldingAddress, owner); err != nil {
		return err
	}
	if err := e.state.VaultStateDelete(owner, owner); err != nil {
		return err
	}
	e.emit(NewClosedEvent(record, balance))
	return nil
}

// Get returns the vault state record for an owner.
func (e *Engine) Get(owner [20]byte) (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.VaultStateGet(owner)
	if !ok {
		return nil, fmt.Errorf("vault engine: state: %w", types.ErrNotFound)
	}
	return record.Clone(), nil
}

func (e *Engine) stateAuthority(record *State) ([20]byte, error) {
	derived, err := StateAddressWithBump(record.Owner, record.StateBump)
	if err != nil {
		return [20]byte{}, fmt.Errorf("vault engine: stored bump invalid: %w", err)
	}
	if derived.Address != record.StateAddress {
		return [20]byte{}, fmt.Errorf("vault engine: derivation does not match stored state address")
	}
	return derived.Address, nil
}
