package staking

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var (
	errNilState = errors.New("staking engine: state not configured")

	// ErrFreezePeriodNotPassed rejects unstaking before the freeze elapses.
	ErrFreezePeriodNotPassed = errors.New("staking engine: freeze period not passed")
	// ErrMaxStakeReached rejects stakes beyond the configured cap.
	ErrMaxStakeReached = errors.New("staking engine: max stake reached")
)

const (
	EventTypeUserInitialized = "staking.user_initialized"
	EventTypeStaked          = "staking.staked"
	EventTypeUnstaked        = "staking.unstaked"
	EventTypeClaimed         = "staking.claimed"
)

type engineState interface {
	NativeToken() string
	StakeUserGet(owner [20]byte) (*UserRecord, bool)
	StakeUserCreate(record *UserRecord, reservePayer [20]byte) error
	StakeUserPut(record *UserRecord) error
	HoldingCreate(addr [20]byte, token string, authority, reservePayer [20]byte) error
	Transfer(from, to [20]byte, token string, amount *big.Int, authorizer [20]byte) error
	Balance(addr [20]byte, token string) (*big.Int, error)
	Mint(to [20]byte, token string, amount *big.Int) error
}

type stakingEvent struct {
	evt *types.Event
}

func (e stakingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e stakingEvent) Event() *types.Event { return e.evt }

// Engine accrues staking points against frozen native funds.
type Engine struct {
	state   engineState
	emitter events.Emitter
	config  Config
	nowFn   func() int64
}

// NewEngine creates a staking engine with the supplied accrual config.
func NewEngine(config Config) *Engine {
	return &Engine{
		config:  config,
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

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(stakingEvent{evt: evt})
}

// InitializeUser creates the owner's point record and its frozen-funds
// holding, both at derived addresses with the owner paying the reserves.
func (e *Engine) InitializeUser(owner [20]byte) (*UserRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, exists := e.state.StakeUserGet(owner); exists {
		return nil, fmt.Errorf("staking engine: user record: %w", types.ErrAlreadyExists)
	}
	userAddr, err := UserAddress(owner)
	if err != nil {
		return nil, err
	}
	holdingAddr, err := HoldingAddress(userAddr.Address)
	if err != nil {
		return nil, err
	}
	record := &UserRecord{
		Owner:          owner,
		Address:        userAddr.Address,
		HoldingAddress: holdingAddr.Address,
		Bump:           userAddr.Bump,
		HoldingBump:    holdingAddr.Bump,
	}
	if err := e.state.StakeUserCreate(record, owner); err != nil {
		return nil, err
	}
	if err := e.state.HoldingCreate(holdingAddr.Address, e.state.NativeToken(), userAddr.Address, owner); err != nil {
		return nil, err
	}
	e.emit(e.newEvent(EventTypeUserInitialized, record, nil))
	return record.Clone(), nil
}

// Stake freezes amount of the native token into the user's holding and
// restarts the freeze period.
func (e *Engine) Stake(owner [20]byte, amount *big.Int) (*UserRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.StakeUserGet(owner)
	if !ok {
		return nil, fmt.Errorf("staking engine: user record: %w", types.ErrNotFound)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("staking engine: stake amount must be positive")
	}
	if record.ActiveStakes >= e.config.MaxStake {
		return nil, ErrMaxStakeReached
	}
	if err := e.state.Transfer(owner, record.HoldingAddress, e.state.NativeToken(), amount, owner); err != nil {
		return nil, err
	}
	record.ActiveStakes++
	record.LastStakeAt = uint64(e.nowFn())
	if err := e.state.StakeUserPut(record); err != nil {
		return nil, err
	}
	e.emit(e.newEvent(EventTypeStaked, record, amount))
	return record.Clone(), nil
}

// Unstake releases all frozen funds once the freeze period has elapsed and
// accrues points for every active stake.
func (e *Engine) Unstake(owner [20]byte) (*UserRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.StakeUserGet(owner)
	if !ok {
		return nil, fmt.Errorf("staking engine: user record: %w", types.ErrNotFound)
	}
	if record.ActiveStakes == 0 {
		return nil, fmt.Errorf("staking engine: nothing staked")
	}
	now := uint64(e.nowFn())
	if now < record.LastStakeAt+uint64(e.config.FreezePeriod) {
		return nil, ErrFreezePeriodNotPassed
	}
	authority, err := e.userAuthority(record)
	if err != nil {
		return nil, err
	}
	frozen, err := e.state.Balance(record.HoldingAddress, e.state.NativeToken())
	if err != nil {
		return nil, err
	}
	if frozen.Sign() > 0 {
		if err := e.state.Transfer(record.HoldingAddress, owner, e.state.NativeToken(), frozen, authority); err != nil {
			return nil, err
		}
	}
	record.Points += uint64(e.config.PointsPerStake) * uint64(record.ActiveStakes)
	record.ActiveStakes = 0
	if err := e.state.StakeUserPut(record); err != nil {
		return nil, err
	}
	e.emit(e.newEvent(EventTypeUnstaked, record, frozen))
	return record.Clone(), nil
}

// Claim converts accrued points into reward credit of the native token.
func (e *Engine) Claim(owner [20]byte) (*UserRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.StakeUserGet(owner)
	if !ok {
		return nil, fmt.Errorf("staking engine: user record: %w", types.ErrNotFound)
	}
	reward := new(big.Int).SetUint64(record.Points)
	if reward.Sign() > 0 {
		if err := e.state.Mint(owner, e.state.NativeToken(), reward); err != nil {
			return nil, err
		}
	}
	record.Points = 0
	if err := e.state.StakeUserPut(record); err != nil {
		return nil, err
	}
	e.emit(e.newEvent(EventTypeClaimed, record, reward))
	return record.Clone(), nil
}

// Get returns the user record for an owner.
func (e *Engine) Get(owner [20]byte) (*UserRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.StakeUserGet(owner)
	if !ok {
		return nil, fmt.Errorf("staking engine: user record: %w", types.ErrNotFound)
	}
	return record.Clone(), nil
}

func (e *Engine) userAuthority(record *UserRecord) ([20]byte, error) {
	derived, err := UserAddressWithBump(record.Owner, record.Bump)
	if err != nil {
		return [20]byte{}, fmt.Errorf("staking engine: stored bump invalid: %w", err)
	}
	if derived.Address != record.Address {
		return [20]byte{}, fmt.Errorf("staking engine: derivation does not match stored record address")
	}
	return derived.Address, nil
}

func (e *Engine) newEvent(eventType string, record *UserRecord, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	if record != nil {
		attrs["owner"] = hex.EncodeToString(record.Owner[:])
		attrs["points"] = strconv.FormatUint(record.Points, 10)
		attrs["activeStakes"] = strconv.FormatUint(uint64(record.ActiveStakes), 10)
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
