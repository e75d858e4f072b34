package core

import (
	"fmt"
	"math/big"
	"sync"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/native/escrow"
	"escrowd/native/staking"
	"escrowd/native/vault"
	"escrowd/storage"
)

// eventBacklog caps how many recent ledger events the node retains for the
// query surface.
const eventBacklog = 256

// GenesisToken registers one asset at first boot.
type GenesisToken struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// GenesisAllocation seeds an initial balance at first boot.
type GenesisAllocation struct {
	Address [20]byte
	Token   string
	Amount  *big.Int
}

// Genesis describes the ledger's initial state. It is applied exactly once;
// a restarted node finds the genesis marker and skips it.
type Genesis struct {
	Tokens      []GenesisToken
	Allocations []GenesisAllocation
}

// Config carries everything the node fixes at construction time.
type Config struct {
	NativeToken    string
	RecordReserve  *big.Int
	HoldingReserve *big.Int
	EscrowPolicy   escrow.Policy
	Staking        staking.Config
	Genesis        Genesis
}

// Node owns the state manager and the native-module engines and serialises
// every mutating operation: one mutex, one transaction per call. An operation
// either commits all its writes or discards them, which is what lets the
// engines validate eagerly and mutate without compensation logic.
type Node struct {
	mu    sync.Mutex
	state *state.Manager

	escrowEngine  *escrow.Engine
	vaultEngine   *vault.Engine
	stakingEngine *staking.Engine

	recentEvents []events.Event
}

// NewNode builds a node over the database, wires the engines, and applies
// genesis if the database is fresh.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	manager, err := state.NewManager(db, state.Params{
		NativeToken:    cfg.NativeToken,
		RecordReserve:  cfg.RecordReserve,
		HoldingReserve: cfg.HoldingReserve,
	})
	if err != nil {
		return nil, err
	}
	node := &Node{state: manager}

	node.escrowEngine = escrow.NewEngine()
	node.escrowEngine.SetState(manager)
	node.escrowEngine.SetPolicy(cfg.EscrowPolicy)
	node.escrowEngine.SetEmitter(node)

	node.vaultEngine = vault.NewEngine()
	node.vaultEngine.SetState(manager)
	node.vaultEngine.SetEmitter(node)

	node.stakingEngine = staking.NewEngine(cfg.Staking)
	node.stakingEngine.SetState(manager)
	node.stakingEngine.SetEmitter(node)

	if err := node.applyGenesis(cfg); err != nil {
		return nil, err
	}
	return node, nil
}

func (n *Node) applyGenesis(cfg Config) error {
	return n.withTxn(func() error {
		done, err := n.state.GenesisDone()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		native := false
		for _, token := range cfg.Genesis.Tokens {
			if err := n.state.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
				return fmt.Errorf("genesis token %s: %w", token.Symbol, err)
			}
			if n.state.TokenRegistered(cfg.NativeToken) {
				native = true
			}
		}
		if !native {
			return fmt.Errorf("genesis must register the native token %s", cfg.NativeToken)
		}
		for _, alloc := range cfg.Genesis.Allocations {
			if err := n.state.SetBalance(alloc.Address, alloc.Token, alloc.Amount); err != nil {
				return fmt.Errorf("genesis allocation: %w", err)
			}
		}
		return n.state.MarkGenesis()
	})
}

// Emit satisfies events.Emitter; the engines publish through the node, which
// keeps a bounded backlog for the query surface.
func (n *Node) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	n.recentEvents = append(n.recentEvents, evt)
	if len(n.recentEvents) > eventBacklog {
		n.recentEvents = n.recentEvents[len(n.recentEvents)-eventBacklog:]
	}
}

// RecentEvents returns a copy of the retained event backlog.
func (n *Node) RecentEvents() []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Event, len(n.recentEvents))
	copy(out, n.recentEvents)
	return out
}

// withTxn runs fn under the node mutex inside a state transaction. Errors
// discard every write fn made.
func (n *Node) withTxn(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.state.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		n.state.Discard()
		return err
	}
	return n.state.Commit()
}

// withRead runs fn under the node mutex without opening a transaction.
func (n *Node) withRead(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn()
}

// --- escrow operations ---

// EscrowMake creates a funded offer for the maker.
func (n *Node) EscrowMake(maker [20]byte, offerID uint64, offeredToken, requestedToken string, requestedAmount, depositAmount *big.Int) (*escrow.Offer, error) {
	var offer *escrow.Offer
	err := n.withTxn(func() error {
		var innerErr error
		offer, innerErr = n.escrowEngine.Make(maker, offerID, offeredToken, requestedToken, requestedAmount, depositAmount)
		return innerErr
	})
	return offer, err
}

// EscrowTake settles the offer stored at the record address in the taker's
// favour.
func (n *Node) EscrowTake(taker [20]byte, recordAddr [20]byte) (*escrow.Offer, error) {
	var offer *escrow.Offer
	err := n.withTxn(func() error {
		var innerErr error
		offer, innerErr = n.escrowEngine.Take(taker, recordAddr)
		return innerErr
	})
	return offer, err
}

// EscrowRefund returns the deposit to the maker and tears the offer down.
func (n *Node) EscrowRefund(caller [20]byte, recordAddr [20]byte) (*escrow.Offer, error) {
	var offer *escrow.Offer
	err := n.withTxn(func() error {
		var innerErr error
		offer, innerErr = n.escrowEngine.Refund(caller, recordAddr)
		return innerErr
	})
	return offer, err
}

// EscrowGet returns the pending offer at a record address.
func (n *Node) EscrowGet(recordAddr [20]byte) (*escrow.Offer, error) {
	var offer *escrow.Offer
	err := n.withRead(func() error {
		var innerErr error
		offer, innerErr = n.escrowEngine.Get(recordAddr)
		return innerErr
	})
	return offer, err
}

// --- vault operations ---

// VaultInitialize creates the caller's personal vault.
func (n *Node) VaultInitialize(owner [20]byte) (*vault.State, error) {
	var record *vault.State
	err := n.withTxn(func() error {
		var innerErr error
		record, innerErr = n.vaultEngine.Initialize(owner)
		return innerErr
	})
	return record, err
}

// VaultDeposit moves native funds into the owner's vault holding.
func (n *Node) VaultDeposit(owner [20]byte, amount *big.Int) (*vault.State, error) {
	var record *vault.State
	err := n.withTxn(func() error {
		var innerErr error
		record, innerErr = n.vaultEngine.Deposit(owner, amount)
		return innerErr
	})
	return record, err
}

// VaultWithdraw moves native funds from the holding back to the owner.
func (n *Node) VaultWithdraw(owner [20]byte, amount *big.Int) (*vault.State, error) {
	var record *vault.State
	err := n.withTxn(func() error {
		var innerErr error
		record, innerErr = n.vaultEngine.Withdraw(owner, amount)
		return innerErr
	})
	return record, err
}

// VaultClose drains and destroys the owner's vault.
func (n *Node) VaultClose(owner [20]byte) error {
	return n.withTxn(func() error {
		return n.vaultEngine.Close(owner)
	})
}

// VaultGet returns the owner's vault state record.
func (n *Node) VaultGet(owner [20]byte) (*vault.State, error) {
	var record *vault.State
	err := n.withRead(func() error {
		var innerErr error
		record, innerErr = n.vaultEngine.Get(owner)
		return innerErr
	})
	return record, err
}

// --- staking operations ---

// StakeInitialize creates the owner's staking record.
func (n *Node) StakeInitialize(owner [20]byte) (*staking.UserRecord, error) {
	var record *staking.UserRecord
	err := n.withTxn(func() error {
		var innerErr error
		record, innerErr = n.stakingEngine.InitializeUser(owner)
		return innerErr
	})
	return record, err
}

// Stake freezes native funds against the owner's staking record.
func (n *Node) Stake(owner [20]byte, amount *big.Int) (*staking.UserRecord, error) {
	var record *staking.UserRecord
	err := n.withTxn(func() error {
		var innerErr error
		record, innerErr = n.stakingEngine.Stake(owner, amount)
		return innerErr
	})
	return record, err
}

// Unstake releases frozen funds and accrues points.
func (n *Node) Unstake(owner [20]byte) (*staking.UserRecord, error) {
	var record *staking.UserRecord
	err := n.withTxn(func() error {
		var innerErr error
		record, innerErr = n.stakingEngine.Unstake(owner)
		return innerErr
	})
	return record, err
}

// StakeClaim converts accrued points into reward credit.
func (n *Node) StakeClaim(owner [20]byte) (*staking.UserRecord, error) {
	var record *staking.UserRecord
	err := n.withTxn(func() error {
		var innerErr error
		record, innerErr = n.stakingEngine.Claim(owner)
		return innerErr
	})
	return record, err
}

// StakeGet returns the owner's staking record.
func (n *Node) StakeGet(owner [20]byte) (*staking.UserRecord, error) {
	var record *staking.UserRecord
	err := n.withRead(func() error {
		var innerErr error
		record, innerErr = n.stakingEngine.Get(owner)
		return innerErr
	})
	return record, err
}

// --- ledger queries ---

// Balance returns the token balance of an address.
func (n *Node) Balance(addr [20]byte, token string) (*big.Int, error) {
	var balance *big.Int
	err := n.withRead(func() error {
		var innerErr error
		balance, innerErr = n.state.Balance(addr, token)
		return innerErr
	})
	return balance, err
}

// Tokens returns metadata for every registered token.
func (n *Node) Tokens() ([]state.TokenMetadata, error) {
	var out []state.TokenMetadata
	err := n.withRead(func() error {
		list, innerErr := n.state.TokenList()
		if innerErr != nil {
			return innerErr
		}
		out = make([]state.TokenMetadata, 0, len(list))
		for _, symbol := range list {
			meta, metaErr := n.state.Token(symbol)
			if metaErr != nil {
				return metaErr
			}
			out = append(out, *meta)
		}
		return nil
	})
	return out, err
}
