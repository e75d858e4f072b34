package core

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/core/types"
	"escrowd/native/staking"
	"escrowd/storage"
)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func testConfig(allocations []GenesisAllocation) Config {
	return Config{
		NativeToken:    "ESC",
		RecordReserve:  big.NewInt(10),
		HoldingReserve: big.NewInt(5),
		Staking:        staking.Config{PointsPerStake: 1, MaxStake: 4, FreezePeriod: 60},
		Genesis: Genesis{
			Tokens: []GenesisToken{
				{Symbol: "ESC", Name: "Escrow Coin", Decimals: 18},
				{Symbol: "AAA", Name: "Token A", Decimals: 18},
				{Symbol: "BBB", Name: "Token B", Decimals: 18},
			},
			Allocations: allocations,
		},
	}
}

func TestGenesisAppliedOnce(t *testing.T) {
	db := storage.NewMemDB()
	alice := testAddr(1)
	cfg := testConfig([]GenesisAllocation{
		{Address: alice, Token: "ESC", Amount: big.NewInt(1000)},
	})
	node, err := NewNode(db, cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	got, err := node.Balance(alice, "ESC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("allocation = %s, want 1000", got)
	}
	if _, err := node.VaultInitialize(alice); err != nil {
		t.Fatalf("vault initialize: %v", err)
	}
	if _, err := node.VaultDeposit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("vault deposit: %v", err)
	}

	// A restart over the same database must not re-run genesis or lose state.
	restarted, err := NewNode(db, cfg)
	if err != nil {
		t.Fatalf("restart node: %v", err)
	}
	record, err := restarted.VaultGet(alice)
	if err != nil {
		t.Fatalf("vault get after restart: %v", err)
	}
	held, err := restarted.Balance(record.HoldingAddress, "ESC")
	if err != nil {
		t.Fatalf("holding balance: %v", err)
	}
	if held.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("holding after restart = %s, want 100", held)
	}
}

func TestGenesisRequiresNativeToken(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Genesis.Tokens = cfg.Genesis.Tokens[1:] // drop ESC
	if _, err := NewNode(storage.NewMemDB(), cfg); err == nil {
		t.Fatal("expected genesis without native token to fail")
	}
}

func TestEscrowRoundTripThroughNode(t *testing.T) {
	maker, taker := testAddr(1), testAddr(2)
	node, err := NewNode(storage.NewMemDB(), testConfig([]GenesisAllocation{
		{Address: maker, Token: "AAA", Amount: big.NewInt(100)},
		{Address: maker, Token: "ESC", Amount: big.NewInt(15)},
		{Address: taker, Token: "BBB", Amount: big.NewInt(50)},
	}))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	offer, err := node.EscrowMake(maker, 1, "AAA", "BBB", big.NewInt(50), big.NewInt(100))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if _, err := node.EscrowGet(offer.Address); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := node.EscrowTake(taker, offer.Address); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := node.EscrowGet(offer.Address); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after take, got %v", err)
	}
	got, err := node.Balance(taker, "AAA")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("taker AAA = %s, want 100", got)
	}
	if events := node.RecentEvents(); len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestFailedOperationLeavesNoTrace(t *testing.T) {
	maker := testAddr(1)
	node, err := NewNode(storage.NewMemDB(), testConfig([]GenesisAllocation{
		{Address: maker, Token: "AAA", Amount: big.NewInt(100)},
		// No native balance: the reserve debit inside Make must fail.
	}))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if _, err := node.EscrowMake(maker, 1, "AAA", "BBB", big.NewInt(50), big.NewInt(100)); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	got, err := node.Balance(maker, "AAA")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("maker AAA after failed make = %s, want 100", got)
	}
	record, err := node.Tokens()
	if err != nil || len(record) != 3 {
		t.Fatalf("tokens: %v %v", record, err)
	}
}
