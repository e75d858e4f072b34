package escrow_test

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/storage"
)

const (
	recordReserve  = 10
	holdingReserve = 5
)

type eventRecorder struct {
	events []events.Event
}

func (r *eventRecorder) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func newTestLedger(t *testing.T) *state.Manager {
	t.Helper()
	manager, err := state.NewManager(storage.NewMemDB(), state.Params{
		NativeToken:    "ESC",
		RecordReserve:  big.NewInt(recordReserve),
		HoldingReserve: big.NewInt(holdingReserve),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for _, token := range []struct {
		symbol string
		name   string
	}{
		{"ESC", "Escrow Coin"},
		{"AAA", "Token A"},
		{"BBB", "Token B"},
	} {
		if err := manager.RegisterToken(token.symbol, token.name, 18); err != nil {
			t.Fatalf("register %s: %v", token.symbol, err)
		}
	}
	return manager
}

func newTestEngine(t *testing.T) (*escrow.Engine, *state.Manager, *eventRecorder) {
	t.Helper()
	manager := newTestLedger(t)
	recorder := &eventRecorder{}
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return 1700000000 })
	return engine, manager, recorder
}

func fund(t *testing.T, manager *state.Manager, a [20]byte, token string, amount int64) {
	t.Helper()
	if err := manager.SetBalance(a, token, big.NewInt(amount)); err != nil {
		t.Fatalf("fund %s: %v", token, err)
	}
}

func balance(t *testing.T, manager *state.Manager, a [20]byte, token string) *big.Int {
	t.Helper()
	got, err := manager.Balance(a, token)
	if err != nil {
		t.Fatalf("balance %s: %v", token, err)
	}
	return got
}

func TestMakeLocksDeposit(t *testing.T) {
	engine, manager, recorder := newTestEngine(t)
	maker := addr(1)
	fund(t, manager, maker, "AAA", 100)
	fund(t, manager, maker, "ESC", recordReserve+holdingReserve)

	offer, err := engine.Make(maker, 7, "aaa", "bbb", big.NewInt(50), big.NewInt(100))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if offer.OfferedToken != "AAA" || offer.RequestedToken != "BBB" {
		t.Fatalf("tokens not normalised: %+v", offer)
	}
	if offer.RequestedAmount.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("requested amount = %s, want 50", offer.RequestedAmount)
	}

	derived, err := escrow.RecordAddress(maker, 7)
	if err != nil {
		t.Fatalf("record address: %v", err)
	}
	if offer.Address != derived.Address || offer.Bump != derived.Bump {
		t.Fatal("stored derivation does not match fresh derivation")
	}

	vault, err := escrow.VaultAddress(offer.Address, offer.OfferedToken)
	if err != nil {
		t.Fatalf("vault address: %v", err)
	}
	if got := balance(t, manager, vault.Address, "AAA"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault balance = %s, want 100", got)
	}
	if got := balance(t, manager, maker, "AAA"); got.Sign() != 0 {
		t.Fatalf("maker balance = %s, want 0", got)
	}
	// Both reserves came out of the maker's native balance.
	if got := balance(t, manager, maker, "ESC"); got.Sign() != 0 {
		t.Fatalf("maker native balance = %s, want 0", got)
	}

	if len(recorder.events) != 1 || recorder.events[0].EventType() != escrow.EventTypeOfferCreated {
		t.Fatalf("unexpected events: %+v", recorder.events)
	}
}

func TestMakeDuplicateOfferID(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	maker := addr(1)
	fund(t, manager, maker, "AAA", 200)
	fund(t, manager, maker, "ESC", 2*(recordReserve+holdingReserve))

	if _, err := engine.Make(maker, 7, "AAA", "BBB", big.NewInt(50), big.NewInt(60)); err != nil {
		t.Fatalf("first make: %v", err)
	}
	_, err := engine.Make(maker, 7, "AAA", "BBB", big.NewInt(50), big.NewInt(60))
	if !errors.Is(err, types.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	// A different offer id derives a fresh address and succeeds.
	if _, err := engine.Make(maker, 8, "AAA", "BBB", big.NewInt(50), big.NewInt(60)); err != nil {
		t.Fatalf("second offer id: %v", err)
	}
}

func TestMakeValidation(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	maker := addr(1)
	fund(t, manager, maker, "AAA", 100)
	fund(t, manager, maker, "ESC", recordReserve+holdingReserve)

	if _, err := engine.Make(maker, 1, "AAA", "XYZ", big.NewInt(50), big.NewInt(10)); !errors.Is(err, types.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if _, err := engine.Make(maker, 1, "AAA", "BBB", big.NewInt(50), big.NewInt(0)); err == nil {
		t.Fatal("expected zero deposit to fail")
	}
	if _, err := engine.Make(maker, 1, "AAA", "BBB", big.NewInt(50), big.NewInt(500)); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Permissive defaults: zero requested amount and self swaps are allowed.
	if _, err := engine.Make(maker, 2, "AAA", "BBB", big.NewInt(0), big.NewInt(10)); err != nil {
		t.Fatalf("zero requested amount under default policy: %v", err)
	}
}

func TestMakePolicySwitches(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	engine.SetPolicy(escrow.Policy{RejectZeroAmount: true, RejectSelfSwap: true})
	maker := addr(1)
	fund(t, manager, maker, "AAA", 100)
	fund(t, manager, maker, "ESC", recordReserve+holdingReserve)

	if _, err := engine.Make(maker, 1, "AAA", "BBB", big.NewInt(0), big.NewInt(10)); !errors.Is(err, escrow.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := engine.Make(maker, 1, "AAA", "AAA", big.NewInt(5), big.NewInt(10)); !errors.Is(err, escrow.ErrSelfSwap) {
		t.Fatalf("expected ErrSelfSwap, got %v", err)
	}
}

func TestTakeSettlesAtomically(t *testing.T) {
	engine, manager, recorder := newTestEngine(t)
	maker, taker := addr(1), addr(2)
	fund(t, manager, maker, "AAA", 100)
	fund(t, manager, maker, "ESC", recordReserve+holdingReserve)
	fund(t, manager, taker, "BBB", 50)

	offer, err := engine.Make(maker, 7, "AAA", "BBB", big.NewInt(50), big.NewInt(100))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	settled, err := engine.Take(taker, offer.Address)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if settled.OfferID != 7 {
		t.Fatalf("settled offer id = %d, want 7", settled.OfferID)
	}

	// The taker paid the maker and drained the vault.
	if got := balance(t, manager, maker, "BBB"); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("maker BBB = %s, want 50", got)
	}
	if got := balance(t, manager, taker, "AAA"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("taker AAA = %s, want 100", got)
	}
	if got := balance(t, manager, taker, "BBB"); got.Sign() != 0 {
		t.Fatalf("taker BBB = %s, want 0", got)
	}
	// Both reserves went to the taker for closing the record and vault.
	if got := balance(t, manager, taker, "ESC"); got.Cmp(big.NewInt(recordReserve+holdingReserve)) != 0 {
		t.Fatalf("taker ESC = %s, want %d", got, recordReserve+holdingReserve)
	}

	if _, err := engine.Get(offer.Address); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
	// Second take against the settled record finds nothing.
	if _, err := engine.Take(taker, offer.Address); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if len(recorder.events) != 2 || recorder.events[1].EventType() != escrow.EventTypeOfferSettled {
		t.Fatalf("unexpected events: %+v", recorder.events)
	}
}

func TestTakeInsufficientPayment(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	maker, taker := addr(1), addr(2)
	fund(t, manager, maker, "AAA", 100)
	fund(t, manager, maker, "ESC", recordReserve+holdingReserve)
	fund(t, manager, taker, "BBB", 49)

	offer, err := engine.Make(maker, 7, "AAA", "BBB", big.NewInt(50), big.NewInt(100))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if _, err := engine.Take(taker, offer.Address); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// The offer survives a failed take untouched.
	if _, err := engine.Get(offer.Address); err != nil {
		t.Fatalf("offer should still exist: %v", err)
	}
}

func TestRefundReturnsDeposit(t *testing.T) {
	engine, manager, recorder := newTestEngine(t)
	maker, stranger := addr(1), addr(3)
	fund(t, manager, maker, "AAA", 100)
	fund(t, manager, maker, "ESC", recordReserve+holdingReserve)

	offer, err := engine.Make(maker, 7, "AAA", "BBB", big.NewInt(50), big.NewInt(100))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	// Only the maker may refund.
	if _, err := engine.Refund(stranger, offer.Address); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.Refund(maker, offer.Address); err != nil {
		t.Fatalf("refund: %v", err)
	}

	// Deposit and both reserves are back where they started.
	if got := balance(t, manager, maker, "AAA"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("maker AAA = %s, want 100", got)
	}
	if got := balance(t, manager, maker, "ESC"); got.Cmp(big.NewInt(recordReserve+holdingReserve)) != 0 {
		t.Fatalf("maker ESC = %s, want %d", got, recordReserve+holdingReserve)
	}
	if _, err := engine.Get(offer.Address); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
	if _, err := engine.Refund(maker, offer.Address); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double refund, got %v", err)
	}

	if len(recorder.events) != 2 || recorder.events[1].EventType() != escrow.EventTypeOfferRefunded {
		t.Fatalf("unexpected events: %+v", recorder.events)
	}
}

func TestSwapConservesSupply(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	maker, taker := addr(1), addr(2)
	fund(t, manager, maker, "AAA", 100)
	fund(t, manager, maker, "ESC", 40)
	fund(t, manager, taker, "BBB", 80)
	fund(t, manager, taker, "ESC", 3)

	offer, err := engine.Make(maker, 1, "AAA", "BBB", big.NewInt(50), big.NewInt(70))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if _, err := engine.Take(taker, offer.Address); err != nil {
		t.Fatalf("take: %v", err)
	}

	sum := func(token string) *big.Int {
		total := new(big.Int)
		for _, a := range [][20]byte{maker, taker} {
			total.Add(total, balance(t, manager, a, token))
		}
		return total
	}
	// Every unit, reserves included, ends up with the two parties once the
	// derived accounts are gone.
	if got := sum("AAA"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("AAA supply = %s, want 100", got)
	}
	if got := sum("BBB"); got.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("BBB supply = %s, want 80", got)
	}
	if got := sum("ESC"); got.Cmp(big.NewInt(43)) != 0 {
		t.Fatalf("ESC supply = %s, want 43", got)
	}
}
