package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/native/staking"
	"escrowd/storage"
)

const testToken = "test-token"

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func encodeAddr(t *testing.T, a [20]byte) string {
	t.Helper()
	addr, err := crypto.NewAddress(a[:])
	if err != nil {
		t.Fatalf("encode address: %v", err)
	}
	return addr.String()
}

func newTestServer(t *testing.T) (*httptest.Server, [20]byte, [20]byte) {
	t.Helper()
	maker, taker := testAddr(1), testAddr(2)
	node, err := core.NewNode(storage.NewMemDB(), core.Config{
		NativeToken:    "ESC",
		RecordReserve:  big.NewInt(10),
		HoldingReserve: big.NewInt(5),
		Staking:        staking.Config{PointsPerStake: 1, MaxStake: 4, FreezePeriod: 60},
		Genesis: core.Genesis{
			Tokens: []core.GenesisToken{
				{Symbol: "ESC", Name: "Escrow Coin", Decimals: 18},
				{Symbol: "AAA", Name: "Token A", Decimals: 18},
				{Symbol: "BBB", Name: "Token B", Decimals: 18},
			},
			Allocations: []core.GenesisAllocation{
				{Address: maker, Token: "AAA", Amount: big.NewInt(100)},
				{Address: maker, Token: "ESC", Amount: big.NewInt(100)},
				{Address: taker, Token: "BBB", Amount: big.NewInt(100)},
			},
		},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	server := httptest.NewServer(NewServer(node, testToken).Handler())
	t.Cleanup(server.Close)
	return server, maker, taker
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func call(t *testing.T, url, method string, params interface{}, authed bool) rawResponse {
	t.Helper()
	var rawParams []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		rawParams = append(rawParams, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func TestEscrowOverRPC(t *testing.T) {
	server, maker, taker := newTestServer(t)

	resp := call(t, server.URL, "escrow_make", escrowMakeParams{
		Maker:           encodeAddr(t, maker),
		OfferID:         1,
		OfferedToken:    "AAA",
		RequestedToken:  "BBB",
		RequestedAmount: "50",
		DepositAmount:   "100",
	}, true)
	if resp.Error != nil {
		t.Fatalf("make error: %+v", resp.Error)
	}
	var offer offerJSON
	if err := json.Unmarshal(resp.Result, &offer); err != nil {
		t.Fatalf("unmarshal offer: %v", err)
	}
	if offer.RequestedAmount != "50" || offer.OfferedToken != "AAA" {
		t.Fatalf("unexpected offer: %+v", offer)
	}

	resp = call(t, server.URL, "escrow_get", escrowRecordParams{Record: offer.Record}, false)
	if resp.Error != nil {
		t.Fatalf("get error: %+v", resp.Error)
	}

	resp = call(t, server.URL, "escrow_take", escrowActorParams{
		Caller: encodeAddr(t, taker),
		Record: offer.Record,
	}, true)
	if resp.Error != nil {
		t.Fatalf("take error: %+v", resp.Error)
	}

	resp = call(t, server.URL, "escrow_get", escrowRecordParams{Record: offer.Record}, false)
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("expected codeNotFound after take, got %+v", resp.Error)
	}

	resp = call(t, server.URL, "ledger_balance", balanceParams{
		Address: encodeAddr(t, taker),
		Token:   "AAA",
	}, false)
	if resp.Error != nil {
		t.Fatalf("balance error: %+v", resp.Error)
	}
	var balance balanceJSON
	if err := json.Unmarshal(resp.Result, &balance); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if balance.Amount != "100" {
		t.Fatalf("taker AAA = %s, want 100", balance.Amount)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server, maker, _ := newTestServer(t)
	resp := call(t, server.URL, "escrow_make", escrowMakeParams{
		Maker:           encodeAddr(t, maker),
		OfferID:         1,
		OfferedToken:    "AAA",
		RequestedToken:  "BBB",
		RequestedAmount: "50",
		DepositAmount:   "100",
	}, false)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected codeUnauthorized, got %+v", resp.Error)
	}
	// Reads stay open.
	if resp := call(t, server.URL, "ledger_tokens", nil, false); resp.Error != nil {
		t.Fatalf("ledger_tokens error: %+v", resp.Error)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	server, maker, _ := newTestServer(t)

	resp := call(t, server.URL, "escrow_get", escrowRecordParams{Record: encodeAddr(t, testAddr(9))}, false)
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("expected codeNotFound, got %+v", resp.Error)
	}

	resp = call(t, server.URL, "escrow_make", escrowMakeParams{
		Maker:           encodeAddr(t, maker),
		OfferID:         2,
		OfferedToken:    "AAA",
		RequestedToken:  "XYZ",
		RequestedAmount: "50",
		DepositAmount:   "10",
	}, true)
	if resp.Error == nil || resp.Error.Code != codeUnknownAsset {
		t.Fatalf("expected codeUnknownAsset, got %+v", resp.Error)
	}

	resp = call(t, server.URL, "escrow_make", escrowMakeParams{
		Maker:           "garbage",
		OfferID:         2,
		OfferedToken:    "AAA",
		RequestedToken:  "BBB",
		RequestedAmount: "50",
		DepositAmount:   "10",
	}, true)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected codeInvalidParams, got %+v", resp.Error)
	}

	resp = call(t, server.URL, "no_such_method", nil, false)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected codeMethodNotFound, got %+v", resp.Error)
	}
}

func TestVaultOverRPC(t *testing.T) {
	server, maker, _ := newTestServer(t)
	owner := encodeAddr(t, maker)

	if resp := call(t, server.URL, "vault_initialize", vaultOwnerParams{Owner: owner}, true); resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}
	if resp := call(t, server.URL, "vault_deposit", vaultAmountParams{Owner: owner, Amount: "50"}, true); resp.Error != nil {
		t.Fatalf("deposit error: %+v", resp.Error)
	}
	resp := call(t, server.URL, "vault_withdraw", vaultAmountParams{Owner: owner, Amount: "500"}, true)
	if resp.Error == nil || resp.Error.Code != codeInsufficientFunds {
		t.Fatalf("expected codeInsufficientFunds, got %+v", resp.Error)
	}
	if resp := call(t, server.URL, "vault_close", vaultOwnerParams{Owner: owner}, true); resp.Error != nil {
		t.Fatalf("close error: %+v", resp.Error)
	}
	resp = call(t, server.URL, "vault_get", vaultOwnerParams{Owner: owner}, false)
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("expected codeNotFound after close, got %+v", resp.Error)
	}
}
