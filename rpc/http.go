package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/core"
	"escrowd/core/types"
	"escrowd/native/escrow"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001

	codeNotFound          = -32021
	codeForbidden         = -32022
	codeConflict          = -32023
	codeInsufficientFunds = -32024
	codeAssetMismatch     = -32025
	codeUnknownAsset      = -32026
	codePolicyRejected    = -32027
)

// Server exposes the node's operations over JSON-RPC 2.0. Mutating methods
// require a bearer token when one is configured; an empty token leaves the
// surface open, which is only sensible for local development.
type Server struct {
	node      *core.Node
	authToken string
}

func NewServer(node *core.Node, authToken string) *Server {
	return &Server{node: node, authToken: strings.TrimSpace(authToken)}
}

// Handler returns the full HTTP surface: the JSON-RPC endpoint at / and the
// Prometheus scrape endpoint at /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeLedgerError maps a node error onto the negative application code
// space. Anything unrecognised surfaces as a generic server error.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), nil)
	case errors.Is(err, types.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeForbidden, err.Error(), nil)
	case errors.Is(err, types.ErrAlreadyExists):
		writeError(w, http.StatusConflict, id, codeConflict, err.Error(), nil)
	case errors.Is(err, types.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, id, codeInsufficientFunds, err.Error(), nil)
	case errors.Is(err, types.ErrAssetMismatch):
		writeError(w, http.StatusUnprocessableEntity, id, codeAssetMismatch, err.Error(), nil)
	case errors.Is(err, types.ErrUnknownAsset):
		writeError(w, http.StatusUnprocessableEntity, id, codeUnknownAsset, err.Error(), nil)
	case errors.Is(err, escrow.ErrZeroAmount), errors.Is(err, escrow.ErrSelfSwap):
		writeError(w, http.StatusUnprocessableEntity, id, codePolicyRejected, err.Error(), nil)
	default:
		writeError(w, http.StatusBadRequest, id, codeServerError, err.Error(), nil)
	}
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// decodeParams unmarshals the first positional parameter into out.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("params required")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	outcome := s.dispatch(w, r, req)
	observeRequest(req.Method, outcome, time.Since(started))
}

// mutating lists the methods that change ledger state and therefore require
// the bearer token.
var mutating = map[string]bool{
	"escrow_make":      true,
	"escrow_take":      true,
	"escrow_refund":    true,
	"vault_initialize": true,
	"vault_deposit":    true,
	"vault_withdraw":   true,
	"vault_close":      true,
	"stake_initialize": true,
	"stake_stake":      true,
	"stake_unstake":    true,
	"stake_claim":      true,
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if mutating[req.Method] {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
	}
	switch req.Method {
	case "escrow_make":
		s.handleEscrowMake(w, req)
	case "escrow_take":
		s.handleEscrowTake(w, req)
	case "escrow_refund":
		s.handleEscrowRefund(w, req)
	case "escrow_get":
		s.handleEscrowGet(w, req)
	case "vault_initialize":
		s.handleVaultInitialize(w, req)
	case "vault_deposit":
		s.handleVaultDeposit(w, req)
	case "vault_withdraw":
		s.handleVaultWithdraw(w, req)
	case "vault_close":
		s.handleVaultClose(w, req)
	case "vault_get":
		s.handleVaultGet(w, req)
	case "stake_initialize":
		s.handleStakeInitialize(w, req)
	case "stake_stake":
		s.handleStake(w, req)
	case "stake_unstake":
		s.handleUnstake(w, req)
	case "stake_claim":
		s.handleStakeClaim(w, req)
	case "stake_get":
		s.handleStakeGet(w, req)
	case "ledger_balance":
		s.handleLedgerBalance(w, req)
	case "ledger_tokens":
		s.handleLedgerTokens(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return "not_found"
	}
	return "handled"
}
