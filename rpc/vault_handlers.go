package rpc

import (
	"math/big"
	"net/http"

	"escrowd/crypto"
	"escrowd/native/vault"
)

type vaultOwnerParams struct {
	Owner string `json:"owner"`
}

type vaultAmountParams struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type vaultJSON struct {
	Owner       string `json:"owner"`
	State       string `json:"state"`
	Holding     string `json:"holding"`
	StateBump   uint8  `json:"stateBump"`
	HoldingBump uint8  `json:"holdingBump"`
	CreatedAt   uint64 `json:"createdAt"`
}

func vaultToJSON(record *vault.State) vaultJSON {
	owner, _ := crypto.NewAddress(record.Owner[:])
	stateAddr, _ := crypto.NewAddress(record.StateAddress[:])
	holding, _ := crypto.NewAddress(record.HoldingAddress[:])
	return vaultJSON{
		Owner:       owner.String(),
		State:       stateAddr.String(),
		Holding:     holding.String(),
		StateBump:   record.StateBump,
		HoldingBump: record.HoldingBump,
		CreatedAt:   record.CreatedAt,
	}
}

func (s *Server) handleVaultInitialize(w http.ResponseWriter, req *RPCRequest) {
	var params vaultOwnerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.VaultInitialize(owner)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultToJSON(record))
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, req *RPCRequest) {
	s.handleVaultMove(w, req, s.node.VaultDeposit)
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, req *RPCRequest) {
	s.handleVaultMove(w, req, s.node.VaultWithdraw)
}

func (s *Server) handleVaultMove(w http.ResponseWriter, req *RPCRequest, op func([20]byte, *big.Int) (*vault.State, error)) {
	var params vaultAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := op(owner, amount)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultToJSON(record))
}

func (s *Server) handleVaultClose(w http.ResponseWriter, req *RPCRequest) {
	var params vaultOwnerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.VaultClose(owner); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"closed": true})
}

func (s *Server) handleVaultGet(w http.ResponseWriter, req *RPCRequest) {
	var params vaultOwnerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.VaultGet(owner)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultToJSON(record))
}
