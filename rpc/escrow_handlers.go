package rpc

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

type escrowMakeParams struct {
	Maker           string `json:"maker"`
	OfferID         uint64 `json:"offerId"`
	OfferedToken    string `json:"offeredToken"`
	RequestedToken  string `json:"requestedToken"`
	RequestedAmount string `json:"requestedAmount"`
	DepositAmount   string `json:"depositAmount"`
}

type escrowRecordParams struct {
	Record string `json:"record"`
}

type escrowActorParams struct {
	Caller string `json:"caller"`
	Record string `json:"record"`
}

type offerJSON struct {
	Record          string `json:"record"`
	OfferID         uint64 `json:"offerId"`
	Maker           string `json:"maker"`
	OfferedToken    string `json:"offeredToken"`
	RequestedToken  string `json:"requestedToken"`
	RequestedAmount string `json:"requestedAmount"`
	Bump            uint8  `json:"bump"`
	CreatedAt       uint64 `json:"createdAt"`
}

func offerToJSON(o *escrow.Offer) offerJSON {
	out := offerJSON{
		OfferID:        o.OfferID,
		OfferedToken:   o.OfferedToken,
		RequestedToken: o.RequestedToken,
		Bump:           o.Bump,
		CreatedAt:      o.CreatedAt,
	}
	record, _ := crypto.NewAddress(o.Address[:])
	maker, _ := crypto.NewAddress(o.Maker[:])
	out.Record = record.String()
	out.Maker = maker.String()
	if o.RequestedAmount != nil {
		out.RequestedAmount = o.RequestedAmount.String()
	} else {
		out.RequestedAmount = "0"
	}
	return out
}

func parseAddress(field, value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr.Bytes(), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: amount required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: amount must be non-negative", field)
	}
	return amount, nil
}

func (s *Server) handleEscrowMake(w http.ResponseWriter, req *RPCRequest) {
	var params escrowMakeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	maker, err := parseAddress("maker", params.Maker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	requested, err := parseAmount("requestedAmount", params.RequestedAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deposit, err := parseAmount("depositAmount", params.DepositAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	offer, err := s.node.EscrowMake(maker, params.OfferID, params.OfferedToken, params.RequestedToken, requested, deposit)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerToJSON(offer))
}

func (s *Server) handleEscrowTake(w http.ResponseWriter, req *RPCRequest) {
	var params escrowActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	taker, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := parseAddress("record", params.Record)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	offer, err := s.node.EscrowTake(taker, record)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerToJSON(offer))
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, req *RPCRequest) {
	var params escrowActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := parseAddress("record", params.Record)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	offer, err := s.node.EscrowRefund(caller, record)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerToJSON(offer))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) {
	var params escrowRecordParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := parseAddress("record", params.Record)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	offer, err := s.node.EscrowGet(record)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerToJSON(offer))
}
