package rpc

import (
	"net/http"

	"escrowd/crypto"
)

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type tokenJSON struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.node.Balance(addr, params.Token)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	encoded, _ := crypto.NewAddress(addr[:])
	writeResult(w, req.ID, balanceJSON{
		Address: encoded.String(),
		Token:   params.Token,
		Amount:  balance.String(),
	})
}

func (s *Server) handleLedgerTokens(w http.ResponseWriter, req *RPCRequest) {
	tokens, err := s.node.Tokens()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]tokenJSON, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, tokenJSON{Symbol: token.Symbol, Name: token.Name, Decimals: token.Decimals})
	}
	writeResult(w, req.ID, out)
}
