package rpc

import (
	"net/http"

	"escrowd/crypto"
	"escrowd/native/staking"
)

type stakeOwnerParams struct {
	Owner string `json:"owner"`
}

type stakeAmountParams struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type stakeJSON struct {
	Owner        string `json:"owner"`
	Record       string `json:"record"`
	Holding      string `json:"holding"`
	Points       uint64 `json:"points"`
	ActiveStakes uint8  `json:"activeStakes"`
	LastStakeAt  uint64 `json:"lastStakeAt"`
}

func stakeToJSON(record *staking.UserRecord) stakeJSON {
	owner, _ := crypto.NewAddress(record.Owner[:])
	recordAddr, _ := crypto.NewAddress(record.Address[:])
	holding, _ := crypto.NewAddress(record.HoldingAddress[:])
	return stakeJSON{
		Owner:        owner.String(),
		Record:       recordAddr.String(),
		Holding:      holding.String(),
		Points:       record.Points,
		ActiveStakes: record.ActiveStakes,
		LastStakeAt:  record.LastStakeAt,
	}
}

func (s *Server) handleStakeInitialize(w http.ResponseWriter, req *RPCRequest) {
	s.handleStakeOwnerOp(w, req, s.node.StakeInitialize)
}

func (s *Server) handleUnstake(w http.ResponseWriter, req *RPCRequest) {
	s.handleStakeOwnerOp(w, req, s.node.Unstake)
}

func (s *Server) handleStakeClaim(w http.ResponseWriter, req *RPCRequest) {
	s.handleStakeOwnerOp(w, req, s.node.StakeClaim)
}

func (s *Server) handleStakeGet(w http.ResponseWriter, req *RPCRequest) {
	s.handleStakeOwnerOp(w, req, s.node.StakeGet)
}

func (s *Server) handleStakeOwnerOp(w http.ResponseWriter, req *RPCRequest, op func([20]byte) (*staking.UserRecord, error)) {
	var params stakeOwnerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := op(owner)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stakeToJSON(record))
}

func (s *Server) handleStake(w http.ResponseWriter, req *RPCRequest) {
	var params stakeAmountParams
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
	record, err := s.node.Stake(owner, amount)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stakeToJSON(record))
}
