package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"fluxpay/core"
	"fluxpay/crypto"
)

// allowanceParams selects an allowance either by address or by the
// giver/recipient pair it is derived from.
type allowanceParams struct {
	Address   string `json:"address,omitempty"`
	Giver     string `json:"giver,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func decodeAllowanceParams(req *RPCRequest) (allowanceParams, *RPCError) {
	var params allowanceParams
	if len(req.Params) != 1 {
		return params, invalidParams("parameter object required", nil)
	}
	raw := bytes.TrimSpace(req.Params[0])
	if len(raw) > 0 && raw[0] == '"' {
		var address string
		if err := json.Unmarshal(raw, &address); err != nil {
			return params, invalidParams("invalid address", err.Error())
		}
		params.Address = address
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, invalidParams("invalid parameter object", err.Error())
	}
	return params, nil
}

func parsePair(params allowanceParams) (crypto.Address, crypto.Address, *RPCError) {
	giver, err := crypto.ParseAddress(params.Giver)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, invalidParams("invalid giver", err.Error())
	}
	recipient, err := crypto.ParseAddress(params.Recipient)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, invalidParams("invalid recipient", err.Error())
	}
	return giver, recipient, nil
}

func (s *Server) handleAllowanceGet(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	params, rpcErr := decodeAllowanceParams(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var (
		view *core.AllowanceView
		err  error
	)
	if strings.TrimSpace(params.Address) != "" {
		addr, parseErr := crypto.ParseAddress(params.Address)
		if parseErr != nil {
			return nil, invalidParams("invalid address", parseErr.Error())
		}
		view, err = s.ledger.Allowance(addr)
	} else {
		giver, recipient, pairErr := parsePair(params)
		if pairErr != nil {
			return nil, pairErr
		}
		view, err = s.ledger.AllowanceFor(giver, recipient)
	}
	if err != nil {
		return nil, ledgerError(err)
	}
	return allowanceResult(view, s.ledger.Now()), nil
}

func (s *Server) handleAllowanceDeriveAddress(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	params, rpcErr := decodeAllowanceParams(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	giver, recipient, rpcErr := parsePair(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, bump, err := s.ledger.DeriveAllowanceAddress(giver, recipient)
	if err != nil {
		return nil, ledgerError(err)
	}
	return DeriveResult{Address: addr.String(), Bump: bump}, nil
}

func (s *Server) handleAllowanceListByGiver(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.listAllowances(r, req, true)
}

func (s *Server) handleAllowanceListByRecipient(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.listAllowances(r, req, false)
}

func (s *Server) listAllowances(r *http.Request, req *RPCRequest, byGiver bool) (interface{}, *RPCError) {
	if s.index == nil {
		return nil, newError(http.StatusServiceUnavailable, codeUnavailable, "allowance index not enabled", nil)
	}
	params, rpcErr := decodeAllowanceParams(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	party := params.Recipient
	field := "recipient"
	if byGiver {
		party = params.Giver
		field = "giver"
	}
	if party == "" {
		party = params.Address
	}
	addr, err := crypto.ParseAddress(party)
	if err != nil {
		return nil, invalidParams("invalid "+field, err.Error())
	}
	list := s.index.ByRecipient
	if byGiver {
		list = s.index.ByGiver
	}
	records, err := list(r.Context(), addr.String(), params.Limit)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, codeServerError, "allowance index query failed", err.Error())
	}
	return indexedResults(records), nil
}

func (s *Server) handleAllowanceHistory(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.index == nil {
		return nil, newError(http.StatusServiceUnavailable, codeUnavailable, "allowance index not enabled", nil)
	}
	params, rpcErr := decodeAllowanceParams(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams("invalid address", err.Error())
	}
	entries, err := s.index.History(r.Context(), addr.String(), params.Limit)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, codeServerError, "allowance index query failed", err.Error())
	}
	return activityResults(entries), nil
}
