package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/observability"
	fluxotel "fluxpay/observability/otel"
)

type airdropParams struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

func (s *Server) handleSendTransaction(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if len(req.Params) != 1 {
		return nil, invalidParams("transaction parameter required", nil)
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return nil, invalidParams("invalid transaction format", err.Error())
	}
	if !tx.Type.Valid() {
		return nil, invalidParams("unknown transaction type", byte(tx.Type))
	}
	if source := clientSource(r); !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle("flux", "rate_limit")
		return nil, newError(http.StatusTooManyRequests, codeRateLimited, "transaction rate limit exceeded", source)
	}
	_, span := fluxotel.Tracer().Start(r.Context(), "ledger.submit", trace.WithAttributes(
		attribute.String("tx.type", tx.Type.String()),
		attribute.String("tx.from", tx.From.String()),
		attribute.Int64("tx.nonce", int64(tx.Nonce)),
	))
	defer span.End()
	receipt, err := s.ledger.Submit(&tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, ledgerError(err)
	}
	span.SetAttributes(attribute.Int64("tx.height", int64(receipt.Height)))
	s.logger.Info("transaction committed",
		"requestId", RequestIDFromContext(r.Context()),
		"type", tx.Type.String(),
		"txHash", receipt.TxHash.Hex(),
		"height", receipt.Height)
	return receiptResult(receipt), nil
}

func (s *Server) handleGetBalance(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := addressParam(req, "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, err := s.ledger.Account(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	return BalanceResult{Address: addr.String(), Balance: account.Balance, Nonce: account.Nonce}, nil
}

func (s *Server) handleGetReceipt(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	raw, rpcErr := stringParam(req, "transaction hash")
	if rpcErr != nil {
		return nil, rpcErr
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(trimmed) != 2*common.HashLength {
		return nil, invalidParams("transaction hash must be 32 bytes of hex", raw)
	}
	hash := common.HexToHash(trimmed)
	receipt, err := s.ledger.Receipt(hash)
	if err != nil {
		return nil, ledgerError(err)
	}
	return receiptResult(receipt), nil
}

func (s *Server) handleStatus(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	status, err := s.ledger.Status()
	if err != nil {
		return nil, ledgerError(err)
	}
	return status, nil
}

func (s *Server) handleAirdrop(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if !s.cfg.FaucetEnabled {
		return nil, newError(http.StatusForbidden, codeForbidden, "faucet disabled", nil)
	}
	if authErr := s.auth.authorize(r); authErr != nil {
		return nil, authErr
	}
	if len(req.Params) != 1 {
		return nil, invalidParams("airdrop parameter object required", nil)
	}
	var params airdropParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return nil, invalidParams("invalid airdrop parameters", err.Error())
	}
	to, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams("invalid address", err.Error())
	}
	if params.Amount == 0 {
		return nil, invalidParams("amount must be positive", nil)
	}
	if s.cfg.FaucetMaxAmount > 0 && params.Amount > s.cfg.FaucetMaxAmount {
		return nil, invalidParams(fmt.Sprintf("amount exceeds faucet limit of %d lamports", s.cfg.FaucetMaxAmount), nil)
	}
	if source := clientSource(r); !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle("flux", "rate_limit")
		return nil, newError(http.StatusTooManyRequests, codeRateLimited, "faucet rate limit exceeded", source)
	}
	receipt, err := s.ledger.Airdrop(to, params.Amount)
	if err != nil {
		return nil, ledgerError(err)
	}
	s.logger.Info("airdrop committed",
		"requestId", RequestIDFromContext(r.Context()),
		"to", to.String(),
		"amount", params.Amount)
	return receiptResult(receipt), nil
}

func stringParam(req *RPCRequest, name string) (string, *RPCError) {
	if len(req.Params) != 1 {
		return "", invalidParams(name+" parameter required", nil)
	}
	var value string
	if err := json.Unmarshal(req.Params[0], &value); err != nil {
		return "", invalidParams("invalid "+name, err.Error())
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalidParams(name+" parameter required", nil)
	}
	return value, nil
}

func addressParam(req *RPCRequest, name string) (crypto.Address, *RPCError) {
	raw, rpcErr := stringParam(req, name)
	if rpcErr != nil {
		return crypto.Address{}, rpcErr
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, invalidParams("invalid "+name, err.Error())
	}
	return addr, nil
}
