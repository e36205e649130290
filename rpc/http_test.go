package rpc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"fluxpay/core"
	"fluxpay/core/types"
	"fluxpay/native/allowance"
	nativecommon "fluxpay/native/common"
)

func TestHandleRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, ServerConfig{MaxRequestBytes: 256})

	tests := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{name: "empty body", body: "  ", status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "bad json", body: "{", status: http.StatusBadRequest, code: codeParseError},
		{name: "wrong version", body: `{"jsonrpc":"1.0","method":"flux_status","id":1}`, status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "missing method", body: `{"jsonrpc":"2.0","id":1}`, status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "unknown method", body: `{"jsonrpc":"2.0","method":"eth_call","id":1}`, status: http.StatusNotFound, code: codeMethodNotFound},
		{name: "oversized", body: `{"jsonrpc":"2.0","method":"flux_status","params":["` + strings.Repeat("a", 512) + `"]}`, status: http.StatusRequestEntityTooLarge, code: codeInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := env.post(t, nil, []byte(tc.body))
			require.Equal(t, tc.status, res.status)
			require.NotNil(t, res.response.Error)
			require.Equal(t, tc.code, res.response.Error.Code)
		})
	}
}

func TestAllowanceLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	addr := env.open(t, 1_000_000_000, 1_000_000_000)

	var derived DeriveResult
	env.call(t, nil, "allowance_deriveAddress", map[string]string{
		"giver":     env.giver.addr().String(),
		"recipient": env.recipient.addr().Bech32(),
	}).decode(t, &derived)
	require.Equal(t, addr.String(), derived.Address)

	var receipt ReceiptResult
	env.submit(t, env.recipient, types.TxTypeAllowanceWithdraw, addr, 400_000_000, 0).decode(t, &receipt)
	require.Equal(t, "allowance_withdraw", receipt.Type)
	require.Equal(t, allowance.EventTypeAllowanceWithdrawn, receipt.Events[0].Type)

	var record AllowanceResult
	env.call(t, nil, "allowance_get", addr.String()).decode(t, &record)
	require.Equal(t, uint64(400_000_000), record.Withdrawn)
	require.Equal(t, uint64(600_000_000), record.Remaining)
	require.False(t, record.Expired)
	require.Equal(t, uint64(600_000_000+1_566_000), record.Balance)
	require.Equal(t, derived.Bump, record.Bump)

	var byPair AllowanceResult
	env.call(t, nil, "allowance_get", map[string]string{
		"giver":     env.giver.addr().String(),
		"recipient": env.recipient.addr().String(),
	}).decode(t, &byPair)
	require.Equal(t, record, byPair)

	var stored ReceiptResult
	env.call(t, nil, "flux_getReceipt", receipt.TxHash).decode(t, &stored)
	require.Equal(t, receipt, stored)

	var balance BalanceResult
	env.call(t, nil, "flux_getBalance", env.recipient.addr().String()).decode(t, &balance)
	require.Equal(t, uint64(400_000_000), balance.Balance)
	require.Equal(t, uint64(1), balance.Nonce)

	env.submit(t, env.giver, types.TxTypeAllowanceClose, addr, 0, 0).decode(t, &receipt)
	require.Equal(t, "601566000", receipt.Events[0].Attributes["reclaimed"])

	res := env.call(t, nil, "allowance_get", addr.String())
	require.Equal(t, http.StatusNotFound, res.status)
	require.Equal(t, codeNotFound, res.response.Error.Code)
	data := res.errorData(t)
	require.Equal(t, nativecommon.ErrAccountNotFound.Name, data.Name)
	require.Equal(t, nativecommon.ErrAccountNotFound.Code, data.Code)

	var status core.Status
	env.call(t, nil, "flux_status").decode(t, &status)
	require.Equal(t, uint64(4), status.Height)
	require.Equal(t, testProgramID, status.ProgramID)
}

func TestProgramErrorsCarryNameAndCode(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	addr := env.open(t, 100, 1_000)

	tests := []struct {
		name   string
		wallet *testWallet
		txType types.TxType
		amount uint64
		want   *nativecommon.Error
	}{
		{name: "over cap", wallet: env.recipient, txType: types.TxTypeAllowanceWithdraw, amount: 101, want: allowance.ErrInsufficientAllowance},
		{name: "wrong withdrawer", wallet: env.giver, txType: types.TxTypeAllowanceWithdraw, amount: 1, want: nativecommon.ErrUnauthorized},
		{name: "wrong closer", wallet: env.recipient, txType: types.TxTypeAllowanceClose, want: nativecommon.ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := env.submit(t, tc.wallet, tc.txType, addr, tc.amount, 0)
			require.Equal(t, http.StatusBadRequest, res.status)
			require.Equal(t, codeProgramError, res.response.Error.Code)
			data := res.errorData(t)
			require.Equal(t, tc.want.Name, data.Name)
			require.Equal(t, tc.want.Code, data.Code)
		})
	}

	res := env.submit(t, env.giver, types.TxTypeAllowanceCreate, env.recipient.addr(), 5, testNow)
	require.Equal(t, "AccountAlreadyInitialized", res.errorData(t).Name)
}

func TestSendTransactionRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	other := newTestWallet(t)

	tampered := env.giver.sign(t, types.TxTypeTransfer, other.addr(), 10, 0)
	tampered.Amount = 11
	res := env.call(t, nil, "flux_sendTransaction", tampered)
	require.Equal(t, codeInvalidParams, res.response.Error.Code)

	stale := env.giver.sign(t, types.TxTypeTransfer, other.addr(), 10, 0)
	stale.Nonce = 9
	require.NoError(t, stale.Sign(env.giver.key))
	res = env.call(t, nil, "flux_sendTransaction", stale)
	require.Equal(t, http.StatusConflict, res.status)
	require.Equal(t, codeNonceMismatch, res.response.Error.Code)

	unknown := &types.Transaction{Type: types.TxType(0x7f), To: other.addr()}
	res = env.call(t, nil, "flux_sendTransaction", unknown)
	require.Equal(t, codeInvalidParams, res.response.Error.Code)

	res = env.call(t, nil, "flux_sendTransaction")
	require.Equal(t, codeInvalidParams, res.response.Error.Code)

	res = env.call(t, nil, "flux_getReceipt", "0x1234")
	require.Equal(t, codeInvalidParams, res.response.Error.Code)
	res = env.call(t, nil, "flux_getReceipt", fmt.Sprintf("0x%064x", 1))
	require.Equal(t, codeNotFound, res.response.Error.Code)
}

func TestSendTransactionPausedModule(t *testing.T) {
	env := newTestEnvWithLedger(t, core.Config{
		Pauses: nativecommon.StaticPauses{nativecommon.ModuleAllowance: true},
	}, ServerConfig{})

	res := env.submit(t, env.giver, types.TxTypeAllowanceCreate, env.recipient.addr(), 5, testNow)
	require.Equal(t, http.StatusServiceUnavailable, res.status)
	require.Equal(t, codeModulePaused, res.response.Error.Code)

	var receipt ReceiptResult
	env.submit(t, env.giver, types.TxTypeTransfer, env.recipient.addr(), 5, 0).decode(t, &receipt)
}

func TestSendTransactionRateLimited(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RateLimitPerMinute: 1, RateLimitBurst: 1})
	other := newTestWallet(t)

	var receipt ReceiptResult
	env.submit(t, env.giver, types.TxTypeTransfer, other.addr(), 1, 0).decode(t, &receipt)
	res := env.submit(t, env.giver, types.TxTypeTransfer, other.addr(), 1, 0)
	require.Equal(t, http.StatusTooManyRequests, res.status)
	require.Equal(t, codeRateLimited, res.response.Error.Code)

	// Reads are not throttled.
	var balance BalanceResult
	env.call(t, nil, "flux_getBalance", other.addr().String()).decode(t, &balance)
	require.Equal(t, uint64(1), balance.Balance)

	// A different client has its own bucket.
	res = env.call(t, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "flux_sendTransaction",
		env.giver.sign(t, types.TxTypeTransfer, other.addr(), 1, 0))
	require.Nil(t, res.response.Error)
}

func faucetToken(t *testing.T, secret string, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "faucet-tests",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAirdropRequiresFaucetScope(t *testing.T) {
	env := newTestEnv(t, ServerConfig{FaucetEnabled: true, FaucetMaxAmount: 1_000, AuthSecret: testJWTSecret})
	target := newTestWallet(t).addr()
	params := map[string]interface{}{"address": target.String(), "amount": 500}

	res := env.call(t, nil, "flux_airdrop", params)
	require.Equal(t, http.StatusUnauthorized, res.status)
	require.Equal(t, codeUnauthorized, res.response.Error.Code)

	res = env.call(t, map[string]string{"Authorization": "Bearer " + faucetToken(t, "wrong-secret", "faucet")}, "flux_airdrop", params)
	require.Equal(t, codeUnauthorized, res.response.Error.Code)

	res = env.call(t, map[string]string{"Authorization": "Bearer " + faucetToken(t, testJWTSecret, "read")}, "flux_airdrop", params)
	require.Equal(t, http.StatusForbidden, res.status)
	require.Equal(t, codeForbidden, res.response.Error.Code)

	authorized := map[string]string{"Authorization": "Bearer " + faucetToken(t, testJWTSecret, "read faucet")}
	res = env.call(t, authorized, "flux_airdrop", map[string]interface{}{"address": target.String(), "amount": 5_000})
	require.Equal(t, codeInvalidParams, res.response.Error.Code)

	var receipt ReceiptResult
	env.call(t, authorized, "flux_airdrop", params).decode(t, &receipt)
	require.Equal(t, "airdrop", receipt.Type)
	require.Equal(t, target.String(), receipt.To)

	var balance BalanceResult
	env.call(t, nil, "flux_getBalance", target.String()).decode(t, &balance)
	require.Equal(t, uint64(500), balance.Balance)
}

func TestAirdropDisabled(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	res := env.call(t, nil, "flux_airdrop", map[string]interface{}{"address": env.giver.addr().String(), "amount": 1})
	require.Equal(t, http.StatusForbidden, res.status)
	require.Equal(t, codeForbidden, res.response.Error.Code)
}

func TestListAllowancesWithoutIndex(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	res := env.call(t, nil, "allowance_listByGiver", map[string]string{"giver": env.giver.addr().String()})
	require.Equal(t, http.StatusServiceUnavailable, res.status)
	require.Equal(t, codeUnavailable, res.response.Error.Code)

	res = env.call(t, nil, "allowance_history", env.giver.addr().String())
	require.Equal(t, http.StatusServiceUnavailable, res.status)
}

func TestRequestIDAndAuxiliaryRoutes(t *testing.T) {
	env := newTestEnv(t, ServerConfig{AllowedOrigins: []string{"https://wallet.example"}})

	res := env.call(t, map[string]string{requestIDHeader: "req-123"}, "flux_status")
	require.Equal(t, "req-123", res.header.Get(requestIDHeader))
	res = env.call(t, nil, "flux_status")
	require.Len(t, res.header.Get(requestIDHeader), 36)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "fluxpay_rpc_requests_total")

	preflight := httptest.NewRequest(http.MethodOptions, "/", nil)
	preflight.Header.Set("Origin", "https://wallet.example")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, preflight)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://wallet.example", rec.Header().Get("Access-Control-Allow-Origin"))

	other := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"jsonrpc":"2.0","method":"flux_status","id":1}`)))
	other.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, other)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientSource(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	require.Equal(t, "10.0.0.5", clientSource(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientSource(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "10.0.0.5", clientSource(req))
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := newRateLimiter(60, 1)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	require.True(t, limiter.allow("a"))
	require.False(t, limiter.allow("a"))
	require.True(t, limiter.allow("b"))

	now = now.Add(time.Second)
	require.True(t, limiter.allow("a"))

	require.True(t, newRateLimiter(0, 0).allow("a"))
}
