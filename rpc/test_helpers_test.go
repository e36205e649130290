package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"fluxpay/core"
	"fluxpay/core/genesis"
	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/storage"
)

const (
	testNow      = int64(1_700_000_000)
	testBalance  = uint64(5_000_000_000)
	testJWTSecret = "rpc-test-secret"
)

var testProgramID = crypto.MustParseAddress("12Gtmtu1JGNtnL1XSRi8qqXLdDWyD9d6oshGLANo6PAn")

type testWallet struct {
	key   *crypto.PrivateKey
	nonce uint64
}

func newTestWallet(t testing.TB) *testWallet {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return &testWallet{key: key}
}

func (w *testWallet) addr() crypto.Address { return w.key.PubKey().Address() }

func (w *testWallet) sign(t testing.TB, txType types.TxType, to crypto.Address, amount uint64, expiresAt int64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{Type: txType, Nonce: w.nonce, To: to, Amount: amount, ExpiresAt: expiresAt}
	require.NoError(t, tx.Sign(w.key))
	return tx
}

type testEnv struct {
	ledger    *core.Ledger
	server    *Server
	handler   http.Handler
	giver     *testWallet
	recipient *testWallet
}

func newTestEnv(t testing.TB, cfg ServerConfig) *testEnv {
	t.Helper()
	return newTestEnvWithLedger(t, core.Config{}, cfg)
}

func newTestEnvWithLedger(t testing.TB, ledgerCfg core.Config, cfg ServerConfig) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	ledgerCfg.Network = "fluxpay-test"
	ledgerCfg.ProgramID = testProgramID
	ledger, err := core.NewLedger(db, ledgerCfg)
	require.NoError(t, err)
	ledger.SetNowFunc(func() int64 { return testNow })

	env := &testEnv{ledger: ledger, giver: newTestWallet(t), recipient: newTestWallet(t)}
	require.NoError(t, ledger.ApplyGenesis(&genesis.Spec{Allocations: []genesis.Allocation{
		{Address: env.giver.addr().String(), Balance: testBalance},
	}}))
	env.server = NewServer(ledger, nil, cfg)
	env.handler = env.server.Handler()
	return env
}

type rpcResult struct {
	status   int
	header   http.Header
	response struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
}

func (r *rpcResult) decode(t testing.TB, dst interface{}) {
	t.Helper()
	require.Nil(t, r.response.Error, "unexpected rpc error")
	require.NoError(t, json.Unmarshal(r.response.Result, dst))
}

func (r *rpcResult) errorData(t testing.TB) ProgramErrorData {
	t.Helper()
	require.NotNil(t, r.response.Error)
	raw, err := json.Marshal(r.response.Error.Data)
	require.NoError(t, err)
	var data ProgramErrorData
	require.NoError(t, json.Unmarshal(raw, &data))
	return data
}

func (env *testEnv) call(t testing.TB, headers map[string]string, method string, params ...interface{}) *rpcResult {
	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		encoded, err := json.Marshal(param)
		require.NoError(t, err)
		rawParams = append(rawParams, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: 1})
	require.NoError(t, err)
	return env.post(t, headers, body)
}

func (env *testEnv) post(t testing.TB, headers map[string]string, body []byte) *rpcResult {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	out := &rpcResult{status: rec.Code, header: rec.Header()}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.response), rec.Body.String())
	return out
}

// submit sends tx and advances the wallet nonce when it commits.
func (env *testEnv) submit(t testing.TB, w *testWallet, txType types.TxType, to crypto.Address, amount uint64, expiresAt int64) *rpcResult {
	t.Helper()
	res := env.call(t, nil, "flux_sendTransaction", w.sign(t, txType, to, amount, expiresAt))
	if res.response.Error == nil {
		w.nonce++
	}
	return res
}

// open creates and funds the giver/recipient allowance over RPC.
func (env *testEnv) open(t testing.TB, total, funding uint64) crypto.Address {
	t.Helper()
	var receipt ReceiptResult
	env.submit(t, env.giver, types.TxTypeAllowanceCreate, env.recipient.addr(), total, testNow+3600).decode(t, &receipt)
	require.Len(t, receipt.Events, 1)
	addr := crypto.MustParseAddress(receipt.Events[0].Attributes["address"])
	if funding > 0 {
		env.submit(t, env.giver, types.TxTypeTransfer, addr, funding, 0).decode(t, &receipt)
	}
	return addr
}
