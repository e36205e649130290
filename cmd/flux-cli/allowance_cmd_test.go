package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fluxpay/core/types"
	"fluxpay/crypto"
)

func newAddress(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address()
}

func TestParseExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		in      string
		want    int64
		wantErr string
	}{
		{in: "+72h", want: now.Add(72 * time.Hour).Unix()},
		{in: "+7d", want: now.Add(7 * 24 * time.Hour).Unix()},
		{in: "+2D", want: now.Add(48 * time.Hour).Unix()},
		{in: "+90m", want: now.Add(90 * time.Minute).Unix()},
		{in: "2024-01-02T03:04:05Z", want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Unix()},
		{in: "", wantErr: "--expires is required"},
		{in: "+", wantErr: "invalid expiry duration"},
		{in: "+-1h", wantErr: "must be positive"},
		{in: "+xd", wantErr: "invalid expiry duration"},
		{in: "+999999999999d", wantErr: "expiry duration too large"},
		{in: "+106751d", want: now.Add(106751 * 24 * time.Hour).Unix()},
		{in: "tomorrow", wantErr: "invalid RFC3339 expiry"},
	}
	for _, tc := range cases {
		got, err := parseExpiry(tc.in, now)
		if tc.wantErr != "" {
			require.ErrorContains(t, err, tc.wantErr, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestAllowanceCommandArgValidation(t *testing.T) {
	originalCall := cliRPCCall
	cliRPCCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call for method %s", method)
		return nil, nil, nil
	}
	t.Cleanup(func() { cliRPCCall = originalCall })

	recipient := newAddress(t).String()
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "usage", args: nil, wantErr: "flux-cli allowance <command>"},
		{name: "unknown", args: []string{"rename"}, wantErr: "Unknown allowance subcommand: rename"},
		{name: "create_missing_recipient", args: []string{"create", "--amount", "10", "--expires", "+1h"}, wantErr: "--recipient is required"},
		{name: "create_bad_recipient", args: []string{"create", "--recipient", "zzz", "--amount", "10", "--expires", "+1h"}, wantErr: "invalid --recipient"},
		{name: "create_zero_amount", args: []string{"create", "--recipient", recipient, "--amount", "0", "--expires", "+1h"}, wantErr: "--amount must be positive"},
		{name: "create_bad_expiry", args: []string{"create", "--recipient", recipient, "--amount", "10", "--expires", "soon"}, wantErr: "invalid RFC3339 expiry"},
		{name: "create_positional", args: []string{"create", "extra"}, wantErr: "unexpected positional arguments"},
		{name: "withdraw_no_target", args: []string{"withdraw", "--amount", "5"}, wantErr: "--allowance or --giver is required"},
		{name: "close_no_target", args: []string{"close"}, wantErr: "--allowance or --recipient is required"},
		{name: "get_no_selector", args: []string{"get", "--giver", recipient}, wantErr: "--address or both --giver and --recipient"},
		{name: "derive_missing", args: []string{"derive", "--giver", recipient}, wantErr: "--giver and --recipient are required"},
		{name: "list_both", args: []string{"list", "--giver", recipient, "--recipient", recipient}, wantErr: "exactly one of --giver or --recipient"},
		{name: "history_missing_address", args: []string{"history"}, wantErr: "--address is required"},
		{name: "list_negative_limit", args: []string{"list", "--giver", recipient, "--limit", "-1"}, wantErr: "--limit must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(append([]string{"allowance"}, tc.args...)...)
			require.Equal(t, 1, code)
			require.Contains(t, stderr, tc.wantErr)
		})
	}
}

func TestAllowanceCreateAndFund(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fixedClock(t, now)
	node := newFakeNode(t)
	node.nonce = 2
	path, key := writeKeystore(t)
	recipient := newAddress(t)
	allowanceAddr := newAddress(t)

	send := node.handlers["flux_sendTransaction"]
	node.handlers["flux_sendTransaction"] = func(params interface{}) (interface{}, *rpcError) {
		if _, rpcErr := send(params); rpcErr != nil {
			return nil, rpcErr
		}
		tx := params.(*types.Transaction)
		receipt := receiptResponse{TxHash: "0x01", Height: tx.Nonce, Type: tx.Type.String()}
		if tx.Type == types.TxTypeAllowanceCreate {
			receipt.Events = append(receipt.Events, struct {
				Type       string            `json:"type"`
				Attributes map[string]string `json:"attributes"`
			}{Type: "allowance.created", Attributes: map[string]string{"address": allowanceAddr.String()}})
		}
		return receipt, nil
	}

	code, stdout, stderr := runCLI("allowance", "create",
		"--key", path,
		"--recipient", recipient.String(),
		"--amount", "0.2sol",
		"--expires", "+7d",
		"--fund")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Allowance created: "+allowanceAddr.String())
	require.Contains(t, stdout, "Cap:     0.2000 SOL")
	require.Contains(t, stdout, "(7 days)")
	require.Contains(t, stdout, "Funded "+allowanceAddr.String())

	require.Len(t, node.sent, 2)
	create, funding := node.sent[0], node.sent[1]
	require.Equal(t, types.TxTypeAllowanceCreate, create.Type)
	require.Equal(t, uint64(2), create.Nonce)
	require.Equal(t, key.PubKey().Address(), create.From)
	require.Equal(t, recipient, create.To)
	require.Equal(t, uint64(200_000_000), create.Amount)
	require.Equal(t, now.Add(7*24*time.Hour).Unix(), create.ExpiresAt)

	require.Equal(t, types.TxTypeTransfer, funding.Type)
	require.Equal(t, uint64(3), funding.Nonce)
	require.Equal(t, allowanceAddr, funding.To)
	require.Equal(t, uint64(200_000_000), funding.Amount)
}

func TestAllowanceCreateWithoutFundPrintsHint(t *testing.T) {
	fixedClock(t, time.Unix(1_700_000_000, 0))
	node := newFakeNode(t)
	path, _ := writeKeystore(t)

	code, stdout, stderr := runCLI("allowance", "create",
		"--key", path,
		"--recipient", newAddress(t).String(),
		"--amount", "1000",
		"--expires", "+2h")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Fund it with: flux-cli transfer")
	require.Contains(t, stdout, "(2h 0m)")
	require.Len(t, node.sent, 1)
}

func TestAllowanceWithdrawDerivesAddressFromGiver(t *testing.T) {
	node := newFakeNode(t)
	path, key := writeKeystore(t)
	giver := newAddress(t)
	derived := newAddress(t)

	node.handlers["allowance_deriveAddress"] = func(params interface{}) (interface{}, *rpcError) {
		p := params.(map[string]string)
		require.Equal(t, giver.String(), p["giver"])
		require.Equal(t, key.PubKey().Address().String(), p["recipient"])
		return deriveResponse{Address: derived.String(), Bump: 254}, nil
	}

	code, stdout, stderr := runCLI("allowance", "withdraw", "--key", path, "--giver", giver.String(), "--amount", "5000")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "from "+derived.String())
	require.Equal(t, []string{"allowance_deriveAddress", "flux_getBalance", "flux_sendTransaction"}, node.methods)

	require.Len(t, node.sent, 1)
	require.Equal(t, types.TxTypeAllowanceWithdraw, node.sent[0].Type)
	require.Equal(t, derived, node.sent[0].To)
	require.Equal(t, uint64(5000), node.sent[0].Amount)
}

func TestAllowanceWithdrawAcceptsZero(t *testing.T) {
	node := newFakeNode(t)
	path, _ := writeKeystore(t)
	target := newAddress(t)

	code, stdout, stderr := runCLI("allowance", "withdraw", "--key", path, "--allowance", target.String(), "--amount", "0")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Withdrew 0.0000 SOL from "+target.String())

	require.Len(t, node.sent, 1)
	require.Equal(t, types.TxTypeAllowanceWithdraw, node.sent[0].Type)
	require.Zero(t, node.sent[0].Amount)
}

func TestAllowanceWithdrawReportsProgramError(t *testing.T) {
	node := newFakeNode(t)
	path, _ := writeKeystore(t)
	node.handlers["flux_sendTransaction"] = func(interface{}) (interface{}, *rpcError) {
		return nil, &rpcError{
			Code:    -32030,
			Message: "allowance has expired",
			Data:    json.RawMessage(`{"name":"AllowanceExpired","code":6000}`),
		}
	}

	code, _, stderr := runCLI("allowance", "withdraw", "--key", path, "--allowance", newAddress(t).String(), "--amount", "1")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "RPC error -32030: allowance has expired (AllowanceExpired, program code 6000)")
}

func TestAllowanceCloseReportsReclaimed(t *testing.T) {
	node := newFakeNode(t)
	path, key := writeKeystore(t)
	recipient := newAddress(t)
	derived := newAddress(t)

	node.handlers["allowance_deriveAddress"] = func(params interface{}) (interface{}, *rpcError) {
		p := params.(map[string]string)
		require.Equal(t, key.PubKey().Address().String(), p["giver"])
		require.Equal(t, recipient.String(), p["recipient"])
		return deriveResponse{Address: derived.String(), Bump: 250}, nil
	}
	send := node.handlers["flux_sendTransaction"]
	node.handlers["flux_sendTransaction"] = func(params interface{}) (interface{}, *rpcError) {
		if _, rpcErr := send(params); rpcErr != nil {
			return nil, rpcErr
		}
		receipt := receiptResponse{TxHash: "0x02", Type: "allowance_close"}
		receipt.Events = append(receipt.Events, struct {
			Type       string            `json:"type"`
			Attributes map[string]string `json:"attributes"`
		}{Type: "allowance.closed", Attributes: map[string]string{"reclaimed": "201566000"}})
		return receipt, nil
	}

	code, stdout, stderr := runCLI("allowance", "close", "--key", path, "--recipient", recipient.String())
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Closed "+derived.String()+", reclaimed 0.2015 SOL")
	require.Len(t, node.sent, 1)
	require.Equal(t, types.TxTypeAllowanceClose, node.sent[0].Type)
	require.Equal(t, uint64(0), node.sent[0].Amount)
}

func TestAllowanceGetAndList(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fixedClock(t, now)
	node := newFakeNode(t)
	giver := newAddress(t)
	recipient := newAddress(t)
	addr := newAddress(t)

	node.handlers["allowance_get"] = func(params interface{}) (interface{}, *rpcError) {
		p := params.(map[string]string)
		require.Equal(t, giver.String(), p["giver"])
		require.Equal(t, recipient.String(), p["recipient"])
		return allowanceResponse{
			Address:   addr.String(),
			Giver:     giver.String(),
			Recipient: recipient.String(),
			Total:     300_000_000,
			Withdrawn: 100_000_000,
			Remaining: 200_000_000,
			ExpiresAt: now.Add(3 * time.Hour).Unix(),
			Balance:   201_566_000,
		}, nil
	}
	code, stdout, stderr := runCLI("allowance", "get", "--giver", giver.String(), "--recipient", recipient.String())
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Allowance: "+addr.String())
	require.Contains(t, stdout, "Remaining: 0.2000 SOL")
	require.Contains(t, stdout, "(3h 0m)")

	node.handlers["allowance_listByRecipient"] = func(params interface{}) (interface{}, *rpcError) {
		p := params.(map[string]interface{})
		require.Equal(t, recipient.String(), p["recipient"])
		require.Equal(t, 10, p["limit"])
		return []indexedAllowanceResponse{
			{Address: addr.String(), Total: 300, Withdrawn: 100, ExpiresAt: now.Add(48 * time.Hour).Unix(), Status: "OPEN"},
			{Address: giver.String(), Total: 50, Withdrawn: 50, Status: "CLOSED"},
		}, nil
	}
	code, stdout, stderr = runCLI("allowance", "list", "--recipient", recipient.String(), "--limit", "10")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, addr.String()+"  OPEN")
	require.Contains(t, stdout, "2 days")
	require.Contains(t, stdout, giver.String()+"  CLOSED")

	node.handlers["allowance_listByGiver"] = func(interface{}) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32050, Message: "allowance index not enabled"}
	}
	code, _, stderr = runCLI("allowance", "list", "--giver", giver.String())
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "allowance index not enabled")
}

func TestAllowanceHistory(t *testing.T) {
	node := newFakeNode(t)
	addr := newAddress(t)
	node.handlers["allowance_history"] = func(params interface{}) (interface{}, *rpcError) {
		p := params.(map[string]interface{})
		require.Equal(t, addr.String(), p["address"])
		return []activityResponse{
			{EventType: "allowance.withdrawn", Amount: 250_000_000, Withdrawn: 250_000_000, Timestamp: 1_700_000_100},
			{EventType: "allowance.created", Amount: 1_566_000, Timestamp: 1_700_000_000},
		}, nil
	}

	code, stdout, stderr := runCLI("allowance", "history", addr.String())
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "2023-11-14T22:15:00Z  allowance.withdrawn   0.2500 SOL  withdrawn 0.2500 SOL")
	require.Contains(t, stdout, "allowance.created")
}
