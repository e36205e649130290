package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"fluxpay/cmd/internal/passphrase"
	"fluxpay/core/types"
	"fluxpay/crypto"
)

const (
	defaultEndpoint = "http://127.0.0.1:8899"
	defaultKeyFile  = "wallet.json"

	lamportsPerSOL = 1_000_000_000
	solDecimals    = 9
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv("FLUX_RPC_TOKEN"))

	cliNow     = time.Now
	cliRPCCall = callRPC

	// keyPassphrase returns the passphrase source used to unlock or create
	// keystores. Tests replace it to avoid touching the terminal.
	keyPassphrase = func(confirm bool) interface{ Get() (string, error) } {
		source := passphrase.NewSource(passphrase.EnvVar)
		if confirm {
			source = source.WithConfirmation()
		}
		return source
	}
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	var data struct {
		Name string `json:"name"`
		Code uint32 `json:"code"`
	}
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil && data.Name != "" {
		return fmt.Sprintf("RPC error %d: %s (%s, program code %d)", e.Code, e.Message, data.Name, data.Code)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type receiptResponse struct {
	TxHash    string `json:"txHash"`
	Height    uint64 `json:"height"`
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	StateRoot string `json:"stateRoot"`
	Events    []struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	} `json:"events"`
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "transfer":
		return runTransfer(args[1:], stdout, stderr)
	case "airdrop":
		return runAirdrop(args[1:], stdout, stderr)
	case "allowance":
		return runAllowanceCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("FLUX_RPC_URL")); v != "" {
		return v
	}
	return defaultEndpoint
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	out := fs.String("out", defaultKeyFile, "keystore file to write")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return printError(stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", *out))
	}
	pass, err := keyPassphrase(true).Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return printError(stderr, fmt.Sprintf("save keystore %s: %v", *out, err))
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", *out)
	fmt.Fprintf(stdout, "Address: %s\n", addr.String())
	fmt.Fprintf(stdout, "Bech32:  %s\n", addr.Bech32())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyFile := fs.String("key", defaultKeyFile, "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyFile)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(stdout, "Address: %s\n", addr.String())
	fmt.Fprintf(stdout, "Bech32:  %s\n", addr.Bech32())
	return 0
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	keyFile := fs.String("key", "", "keystore file to derive the address from")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var address string
	switch {
	case fs.NArg() == 1:
		address = fs.Arg(0)
	case fs.NArg() == 0 && *keyFile != "":
		key, err := loadKey(*keyFile)
		if err != nil {
			return printError(stderr, err.Error())
		}
		address = key.PubKey().Address().String()
	default:
		return printError(stderr, "usage: balance <address> | balance --key <file>")
	}
	if _, err := crypto.ParseAddress(address); err != nil {
		return printError(stderr, fmt.Sprintf("invalid address: %v", err))
	}
	account, err := fetchAccount(address)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address: %s\n", account.Address)
	fmt.Fprintf(stdout, "Balance: %s (%d lamports)\n", formatSOL(account.Balance), account.Balance)
	fmt.Fprintf(stdout, "Nonce:   %d\n", account.Nonce)
	return 0
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	keyFile := fs.String("key", defaultKeyFile, "keystore file of the sender")
	to := fs.String("to", "", "recipient address")
	amountStr := fs.String("amount", "", "amount in lamports, or SOL with a sol suffix")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*to) == "" {
		return printError(stderr, "--to is required")
	}
	dest, err := crypto.ParseAddress(*to)
	if err != nil {
		return printError(stderr, fmt.Sprintf("invalid --to: %v", err))
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(*keyFile)
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSend(key, &types.Transaction{Type: types.TxTypeTransfer, To: dest, Amount: amount})
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Transferred %s to %s\n", formatSOL(amount), dest.String())
	printReceipt(stdout, receipt)
	return 0
}

func runAirdrop(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("airdrop", stderr)
	to := fs.String("to", "", "address to credit")
	amountStr := fs.String("amount", "1sol", "amount in lamports, or SOL with a sol suffix")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*to) == "" {
		return printError(stderr, "--to is required")
	}
	dest, err := crypto.ParseAddress(*to)
	if err != nil {
		return printError(stderr, fmt.Sprintf("invalid --to: %v", err))
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if rpcAuthToken == "" {
		return printError(stderr, "airdrop requires FLUX_RPC_TOKEN to be set")
	}
	result, err := rpcCall("flux_airdrop", map[string]interface{}{"address": dest.String(), "amount": amount}, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var receipt receiptResponse
	if err := json.Unmarshal(result, &receipt); err != nil {
		return printError(stderr, fmt.Sprintf("decode receipt: %v", err))
	}
	fmt.Fprintf(stdout, "Airdropped %s to %s\n", formatSOL(amount), dest.String())
	printReceipt(stdout, &receipt)
	return 0
}

// rpcCall invokes cliRPCCall and folds an RPC level error into err.
func rpcCall(method string, params interface{}, requireAuth bool) (json.RawMessage, error) {
	result, rpcErr, err := cliRPCCall(method, params, requireAuth)
	if err != nil {
		return nil, fmt.Errorf("RPC call failed: %w", err)
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}

func fetchAccount(address string) (*balanceResponse, error) {
	result, err := rpcCall("flux_getBalance", address, false)
	if err != nil {
		return nil, err
	}
	var account balanceResponse
	if err := json.Unmarshal(result, &account); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return &account, nil
}

// signAndSend stamps tx with the sender's current nonce, signs it and submits
// it to the node.
func signAndSend(key *crypto.PrivateKey, tx *types.Transaction) (*receiptResponse, error) {
	account, err := fetchAccount(key.PubKey().Address().String())
	if err != nil {
		return nil, err
	}
	tx.Nonce = account.Nonce
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	result, err := rpcCall("flux_sendTransaction", tx, false)
	if err != nil {
		return nil, err
	}
	var receipt receiptResponse
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keystore %s not found. run flux-cli generate-key first", path)
		}
		return nil, err
	}
	pass, err := keyPassphrase(false).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key, nil
}

// parseAmount accepts a lamport integer or a decimal SOL value suffixed with
// "sol", e.g. "2500000" or "0.25sol".
func parseAmount(value string) (uint64, error) {
	amount, err := parseLamports(value)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("--amount must be positive")
	}
	return amount, nil
}

// parseLamports is parseAmount without the positive check. Allowance
// withdrawals of zero are accepted by the ledger as a no-op.
func parseLamports(value string) (uint64, error) {
	trimmed := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(value), "_", ""))
	if trimmed == "" {
		return 0, fmt.Errorf("--amount is required")
	}
	if strings.HasSuffix(trimmed, "sol") {
		return parseSOL(strings.TrimSpace(strings.TrimSuffix(trimmed, "sol")))
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseSOL(value string) (uint64, error) {
	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid SOL amount %q", value)
	}
	if len(frac) > solDecimals {
		return 0, fmt.Errorf("SOL amount %q has more than %d decimals", value, solDecimals)
	}
	digits := whole + frac + strings.Repeat("0", solDecimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return 0, nil
	}
	amount, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SOL amount %q", value)
	}
	return amount, nil
}

// formatSOL renders lamports as SOL with four decimals.
func formatSOL(lamports uint64) string {
	whole := lamports / lamportsPerSOL
	frac := (lamports % lamportsPerSOL) / 100_000
	return fmt.Sprintf("%d.%04d SOL", whole, frac)
}

// timeRemaining describes the time left until expiresAt in the coarsest
// useful unit.
func timeRemaining(expiresAt int64, now time.Time) string {
	diff := expiresAt - now.Unix()
	if diff <= 0 {
		return "Expired"
	}
	hours := diff / 3600
	minutes := (diff % 3600) / 60
	if hours > 24 {
		days := hours / 24
		if days > 1 {
			return fmt.Sprintf("%d days", days)
		}
		return fmt.Sprintf("%d day", days)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func printReceipt(w io.Writer, r *receiptResponse) {
	fmt.Fprintf(w, "  Tx:     %s\n", r.TxHash)
	fmt.Fprintf(w, "  Height: %d\n", r.Height)
	for _, evt := range r.Events {
		fmt.Fprintf(w, "  Event:  %s\n", evt.Type)
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func usage() string {
	return strings.TrimSpace(`Usage:
  flux-cli [--rpc URL] <command> [flags]

Commands:
  generate-key [--out FILE]              Create an encrypted keystore
  address [--key FILE]                   Print the address of a keystore
  balance <address> | --key FILE         Show balance and nonce
  transfer --to ADDR --amount N          Send lamports (also funds allowances)
  airdrop --to ADDR [--amount N]         Request faucet funds (needs FLUX_RPC_TOKEN)
  allowance <command>                    Manage allowances (see flux-cli allowance)

Environment:
  FLUX_RPC_URL    node endpoint (default http://127.0.0.1:8899)
  FLUX_RPC_TOKEN  bearer token for privileged calls
  FLUX_KEY_PASS   keystore passphrase; prompted when unset
`)
}
