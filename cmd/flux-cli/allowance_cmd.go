package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"fluxpay/core/types"
	"fluxpay/crypto"
)

type allowanceResponse struct {
	Address   string `json:"address"`
	Giver     string `json:"giver"`
	Recipient string `json:"recipient"`
	Total     uint64 `json:"total"`
	Withdrawn uint64 `json:"withdrawn"`
	Remaining uint64 `json:"remaining"`
	ExpiresAt int64  `json:"expiresAt"`
	Expired   bool   `json:"expired"`
	Bump      uint8  `json:"bump"`
	Balance   uint64 `json:"balance"`
}

type indexedAllowanceResponse struct {
	Address   string `json:"address"`
	Giver     string `json:"giver"`
	Recipient string `json:"recipient"`
	Total     uint64 `json:"total"`
	Withdrawn uint64 `json:"withdrawn"`
	ExpiresAt int64  `json:"expiresAt"`
	Status    string `json:"status"`
	Reclaimed uint64 `json:"reclaimed"`
}

type activityResponse struct {
	EventType string `json:"eventType"`
	Amount    uint64 `json:"amount"`
	Withdrawn uint64 `json:"withdrawn"`
	Timestamp int64  `json:"timestamp"`
}

type deriveResponse struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

func runAllowanceCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, allowanceUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runAllowanceCreate(args[1:], stdout, stderr)
	case "withdraw":
		return runAllowanceWithdraw(args[1:], stdout, stderr)
	case "close":
		return runAllowanceClose(args[1:], stdout, stderr)
	case "get":
		return runAllowanceGet(args[1:], stdout, stderr)
	case "derive":
		return runAllowanceDerive(args[1:], stdout, stderr)
	case "list":
		return runAllowanceList(args[1:], stdout, stderr)
	case "history":
		return runAllowanceHistory(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown allowance subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, allowanceUsage())
		return 1
	}
}

func runAllowanceCreate(args []string, stdout, stderr io.Writer) int {
	fs := newAllowanceFlagSet("allowance create", stderr)
	var (
		keyFile   string
		recipient string
		amountStr string
		expires   string
		fund      bool
	)
	fs.StringVar(&keyFile, "key", defaultKeyFile, "keystore file of the giver")
	fs.StringVar(&recipient, "recipient", "", "address allowed to withdraw")
	fs.StringVar(&amountStr, "amount", "", "withdrawal cap in lamports, or SOL with a sol suffix")
	fs.StringVar(&expires, "expires", "", "expiry as +duration (e.g. +72h, +7d) or RFC3339 timestamp")
	fs.BoolVar(&fund, "fund", false, "transfer the cap into the allowance after creating it")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	if strings.TrimSpace(recipient) == "" {
		return printError(stderr, "--recipient is required")
	}
	recipientAddr, err := crypto.ParseAddress(recipient)
	if err != nil {
		return printError(stderr, fmt.Sprintf("invalid --recipient: %v", err))
	}
	total, err := parseAmount(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	expiresAt, err := parseExpiry(expires, cliNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(keyFile)
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSend(key, &types.Transaction{
		Type:      types.TxTypeAllowanceCreate,
		To:        recipientAddr,
		Amount:    total,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	address := eventAttribute(receipt, "allowance.created", "address")
	fmt.Fprintf(stdout, "Allowance created: %s\n", address)
	fmt.Fprintf(stdout, "  Cap:     %s\n", formatSOL(total))
	fmt.Fprintf(stdout, "  Expires: %s (%s)\n", time.Unix(expiresAt, 0).UTC().Format(time.RFC3339), timeRemaining(expiresAt, cliNow()))
	printReceipt(stdout, receipt)
	if !fund {
		fmt.Fprintf(stdout, "Fund it with: flux-cli transfer --to %s --amount %d\n", address, total)
		return 0
	}
	allowanceAddr, err := crypto.ParseAddress(address)
	if err != nil {
		return printError(stderr, fmt.Sprintf("receipt carried no allowance address: %v", err))
	}
	funding, err := signAndSend(key, &types.Transaction{Type: types.TxTypeTransfer, To: allowanceAddr, Amount: total})
	if err != nil {
		return printError(stderr, fmt.Sprintf("allowance created but funding failed: %v", err))
	}
	fmt.Fprintf(stdout, "Funded %s with %s\n", address, formatSOL(total))
	printReceipt(stdout, funding)
	return 0
}

func runAllowanceWithdraw(args []string, stdout, stderr io.Writer) int {
	fs := newAllowanceFlagSet("allowance withdraw", stderr)
	var (
		keyFile   string
		address   string
		giver     string
		amountStr string
	)
	fs.StringVar(&keyFile, "key", defaultKeyFile, "keystore file of the recipient")
	fs.StringVar(&address, "allowance", "", "allowance address")
	fs.StringVar(&giver, "giver", "", "giver address, used to derive the allowance when --allowance is omitted")
	fs.StringVar(&amountStr, "amount", "", "amount in lamports, or SOL with a sol suffix")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	amount, err := parseLamports(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if address == "" && giver == "" {
		return printError(stderr, "--allowance or --giver is required")
	}
	key, err := loadKey(keyFile)
	if err != nil {
		return printError(stderr, err.Error())
	}
	target, err := resolveAllowance(address, giver, key.PubKey().Address().String())
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSend(key, &types.Transaction{Type: types.TxTypeAllowanceWithdraw, To: target, Amount: amount})
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Withdrew %s from %s\n", formatSOL(amount), target.String())
	printReceipt(stdout, receipt)
	return 0
}

func runAllowanceClose(args []string, stdout, stderr io.Writer) int {
	fs := newAllowanceFlagSet("allowance close", stderr)
	var (
		keyFile   string
		address   string
		recipient string
	)
	fs.StringVar(&keyFile, "key", defaultKeyFile, "keystore file of the giver")
	fs.StringVar(&address, "allowance", "", "allowance address")
	fs.StringVar(&recipient, "recipient", "", "recipient address, used to derive the allowance when --allowance is omitted")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" && recipient == "" {
		return printError(stderr, "--allowance or --recipient is required")
	}
	key, err := loadKey(keyFile)
	if err != nil {
		return printError(stderr, err.Error())
	}
	target, err := resolveAllowance(address, key.PubKey().Address().String(), recipient)
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSend(key, &types.Transaction{Type: types.TxTypeAllowanceClose, To: target})
	if err != nil {
		return printError(stderr, err.Error())
	}
	reclaimed, _ := strconv.ParseUint(eventAttribute(receipt, "allowance.closed", "reclaimed"), 10, 64)
	fmt.Fprintf(stdout, "Closed %s, reclaimed %s\n", target.String(), formatSOL(reclaimed))
	printReceipt(stdout, receipt)
	return 0
}

func runAllowanceGet(args []string, stdout, stderr io.Writer) int {
	fs := newAllowanceFlagSet("allowance get", stderr)
	var address, giver, recipient string
	fs.StringVar(&address, "address", "", "allowance address")
	fs.StringVar(&giver, "giver", "", "giver address")
	fs.StringVar(&recipient, "recipient", "", "recipient address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" && fs.NArg() == 1 {
		address = fs.Arg(0)
	}
	var params interface{}
	switch {
	case address != "":
		params = map[string]string{"address": address}
	case giver != "" && recipient != "":
		params = map[string]string{"giver": giver, "recipient": recipient}
	default:
		return printError(stderr, "--address or both --giver and --recipient are required")
	}
	result, err := rpcCall("allowance_get", params, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var view allowanceResponse
	if err := json.Unmarshal(result, &view); err != nil {
		return printError(stderr, fmt.Sprintf("decode allowance: %v", err))
	}
	printAllowance(stdout, &view, cliNow())
	return 0
}

func runAllowanceDerive(args []string, stdout, stderr io.Writer) int {
	fs := newAllowanceFlagSet("allowance derive", stderr)
	var giver, recipient string
	fs.StringVar(&giver, "giver", "", "giver address")
	fs.StringVar(&recipient, "recipient", "", "recipient address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if giver == "" || recipient == "" {
		return printError(stderr, "--giver and --recipient are required")
	}
	derived, err := deriveAllowance(giver, recipient)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address: %s\n", derived.Address)
	fmt.Fprintf(stdout, "Bump:    %d\n", derived.Bump)
	return 0
}

func runAllowanceList(args []string, stdout, stderr io.Writer) int {
	fs := newAllowanceFlagSet("allowance list", stderr)
	var (
		giver     string
		recipient string
		limit     int
	)
	fs.StringVar(&giver, "giver", "", "list allowances opened by this address")
	fs.StringVar(&recipient, "recipient", "", "list allowances payable to this address")
	fs.IntVar(&limit, "limit", 0, "maximum number of results")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if (giver == "") == (recipient == "") {
		return printError(stderr, "exactly one of --giver or --recipient is required")
	}
	if limit < 0 {
		return printError(stderr, "--limit must not be negative")
	}
	method := "allowance_listByGiver"
	params := map[string]interface{}{"giver": giver}
	if recipient != "" {
		method = "allowance_listByRecipient"
		params = map[string]interface{}{"recipient": recipient}
	}
	if limit > 0 {
		params["limit"] = limit
	}
	result, err := rpcCall(method, params, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var entries []indexedAllowanceResponse
	if err := json.Unmarshal(result, &entries); err != nil {
		return printError(stderr, fmt.Sprintf("decode allowances: %v", err))
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No allowances found.")
		return 0
	}
	now := cliNow()
	for _, entry := range entries {
		remaining := uint64(0)
		if entry.Total > entry.Withdrawn {
			remaining = entry.Total - entry.Withdrawn
		}
		state := entry.Status
		if state == "OPEN" {
			state = timeRemaining(entry.ExpiresAt, now)
		}
		fmt.Fprintf(stdout, "%s  %-6s  remaining %s  %s\n", entry.Address, entry.Status, formatSOL(remaining), state)
	}
	return 0
}

func runAllowanceHistory(args []string, stdout, stderr io.Writer) int {
	fs := newAllowanceFlagSet("allowance history", stderr)
	var (
		address string
		limit   int
	)
	fs.StringVar(&address, "address", "", "allowance address")
	fs.IntVar(&limit, "limit", 0, "maximum number of entries")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" && fs.NArg() == 1 {
		address = fs.Arg(0)
	}
	if address == "" {
		return printError(stderr, "--address is required")
	}
	if limit < 0 {
		return printError(stderr, "--limit must not be negative")
	}
	params := map[string]interface{}{"address": address}
	if limit > 0 {
		params["limit"] = limit
	}
	result, err := rpcCall("allowance_history", params, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var entries []activityResponse
	if err := json.Unmarshal(result, &entries); err != nil {
		return printError(stderr, fmt.Sprintf("decode history: %v", err))
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No activity recorded.")
		return 0
	}
	for _, entry := range entries {
		fmt.Fprintf(stdout, "%s  %-20s  %s  withdrawn %s\n",
			time.Unix(entry.Timestamp, 0).UTC().Format(time.RFC3339),
			entry.EventType,
			formatSOL(entry.Amount),
			formatSOL(entry.Withdrawn))
	}
	return 0
}

// resolveAllowance returns address when set, otherwise derives the allowance
// for the giver/recipient pair through the node.
func resolveAllowance(address, giver, recipient string) (crypto.Address, error) {
	if strings.TrimSpace(address) != "" {
		addr, err := crypto.ParseAddress(address)
		if err != nil {
			return crypto.Address{}, fmt.Errorf("invalid --allowance: %w", err)
		}
		return addr, nil
	}
	derived, err := deriveAllowance(giver, recipient)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.ParseAddress(derived.Address)
}

func deriveAllowance(giver, recipient string) (*deriveResponse, error) {
	if _, err := crypto.ParseAddress(giver); err != nil {
		return nil, fmt.Errorf("invalid giver: %w", err)
	}
	if _, err := crypto.ParseAddress(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	result, err := rpcCall("allowance_deriveAddress", map[string]string{"giver": giver, "recipient": recipient}, false)
	if err != nil {
		return nil, err
	}
	var derived deriveResponse
	if err := json.Unmarshal(result, &derived); err != nil {
		return nil, fmt.Errorf("decode derived address: %w", err)
	}
	return &derived, nil
}

func eventAttribute(r *receiptResponse, eventType, key string) string {
	for _, evt := range r.Events {
		if evt.Type == eventType {
			return evt.Attributes[key]
		}
	}
	return ""
}

func printAllowance(w io.Writer, view *allowanceResponse, now time.Time) {
	fmt.Fprintf(w, "Allowance: %s\n", view.Address)
	fmt.Fprintf(w, "  Giver:     %s\n", view.Giver)
	fmt.Fprintf(w, "  Recipient: %s\n", view.Recipient)
	fmt.Fprintf(w, "  Cap:       %s\n", formatSOL(view.Total))
	fmt.Fprintf(w, "  Withdrawn: %s\n", formatSOL(view.Withdrawn))
	fmt.Fprintf(w, "  Remaining: %s\n", formatSOL(view.Remaining))
	fmt.Fprintf(w, "  Balance:   %s\n", formatSOL(view.Balance))
	fmt.Fprintf(w, "  Expires:   %s (%s)\n", time.Unix(view.ExpiresAt, 0).UTC().Format(time.RFC3339), timeRemaining(view.ExpiresAt, now))
}

// parseExpiry accepts "+duration" relative to now, where duration is a Go
// duration or a whole number of days with a d suffix, or an RFC3339 timestamp.
func parseExpiry(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--expires is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		durationStr := strings.TrimSpace(trimmed[1:])
		if durationStr == "" {
			return 0, fmt.Errorf("invalid expiry duration")
		}
		dur, err := parseExpiryDuration(durationStr)
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("expiry duration must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid RFC3339 expiry")
	}
	return ts.Unix(), nil
}

const maxExpiryDays = int64(math.MaxInt64 / int64(24*time.Hour))

func parseExpiryDuration(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		daysStr := strings.TrimSuffix(strings.TrimSuffix(value, "d"), "D")
		days, err := strconv.ParseInt(daysStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid expiry duration")
		}
		if days > maxExpiryDays || days < -maxExpiryDays {
			return 0, fmt.Errorf("expiry duration too large")
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry duration")
	}
	return dur, nil
}

func newAllowanceFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, allowanceUsage())
	}
	return fs
}

func allowanceUsage() string {
	return strings.TrimSpace(`Usage:
  flux-cli allowance <command> [flags]

Commands:
  create    Open an allowance for a recipient (--fund also transfers the cap)
  withdraw  Withdraw from an allowance as its recipient
  close     Close an allowance and reclaim its balance as the giver
  get       Show an allowance by address or giver/recipient pair
  derive    Print the derived allowance address for a pair
  list      List indexed allowances by giver or recipient
  history   Show indexed events for one allowance
`)
}
