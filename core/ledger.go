package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"fluxpay/core/events"
	"fluxpay/core/genesis"
	"fluxpay/core/state"
	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/native/allowance"
	"fluxpay/native/bank"
	nativecommon "fluxpay/native/common"
	"fluxpay/observability"
	"fluxpay/storage"
	"fluxpay/storage/trie"
)

var (
	ErrNonceMismatch      = errors.New("ledger: nonce mismatch")
	ErrReceiptNotFound    = errors.New("ledger: receipt not found")
	ErrAlreadyInitialized = errors.New("ledger: genesis already applied")
)

var (
	headKey       = []byte("head")
	receiptPrefix = []byte("receipt:")
)

type head struct {
	Height uint64
	Root   common.Hash
	Time   uint64
}

// Config carries the static parameters of a ledger.
type Config struct {
	Network   string
	ProgramID crypto.Address
	Rent      types.Rent
	Pauses    nativecommon.PauseView
	Logger    *slog.Logger
}

// Status summarises the committed ledger head.
type Status struct {
	Network          string         `json:"network"`
	Height           uint64         `json:"height"`
	StateRoot        common.Hash    `json:"stateRoot"`
	ProgramID        crypto.Address `json:"programId"`
	Supply           uint64         `json:"supply"`
	AllowanceDeposit uint64         `json:"allowanceDeposit"`
	LastCommit       int64          `json:"lastCommit"`
}

// AllowanceView is an allowance record together with its address and the
// custody balance currently held there.
type AllowanceView struct {
	Address crypto.Address       `json:"address"`
	Record  *allowance.Allowance `json:"record"`
	Balance uint64               `json:"balance"`
}

// Ledger is a single-node runtime that applies signed transactions one at a
// time against the state trie. Every transaction runs on a copy of the trie
// that is committed only on success, so a failed transaction leaves no state
// change and emits no events.
type Ledger struct {
	mu sync.Mutex

	db      storage.Database
	trie    *trie.Trie
	head    head
	cfg     Config
	emitter events.Emitter
	bus     *events.Bus
	nowFn   func() int64
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
}

// NewLedger opens the ledger stored in db, resuming from the persisted head
// when one exists.
func NewLedger(db storage.Database, cfg Config) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger: database required")
	}
	if cfg.Rent == (types.Rent{}) {
		cfg.Rent = types.DefaultRent()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var h head
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("ledger: load head: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &h); err != nil {
			return nil, fmt.Errorf("ledger: decode head: %w", err)
		}
	}
	var root []byte
	if h.Root != (common.Hash{}) {
		root = h.Root.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("ledger: open state at %s: %w", h.Root, err)
	}
	l := &Ledger{
		db:      db,
		trie:    tr,
		head:    h,
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		bus:     events.NewBus(),
		nowFn:   func() int64 { return time.Now().Unix() },
		logger:  logger.With("component", "ledger"),
		metrics: observability.Ledger(),
	}
	l.metrics.SetHeight(h.Height)
	return l, nil
}

// SetEmitter configures the downstream consumer of committed events, such as
// the indexer. Passing nil discards them.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetNowFunc overrides the network clock. Passing nil restores wall time.
func (l *Ledger) SetNowFunc(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	l.nowFn = now
}

// Subscribe streams committed events to an in-process consumer.
func (l *Ledger) Subscribe(buffer int) (<-chan *types.Event, func()) {
	return l.bus.Subscribe(buffer)
}

// Bus exposes the in-process event fan-out.
func (l *Ledger) Bus() *events.Bus {
	return l.bus
}

// Initialized reports whether a head has been committed.
func (l *Ledger) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head.Root != (common.Hash{})
}

// ApplyGenesis credits the genesis allocations and commits height 0. It fails
// with ErrAlreadyInitialized once any state has been committed.
func (l *Ledger) ApplyGenesis(spec *genesis.Spec) error {
	accounts, err := spec.Accounts()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head.Root != (common.Hash{}) {
		return ErrAlreadyInitialized
	}

	working := l.trie.Copy()
	manager := state.NewManager(working)
	for _, acc := range accounts {
		if err := bank.Credit(manager, acc.Address, acc.Balance); err != nil {
			return err
		}
		if err := manager.AddSupply(acc.Balance); err != nil {
			return err
		}
	}
	parent := working.Root()
	root, err := working.Commit(parent, 0)
	if err != nil {
		return fmt.Errorf("ledger: commit genesis: %w", err)
	}
	next := head{Height: 0, Root: root, Time: uint64(l.nowFn())}
	batch := storage.NewBatch()
	encoded, err := rlp.EncodeToBytes(next)
	if err != nil {
		return err
	}
	batch.Put(headKey, encoded)
	if err := l.db.Write(batch); err != nil {
		return fmt.Errorf("ledger: persist genesis head: %w", err)
	}
	l.trie = working
	l.head = next
	l.logger.Info("genesis applied", "allocations", len(accounts), "stateRoot", root.Hex())
	return nil
}

func (l *Ledger) newEngine(manager *state.Manager, emitter events.Emitter, now int64) *allowance.Engine {
	engine := allowance.NewEngine(l.cfg.ProgramID)
	engine.SetRent(l.cfg.Rent)
	engine.SetState(manager)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return now })
	return engine
}

func moduleFor(txType types.TxType) string {
	if txType == types.TxTypeTransfer {
		return nativecommon.ModuleTransfer
	}
	return nativecommon.ModuleAllowance
}

// Submit verifies and applies a signed transaction and returns its receipt.
func (l *Ledger) Submit(tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, errors.New("ledger: nil transaction")
	}
	start := time.Now()
	receipt, err := l.submit(tx)
	outcome := "success"
	if err != nil {
		outcome = "rejected"
		var progErr *nativecommon.Error
		if errors.As(err, &progErr) {
			outcome = progErr.Name
		}
		l.logger.Debug("transaction rejected", "type", tx.Type.String(), "from", tx.From.String(), "error", err)
	}
	l.metrics.ObserveTransaction(tx.Type.String(), outcome, time.Since(start))
	return receipt, err
}

func (l *Ledger) submit(tx *types.Transaction) (*types.Receipt, error) {
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(l.cfg.Pauses, moduleFor(tx.Type)); err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	return l.execute(now, func(manager *state.Manager, recorder *events.Recorder) error {
		sender, err := manager.GetAccount(tx.From)
		if err != nil {
			return err
		}
		if sender.Nonce != tx.Nonce {
			return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, sender.Nonce, tx.Nonce)
		}
		if err := l.apply(manager, recorder, tx, now); err != nil {
			return err
		}
		sender, err = manager.GetAccount(tx.From)
		if err != nil {
			return err
		}
		sender.Nonce++
		return manager.PutAccount(tx.From, sender)
	}, &types.Receipt{
		TxHash: hash,
		Type:   tx.Type,
		From:   tx.From,
		To:     tx.To,
		Amount: tx.Amount,
	})
}

func (l *Ledger) apply(manager *state.Manager, recorder *events.Recorder, tx *types.Transaction, now int64) error {
	switch tx.Type {
	case types.TxTypeTransfer:
		if err := bank.Transfer(manager, tx.From, tx.To, tx.Amount); err != nil {
			return err
		}
		if tx.Amount > 0 && tx.From != tx.To {
			recorder.Emit(events.Transfer{From: tx.From, To: tx.To, Amount: tx.Amount})
		}
		return nil
	case types.TxTypeAllowanceCreate:
		_, _, err := l.newEngine(manager, recorder, now).Create(tx.From, tx.To, tx.Amount, tx.ExpiresAt)
		return err
	case types.TxTypeAllowanceWithdraw:
		_, err := l.newEngine(manager, recorder, now).Withdraw(tx.From, tx.To, tx.Amount)
		return err
	case types.TxTypeAllowanceClose:
		_, err := l.newEngine(manager, recorder, now).Close(tx.From, tx.To)
		return err
	default:
		return fmt.Errorf("%w: 0x%02x", types.ErrUnknownType, byte(tx.Type))
	}
}

// Airdrop mints amount lamports into to. It backs the development faucet.
func (l *Ledger) Airdrop(to crypto.Address, amount uint64) (*types.Receipt, error) {
	if amount == 0 {
		return nil, errors.New("ledger: airdrop amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	seed := make([]byte, 0, 64)
	seed = append(seed, "airdrop"...)
	seed = append(seed, to[:]...)
	seed = rlp.AppendUint64(seed, l.head.Height+1)
	seed = rlp.AppendUint64(seed, amount)
	return l.execute(now, func(manager *state.Manager, recorder *events.Recorder) error {
		if err := bank.Credit(manager, to, amount); err != nil {
			return err
		}
		if err := manager.AddSupply(amount); err != nil {
			return err
		}
		recorder.Emit(events.Airdrop{To: to, Amount: amount})
		return nil
	}, &types.Receipt{
		TxHash: common.Hash(blake3.Sum256(seed)),
		To:     to,
		Amount: amount,
	})
}

// execute runs fn against a copy of the state trie. On success the copy is
// committed, the receipt and head are written in one batch and the buffered
// events are published. On failure the copy is dropped. Callers hold l.mu.
func (l *Ledger) execute(now int64, fn func(*state.Manager, *events.Recorder) error, receipt *types.Receipt) (*types.Receipt, error) {
	working := l.trie.Copy()
	manager := state.NewManager(working)
	recorder := &events.Recorder{}
	if err := fn(manager, recorder); err != nil {
		return nil, err
	}

	height := l.head.Height + 1
	root, err := working.Commit(l.head.Root, height)
	if err != nil {
		return nil, fmt.Errorf("ledger: commit state: %w", err)
	}
	emitted := recorder.Drain()
	receipt.Height = height
	receipt.StateRoot = root
	receipt.Timestamp = now
	receipt.Events = make([]types.Event, 0, len(emitted))
	for _, evt := range emitted {
		if payload := events.ToPayload(evt); payload != nil {
			receipt.Events = append(receipt.Events, *payload)
		}
	}

	next := head{Height: height, Root: root, Time: uint64(now)}
	encodedHead, err := rlp.EncodeToBytes(next)
	if err != nil {
		return nil, err
	}
	encodedReceipt, err := json.Marshal(receipt)
	if err != nil {
		return nil, err
	}
	batch := storage.NewBatch()
	batch.Put(receiptKey(receipt.TxHash), encodedReceipt)
	batch.Put(headKey, encodedHead)
	if err := l.db.Write(batch); err != nil {
		return nil, fmt.Errorf("ledger: persist receipt: %w", err)
	}

	l.trie = working
	l.head = next
	l.metrics.SetHeight(height)
	for _, evt := range emitted {
		l.publish(evt)
	}
	l.logger.Debug("transaction committed",
		"height", height,
		"txHash", receipt.TxHash.Hex(),
		"stateRoot", root.Hex(),
		"events", len(emitted))
	return receipt, nil
}

func (l *Ledger) publish(evt events.Event) {
	observability.Events().RecordEvent(evt.EventType())
	if payload := events.ToPayload(evt); payload != nil {
		switch payload.Type {
		case allowance.EventTypeAllowanceWithdrawn:
			if amount, err := parseUint(payload.Attr("amount")); err == nil {
				l.metrics.AddWithdrawn(amount)
			}
		case allowance.EventTypeAllowanceClosed:
			if amount, err := parseUint(payload.Attr("reclaimed")); err == nil {
				l.metrics.AddReclaimed(amount)
			}
		}
	}
	l.emitter.Emit(evt)
	l.bus.Emit(evt)
}

func receiptKey(hash common.Hash) []byte {
	key := make([]byte, 0, len(receiptPrefix)+common.HashLength)
	key = append(key, receiptPrefix...)
	return append(key, hash.Bytes()...)
}
