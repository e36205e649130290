package allowance

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"fluxpay/core/events"
	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/native/bank"
	"fluxpay/native/common"
)

var errNilState = errors.New("allowance engine: state not configured")

type engineState interface {
	AllowanceGet(addr crypto.Address) (*Allowance, bool, error)
	AllowancePut(addr crypto.Address, a *Allowance) error
	AllowanceDelete(addr crypto.Address) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

type allowanceEvent struct {
	evt *types.Event
}

func (e allowanceEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e allowanceEvent) Event() *types.Event { return e.evt }

// Engine implements the allowance program against an external state backend.
// It performs no locking: the caller must apply operations one at a time and
// discard the state on error.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	programID crypto.Address
	rent      types.Rent
	nowFn     func() int64
}

// NewEngine creates an engine for programID with the default rent schedule
// and a no-op emitter.
func NewEngine(programID crypto.Address) *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		programID: programID,
		rent:      types.DefaultRent(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRent overrides the rent schedule used to price the storage deposit.
func (e *Engine) SetRent(rent types.Rent) { e.rent = rent }

// SetNowFunc overrides the network clock. Passing nil restores wall time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) ProgramID() crypto.Address { return e.programID }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(allowanceEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Deposit is the rent-exempt minimum an allowance address must hold.
func (e *Engine) Deposit() (uint64, error) {
	return e.rent.MinimumBalance(Space)
}

// DeriveAddress returns the allowance address and bump for the pair.
func (e *Engine) DeriveAddress(giver, recipient crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress(Seeds(giver, recipient), e.programID)
}

func (e *Engine) loadAllowance(addr crypto.Address) (*Allowance, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.AllowanceGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrAccountNotFound.Wrap("no allowance at %s", addr)
	}
	return record, nil
}

// verifySeeds re-derives the address from the record's own seeds and bump.
func (e *Engine) verifySeeds(addr crypto.Address, record *Allowance) error {
	seeds := append(Seeds(record.Giver, record.Recipient), []byte{record.Bump})
	derived, err := crypto.CreateProgramAddress(seeds, e.programID)
	if err != nil || derived != addr {
		return common.ErrConstraintSeeds.Wrap("allowance %s does not match its seeds", addr)
	}
	return nil
}

// Get returns a copy of the allowance stored at addr.
func (e *Engine) Get(addr crypto.Address) (*Allowance, error) {
	record, err := e.loadAllowance(addr)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Create opens an allowance for the pair. The giver funds the storage
// deposit, paying only the shortfall when the address already holds
// lamports. Custody is funded separately with ordinary transfers.
func (e *Engine) Create(giver, recipient crypto.Address, total uint64, expiresAt int64) (crypto.Address, *Allowance, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, nil, errNilState
	}
	addr, bump, err := e.DeriveAddress(giver, recipient)
	if err != nil {
		return crypto.Address{}, nil, fmt.Errorf("allowance: derive address: %w", err)
	}
	if _, exists, err := e.state.AllowanceGet(addr); err != nil {
		return crypto.Address{}, nil, err
	} else if exists {
		return crypto.Address{}, nil, common.ErrAccountAlreadyInitialized.Wrap("allowance %s", addr)
	}

	deposit, err := e.Deposit()
	if err != nil {
		return crypto.Address{}, nil, err
	}
	custody, err := e.state.GetAccount(addr)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	var shortfall uint64
	if custody.Balance < deposit {
		shortfall = deposit - custody.Balance
	}
	if shortfall > 0 {
		if err := e.move(giver, addr, shortfall); err != nil {
			return crypto.Address{}, nil, err
		}
	}

	record := &Allowance{
		Giver:     giver,
		Recipient: recipient,
		Total:     total,
		Withdrawn: 0,
		ExpiresAt: expiresAt,
		Bump:      bump,
	}
	if err := e.state.AllowancePut(addr, record); err != nil {
		return crypto.Address{}, nil, err
	}
	e.emit(NewCreatedEvent(addr, record, shortfall))
	return addr, record.Clone(), nil
}

// Withdraw moves amount from the allowance custody to the recipient. A zero
// amount passes every check but moves nothing and emits no event.
func (e *Engine) Withdraw(signer, addr crypto.Address, amount uint64) (*Allowance, error) {
	record, err := e.loadAllowance(addr)
	if err != nil {
		return nil, err
	}
	if err := e.verifySeeds(addr, record); err != nil {
		return nil, err
	}
	if signer != record.Recipient {
		return nil, common.ErrUnauthorized.Wrap("only the recipient may withdraw")
	}
	if record.Expired(e.now()) {
		return nil, ErrAllowanceExpired
	}
	withdrawn, carry := bits.Add64(record.Withdrawn, amount, 0)
	if carry != 0 || withdrawn > record.Total {
		return nil, ErrInsufficientAllowance.Wrap("requested %d, remaining %d", amount, record.Remaining())
	}
	if amount == 0 {
		return record.Clone(), nil
	}

	deposit, err := e.Deposit()
	if err != nil {
		return nil, err
	}
	custody, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	left, borrow := bits.Sub64(custody.Balance, amount, 0)
	if borrow != 0 || left < deposit {
		return nil, common.ErrInsufficientFunds.Wrap("custody holds %d, withdrawal of %d would leave less than the %d deposit", custody.Balance, amount, deposit)
	}
	if err := e.move(addr, record.Recipient, amount); err != nil {
		return nil, err
	}

	record.Withdrawn = withdrawn
	if err := e.state.AllowancePut(addr, record); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(addr, record, amount))
	return record.Clone(), nil
}

// Close destroys the allowance and returns its entire balance, deposit
// included, to the giver. It works before and after expiry.
func (e *Engine) Close(signer, addr crypto.Address) (uint64, error) {
	record, err := e.loadAllowance(addr)
	if err != nil {
		return 0, err
	}
	if err := e.verifySeeds(addr, record); err != nil {
		return 0, err
	}
	if signer != record.Giver {
		return 0, common.ErrUnauthorized.Wrap("only the giver may close")
	}
	custody, err := e.state.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	reclaimed := custody.Balance
	if reclaimed > 0 {
		if err := e.move(addr, record.Giver, reclaimed); err != nil {
			return 0, err
		}
	}
	if err := e.state.AllowanceDelete(addr); err != nil {
		return 0, err
	}
	e.emit(NewClosedEvent(addr, record, reclaimed))
	return reclaimed, nil
}

func (e *Engine) move(from, to crypto.Address, amount uint64) error {
	return bank.Transfer(e.state, from, to, amount)
}
