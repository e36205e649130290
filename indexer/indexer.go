package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"fluxpay/core/events"
	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/native/allowance"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrNotFound is returned when no allowance is indexed at an address.
var ErrNotFound = errors.New("indexer: allowance not found")

// Open connects to the read model database. postgres:// and postgresql://
// DSNs select the Postgres driver; anything else is treated as a SQLite DSN.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return db, nil
}

// Indexer projects committed allowance events into a queryable table. It
// implements events.Emitter so the ledger can feed it directly.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// New migrates the schema and returns an indexer writing through db.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Allowance{}, &Activity{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{
		db:     db,
		logger: logger.With("component", "indexer"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetNowFunc overrides the clock used for close timestamps.
func (ix *Indexer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ix.now = now
}

// Emit implements events.Emitter. Failures are logged; the ledger has already
// committed the event and does not wait on the read model.
func (ix *Indexer) Emit(evt events.Event) {
	payload := events.ToPayload(evt)
	if payload == nil {
		return
	}
	if err := ix.Apply(context.Background(), payload); err != nil {
		ix.logger.Error("index event", "type", payload.Type, "address", payload.Attr("address"), "error", err)
	}
}

// Apply projects a single event. Events unrelated to allowances are ignored.
func (ix *Indexer) Apply(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	var (
		amountKey string
		updates   []string
	)
	switch evt.Type {
	case allowance.EventTypeAllowanceCreated:
		amountKey = "deposit"
	case allowance.EventTypeAllowanceWithdrawn:
		amountKey = "amount"
		updates = []string{"total", "withdrawn", "expires_at", "status", "updated_at"}
	case allowance.EventTypeAllowanceClosed:
		amountKey = "reclaimed"
		updates = []string{"withdrawn", "reclaimed", "status", "closed_at", "updated_at"}
	default:
		return nil
	}

	record, err := decodeRecord(evt)
	if err != nil {
		return err
	}
	amount, err := parseAmount(evt, amountKey)
	if err != nil {
		return err
	}
	switch evt.Type {
	case allowance.EventTypeAllowanceCreated:
		record.Deposit = amount
	case allowance.EventTypeAllowanceClosed:
		closedAt := ix.now()
		record.Status = StatusClosed
		record.Reclaimed = amount
		record.ClosedAt = &closedAt
	}

	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "address"}}}
	if updates == nil {
		conflict.UpdateAll = true
	} else {
		conflict.DoUpdates = clause.AssignmentColumns(updates)
	}
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(conflict).Create(record).Error; err != nil {
			return fmt.Errorf("indexer: upsert %s: %w", record.Address, err)
		}
		activity := &Activity{
			Address:   record.Address,
			EventType: evt.Type,
			Amount:    amount,
			Withdrawn: record.Withdrawn,
		}
		if err := tx.Create(activity).Error; err != nil {
			return fmt.Errorf("indexer: record activity: %w", err)
		}
		return nil
	})
}

// Get returns the allowance indexed at address.
func (ix *Indexer) Get(ctx context.Context, address string) (*Allowance, error) {
	var record Allowance
	err := ix.db.WithContext(ctx).Where("address = ?", address).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ByGiver lists allowances funded by giver, most recently updated first.
func (ix *Indexer) ByGiver(ctx context.Context, giver string, limit int) ([]Allowance, error) {
	return ix.list(ctx, "giver = ?", giver, limit)
}

// ByRecipient lists allowances payable to recipient, most recently updated
// first.
func (ix *Indexer) ByRecipient(ctx context.Context, recipient string, limit int) ([]Allowance, error) {
	return ix.list(ctx, "recipient = ?", recipient, limit)
}

// History returns the activity recorded for address, newest first.
func (ix *Indexer) History(ctx context.Context, address string, limit int) ([]Activity, error) {
	var out []Activity
	err := ix.db.WithContext(ctx).
		Where("address = ?", address).
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (ix *Indexer) list(ctx context.Context, where, value string, limit int) ([]Allowance, error) {
	var out []Allowance
	err := ix.db.WithContext(ctx).
		Where(where, value).
		Order("updated_at DESC").
		Order("address").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func decodeRecord(evt *types.Event) (*Allowance, error) {
	record := &Allowance{Status: StatusOpen}
	for key, dst := range map[string]*string{
		"address":   &record.Address,
		"giver":     &record.Giver,
		"recipient": &record.Recipient,
	} {
		addr, err := crypto.ParseAddress(evt.Attr(key))
		if err != nil {
			return nil, fmt.Errorf("indexer: %s %s: %w", evt.Type, key, err)
		}
		*dst = addr.String()
	}
	total, err := parseAmount(evt, "total")
	if err != nil {
		return nil, err
	}
	withdrawn, err := parseAmount(evt, "withdrawn")
	if err != nil {
		return nil, err
	}
	expiresAt, err := strconv.ParseInt(evt.Attr("expiresAt"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("indexer: %s expiresAt: %w", evt.Type, err)
	}
	bump, err := strconv.ParseUint(evt.Attr("bump"), 10, 8)
	if err != nil {
		return nil, fmt.Errorf("indexer: %s bump: %w", evt.Type, err)
	}
	record.Total = total
	record.Withdrawn = withdrawn
	record.ExpiresAt = expiresAt
	record.Bump = uint8(bump)
	return record, nil
}

func parseAmount(evt *types.Event, key string) (Amount, error) {
	v, err := strconv.ParseUint(evt.Attr(key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("indexer: %s %s: %w", evt.Type, key, err)
	}
	return Amount(v), nil
}
