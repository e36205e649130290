package indexer

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// Status enumerates the lifecycle states of an indexed allowance.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Amount is a lamport quantity persisted as a decimal string so the full
// unsigned 64-bit range survives drivers that only accept signed integers.
type Amount uint64

func (a Amount) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(a), 10), nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = 0
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("indexer: negative amount %d", v)
		}
		*a = Amount(v)
		return nil
	case string:
		return a.parse(v)
	case []byte:
		return a.parse(string(v))
	default:
		return fmt.Errorf("indexer: unsupported amount type %T", src)
	}
}

func (a *Amount) parse(v string) error {
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("indexer: parse amount %q: %w", v, err)
	}
	*a = Amount(parsed)
	return nil
}

// Allowance is the read model of an allowance keyed by its derived address.
// Closed allowances are retained with their final counters.
type Allowance struct {
	Address   string `gorm:"primaryKey;size:64"`
	Giver     string `gorm:"index;size:64;not null"`
	Recipient string `gorm:"index;size:64;not null"`
	Total     Amount `gorm:"type:varchar(20);not null"`
	Withdrawn Amount `gorm:"type:varchar(20);not null"`
	ExpiresAt int64  `gorm:"not null"`
	Bump      uint8  `gorm:"not null"`
	Deposit   Amount `gorm:"type:varchar(20)"`
	Reclaimed Amount `gorm:"type:varchar(20)"`
	Status    Status `gorm:"type:varchar(16);index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Activity records every allowance event in arrival order.
type Activity struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Address   string `gorm:"index;size:64;not null"`
	EventType string `gorm:"size:32;not null"`
	Amount    Amount `gorm:"type:varchar(20)"`
	Withdrawn Amount `gorm:"type:varchar(20)"`
	CreatedAt time.Time
}
