package bank

import (
	"fmt"
	"sync"
	"time"
)

// Entry is one line of the account statement.
type Entry struct {
	Date        time.Time
	Description string
	Value       float64
}

// Ledger is the in-memory account statement shared by every session.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewLedger(now func() time.Time, seed ...Entry) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{entries: append([]Entry(nil), seed...), now: now}
}

// DemoLedger starts with two earlier purchases so the statement is never empty.
func DemoLedger() *Ledger {
	now := time.Now()
	return NewLedger(time.Now,
		Entry{Date: now, Description: "Purchase from Pencils paid via Funland Bank", Value: 102},
		Entry{Date: now, Description: "Purchase from Pencils paid via Funland Bank", Value: 42},
	)
}

// Record appends tx and returns the new entry.
func (l *Ledger) Record(tx Transaction) Entry {
	e := Entry{
		Date:        l.now(),
		Description: fmt.Sprintf("%s from %s paid via %s", tx.Type, tx.To, tx.From),
		Value:       tx.Amount,
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e
}

func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Balance is the sum of all entries.
func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, e := range l.entries {
		sum += e.Value
	}
	return sum
}
