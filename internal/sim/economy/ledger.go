package economy

import (
	"fmt"
	"sync"
)

// Txn is one recorded balance movement.
type Txn struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int    `json:"amount"`
}

// Ledger tracks each player's spendable spark.
type Ledger interface {
	Balance(player string) int
	// Transfer moves amount from one player to another and records a txn.
	// Fails without mutating when the sender cannot cover amount.
	Transfer(kind, from, to string, amount int) error
}

// MemLedger is the in-process ledger used by the server and tests.
type MemLedger struct {
	mu       sync.Mutex
	start    int
	balances map[string]int
	seen     map[string]bool
	txns     []Txn
}

// NewMemLedger seeds every player with startingSpark on first touch.
func NewMemLedger(startingSpark int) *MemLedger {
	return &MemLedger{
		start:    startingSpark,
		balances: map[string]int{},
		seen:     map[string]bool{},
	}
}

func (l *MemLedger) Balance(player string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(player)
}

func (l *MemLedger) balanceLocked(player string) int {
	if !l.seen[player] {
		l.seen[player] = true
		l.balances[player] = l.start
	}
	return l.balances[player]
}

func (l *MemLedger) SetBalance(player string, amount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[player] = true
	l.balances[player] = amount
}

func (l *MemLedger) Transfer(kind, from, to string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("ledger: negative transfer %d", amount)
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceLocked(from) < amount {
		return fmt.Errorf("ledger: %s cannot cover %d", from, amount)
	}
	l.balanceLocked(to)
	l.balances[from] -= amount
	l.balances[to] += amount
	l.txns = append(l.txns, Txn{Type: kind, From: from, To: to, Amount: amount})
	return nil
}

// Txns returns a copy of the recorded transactions, oldest first.
func (l *MemLedger) Txns() []Txn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Txn, len(l.txns))
	copy(out, l.txns)
	return out
}
