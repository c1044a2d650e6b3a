package ledger

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// Ledger is the asset-custody collaborator: it moves value between named
// accounts and reports balances, enforcing non-negative balances. The engine
// never implements custody itself; it only consumes this contract.
type Ledger interface {
	Transfer(from, to string, amount sdkmath.Int) error
	BalanceOf(account string) sdkmath.Int
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEmptyAccount      = errors.New("empty account name")
	ErrNonPositive       = errors.New("amount must be positive")
)

// InMemory is the reference custody implementation used by local deployments
// and tests. Real deployments swap in an adapter over the platform's transfer
// primitive.
type InMemory struct {
	mu       sync.RWMutex
	balances map[string]sdkmath.Int
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]sdkmath.Int),
	}
}

func (l *InMemory) Transfer(from, to string, amount sdkmath.Int) error {
	if from == "" || to == "" {
		return ErrEmptyAccount
	}
	if !amount.IsPositive() {
		return ErrNonPositive
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromBalance := l.balanceLocked(from)
	if fromBalance.LT(amount) {
		return fmt.Errorf("account %s holds %s, needs %s: %w",
			from, fromBalance.String(), amount.String(), ErrInsufficientFunds)
	}

	l.balances[from] = fromBalance.Sub(amount)
	l.balances[to] = l.balanceLocked(to).Add(amount)
	return nil
}

func (l *InMemory) BalanceOf(account string) sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(account)
}

// Credit issues new value to an account. This is the custody on-ramp used by
// yield sources when external yield accrues, and by tests to fund users.
func (l *InMemory) Credit(account string, amount sdkmath.Int) error {
	if account == "" {
		return ErrEmptyAccount
	}
	if !amount.IsPositive() {
		return ErrNonPositive
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balanceLocked(account).Add(amount)
	return nil
}

func (l *InMemory) balanceLocked(account string) sdkmath.Int {
	if balance, ok := l.balances[account]; ok {
		return balance
	}
	return sdkmath.ZeroInt()
}
