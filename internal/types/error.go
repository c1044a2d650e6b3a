package types

import "errors"

// The engines fail with exactly one of five typed errors. Op names the
// operation that rejected the call, Message describes the violated
// precondition.

// ValidationError rejects malformed input: zero amounts, empty accounts,
// out-of-range percentages. Never worth retrying.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Message
}

func NewValidationError(op, message string) *ValidationError {
	return &ValidationError{Op: op, Message: message}
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// AuthorizationError rejects calls by the wrong principal: non-operator
// administrative calls and spends beyond owned or approved balances. Never
// retried automatically.
type AuthorizationError struct {
	Op      string
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Op + ": " + e.Message
}

func NewAuthorizationError(op, message string) *AuthorizationError {
	return &AuthorizationError{Op: op, Message: message}
}

func IsAuthorizationError(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// StateError rejects calls whose precondition does not hold yet or anymore:
// double splits, redemption before maturity, time gates that have not
// elapsed. Callers may retry once the state changes.
type StateError struct {
	Op      string
	Message string
}

func (e *StateError) Error() string {
	return e.Op + ": " + e.Message
}

func NewStateError(op, message string) *StateError {
	return &StateError{Op: op, Message: message}
}

func IsStateError(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}

// InvariantError signals a configuration bug: weight totals over 100%,
// strategy count over the cap, asset mismatches, or a collaborator breaking
// its contract mid-operation. Never retried.
type InvariantError struct {
	Op      string
	Message string
}

func (e *InvariantError) Error() string {
	return e.Op + ": " + e.Message
}

func NewInvariantError(op, message string) *InvariantError {
	return &InvariantError{Op: op, Message: message}
}

func IsInvariantError(err error) bool {
	var target *InvariantError
	return errors.As(err, &target)
}

// LiquidityError signals that strategies could not return the requested
// assets. May clear after a rebalance or strategy recovery.
type LiquidityError struct {
	Op      string
	Message string
}

func (e *LiquidityError) Error() string {
	return e.Op + ": " + e.Message
}

func NewLiquidityError(op, message string) *LiquidityError {
	return &LiquidityError{Op: op, Message: message}
}

func IsLiquidityError(err error) bool {
	var target *LiquidityError
	return errors.As(err, &target)
}
