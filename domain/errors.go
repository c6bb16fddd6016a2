package domain

import "errors"

var (
	ErrIncorrectPayment   = errors.New("incorrect payment")
	ErrInvalidState       = errors.New("invalid state")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidPreimage    = errors.New("invalid preimage")
	ErrTimeNotReached     = errors.New("time not reached")
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	ErrNotFound           = errors.New("listing not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrFundsNotReceived   = errors.New("funds not received")

	// ErrUncertainSettlement means money may have moved even though the
	// ledger call failed. Stores commit the staged record when an effect
	// fails with it, so the same funds can never be released twice.
	ErrUncertainSettlement = errors.New("settlement outcome uncertain")

	// ErrInvariant means a transition staged a record that breaks a listing
	// invariant. It always points at a bug, never at caller input.
	ErrInvariant = errors.New("listing invariant violated")
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrIncorrectPayment, "incorrect_payment"},
	{ErrInvalidState, "invalid_state"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidPreimage, "invalid_preimage"},
	{ErrTimeNotReached, "time_not_reached"},
	{ErrInsufficientEscrow, "insufficient_escrow"},
	{ErrNotFound, "not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrFundsNotReceived, "funds_not_received"},
	{ErrUncertainSettlement, "settlement_uncertain"},
	{ErrInvariant, "invariant_violated"},
}

// Kind returns a stable code for err, or "internal" when it wraps none of the
// sentinel errors above.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

// IsFatal reports errors that indicate an accounting or programming fault
// rather than a rejected request.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInsufficientEscrow) || errors.Is(err, ErrInvariant) ||
		errors.Is(err, ErrUncertainSettlement)
}
