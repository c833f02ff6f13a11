package enums

import "fmt"

// LedgerState is the lifecycle of a payment attempt in the ledger.
type LedgerState string

const (
	LedgerStatePending   LedgerState = "pending"
	LedgerStateSucceeded LedgerState = "succeeded"
	LedgerStateFailed    LedgerState = "failed"
)

var validLedgerStates = []LedgerState{
	LedgerStatePending,
	LedgerStateSucceeded,
	LedgerStateFailed,
}

// String implements fmt.Stringer.
func (s LedgerState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LedgerState.
func (s LedgerState) IsValid() bool {
	for _, candidate := range validLedgerStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerState converts raw input into a LedgerState.
func ParseLedgerState(value string) (LedgerState, error) {
	for _, candidate := range validLedgerStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger state %q", value)
}

// IsTerminal reports whether the attempt has reached its final state.
func (s LedgerState) IsTerminal() bool {
	return s == LedgerStateSucceeded || s == LedgerStateFailed
}
