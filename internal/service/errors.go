package service

import "fmt"

// ParseError marks one unusable batch row. The row is skipped and reported;
// the rest of the batch continues.
type ParseError struct {
	Row    int // zero-based index into the batch rows
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// InvariantViolation marks a broken money-safety guarantee (double-matched
// ledger entry, conflicting duplicate flags). The run that detected it
// aborts and commits nothing; the violation is never auto-corrected.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated: %s: %s", e.Invariant, e.Detail)
}
