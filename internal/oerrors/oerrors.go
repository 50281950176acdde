// Package oerrors defines the error taxonomy the core uses to decide between
// a local-recovery, a cursor error, or a fatal abort.
package oerrors

import "errors"

// Sentinel classes from the engine's error taxonomy. Callers use errors.Is
// against these to pick a handling strategy; the underlying error is wrapped
// with %w so context survives.
var (
	// ErrValidation covers unknown table/column, ambiguous reference, bad
	// type, schema mismatch. The transaction remains usable; no WAL write
	// happens for the rejected statement.
	ErrValidation = errors.New("validation error")

	// ErrRuntime covers type coercion failures and other runtime faults
	// that surface as a cursor error without aborting the transaction.
	ErrRuntime = errors.New("runtime error")

	// ErrConcurrencyConflict covers write conflicts such as mutating a
	// table that has been altered since the transaction started.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDurability covers WAL write or disk flush failures. Fatal to the
	// current transaction; it is aborted.
	ErrDurability = errors.New("durability failure")

	// ErrCorruption covers block/WAL/catalog CRC mismatches on data that
	// must be trustworthy (a committed WAL record, the catalog file, any
	// on-disk block). Fatal to opening or continuing to run the engine.
	ErrCorruption = errors.New("corruption detected")
)

// Classify reports which sentinel class err belongs to, or ok=false if err
// does not carry one of the recognized classes.
func Classify(err error) (sentinel error, ok bool) {
	for _, s := range []error{ErrValidation, ErrRuntime, ErrConcurrencyConflict, ErrDurability, ErrCorruption} {
		if errors.Is(err, s) {
			return s, true
		}
	}
	return nil, false
}

// IsFatal reports whether err belongs to a class that must abort the
// transaction (durability failure) or refuse to continue running
// (corruption).
func IsFatal(err error) bool {
	return errors.Is(err, ErrDurability) || errors.Is(err, ErrCorruption)
}
