// Package vaulterr defines the closed error taxonomy the vault core
// raises across its public boundary. It is modeled on
// wtxmgr.TxStoreError and waddrmgr's ErrorCode/managerError pattern:
// a flat enum plus one struct type, never a new Go type per error
// kind.
package vaulterr

import "fmt"

// ErrorCode identifies a kind of error the vault core can return.
type ErrorCode int

// The error kinds of spec.md section 7, plus a generic invariant
// violation for states that should be unreachable.
const (
	ErrKeychainNotFound ErrorCode = iota
	ErrKeychainAlreadyExists
	ErrKeychainIsNotPrivate
	ErrKeychainChainCodeUnlockFailed
	ErrKeychainPrivateKeyUnlockFailed
	ErrKeychainInvalidPrivateKey

	ErrAccountNotFound
	ErrAccountAlreadyExists
	ErrAccountChainCodeLocked
	ErrAccountBinNotFound
	ErrAccountBinAlreadyExists
	ErrAccountBinOutOfScripts
	ErrAccountCannotIssueChangeScript
	ErrAccountInsufficientFunds
	ErrAccountScriptNotFound

	ErrTxNotFound

	// ErrInvariant covers states the design treats as unreachable,
	// e.g. an outpoint index out of range for its transaction.
	ErrInvariant
)

var names = map[ErrorCode]string{
	ErrKeychainNotFound:               "KeychainNotFound",
	ErrKeychainAlreadyExists:          "KeychainAlreadyExists",
	ErrKeychainIsNotPrivate:           "KeychainIsNotPrivate",
	ErrKeychainChainCodeUnlockFailed:  "KeychainChainCodeUnlockFailed",
	ErrKeychainPrivateKeyUnlockFailed: "KeychainPrivateKeyUnlockFailed",
	ErrKeychainInvalidPrivateKey:      "KeychainInvalidPrivateKey",
	ErrAccountNotFound:                "AccountNotFound",
	ErrAccountAlreadyExists:           "AccountAlreadyExists",
	ErrAccountChainCodeLocked:         "AccountChainCodeLocked",
	ErrAccountBinNotFound:             "AccountBinNotFound",
	ErrAccountBinAlreadyExists:        "AccountBinAlreadyExists",
	ErrAccountBinOutOfScripts:         "AccountBinOutOfScripts",
	ErrAccountCannotIssueChangeScript: "AccountCannotIssueChangeScript",
	ErrAccountInsufficientFunds:       "AccountInsufficientFunds",
	ErrAccountScriptNotFound:          "AccountScriptNotFound",
	ErrTxNotFound:                     "TxNotFound",
	ErrInvariant:                      "InvariantViolation",
}

// String returns the ErrorCode as a human-readable name.
func (c ErrorCode) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("UnknownErrorCode(%d)", int(c))
}

// Error is the single error type the vault core returns. Callers
// switch on Code rather than type-asserting to a per-kind type.
type Error struct {
	Code        ErrorCode
	Description string
	Err         error

	// LockedKeychains carries the keychain names that are
	// chain-code-locked when Code == ErrAccountChainCodeLocked.
	LockedKeychains []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a vaulterr.Error for the given kind.
func New(code ErrorCode, desc string, cause error) *Error {
	return &Error{Code: code, Description: desc, Err: cause}
}

// ChainCodeLocked builds the special-cased ErrAccountChainCodeLocked
// error, which carries the set of keychain names found locked.
func ChainCodeLocked(locked []string) *Error {
	return &Error{
		Code:            ErrAccountChainCodeLocked,
		Description:     "one or more keychains have a locked chain code",
		LockedKeychains: locked,
	}
}

// Is reports whether err is a *Error of the given code.
func Is(err error, code ErrorCode) bool {
	var ve *Error
	if e, ok := err.(*Error); ok {
		ve = e
	} else {
		return false
	}
	return ve.Code == code
}
