package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Credential errors. Callers surface these as a single user-facing message.
var (
	ErrEmailAlreadyExists  = errors.New("email already registered")
	ErrWalletAlreadyLinked = errors.New("wallet already linked to another account")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrPendingVerification = errors.New("doctor account is pending verification")
	ErrNoAccountForWallet  = errors.New("no account linked to this wallet")
)

// ValidationError carries field-level messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StoreError wraps an unexpected failure of the credential store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("credential store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsCredentialError reports whether err is one of the expected credential failures.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrEmailAlreadyExists) ||
		errors.Is(err, ErrWalletAlreadyLinked) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrPendingVerification) ||
		errors.Is(err, ErrNoAccountForWallet)
}
