// Package wallet owns the process-wide wallet connection: it resolves a
// provider, confirms the cached account against it and applies the events
// the provider pushes.
package wallet

import (
	"context"
	"errors"
	"fmt"
)

// Provider error codes, EIP-1193 numbering.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
)

var (
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	ErrUserRejected        = errors.New("wallet request rejected by user")
	ErrNoAccountsReturned  = errors.New("wallet returned no accounts")
)

// IsRetryable reports whether the user can simply try the wallet action again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrUserRejected) ||
		errors.Is(err, ErrNoAccountsReturned)
}

// ProviderError is an error reported by the provider itself.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

type EventKind int

const (
	EventAccountsChanged EventKind = iota + 1
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventAccountsChanged:
		return "accounts_changed"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is pushed by a provider out of band of any explicit call.
type Event struct {
	Kind     EventKind
	Accounts []string
}

func AccountsChanged(accounts ...string) Event {
	return Event{Kind: EventAccountsChanged, Accounts: accounts}
}

func Disconnected() Event {
	return Event{Kind: EventDisconnected}
}

type Provider interface {
	// Name identifies the wallet vendor, e.g. "tonkeeper".
	Name() string
	// RequestAccounts may prompt the user and block until they answer or ctx ends.
	RequestAccounts(ctx context.Context) ([]string, error)
	// AuthorizedAccounts returns the accounts already granted, without prompting.
	AuthorizedAccounts(ctx context.Context) ([]string, error)
	// Events is closed when the provider goes away.
	Events() <-chan Event
}

// classify maps provider failures onto the wallet error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case CodeUserRejected:
			return fmt.Errorf("%w: %s", ErrUserRejected, pe.Message)
		case CodeDisconnected, CodeChainDisconnected:
			return fmt.Errorf("%w: %s", ErrProviderUnavailable, pe.Message)
		}
	}
	return err
}
