// Package errdefs defines the error taxonomy shared across Switchyard's
// registry, lifecycle manager, and manifest loader. Callers classify
// failures with errors.Is against the sentinel values; the concrete types
// carry the identity of the plug point involved so operator-facing tooling
// can render structured error records.
package errdefs

import (
	"errors"
	"fmt"

	"github.com/cuemby/switchyard/pkg/types"
)

var (
	// ErrInvalidFactory marks a factory reference that is malformed or
	// refused by the security policy.
	ErrInvalidFactory = errors.New("invalid factory")

	// ErrInvalidIdentity marks a domain/key/provider grammar or bounds
	// violation.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrLifecycle marks an init/cleanup/pause/resume/drain failure or
	// timeout on a live instance.
	ErrLifecycle = errors.New("lifecycle operation failed")

	// ErrSwapHealthFailed marks a swap aborted because the new instance's
	// health check returned false or timed out.
	ErrSwapHealthFailed = errors.New("swap health check failed")

	// ErrSwapInProgress marks a swap refused because another swap holds the
	// per-key mutex. Callers may retry.
	ErrSwapInProgress = errors.New("swap already in progress")

	// ErrManifestFetch marks a network, signature, or digest failure while
	// fetching a remote manifest.
	ErrManifestFetch = errors.New("manifest fetch failed")

	// ErrIntegrity marks a signature or digest mismatch on a remote
	// artifact. The artifact is deleted and the entry rejected.
	ErrIntegrity = errors.New("integrity violation")
)

// Error is a classified failure bound to a plug point identity.
type Error struct {
	Kind     error
	Domain   types.Domain
	Key      string
	Provider string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Domain != "" || e.Key != "" {
		msg = fmt.Sprintf("%s: %s/%s", msg, e.Domain, e.Key)
	}
	if e.Provider != "" {
		msg += " (provider " + e.Provider + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New builds a classified error for the given plug point.
func New(kind error, domain types.Domain, key string, err error) *Error {
	return &Error{Kind: kind, Domain: domain, Key: key, Err: err}
}

// WithProvider attaches the provider label to the error.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// InvalidFactory builds an ErrInvalidFactory for a factory reference.
func InvalidFactory(ref string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidFactory, ref, err)
	}
	return fmt.Errorf("%w: %s", ErrInvalidFactory, ref)
}

// InvalidIdentity builds an ErrInvalidIdentity with a reason.
func InvalidIdentity(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidIdentity, fmt.Sprintf(format, args...))
}
